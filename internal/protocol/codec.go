package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Scrimzay/hexboard/internal/snapshot"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns messages into frames and back. JSON goes out as websocket
// text frames, msgpack as binary frames.
type Codec interface {
	Name() string
	Binary() bool
	Marshal(Message) ([]byte, error)
	Unmarshal([]byte) (Message, error)
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecByName falls back to JSON for anything it doesn't know.
func CodecByName(name string) Codec {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "msgpack", "mp":
		return MsgPack
	default:
		return JSON
	}
}

type jsonEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type jsonRawEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(msg Message) ([]byte, error) {
	p, err := payload(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{Type: msg.Kind().String(), Payload: p})
}

func (jsonCodec) Unmarshal(data []byte) (Message, error) {
	var env jsonRawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	kind, ok := ParseKind(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	raw := bytes.TrimSpace(env.Payload)
	present := len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
	return decodePayload(kind, present, func(v any) error {
		if !present {
			return nil
		}
		return json.Unmarshal(raw, v)
	})
}

type msgpackEnvelope struct {
	Type    string `msgpack:"type"`
	Payload any    `msgpack:"payload,omitempty"`
}

type msgpackRawEnvelope struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Marshal(msg Message) ([]byte, error) {
	p, err := payload(msg)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msgpackEnvelope{Type: msg.Kind().String(), Payload: p})
}

func (msgpackCodec) Unmarshal(data []byte) (Message, error) {
	var env msgpackRawEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	kind, ok := ParseKind(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	// 0xc0 is msgpack nil
	present := len(env.Payload) > 0 && !bytes.Equal(env.Payload, []byte{0xc0})
	return decodePayload(kind, present, func(v any) error {
		if !present {
			return nil
		}
		return msgpack.Unmarshal(env.Payload, v)
	})
}

// overlayPayload accepts {"tiles":[...]} and, from older senders, a bare
// tile array.
type overlayPayload struct {
	Tiles []snapshot.OverlayTile `json:"tiles" msgpack:"tiles"`
}

func (o *overlayPayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &o.Tiles)
	}
	var obj struct {
		Tiles []snapshot.OverlayTile `json:"tiles"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	o.Tiles = obj.Tiles
	return nil
}
