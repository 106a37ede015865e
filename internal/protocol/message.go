// Package protocol is the wire vocabulary shared by the GM, the relay and
// the viewers. Every transport carries the same {type, payload} envelope.
package protocol

import (
	"errors"
	"fmt"

	"github.com/Scrimzay/hexboard/internal/snapshot"
)

// Kind is the closed set of message types.
type Kind uint8

const (
	KindSnapshot Kind = iota + 1
	KindOverlaySet
	KindSetCurrentMap
	KindViewport
	KindRequestSnapshot
	KindHello
	KindPing
	KindPong
)

var kindNames = [...]string{
	KindSnapshot:        "SNAPSHOT",
	KindOverlaySet:      "OVERLAY_SET",
	KindSetCurrentMap:   "SET_CURRENT_MAP",
	KindViewport:        "VIEWPORT",
	KindRequestSnapshot: "REQUEST_SNAPSHOT",
	KindHello:           "HELLO",
	KindPing:            "PING",
	KindPong:            "PONG",
}

func (k Kind) String() string {
	if k == 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind maps a wire name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n != "" && n == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// Liveness reports whether messages of this kind carry no state.
func (k Kind) Liveness() bool {
	return k == KindHello || k == KindPing || k == KindPong
}

var (
	ErrMissingType    = errors.New("protocol: message has no type")
	ErrUnknownKind    = errors.New("protocol: unknown message type")
	// ErrMissingPayload is a SNAPSHOT with nothing in it.
	ErrMissingPayload = errors.New("protocol: message has no payload")
)

// Message is implemented only by the types in this file.
type Message interface {
	Kind() Kind
	sealed()
}

type Snapshot struct {
	Snapshot snapshot.Snapshot
}

// OverlaySet replaces the published tile set.
type OverlaySet struct {
	Tiles []snapshot.OverlayTile `json:"tiles" msgpack:"tiles"`
}

type SetCurrentMap struct {
	URL string `json:"url" msgpack:"url"`
}

type Viewport struct {
	Viewport snapshot.Viewport
}

type RequestSnapshot struct{}

type Hello struct{}

// Ping is the heartbeat sent when nothing changed. Epoch and Seq name the
// last full snapshot the sender published, so a receiver can tell it
// missed one.
type Ping struct {
	Epoch  string `json:"epoch,omitempty" msgpack:"epoch,omitempty"`
	Seq    uint64 `json:"seq,omitempty" msgpack:"seq,omitempty"`
	SentAt int64  `json:"sentAt,omitempty" msgpack:"sentAt,omitempty"`
}

type Pong struct{}

func (Snapshot) Kind() Kind        { return KindSnapshot }
func (OverlaySet) Kind() Kind      { return KindOverlaySet }
func (SetCurrentMap) Kind() Kind   { return KindSetCurrentMap }
func (Viewport) Kind() Kind        { return KindViewport }
func (RequestSnapshot) Kind() Kind { return KindRequestSnapshot }
func (Hello) Kind() Kind           { return KindHello }
func (Ping) Kind() Kind            { return KindPing }
func (Pong) Kind() Kind            { return KindPong }

func (Snapshot) sealed()        {}
func (OverlaySet) sealed()      {}
func (SetCurrentMap) sealed()   {}
func (Viewport) sealed()        {}
func (RequestSnapshot) sealed() {}
func (Hello) sealed()           {}
func (Ping) sealed()            {}
func (Pong) sealed()            {}

// payload returns the value encoded under "payload", nil for none.
func payload(msg Message) (any, error) {
	switch m := msg.(type) {
	case Snapshot:
		return m.Snapshot, nil
	case OverlaySet:
		if m.Tiles == nil {
			m.Tiles = []snapshot.OverlayTile{}
		}
		return m, nil
	case SetCurrentMap:
		return m, nil
	case Viewport:
		return m.Viewport, nil
	case Ping:
		if m == (Ping{}) {
			return nil, nil
		}
		return m, nil
	case RequestSnapshot, Hello, Pong:
		return nil, nil
	case nil:
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
}

// decodePayload builds the message for kind. present is false for a
// missing or null payload, in which case unmarshal is a no-op.
func decodePayload(kind Kind, present bool, unmarshal func(any) error) (Message, error) {
	switch kind {
	case KindSnapshot:
		if !present {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, kind)
		}
		var s snapshot.Snapshot
		if err := unmarshal(&s); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return Snapshot{Snapshot: s}, nil
	case KindOverlaySet:
		var o overlayPayload
		if err := unmarshal(&o); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return OverlaySet{Tiles: o.Tiles}, nil
	case KindSetCurrentMap:
		var m SetCurrentMap
		if err := unmarshal(&m); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return m, nil
	case KindViewport:
		var v snapshot.Viewport
		if err := unmarshal(&v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return Viewport{Viewport: v}, nil
	case KindPing:
		var p Ping
		if err := unmarshal(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindRequestSnapshot:
		return RequestSnapshot{}, nil
	case KindHello:
		return Hello{}, nil
	case KindPong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}
