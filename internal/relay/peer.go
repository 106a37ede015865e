package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Role says what a connection is allowed to do in its room.
type Role string

const (
	RoleGM     Role = "gm"
	RoleViewer Role = "viewer"
)

// ParseRole defaults anything unknown to viewer, the least trusted role.
func ParseRole(s string) Role {
	if Role(s) == RoleGM {
		return RoleGM
	}
	return RoleViewer
}

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Peer is one websocket connection in a room.
type Peer struct {
	conn  Conn
	room  string
	role  Role
	codec protocol.Codec

	writeMu sync.Mutex

	// guarded by the hub's lock
	synced bool
}

func NewPeer(conn Conn, room string, role Role, codec protocol.Codec) *Peer {
	if room == "" {
		room = DefaultRoom
	}
	if codec == nil {
		codec = protocol.JSON
	}
	return &Peer{conn: conn, room: room, role: role, codec: codec}
}

func (p *Peer) Room() string          { return p.room }
func (p *Peer) Role() Role            { return p.role }
func (p *Peer) Codec() protocol.Codec { return p.codec }

func (p *Peer) String() string {
	return fmt.Sprintf("%s@%s", p.role, p.room)
}

func (p *Peer) frameType() int {
	if p.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (p *Peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(p.frameType(), data)
}

func (p *Peer) ping() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// frames encodes a message once per codec for a fan-out.
type frames struct {
	msg  protocol.Message
	data map[string][]byte
}

func (f *frames) forPeer(p *Peer) ([]byte, error) {
	if b, ok := f.data[p.codec.Name()]; ok {
		return b, nil
	}
	b, err := p.codec.Marshal(f.msg)
	if err != nil {
		return nil, err
	}
	if f.data == nil {
		f.data = make(map[string][]byte, 2)
	}
	f.data[p.codec.Name()] = b
	return b, nil
}
