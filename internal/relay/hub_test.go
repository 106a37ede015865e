package relay

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/snapshot"
	"github.com/Scrimzay/hexboard/internal/transport"
	"github.com/gorilla/websocket"
)

// fakeConn decodes whatever the hub writes back into messages.
type fakeConn struct {
	codec protocol.Codec
	got   chan protocol.Message

	mu     sync.Mutex
	types  []int
	pings  int
	closed bool
}

func newFakeConn(codec protocol.Codec) *fakeConn {
	return &fakeConn{codec: codec, got: make(chan protocol.Message, 32)}
}

func (c *fakeConn) WriteMessage(mt int, data []byte) error {
	c.mu.Lock()
	c.types = append(c.types, mt)
	c.mu.Unlock()
	msg, err := c.codec.Unmarshal(data)
	if err != nil {
		return err
	}
	c.got <- msg
	return nil
}

func (c *fakeConn) WriteControl(mt int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mt == websocket.PingMessage {
		c.pings++
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	h := NewHub(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// join registers a peer and waits until the hub has seated it.
func join(t *testing.T, h *Hub, room string, role Role, codec protocol.Codec) (*Peer, *fakeConn) {
	t.Helper()
	conn := newFakeConn(codec)
	p := NewPeer(conn, room, role, codec)
	h.Register(p)
	waitUntil(t, "peer to join", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		r, ok := h.rooms[p.room]
		if !ok {
			return false
		}
		_, ok = r.peers[p]
		return ok
	})
	return p, conn
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func next(t *testing.T, c *fakeConn) protocol.Message {
	t.Helper()
	select {
	case msg := <-c.got:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("nothing written")
		return nil
	}
}

func silent(t *testing.T, c *fakeConn) {
	t.Helper()
	select {
	case msg := <-c.got:
		t.Fatalf("unexpected %s", msg.Kind())
	case <-time.After(50 * time.Millisecond):
	}
}

func snap(epoch string, seq uint64) protocol.Snapshot {
	return protocol.Snapshot{Snapshot: snapshot.Snapshot{
		Epoch:        epoch,
		Seq:          seq,
		Tokens:       []snapshot.Token{},
		OverlayTiles: []snapshot.OverlayTile{},
	}}
}

func TestLateJoinerGetsCachedSnapshot(t *testing.T) {
	h := startHub(t, HubConfig{})
	if !h.Publish("r1", snap("e", 1)) {
		t.Fatal("first snapshot not relayed")
	}

	_, conn := join(t, h, "r1", RoleViewer, protocol.JSON)
	msg := next(t, conn)
	if s, ok := msg.(protocol.Snapshot); !ok || s.Snapshot.Seq != 1 {
		t.Fatalf("late joiner got %#v", msg)
	}
	silent(t, conn)

	_, other := join(t, h, "r2", RoleViewer, protocol.JSON)
	silent(t, other)
}

func TestRequestGoesToGMWhenNothingCached(t *testing.T) {
	h := startHub(t, HubConfig{})
	gm, gmConn := join(t, h, "r", RoleGM, protocol.JSON)
	v, vConn := join(t, h, "r", RoleViewer, protocol.MsgPack)

	h.Receive(v, protocol.RequestSnapshot{})
	if got := next(t, gmConn); got.Kind() != protocol.KindRequestSnapshot {
		t.Fatalf("gm got %s", got.Kind())
	}
	silent(t, vConn)

	h.Receive(gm, snap("e", 1))
	if got := next(t, vConn); got.Kind() != protocol.KindSnapshot {
		t.Fatalf("viewer got %s", got.Kind())
	}
	silent(t, gmConn)

	vConn.mu.Lock()
	frame := vConn.types[0]
	vConn.mu.Unlock()
	if frame != websocket.BinaryMessage {
		t.Fatalf("msgpack viewer got frame type %d", frame)
	}
}

func TestHelloAnsweredOnce(t *testing.T) {
	h := startHub(t, HubConfig{})
	v, conn := join(t, h, "r", RoleViewer, protocol.JSON)
	h.Publish("r", snap("e", 4))
	if got := next(t, conn); got.Kind() != protocol.KindSnapshot {
		t.Fatalf("got %s", got.Kind())
	}

	h.Receive(v, protocol.Hello{})
	if got := next(t, conn); got.Kind() != protocol.KindPong {
		t.Fatalf("synced viewer got %s for HELLO", got.Kind())
	}

	fresh, freshConn := join(t, h, "other", RoleViewer, protocol.JSON)
	h.Publish("other", snap("e", 1))
	next(t, freshConn)
	h.Receive(fresh, protocol.Hello{})
	if got := next(t, freshConn); got.Kind() != protocol.KindPong {
		t.Fatalf("got %s", got.Kind())
	}
}

func TestHelloBeforeSyncGetsSnapshot(t *testing.T) {
	h := startHub(t, HubConfig{})
	v, conn := join(t, h, "r", RoleViewer, protocol.JSON)

	h.mu.Lock()
	h.rooms["r"].cache.Apply(snap("e", 2))
	h.mu.Unlock()

	h.Receive(v, protocol.Hello{})
	if s, ok := next(t, conn).(protocol.Snapshot); !ok || s.Snapshot.Seq != 2 {
		t.Fatal("unsynced HELLO did not get the snapshot")
	}
}

func TestViewerCannotWrite(t *testing.T) {
	h := startHub(t, HubConfig{})
	a, aConn := join(t, h, "r", RoleViewer, protocol.JSON)
	_, bConn := join(t, h, "r", RoleViewer, protocol.JSON)

	h.Receive(a, snap("forged", 9))
	h.Receive(a, protocol.SetCurrentMap{URL: "evil.png"})
	silent(t, bConn)
	if _, ok := h.Snapshot("r"); ok {
		t.Fatal("viewer state reached the cache")
	}

	h.Receive(a, protocol.Ping{})
	if got := next(t, aConn); got.Kind() != protocol.KindPong {
		t.Fatalf("viewer ping answered with %s", got.Kind())
	}
	silent(t, bConn)
}

func TestCacheOrderingAndPartials(t *testing.T) {
	h := startHub(t, HubConfig{})
	_, conn := join(t, h, "r", RoleViewer, protocol.JSON)

	h.Publish("r", snap("e", 2))
	next(t, conn)
	if h.Publish("r", snap("e", 1)) {
		t.Fatal("stale snapshot relayed")
	}
	silent(t, conn)

	tiles := []snapshot.OverlayTile{{Q: 1, R: 0, Terrain: "water"}}
	if !h.Publish("r", protocol.OverlaySet{Tiles: tiles}) {
		t.Fatal("overlay not relayed")
	}
	if got := next(t, conn); got.Kind() != protocol.KindOverlaySet {
		t.Fatalf("got %s", got.Kind())
	}
	cached, ok := h.Snapshot("r")
	if !ok || cached.Seq != 2 || len(cached.OverlayTiles) != 1 {
		t.Fatalf("cache = %+v", cached)
	}

	h.Publish("r", protocol.Ping{Epoch: "e", Seq: 2})
	if got := next(t, conn); got.Kind() != protocol.KindPing {
		t.Fatalf("gm heartbeat relayed as %s", got.Kind())
	}

	rooms := h.Rooms()
	if len(rooms) != 1 || rooms[0].Peers != 1 || rooms[0].Seq != 2 {
		t.Fatalf("rooms = %+v", rooms)
	}
}

func TestBridgeToBus(t *testing.T) {
	bus := transport.NewBus(nil)
	h := startHub(t, HubConfig{Bus: bus})
	h.Open("r")

	gm := bus.Open("r")
	fromHub := make(chan protocol.Message, 8)
	gm.OnMessage(func(msg protocol.Message) { fromHub <- msg })
	if err := gm.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { gm.Close() })

	v, conn := join(t, h, "r", RoleViewer, protocol.JSON)
	h.Receive(v, protocol.RequestSnapshot{})
	select {
	case msg := <-fromHub:
		if msg.Kind() != protocol.KindRequestSnapshot {
			t.Fatalf("bus got %s", msg.Kind())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the bus")
	}

	gm.Send(snap("local", 1))
	if s, ok := next(t, conn).(protocol.Snapshot); !ok || s.Snapshot.Epoch != "local" {
		t.Fatal("bus snapshot did not reach the websocket viewer")
	}

	remote, _ := join(t, h, "r", RoleGM, protocol.JSON)
	h.Receive(remote, protocol.SetCurrentMap{URL: "m.png"})
	select {
	case msg := <-fromHub:
		if m, ok := msg.(protocol.SetCurrentMap); !ok || m.URL != "m.png" {
			t.Fatalf("bus got %#v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote gm update never reached the bus")
	}
}

func TestPingsAndShutdown(t *testing.T) {
	h := NewHub(HubConfig{PingInterval: 5 * time.Millisecond, Logger: log.New(io.Discard, "", 0)})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()

	_, conn := join(t, h, "r", RoleViewer, protocol.JSON)
	waitUntil(t, "keepalive ping", func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.pings > 0
	})

	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("run returned %v", err)
	}
	if !conn.isClosed() {
		t.Fatal("shutdown left a connection open")
	}

	late := newFakeConn(protocol.JSON)
	h.Register(NewPeer(late, "r", RoleViewer, protocol.JSON))
	if !late.isClosed() {
		t.Fatal("register after shutdown kept the connection")
	}
}
