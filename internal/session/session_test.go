package session

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/hex"
	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/snapshot"
	"github.com/Scrimzay/hexboard/internal/world"
)

type fakeLink struct {
	mu      sync.Mutex
	handler func(protocol.Message)
	sent    []protocol.Message
}

func (l *fakeLink) OnMessage(fn func(protocol.Message)) { l.handler = fn }

func (l *fakeLink) Send(msg protocol.Message) {
	l.mu.Lock()
	l.sent = append(l.sent, msg)
	l.mu.Unlock()
}

func (l *fakeLink) deliver(msg protocol.Message) { l.handler(msg) }

func (l *fakeLink) take() []protocol.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.Kind, len(l.sent))
	for i, m := range l.sent {
		out[i] = m.Kind()
	}
	l.sent = nil
	return out
}

func kinds(ks ...protocol.Kind) []protocol.Kind { return ks }

func sameKinds(a, b []protocol.Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newTestGM(t *testing.T) (*GM, *fakeLink, *clock.Fake) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	fake := clock.NewFake(time.Unix(100, 0))
	link := &fakeLink{}
	g := New(world.New(0, quiet), link, Config{
		ThrottleInterval:  40 * time.Millisecond,
		HeartbeatInterval: 2 * time.Second,
		Clock:             fake,
		Logger:            quiet,
		Epoch:             "gm",
	})
	t.Cleanup(g.Close)
	return g, link, fake
}

func TestStartSendsSnapshotThenPings(t *testing.T) {
	g, link, fake := newTestGM(t)
	g.Start()
	if got := link.take(); !sameKinds(got, kinds(protocol.KindSnapshot)) {
		t.Fatalf("start sent %v", got)
	}
	fake.Advance(2 * time.Second)
	if got := link.take(); !sameKinds(got, kinds(protocol.KindPing)) {
		t.Fatalf("idle heartbeat sent %v", got)
	}
}

func TestChangesPickTheirSend(t *testing.T) {
	g, link, fake := newTestGM(t)
	w := g.World()
	g.Start()
	link.take()

	tok, _ := w.AddToken(snapshot.Token{Name: "a", IsDeployed: true, Speed: 5})
	if got := link.take(); !sameKinds(got, kinds(protocol.KindSnapshot)) {
		t.Fatalf("add sent %v", got)
	}

	w.SetMap("maps/keep.png")
	if got := link.take(); !sameKinds(got, kinds(protocol.KindSetCurrentMap, protocol.KindSnapshot)) {
		t.Fatalf("map sent %v", got)
	}

	w.SetViewport(snapshot.Viewport{W: 800, H: 600})
	if got := link.take(); !sameKinds(got, kinds(protocol.KindViewport, protocol.KindSnapshot)) {
		t.Fatalf("viewport sent %v", got)
	}

	w.PaintArea(hex.Axial{}, 1, world.Brush{Terrain: "grass"})
	if got := link.take(); !sameKinds(got, kinds(protocol.KindOverlaySet, protocol.KindSnapshot)) {
		t.Fatalf("overlay sent %v", got)
	}

	// a drag inside one throttle window goes out once, on the trailing edge
	w.BeginDrag(tok.ID)
	w.DragTo(tok.ID, 40, 0)
	w.DragTo(tok.ID, 80, 0)
	if got := link.take(); len(got) != 0 {
		t.Fatalf("drag inside the window sent %v", got)
	}
	fake.Advance(40 * time.Millisecond)
	if got := link.take(); !sameKinds(got, kinds(protocol.KindSnapshot)) {
		t.Fatalf("trailing edge sent %v", got)
	}
}

func TestInboundRequests(t *testing.T) {
	g, link, fake := newTestGM(t)
	g.Start()
	link.take()

	link.deliver(protocol.RequestSnapshot{})
	if got := link.take(); !sameKinds(got, kinds(protocol.KindSnapshot)) {
		t.Fatalf("request answered with %v", got)
	}

	link.deliver(protocol.Hello{})
	if got := link.take(); len(got) != 0 {
		t.Fatalf("hello right after a snapshot sent %v", got)
	}
	fake.Advance(time.Second)
	link.deliver(protocol.Hello{})
	if got := link.take(); !sameKinds(got, kinds(protocol.KindSnapshot)) {
		t.Fatalf("stale hello answered with %v", got)
	}

	link.deliver(protocol.Ping{})
	if got := link.take(); !sameKinds(got, kinds(protocol.KindPong)) {
		t.Fatalf("ping answered with %v", got)
	}
	if g.Dispatcher().Seq() != 3 {
		t.Fatalf("seq = %d", g.Dispatcher().Seq())
	}
}

func TestCloseStopsSending(t *testing.T) {
	g, link, fake := newTestGM(t)
	g.Start()
	g.Close()
	link.take()

	g.World().SetMap("after.png")
	fake.Advance(10 * time.Second)
	if got := link.take(); len(got) != 0 {
		t.Fatalf("closed session sent %v", got)
	}
}
