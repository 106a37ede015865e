package broadcast

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
)

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) Send(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) all() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.msgs...)
}

func (r *recorder) kinds() []protocol.Kind {
	var out []protocol.Kind
	for _, m := range r.all() {
		out = append(out, m.Kind())
	}
	return out
}

// board stands in for the GM store: a token whose column moves.
type board struct {
	mu  sync.Mutex
	q   int
	clk clock.Clock
}

func (b *board) move(q int) {
	b.mu.Lock()
	b.q = q
	b.mu.Unlock()
}

func (b *board) build() snapshot.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshot.Snapshot{
		Tokens:    []snapshot.Token{{ID: "t1", Position: hex.Axial{Q: b.q}, IsDeployed: true, CellRadius: 1}},
		Timestamp: b.clk.Now().UnixMilli(),
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *board, *recorder, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	b := &board{clk: fake}
	rec := &recorder{}
	d := New(b.build, rec, Config{
		ThrottleInterval:  40 * time.Millisecond,
		HeartbeatInterval: 2 * time.Second,
		Clock:             fake,
		Logger:            log.New(io.Discard, "", 0),
		Epoch:             "e1",
	})
	t.Cleanup(d.Close)
	return d, b, rec, fake
}

func sameKinds(got, want []protocol.Kind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestBroadcastDedup(t *testing.T) {
	d, _, rec, fake := newTestDispatcher(t)

	if got := d.Broadcast(false); got != Sent {
		t.Fatalf("first broadcast = %s, want sent", got)
	}
	fake.Advance(time.Second) // only the timestamp moves
	if got := d.Broadcast(false); got != Suppressed {
		t.Fatalf("unforced repeat = %s, want suppressed", got)
	}
	if got := d.Broadcast(true); got != Pinged {
		t.Fatalf("forced repeat = %s, want pinged", got)
	}

	want := []protocol.Kind{protocol.KindSnapshot, protocol.KindPing}
	if got := rec.kinds(); !sameKinds(got, want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	ping := rec.all()[1].(protocol.Ping)
	if ping.Epoch != "e1" || ping.Seq != 1 {
		t.Fatalf("ping = %+v, want it to name snapshot e1/1", ping)
	}
	st := d.Stats()
	if st.Snapshots != 1 || st.Pings != 1 || st.Suppressed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBroadcastStampsEpochAndSeq(t *testing.T) {
	d, b, rec, _ := newTestDispatcher(t)

	d.Broadcast(false)
	b.move(1)
	d.Broadcast(false)

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	for i, m := range msgs {
		snap := m.(protocol.Snapshot).Snapshot
		if snap.Epoch != "e1" || snap.Seq != uint64(i+1) {
			t.Fatalf("message %d stamped %s/%d", i, snap.Epoch, snap.Seq)
		}
	}
	if d.Seq() != 2 {
		t.Fatalf("seq = %d", d.Seq())
	}
}

func TestNotifyContinuousThrottles(t *testing.T) {
	d, b, rec, fake := newTestDispatcher(t)

	b.move(1)
	d.NotifyContinuous()
	if len(rec.all()) != 1 {
		t.Fatal("first move should go out on the leading edge")
	}

	fake.Advance(10 * time.Millisecond)
	for q := 2; q <= 5; q++ {
		b.move(q)
		d.NotifyContinuous()
	}
	if len(rec.all()) != 1 {
		t.Fatalf("moves inside the interval went out early: %v", rec.kinds())
	}
	if d.State() != StatePending {
		t.Fatalf("state = %s, want pending", d.State())
	}
	if dl := fake.Deadlines(); len(dl) != 1 || dl[0] != 30*time.Millisecond {
		t.Fatalf("trailing deadlines = %v, want [30ms]", dl)
	}

	fake.Advance(30 * time.Millisecond)
	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("got %d sends, want leading + one trailing", len(msgs))
	}
	last := msgs[1].(protocol.Snapshot).Snapshot
	if last.Tokens[0].Position.Q != 5 {
		t.Fatalf("trailing send carried q=%d, want the latest move", last.Tokens[0].Position.Q)
	}
	if d.State() != StateSent {
		t.Fatalf("state = %s, want sent", d.State())
	}
}

func TestNotifyCancelsTrailing(t *testing.T) {
	d, b, rec, fake := newTestDispatcher(t)

	b.move(1)
	d.NotifyContinuous()
	b.move(2)
	d.NotifyContinuous()
	if fake.Pending() != 1 {
		t.Fatal("expected a trailing send to be armed")
	}

	b.move(3)
	if got := d.Notify(); got != Sent {
		t.Fatalf("drop = %s, want sent", got)
	}
	if fake.Pending() != 0 {
		t.Fatal("drop left the trailing send armed")
	}
	fake.Advance(time.Second)
	if n := len(rec.all()); n != 2 {
		t.Fatalf("got %d sends, want 2", n)
	}
}

// firedClock hands out timers that have always just fired: Stop reports
// false and the callback is left for the test to run.
type firedClock struct {
	*clock.Fake
	mu    sync.Mutex
	fired []func()
}

type firedTimer struct{}

func (firedTimer) Stop() bool { return false }

func (c *firedClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	c.fired = append(c.fired, f)
	c.mu.Unlock()
	return firedTimer{}
}

func (c *firedClock) callback(t *testing.T, i int) func() {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.fired) {
		t.Fatalf("only %d timers armed", len(c.fired))
	}
	return c.fired[i]
}

func TestCancelledTrailingFiringLate(t *testing.T) {
	clk := &firedClock{Fake: clock.NewFake(time.Unix(1_700_000_000, 0))}
	b := &board{clk: clk}
	rec := &recorder{}
	d := New(b.build, rec, Config{
		ThrottleInterval: 40 * time.Millisecond,
		Clock:            clk,
		Logger:           log.New(io.Discard, "", 0),
		Epoch:            "e1",
	})
	t.Cleanup(d.Close)

	d.Broadcast(false)
	b.move(1)
	d.NotifyContinuous()
	b.move(2)
	d.Notify() // cancels the first trailing timer, too late
	b.move(3)
	d.NotifyContinuous()
	sent := len(rec.all())

	clk.callback(t, 0)()
	if n := len(rec.all()); n != sent {
		t.Fatalf("cancelled timer sent anyway: %d sends, want %d", n, sent)
	}
	if d.State() != StatePending {
		t.Fatalf("state = %s, the second trailing send was forgotten", d.State())
	}
	b.move(4)
	d.NotifyContinuous()
	clk.mu.Lock()
	armed := len(clk.fired)
	clk.mu.Unlock()
	if armed != 2 {
		t.Fatalf("%d trailing timers armed in one interval, want 2 in total", armed)
	}

	clk.callback(t, 1)()
	msgs := rec.all()
	if len(msgs) != sent+1 {
		t.Fatalf("got %d sends, want %d", len(msgs), sent+1)
	}
	last, ok := msgs[len(msgs)-1].(protocol.Snapshot)
	if !ok || last.Snapshot.Tokens[0].Position.Q != 4 {
		t.Fatalf("trailing send = %#v", msgs[len(msgs)-1])
	}
}

func TestHeartbeat(t *testing.T) {
	d, _, rec, fake := newTestDispatcher(t)
	d.Start()
	d.Start()

	fake.Advance(2 * time.Second)
	fake.Advance(2 * time.Second)
	fake.Advance(2 * time.Second)

	want := []protocol.Kind{protocol.KindSnapshot, protocol.KindPing, protocol.KindPing}
	if got := rec.kinds(); !sameKinds(got, want) {
		t.Fatalf("heartbeats sent %v, want %v", got, want)
	}
	if fake.Pending() != 1 {
		t.Fatalf("pending timers = %d, want the next heartbeat", fake.Pending())
	}
}

func TestSendFullIgnoresDedup(t *testing.T) {
	d, _, rec, _ := newTestDispatcher(t)

	d.Broadcast(false)
	if got := d.SendFull(); got != Sent {
		t.Fatalf("SendFull = %s", got)
	}
	msgs := rec.all()
	if len(msgs) != 2 || msgs[1].Kind() != protocol.KindSnapshot {
		t.Fatalf("sent %v", rec.kinds())
	}
	if msgs[1].(protocol.Snapshot).Snapshot.Seq != 2 {
		t.Fatal("a full resend still takes a new seq")
	}
}

func TestResyncRespectsMinAge(t *testing.T) {
	d, _, rec, fake := newTestDispatcher(t)

	if got := d.Resync(time.Second); got != Sent {
		t.Fatalf("resync with nothing sent = %s", got)
	}
	fake.Advance(500 * time.Millisecond)
	if got := d.Resync(time.Second); got != Suppressed {
		t.Fatalf("resync inside min age = %s", got)
	}
	fake.Advance(time.Second)
	if got := d.Resync(time.Second); got != Sent {
		t.Fatalf("resync after min age = %s", got)
	}
	if n := len(rec.all()); n != 2 {
		t.Fatalf("got %d sends", n)
	}
}

func TestPublishPassesThrough(t *testing.T) {
	d, _, rec, _ := newTestDispatcher(t)

	d.Publish(protocol.SetCurrentMap{URL: "maps/a.png"})
	msgs := rec.all()
	if len(msgs) != 1 || msgs[0].(protocol.SetCurrentMap).URL != "maps/a.png" {
		t.Fatalf("published %v", msgs)
	}
	if d.Stats().Partials != 1 || d.Seq() != 0 {
		t.Fatal("partials must not touch the snapshot sequence")
	}
}

func TestCloseStopsTimers(t *testing.T) {
	d, b, rec, fake := newTestDispatcher(t)
	d.Start()
	b.move(1)
	d.NotifyContinuous()
	b.move(2)
	d.NotifyContinuous()
	if fake.Pending() != 2 {
		t.Fatalf("pending = %d, want heartbeat + trailing", fake.Pending())
	}

	d.Close()
	d.Close()
	if fake.Pending() != 0 {
		t.Fatalf("pending after close = %d", fake.Pending())
	}
	before := len(rec.all())
	fake.Advance(10 * time.Second)

	if got := d.Notify(); got != Closed {
		t.Fatalf("notify after close = %s", got)
	}
	d.NotifyContinuous()
	d.Publish(protocol.Viewport{})
	if got := d.SendFull(); got != Closed {
		t.Fatalf("SendFull after close = %s", got)
	}
	if len(rec.all()) != before {
		t.Fatal("sent after close")
	}
	if d.State() != StateIdle {
		t.Fatalf("state = %s", d.State())
	}
}
