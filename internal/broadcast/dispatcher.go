// Package broadcast decides when the GM's state goes out to viewers and in
// what form: a full snapshot, a heartbeat ping, or nothing at all.
package broadcast

import (
	"log"
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/snapshot"
	"github.com/google/uuid"
)

const (
	DefaultThrottleInterval  = 40 * time.Millisecond
	DefaultHeartbeatInterval = 2 * time.Second
)

// Sender is the outbound side of the transport layer. It owns its errors.
type Sender interface {
	Send(msg protocol.Message)
}

// SnapshotFunc builds a fresh candidate snapshot.
type SnapshotFunc func() snapshot.Snapshot

type Config struct {
	ThrottleInterval  time.Duration
	HeartbeatInterval time.Duration
	Clock             clock.Clock
	Logger            *log.Logger
	// Epoch overrides the generated epoch, tests use it.
	Epoch string
}

// State is where the dispatcher sits between sends.
type State uint8

const (
	StateIdle State = iota
	StatePending
	StateSent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateSent:
		return "sent"
	default:
		return "unknown"
	}
}

// Outcome is what one Broadcast call did.
type Outcome uint8

const (
	Suppressed Outcome = iota
	Pinged
	Sent
	Closed
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case Pinged:
		return "pinged"
	case Sent:
		return "sent"
	default:
		return "closed"
	}
}

type Stats struct {
	Snapshots  uint64
	Pings      uint64
	Suppressed uint64
	Partials   uint64
}

type Dispatcher struct {
	build SnapshotFunc
	out   Sender
	clock clock.Clock
	log   *log.Logger

	throttle  time.Duration
	heartbeat time.Duration
	epoch     string

	// sendMu keeps sends in seq order and lets Close wait out an
	// in-flight send. The Sender must not call back into the dispatcher
	// synchronously.
	sendMu sync.Mutex

	mu         sync.Mutex
	state      State
	seq        uint64
	lastKey    string
	lastSentAt time.Time
	lastFullAt time.Time
	trailing   clock.Timer
	trailGen   uint64 // tells a stale trailing callback from the armed one
	beat       clock.Timer
	closed     bool
	stats      Stats
}

func New(build SnapshotFunc, out Sender, cfg Config) *Dispatcher {
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = DefaultThrottleInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Epoch == "" {
		cfg.Epoch = uuid.NewString()
	}
	return &Dispatcher{
		build:     build,
		out:       out,
		clock:     clock.Or(cfg.Clock),
		log:       cfg.Logger,
		throttle:  cfg.ThrottleInterval,
		heartbeat: cfg.HeartbeatInterval,
		epoch:     cfg.Epoch,
	}
}

func (d *Dispatcher) Epoch() string { return d.epoch }

// Start arms the heartbeat. Calling it twice is harmless.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.beat != nil {
		return
	}
	d.beat = d.clock.AfterFunc(d.heartbeat, d.onHeartbeat)
}

func (d *Dispatcher) onHeartbeat() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.beat = d.clock.AfterFunc(d.heartbeat, d.onHeartbeat)
	d.mu.Unlock()

	d.Broadcast(true)
}

// Notify is for discrete transitions (a drop, a stroke ending, a map
// change). It sends right away and cancels any pending trailing send,
// which would only repeat it.
func (d *Dispatcher) Notify() Outcome {
	d.mu.Lock()
	d.cancelTrailingLocked()
	d.mu.Unlock()
	return d.Broadcast(false)
}

// NotifyContinuous is for drag and paint moves. Leading edge when the last
// send is at least one throttle interval old, otherwise a single trailing
// send picks up everything that changed in between.
func (d *Dispatcher) NotifyContinuous() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.trailing != nil {
		// already scheduled, that send will see this change
		d.mu.Unlock()
		return
	}
	since := d.clock.Now().Sub(d.lastSentAt)
	if d.lastSentAt.IsZero() || since >= d.throttle {
		d.mu.Unlock()
		d.Broadcast(false)
		return
	}
	d.state = StatePending
	d.trailGen++
	gen := d.trailGen
	d.trailing = d.clock.AfterFunc(d.throttle-since, func() { d.onTrailing(gen) })
	d.mu.Unlock()
}

// onTrailing runs the trailing send armed as gen. A timer that fired while
// being cancelled finds another generation, or none, and does nothing.
func (d *Dispatcher) onTrailing(gen uint64) {
	d.mu.Lock()
	if d.closed || d.trailing == nil || gen != d.trailGen {
		d.mu.Unlock()
		return
	}
	d.trailing = nil
	d.mu.Unlock()
	d.Broadcast(false)
}

// Broadcast builds a candidate and sends whatever it calls for. With force
// set an unchanged snapshot still produces a PING.
func (d *Dispatcher) Broadcast(force bool) Outcome {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	snap := d.build()
	key := snap.ContentKey()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Closed
	}
	now := d.clock.Now()

	if key == d.lastKey {
		if !force {
			d.stats.Suppressed++
			if d.trailing == nil && d.state == StatePending {
				d.state = StateSent
			}
			d.mu.Unlock()
			return Suppressed
		}
		ping := protocol.Ping{Epoch: d.epoch, Seq: d.seq, SentAt: now.UnixMilli()}
		d.stats.Pings++
		d.mu.Unlock()

		d.out.Send(ping)
		return Pinged
	}

	msg := d.stampLocked(snap, key, now)
	d.mu.Unlock()

	d.out.Send(msg)
	return Sent
}

// SendFull pushes the current snapshot regardless of dedup. It answers
// REQUEST_SNAPSHOT from a late joiner.
func (d *Dispatcher) SendFull() Outcome {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	snap := d.build()
	key := snap.ContentKey()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Closed
	}
	msg := d.stampLocked(snap, key, d.clock.Now())
	d.mu.Unlock()

	d.out.Send(msg)
	return Sent
}

// Resync answers a legacy HELLO: a full snapshot, unless one went out
// within minAge, in which case the viewer is already covered.
func (d *Dispatcher) Resync(minAge time.Duration) Outcome {
	d.mu.Lock()
	recent := !d.lastFullAt.IsZero() && d.clock.Now().Sub(d.lastFullAt) < minAge
	d.mu.Unlock()
	if recent {
		return Suppressed
	}
	return d.SendFull()
}

// Publish passes a partial update (tiles, map, viewport) straight through.
func (d *Dispatcher) Publish(msg protocol.Message) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.stats.Partials++
	d.mu.Unlock()
	d.out.Send(msg)
}

func (d *Dispatcher) stampLocked(snap snapshot.Snapshot, key string, now time.Time) protocol.Snapshot {
	d.seq++
	snap.Epoch = d.epoch
	snap.Seq = d.seq
	d.lastKey = key
	d.lastSentAt = now
	d.lastFullAt = now
	d.stats.Snapshots++
	if d.trailing == nil {
		d.state = StateSent
	}
	return protocol.Snapshot{Snapshot: snap}
}

func (d *Dispatcher) cancelTrailingLocked() {
	if d.trailing != nil {
		d.trailing.Stop()
		d.trailing = nil
	}
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) Seq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close stops both timers. Nothing is sent after it returns.
func (d *Dispatcher) Close() {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.cancelTrailingLocked()
	if d.beat != nil {
		d.beat.Stop()
		d.beat = nil
	}
	d.state = StateIdle
	d.log.Printf("dispatcher %s closed after %d snapshots, %d pings", d.epoch, d.stats.Snapshots, d.stats.Pings)
}
