package transport

import (
	"context"
	"sync"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
)

// Bus connects channels living in the same process. Messages are passed
// as values without encoding, so receivers must treat them as read-only.
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[*RelayChannel]struct{}
	clk    clock.Clock
}

func NewBus(clk clock.Clock) *Bus {
	return &Bus{
		topics: make(map[string]map[*RelayChannel]struct{}),
		clk:    clock.Or(clk),
	}
}

// Open returns a new endpoint on the named topic. It joins the topic on
// Connect.
func (b *Bus) Open(name string) *RelayChannel {
	return &RelayChannel{
		endpoint: newEndpoint("relay:"+name, b.clk),
		bus:      b,
		topic:    name,
		wake:     make(chan struct{}, 1),
	}
}

// Members counts the connected endpoints on a topic.
func (b *Bus) Members(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[name])
}

func (b *Bus) join(rc *RelayChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers := b.topics[rc.topic]
	if peers == nil {
		peers = make(map[*RelayChannel]struct{})
		b.topics[rc.topic] = peers
	}
	peers[rc] = struct{}{}
}

func (b *Bus) leave(rc *RelayChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers := b.topics[rc.topic]
	delete(peers, rc)
	if len(peers) == 0 {
		delete(b.topics, rc.topic)
	}
}

func (b *Bus) peers(rc *RelayChannel) []*RelayChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*RelayChannel, 0, len(b.topics[rc.topic]))
	for p := range b.topics[rc.topic] {
		if p != rc {
			out = append(out, p)
		}
	}
	return out
}

// RelayChannel is one endpoint on a Bus topic. Every message sent reaches
// every other endpoint, in order, on that endpoint's own goroutine.
type RelayChannel struct {
	endpoint
	bus   *Bus
	topic string

	qmu    sync.Mutex
	queue  []protocol.Message
	wake   chan struct{}
	done   chan struct{}
	joined bool
	closed bool
}

func (rc *RelayChannel) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return rc.fail(Transient, "connect", err)
	}
	rc.qmu.Lock()
	if rc.closed {
		rc.qmu.Unlock()
		return rc.fail(Closed, "connect", ErrChannelClosed)
	}
	if rc.joined {
		rc.qmu.Unlock()
		return nil
	}
	rc.joined = true
	rc.done = make(chan struct{})
	done := rc.done
	rc.qmu.Unlock()

	go rc.pump(done)
	rc.bus.join(rc)
	rc.opened()
	return nil
}

func (rc *RelayChannel) Send(msg protocol.Message) error {
	if !rc.isOpen() {
		return rc.fail(Closed, "send", ErrNotOpen)
	}
	for _, p := range rc.bus.peers(rc) {
		p.enqueue(msg)
	}
	return nil
}

func (rc *RelayChannel) enqueue(msg protocol.Message) {
	rc.qmu.Lock()
	if rc.closed {
		rc.qmu.Unlock()
		return
	}
	rc.queue = append(rc.queue, msg)
	rc.qmu.Unlock()
	select {
	case rc.wake <- struct{}{}:
	default:
	}
}

func (rc *RelayChannel) pump(done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-rc.wake:
		}
		for {
			rc.qmu.Lock()
			if rc.closed || len(rc.queue) == 0 {
				rc.qmu.Unlock()
				break
			}
			msg := rc.queue[0]
			rc.queue[0] = nil
			rc.queue = rc.queue[1:]
			rc.qmu.Unlock()
			rc.deliver(msg)
		}
	}
}

func (rc *RelayChannel) Close() error {
	rc.qmu.Lock()
	if rc.closed {
		rc.qmu.Unlock()
		return nil
	}
	rc.closed = true
	rc.queue = nil
	joined := rc.joined
	if rc.done != nil {
		close(rc.done)
	}
	rc.qmu.Unlock()

	if joined {
		rc.bus.leave(rc)
	}
	rc.setStatus(StatusClosed)
	return nil
}
