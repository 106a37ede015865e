package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
)

type Mode uint8

const (
	// ModePrimary sends on the best open channel only. Viewers use it.
	ModePrimary Mode = iota
	// ModeFanout sends on every open channel. The GM uses it.
	ModeFanout
)

const (
	DefaultHelloDelay    = 1500 * time.Millisecond
	DefaultFallbackAfter = 30 * time.Second
)

type LayerConfig struct {
	Mode Mode
	// Handshake sends REQUEST_SNAPSHOT on every channel open, and HELLO
	// HelloDelay later.
	Handshake  bool
	HelloDelay time.Duration
	// FallbackAfter is how long the layer waits without any inbound
	// message before pulling a snapshot out of band. Zero turns it off.
	FallbackAfter time.Duration
	// Fetcher serves the fallback pull. Defaults to the first channel
	// that can fetch.
	Fetcher Fetcher

	Clock  clock.Clock
	Logger *log.Logger
}

// ChannelState pairs a channel's name with its state.
type ChannelState struct {
	Name string
	State
}

// Layer puts a priority order on channels. Channels are given best first.
// Errors from channels end here: they are logged, never returned from Send.
type Layer struct {
	channels []Channel
	cfg      LayerConfig
	clk      clock.Clock
	log      *log.Logger

	mu          sync.Mutex
	handler     func(protocol.Message)
	ctx         context.Context
	cancel      context.CancelFunc
	lastInbound time.Time
	watchdog    clock.Timer
	hellos      map[Channel]clock.Timer
	unsupported map[string]bool
	closed      bool
}

func NewLayer(cfg LayerConfig, channels ...Channel) *Layer {
	if cfg.HelloDelay <= 0 {
		cfg.HelloDelay = DefaultHelloDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Fetcher == nil {
		for _, ch := range channels {
			if f, ok := ch.(Fetcher); ok {
				cfg.Fetcher = f
				break
			}
		}
	}
	l := &Layer{
		channels:    channels,
		cfg:         cfg,
		clk:         clock.Or(cfg.Clock),
		log:         cfg.Logger,
		hellos:      make(map[Channel]clock.Timer),
		unsupported: make(map[string]bool),
	}
	for i, ch := range channels {
		ch := ch
		ch.OnMessage(l.inbound)
		ch.OnOpen(func() { l.onOpen(ch) })
		ch.OnError(l.logError)
		if s, ok := ch.(Standby); ok {
			higher := channels[:i]
			s.SetStandby(func() bool { return anyOpen(higher) })
		}
	}
	return l
}

func anyOpen(chs []Channel) bool {
	for _, ch := range chs {
		if ch.State().Status == StatusOpen {
			return true
		}
	}
	return false
}

// OnMessage sets the handler for inbound messages from every channel. It
// runs on the delivering channel's goroutine.
func (l *Layer) OnMessage(fn func(protocol.Message)) {
	l.mu.Lock()
	l.handler = fn
	l.mu.Unlock()
}

// Connect connects every channel. A non-empty endpoint retargets the
// channels that take one. Channels that fail keep retrying on their own;
// their errors come back joined.
func (l *Layer) Connect(ctx context.Context, endpoint string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrChannelClosed
	}
	if l.ctx == nil {
		l.ctx, l.cancel = context.WithCancel(ctx)
	}
	ctx = l.ctx
	l.lastInbound = l.clk.Now()
	l.mu.Unlock()

	var errs []error
	for _, ch := range l.channels {
		if endpoint != "" {
			if e, ok := ch.(Endpointer); ok {
				e.SetEndpoint(endpoint)
			}
		}
		if err := ch.Connect(ctx); err != nil {
			l.logError(err)
			errs = append(errs, err)
		}
	}
	l.armWatchdog(l.cfg.FallbackAfter)
	return errors.Join(errs...)
}

func (l *Layer) onOpen(ch Channel) {
	l.log.Printf("transport: %s open", ch.Name())
	if !l.cfg.Handshake {
		return
	}
	if err := ch.Send(protocol.RequestSnapshot{}); err != nil {
		l.logError(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if t := l.hellos[ch]; t != nil {
		t.Stop()
	}
	l.hellos[ch] = l.clk.AfterFunc(l.cfg.HelloDelay, func() {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		delete(l.hellos, ch)
		l.mu.Unlock()
		if ch.State().Status != StatusOpen {
			return
		}
		if err := ch.Send(protocol.Hello{}); err != nil {
			l.logError(err)
		}
	})
}

func (l *Layer) inbound(msg protocol.Message) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.lastInbound = l.clk.Now()
	fn := l.handler
	l.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (l *Layer) armWatchdog(d time.Duration) {
	if l.cfg.FallbackAfter <= 0 || l.cfg.Fetcher == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if l.watchdog != nil {
		l.watchdog.Stop()
	}
	l.watchdog = l.clk.AfterFunc(d, l.onWatchdog)
}

// onWatchdog pulls a snapshot when nothing arrived for FallbackAfter,
// otherwise it sleeps until that much time has passed since the last
// message.
func (l *Layer) onWatchdog() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.watchdog = nil
	quiet := l.clk.Now().Sub(l.lastInbound)
	ctx := l.ctx
	l.mu.Unlock()

	if quiet < l.cfg.FallbackAfter {
		l.armWatchdog(l.cfg.FallbackAfter - quiet)
		return
	}

	l.log.Printf("transport: nothing received for %s, pulling state", quiet.Round(time.Millisecond))
	snap, found, err := l.cfg.Fetcher.Fetch(ctx)
	switch {
	case err != nil:
		l.logError(err)
	case found:
		l.inbound(protocol.Snapshot{Snapshot: snap})
	default:
		// nothing there, count the attempt as activity so we don't spin
		l.mu.Lock()
		l.lastInbound = l.clk.Now()
		l.mu.Unlock()
	}
	l.armWatchdog(l.cfg.FallbackAfter)
}

// Send delivers msg according to the layer's mode. It implements the
// dispatcher's Sender.
func (l *Layer) Send(msg protocol.Message) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	if l.cfg.Mode == ModeFanout {
		l.fanout(msg)
		return
	}
	l.primary(msg)
}

func (l *Layer) fanout(msg protocol.Message) {
	for _, ch := range l.channels {
		if !sendable(ch.State().Status) {
			continue
		}
		if err := ch.Send(msg); err != nil {
			l.logError(err)
		}
	}
}

// primary tries open channels best first, then errored ones, and stops at
// the first that takes the message.
func (l *Layer) primary(msg protocol.Message) {
	for _, want := range []Status{StatusOpen, StatusError} {
		for _, ch := range l.channels {
			if ch.State().Status != want {
				continue
			}
			err := ch.Send(msg)
			if err == nil {
				return
			}
			l.logError(err)
		}
	}
	if !msg.Kind().Liveness() {
		l.log.Printf("transport: %s dropped: %v", msg.Kind(), ErrNoOpenChannels)
	}
}

func sendable(s Status) bool {
	return s == StatusOpen || s == StatusError
}

// logError logs transport errors. Unsupported ones are expected (a push
// channel asked to carry a partial update) and are logged once per
// channel and message kind.
func (l *Layer) logError(err error) {
	var te *Error
	if errors.As(err, &te) && te.Kind == Unsupported {
		key := te.Channel + "/" + te.Op + "/" + fmt.Sprint(te.Err)
		l.mu.Lock()
		seen := l.unsupported[key]
		l.unsupported[key] = true
		l.mu.Unlock()
		if seen {
			return
		}
	}
	l.log.Printf("transport: %v", err)
}

// Status is the state of the channel the layer would send on: the best
// open one, or failing that the best of the rest.
func (l *Layer) Status() ChannelState {
	var best ChannelState
	bestRank := -1
	for _, ch := range l.channels {
		st := ch.State()
		if r := statusRank(st.Status); r > bestRank {
			best = ChannelState{Name: ch.Name(), State: st}
			bestRank = r
		}
	}
	return best
}

func statusRank(s Status) int {
	switch s {
	case StatusOpen:
		return 4
	case StatusConnecting:
		return 3
	case StatusError:
		return 2
	case StatusIdle:
		return 1
	default:
		return 0
	}
}

// Statuses lists every channel in priority order.
func (l *Layer) Statuses() []ChannelState {
	out := make([]ChannelState, 0, len(l.channels))
	for _, ch := range l.channels {
		out = append(out, ChannelState{Name: ch.Name(), State: ch.State()})
	}
	return out
}

// Close stops the layer's timers and closes every channel.
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.watchdog != nil {
		l.watchdog.Stop()
		l.watchdog = nil
	}
	for ch, t := range l.hellos {
		t.Stop()
		delete(l.hellos, ch)
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()

	var errs []error
	for _, ch := range l.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
