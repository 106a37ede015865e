package viewer

import (
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
)

const DefaultFrameInterval = time.Second / 60

// Frame is what one render pass gets.
type Frame struct {
	State     State
	Connected bool
}

// FrameLoop decouples the store from rendering: store changes only mark
// the loop dirty, and each tick renders the latest state at most once.
// Intermediate states between two ticks are never rendered.
type FrameLoop struct {
	store    *Store
	render   func(Frame)
	interval time.Duration
	clk      clock.Clock
	liveness Liveness

	mu        sync.Mutex
	dirty     bool
	connected bool
	timer     clock.Timer
	unsub     func()
	frames    uint64
	closed    bool
}

func NewFrameLoop(store *Store, liveness Liveness, interval time.Duration, render func(Frame)) *FrameLoop {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &FrameLoop{
		store:    store,
		render:   render,
		interval: interval,
		clk:      clock.Or(liveness.Clock),
		liveness: liveness,
	}
}

// Start subscribes to the store and begins ticking. The first tick always
// renders.
func (f *FrameLoop) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.unsub != nil {
		return
	}
	f.dirty = true
	f.unsub = f.store.Subscribe(func(State) { f.MarkDirty() })
	f.timer = f.clk.AfterFunc(f.interval, f.tick)
}

func (f *FrameLoop) MarkDirty() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

func (f *FrameLoop) tick() {
	st := f.store.State()
	connected := f.liveness.Connected(st.LastReceived)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	draw := f.dirty || connected != f.connected
	f.dirty = false
	f.connected = connected
	if draw {
		f.frames++
	}
	f.mu.Unlock()

	if draw {
		f.render(Frame{State: st, Connected: connected})
	}

	f.mu.Lock()
	if !f.closed {
		f.timer = f.clk.AfterFunc(f.interval, f.tick)
	}
	f.mu.Unlock()
}

// Frames counts render passes so far.
func (f *FrameLoop) Frames() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *FrameLoop) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
	}
	if f.unsub != nil {
		f.unsub()
	}
}
