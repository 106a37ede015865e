// Package viewer is the receiving end: a store that folds incoming messages
// into the state a viewer renders, and the loop that renders it.
package viewer

import (
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/snapshot"
)

// State is what a viewer knows. Slices inside Snapshot are shared with the
// store and must not be modified.
type State struct {
	Snapshot snapshot.Snapshot
	// HasSnapshot is set once a full snapshot has been applied.
	HasSnapshot  bool
	LastReceived time.Time
	// Applied counts messages that changed the state.
	Applied uint64
}

type Store struct {
	clk clock.Clock

	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int
	closed bool
}

func NewStore(clk clock.Clock) *Store {
	return &Store{clk: clock.Or(clk), subs: make(map[int]func(State))}
}

// Apply folds msg into the state and reports whether anything changed.
// Every change notifies subscribers exactly once; ignored messages notify
// nobody.
func (s *Store) Apply(msg protocol.Message) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	applied := true
	switch m := msg.(type) {
	case protocol.Snapshot:
		s.state.LastReceived = s.clk.Now()
		if s.state.HasSnapshot && !m.Snapshot.Newer(s.state.Snapshot) {
			// an older snapshot that lost a race between transports
			applied = false
			break
		}
		s.state.Snapshot = m.Snapshot
		s.state.HasSnapshot = true
	case protocol.OverlaySet:
		s.state.LastReceived = s.clk.Now()
		tiles := make([]snapshot.OverlayTile, len(m.Tiles))
		copy(tiles, m.Tiles)
		snapshot.SortTiles(tiles)
		s.state.Snapshot.OverlayTiles = tiles
	case protocol.SetCurrentMap:
		s.state.LastReceived = s.clk.Now()
		s.state.Snapshot.CurrentMapURL = m.URL
	case protocol.Viewport:
		s.state.LastReceived = s.clk.Now()
		s.state.Snapshot.Viewport = m.Viewport
	case protocol.Ping, protocol.Pong, protocol.Hello:
		s.state.LastReceived = s.clk.Now()
		applied = false
	default:
		// requests from other viewers on a shared channel
		applied = false
	}
	if !applied {
		s.mu.Unlock()
		return false
	}

	s.state.Applied++
	st := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
	return true
}

// Subscribe registers fn for every applied change. It does not fire for
// the current state.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close drops every subscriber. Apply is a no-op afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]func(State))
}
