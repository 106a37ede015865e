// Package world is the GM's authoritative table: tokens, the overlay, the
// map, drawings and the combat turn. It is the single writer; viewers only
// ever see snapshots built from it.
package world

import (
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/hex"
	"github.com/Scrimzay/hexboard/internal/snapshot"
)

const DefaultHexRadius = 32.0

var (
	ErrUnknownToken = errors.New("world: unknown token")
	ErrNotDragging  = errors.New("world: token is not being dragged")
	ErrNoStroke     = errors.New("world: no stroke in progress")
	ErrBadTerrain   = errors.New("world: unknown terrain")
	ErrBadPoint     = errors.New("world: point is not finite")
)

// ChangeKind tells listeners how urgently a change should reach viewers.
type ChangeKind uint8

const (
	// ChangeDiscrete is a finished action: a drop, a turn, a new token.
	ChangeDiscrete ChangeKind = iota
	// ChangeContinuous is one step of a pointer-driven operation.
	ChangeContinuous
	// ChangeOverlay replaced the published tile set.
	ChangeOverlay
	ChangeMap
	ChangeViewport
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeDiscrete:
		return "discrete"
	case ChangeContinuous:
		return "continuous"
	case ChangeOverlay:
		return "overlay"
	case ChangeMap:
		return "map"
	case ChangeViewport:
		return "viewport"
	default:
		return "unknown"
	}
}

type Listener func(ChangeKind)

type drag struct {
	tokenID string
	start   hex.Axial
}

type World struct {
	Mu sync.RWMutex

	radius float64
	log    *log.Logger

	tokens    []snapshot.Token
	activeID  string
	combat    bool
	round     int
	order     []string       // turn order while in combat
	resume    int            // slot in order the turn passes to once the active token is gone
	resetIn   map[string]int // round in which a token's speed was last reset
	tiles     map[string]snapshot.OverlayTile
	draft     map[string]snapshot.OverlayTile
	strokes   []snapshot.Stroke
	pending   *snapshot.Stroke
	ghost     *snapshot.Ghost
	drag      *drag
	selection []string
	hover     *hex.Axial
	mapURL    string
	camera    snapshot.Camera
	viewport  snapshot.Viewport

	lmu       sync.Mutex
	listeners map[int]Listener
	nextL     int
	closed    bool
}

// New makes an empty table. radius is the hex radius in world units, zero
// means DefaultHexRadius.
func New(radius float64, logger *log.Logger) *World {
	if radius <= 0 {
		radius = DefaultHexRadius
	}
	if logger == nil {
		logger = log.Default()
	}
	return &World{
		radius:    radius,
		log:       logger,
		resetIn:   make(map[string]int),
		tiles:     make(map[string]snapshot.OverlayTile),
		draft:     make(map[string]snapshot.OverlayTile),
		camera:    snapshot.Camera{Scale: 1},
		listeners: make(map[int]Listener),
	}
}

func (w *World) Radius() float64 { return w.radius }

// Subscribe registers fn for every change. fn runs on the goroutine that
// made the change, after the world's lock is released.
func (w *World) Subscribe(fn Listener) (unsubscribe func()) {
	w.lmu.Lock()
	defer w.lmu.Unlock()
	if w.closed {
		return func() {}
	}
	id := w.nextL
	w.nextL++
	w.listeners[id] = fn
	return func() {
		w.lmu.Lock()
		delete(w.listeners, id)
		w.lmu.Unlock()
	}
}

// Close drops all listeners. The world keeps working, silently.
func (w *World) Close() {
	w.lmu.Lock()
	defer w.lmu.Unlock()
	w.closed = true
	w.listeners = make(map[int]Listener)
}

func (w *World) emit(kind ChangeKind) {
	w.lmu.Lock()
	fns := make([]Listener, 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.lmu.Unlock()
	for _, fn := range fns {
		fn(kind)
	}
}

// EditorState copies out everything, private state included.
func (w *World) EditorState() snapshot.EditorState {
	w.Mu.RLock()
	defer w.Mu.RUnlock()

	st := snapshot.EditorState{
		Tokens:        append([]snapshot.Token(nil), w.tokens...),
		ActiveID:      w.activeID,
		CombatMode:    w.combat,
		Round:         w.round,
		Tiles:         make(map[string]snapshot.OverlayTile, len(w.tiles)),
		DraftTiles:    make(map[string]snapshot.OverlayTile, len(w.draft)),
		Selection:     append([]string(nil), w.selection...),
		CurrentMapURL: w.mapURL,
		Camera:        w.camera,
		Viewport:      w.viewport,
	}
	for k, t := range w.tiles {
		st.Tiles[k] = t
	}
	for k, t := range w.draft {
		st.DraftTiles[k] = t
	}
	for _, s := range w.strokes {
		st.Strokes = append(st.Strokes, s.Clone())
	}
	if w.pending != nil {
		p := w.pending.Clone()
		st.Pending = &p
	}
	if w.ghost != nil {
		g := *w.ghost
		st.Ghost = &g
	}
	if w.hover != nil {
		h := *w.hover
		st.Hover = &h
	}
	return st
}

// Snapshot builds what viewers would see right now.
func (w *World) Snapshot(now time.Time) snapshot.Snapshot {
	return snapshot.Build(w.EditorState(), now)
}

// PublishedTiles is the viewer-visible overlay, sorted.
func (w *World) PublishedTiles() []snapshot.OverlayTile {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	out := make([]snapshot.OverlayTile, 0, len(w.tiles))
	for _, t := range w.tiles {
		out = append(out, t)
	}
	snapshot.SortTiles(out)
	return out
}

func (w *World) MapURL() string {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return w.mapURL
}

func (w *World) Viewport() snapshot.Viewport {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return w.viewport
}

func (w *World) SetMap(url string) {
	w.Mu.Lock()
	w.mapURL = url
	w.Mu.Unlock()
	w.emit(ChangeMap)
}

func (w *World) SetViewport(v snapshot.Viewport) {
	if v.W < 0 {
		v.W = 0
	}
	if v.H < 0 {
		v.H = 0
	}
	w.Mu.Lock()
	w.viewport = v
	w.Mu.Unlock()
	w.emit(ChangeViewport)
}

// SetCamera pans or zooms. Camera moves follow the pointer, so they are
// continuous. A camera with a non-finite value is dropped.
func (w *World) SetCamera(c snapshot.Camera) {
	if !finite(c.TX, c.TY, c.Scale) {
		return
	}
	if c.Scale <= 0 {
		c.Scale = 1
	}
	w.Mu.Lock()
	w.camera = c
	w.Mu.Unlock()
	w.emit(ChangeContinuous)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Select and Hover are GM-only UI state; viewers never see them.
func (w *World) Select(ids ...string) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	w.selection = append([]string(nil), ids...)
}

func (w *World) Hover(cell *hex.Axial) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	if cell == nil {
		w.hover = nil
		return
	}
	c := *cell
	w.hover = &c
}

// Reset clears the table but keeps listeners.
func (w *World) Reset() {
	w.Mu.Lock()
	w.tokens = nil
	w.activeID = ""
	w.combat = false
	w.round = 0
	w.order = nil
	w.resume = 0
	w.resetIn = make(map[string]int)
	w.tiles = make(map[string]snapshot.OverlayTile)
	w.draft = make(map[string]snapshot.OverlayTile)
	w.strokes = nil
	w.pending = nil
	w.ghost = nil
	w.drag = nil
	w.selection = nil
	w.hover = nil
	w.mapURL = ""
	w.camera = snapshot.Camera{Scale: 1}
	w.Mu.Unlock()
	w.log.Println("world reset")
	w.emit(ChangeOverlay)
}
