package world

import (
	"fmt"

	"github.com/Scrimzay/hexboard/internal/hex"
	"github.com/Scrimzay/hexboard/internal/snapshot"
)

// Brush is what a paint operation lays down.
type Brush struct {
	Terrain string
	Color   string
	// Draft keeps the paint private until PublishDraft.
	Draft bool
}

func (b Brush) tile(c hex.Axial) (snapshot.OverlayTile, error) {
	t, ok := ParseTerrain(b.Terrain)
	if !ok {
		return snapshot.OverlayTile{}, fmt.Errorf("%w: %q", ErrBadTerrain, b.Terrain)
	}
	color := b.Color
	if color == "" {
		color = t.Color()
	}
	return snapshot.OverlayTile{Q: c.Q, R: c.R, Terrain: string(t), Color: color}, nil
}

// PaintLine paints every cell on the line from a to b, both ends included.
// Painting follows the pointer, so published paint is a continuous change.
func (w *World) PaintLine(a, b hex.Axial, brush Brush) (int, error) {
	cells := hex.Line(a, b)
	tiles := make([]snapshot.OverlayTile, 0, len(cells))
	for _, c := range cells {
		t, err := brush.tile(c)
		if err != nil {
			return 0, err
		}
		tiles = append(tiles, t)
	}

	w.Mu.Lock()
	dst := w.tiles
	if brush.Draft {
		dst = w.draft
	}
	for _, t := range tiles {
		dst[t.Key()] = t
	}
	w.Mu.Unlock()

	if !brush.Draft {
		w.emit(ChangeContinuous)
	}
	return len(tiles), nil
}

// PaintArea fills every cell within n steps of center.
func (w *World) PaintArea(center hex.Axial, n int, brush Brush) (int, error) {
	cells := hex.Range(center, n)
	w.Mu.Lock()
	dst := w.tiles
	if brush.Draft {
		dst = w.draft
	}
	for _, c := range cells {
		t, err := brush.tile(c)
		if err != nil {
			w.Mu.Unlock()
			return 0, err
		}
		dst[t.Key()] = t
	}
	w.Mu.Unlock()

	if !brush.Draft {
		w.emit(ChangeOverlay)
	}
	return len(cells), nil
}

// Erase clears the given cells from both the published and the draft
// overlay.
func (w *World) Erase(cells ...hex.Axial) int {
	n := 0
	w.Mu.Lock()
	for _, c := range cells {
		k := c.Key()
		if _, ok := w.tiles[k]; ok {
			delete(w.tiles, k)
			n++
		}
		delete(w.draft, k)
	}
	w.Mu.Unlock()
	if n > 0 {
		w.emit(ChangeContinuous)
	}
	return n
}

// PublishDraft merges the draft into the published overlay and clears the
// draft. It returns how many tiles went public.
func (w *World) PublishDraft() int {
	w.Mu.Lock()
	n := len(w.draft)
	for k, t := range w.draft {
		w.tiles[k] = t
	}
	w.draft = make(map[string]snapshot.OverlayTile)
	w.Mu.Unlock()

	if n > 0 {
		w.emit(ChangeOverlay)
	}
	return n
}

func (w *World) DiscardDraft() {
	w.Mu.Lock()
	w.draft = make(map[string]snapshot.OverlayTile)
	w.Mu.Unlock()
}

func (w *World) ClearOverlay() {
	w.Mu.Lock()
	w.tiles = make(map[string]snapshot.OverlayTile)
	w.draft = make(map[string]snapshot.OverlayTile)
	w.Mu.Unlock()
	w.emit(ChangeOverlay)
}

// DraftCount is the number of unpublished tiles.
func (w *World) DraftCount() int {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return len(w.draft)
}
