package world

import (
	"github.com/Scrimzay/hexboard/internal/snapshot"
	"github.com/google/uuid"
)

// BeginStroke starts a pencil stroke. A live stroke is shown to viewers
// while it is drawn, otherwise it appears when it ends.
func (w *World) BeginStroke(color string, width float64, live bool) string {
	if width <= 0 || !finite(width) {
		width = 1
	}
	s := &snapshot.Stroke{ID: uuid.NewString(), Color: color, Width: width, Live: live}
	w.Mu.Lock()
	w.pending = s
	w.Mu.Unlock()
	return s.ID
}

// ExtendStroke adds a point to the stroke in progress. Non-finite points
// are dropped.
func (w *World) ExtendStroke(x, y float64) error {
	if !finite(x, y) {
		return nil
	}
	w.Mu.Lock()
	if w.pending == nil {
		w.Mu.Unlock()
		return ErrNoStroke
	}
	w.pending.Points = append(w.pending.Points, snapshot.Point{X: x, Y: y})
	live := w.pending.Live
	w.Mu.Unlock()

	if live {
		w.emit(ChangeContinuous)
	}
	return nil
}

// EndStroke commits the stroke in progress. Strokes with no points are
// thrown away.
func (w *World) EndStroke() (snapshot.Stroke, error) {
	w.Mu.Lock()
	if w.pending == nil {
		w.Mu.Unlock()
		return snapshot.Stroke{}, ErrNoStroke
	}
	s := *w.pending
	w.pending = nil
	wasLive := s.Live
	s.Live = false
	kept := len(s.Points) > 0
	if kept {
		w.strokes = append(w.strokes, s)
	}
	w.Mu.Unlock()

	if kept || wasLive {
		w.emit(ChangeDiscrete)
	}
	return s, nil
}

func (w *World) ClearDrawings() {
	w.Mu.Lock()
	w.strokes = nil
	w.pending = nil
	w.Mu.Unlock()
	w.emit(ChangeDiscrete)
}
