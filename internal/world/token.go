package world

import (
	"fmt"
	"math/rand"

	"github.com/Scrimzay/hexboard/internal/hex"
	"github.com/Scrimzay/hexboard/internal/snapshot"
	"github.com/google/uuid"
)

var TokenNamePool = []string{
	"Ashen Knight",
	"Bramble Witch",
	"Cinder Hound",
	"Dusk Ranger",
	"Ember Monk",
	"Frost Warden",
	"Gloom Stalker",
	"Hollow Priest",
	"Iron Sentinel",
	"Jade Duelist",
	"Kestrel Scout",
	"Lantern Bearer",
}

// freeName picks a pool name no token uses yet, falling back to a
// numbered one.
func (w *World) freeNameLocked() string {
	used := make(map[string]bool, len(w.tokens))
	for _, t := range w.tokens {
		used[t.Name] = true
	}
	pool := make([]string, len(TokenNamePool))
	copy(pool, TokenNamePool)
	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	for _, n := range pool {
		if !used[n] {
			return n
		}
	}
	return fmt.Sprintf("Token %d", len(w.tokens)+1)
}

func (w *World) findLocked(id string) int {
	for i := range w.tokens {
		if w.tokens[i].ID == id {
			return i
		}
	}
	return -1
}

// Token returns a copy of one token.
func (w *World) Token(id string) (snapshot.Token, error) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	i := w.findLocked(id)
	if i < 0 {
		return snapshot.Token{}, fmt.Errorf("%w: %q", ErrUnknownToken, id)
	}
	return w.tokens[i], nil
}

// Tokens returns copies of every token, deployed or not.
func (w *World) Tokens() []snapshot.Token {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return append([]snapshot.Token(nil), w.tokens...)
}

// AddToken puts a new, undeployed token on the table. Missing ids and
// names are filled in, speed and radius are clamped to sane values.
func (w *World) AddToken(t snapshot.Token) (snapshot.Token, error) {
	if t.Speed < 0 {
		t.Speed = 0
	}
	if t.CellRadius < 1 {
		t.CellRadius = 1
	}
	t.RemainingSpeed = t.Speed

	w.Mu.Lock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if w.findLocked(t.ID) >= 0 {
		w.Mu.Unlock()
		return snapshot.Token{}, fmt.Errorf("world: token %q already exists", t.ID)
	}
	if t.Name == "" {
		t.Name = w.freeNameLocked()
	}
	w.tokens = append(w.tokens, t)
	w.Mu.Unlock()

	if t.IsDeployed {
		w.emit(ChangeDiscrete)
	}
	return t, nil
}

func (w *World) RemoveToken(id string) error {
	w.Mu.Lock()
	i := w.findLocked(id)
	if i < 0 {
		w.Mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownToken, id)
	}
	w.tokens = append(w.tokens[:i], w.tokens[i+1:]...)
	delete(w.resetIn, id)
	if slot := indexOf(w.order, id); slot >= 0 {
		switch {
		case w.activeID == id:
			// its successor slides into this slot
			w.resume = slot
		case slot < w.resume:
			w.resume--
		}
		w.order = removeString(w.order, id)
	}
	if w.activeID == id {
		w.activeID = ""
	}
	if w.drag != nil && w.drag.tokenID == id {
		w.drag = nil
		w.ghost = nil
	}
	w.Mu.Unlock()
	w.emit(ChangeDiscrete)
	return nil
}

// Deploy shows or hides a token from viewers.
func (w *World) Deploy(id string, deployed bool) error {
	w.Mu.Lock()
	i := w.findLocked(id)
	if i < 0 {
		w.Mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownToken, id)
	}
	w.tokens[i].IsDeployed = deployed
	w.Mu.Unlock()
	w.emit(ChangeDiscrete)
	return nil
}

// budgetLocked is how far token i may still move, -1 meaning no limit
// (outside combat).
func (w *World) budgetLocked(i int) int {
	if !w.combat {
		return -1
	}
	return w.tokens[i].RemainingSpeed
}

// spendLocked moves token i and charges the steps against its speed in
// combat.
func (w *World) spendLocked(i int, to hex.Axial, steps int) {
	w.tokens[i].Position = to
	if w.combat {
		w.tokens[i].RemainingSpeed -= steps
		if w.tokens[i].RemainingSpeed < 0 {
			w.tokens[i].RemainingSpeed = 0
		}
	}
}

// MoveToken moves a token toward target in one go. In combat the move
// stops where the token's remaining speed runs out.
func (w *World) MoveToken(id string, target hex.Axial) (hex.Axial, int, error) {
	w.Mu.Lock()
	i := w.findLocked(id)
	if i < 0 {
		w.Mu.Unlock()
		return hex.Axial{}, 0, fmt.Errorf("%w: %q", ErrUnknownToken, id)
	}
	start := w.tokens[i].Position
	dest, steps := target, hex.Distance(start, target)
	if b := w.budgetLocked(i); b >= 0 {
		dest, steps = hex.Clamp(start, target, b)
	}
	w.spendLocked(i, dest, steps)
	w.Mu.Unlock()

	w.emit(ChangeDiscrete)
	return dest, steps, nil
}

// resolve turns a pointer position into the cell a drop there would land
// on, plus the point to draw the ghost at.
func (w *World) resolve(start hex.Axial, x, y float64, budget int) (hex.Axial, int, float64, float64) {
	if budget < 0 {
		cell := hex.PixelToAxial(x, y, w.radius)
		return cell, hex.Distance(start, cell), x, y
	}
	gx, gy := hex.ClampPoint(start, x, y, budget, w.radius)
	cell, steps := hex.Commit(start, x, y, budget, w.radius)
	return cell, steps, gx, gy
}

// BeginDrag starts a drag. Only one token is dragged at a time; starting
// another drag drops the previous ghost.
func (w *World) BeginDrag(id string) (snapshot.Ghost, error) {
	w.Mu.Lock()
	i := w.findLocked(id)
	if i < 0 {
		w.Mu.Unlock()
		return snapshot.Ghost{}, fmt.Errorf("%w: %q", ErrUnknownToken, id)
	}
	start := w.tokens[i].Position
	x, y := hex.AxialToPixel(start, w.radius)
	w.drag = &drag{tokenID: id, start: start}
	g := snapshot.Ghost{TokenID: id, X: x, Y: y, Cell: start}
	w.ghost = &g
	w.Mu.Unlock()

	w.emit(ChangeContinuous)
	return g, nil
}

// DragTo moves the ghost. The ghost's cell is exactly where EndDrag at the
// same point would put the token.
func (w *World) DragTo(id string, x, y float64) (snapshot.Ghost, error) {
	if !finite(x, y) {
		return snapshot.Ghost{}, ErrBadPoint
	}
	w.Mu.Lock()
	i := w.findLocked(id)
	if i < 0 {
		w.Mu.Unlock()
		return snapshot.Ghost{}, fmt.Errorf("%w: %q", ErrUnknownToken, id)
	}
	if w.drag == nil || w.drag.tokenID != id {
		w.Mu.Unlock()
		return snapshot.Ghost{}, ErrNotDragging
	}
	cell, steps, gx, gy := w.resolve(w.drag.start, x, y, w.budgetLocked(i))
	g := snapshot.Ghost{TokenID: id, X: gx, Y: gy, Cell: cell, Steps: steps}
	w.ghost = &g
	w.Mu.Unlock()

	w.emit(ChangeContinuous)
	return g, nil
}

// EndDrag drops the token at the pointer position.
func (w *World) EndDrag(id string, x, y float64) (hex.Axial, int, error) {
	if !finite(x, y) {
		return hex.Axial{}, 0, ErrBadPoint
	}
	w.Mu.Lock()
	i := w.findLocked(id)
	if i < 0 {
		w.Mu.Unlock()
		return hex.Axial{}, 0, fmt.Errorf("%w: %q", ErrUnknownToken, id)
	}
	if w.drag == nil || w.drag.tokenID != id {
		w.Mu.Unlock()
		return hex.Axial{}, 0, ErrNotDragging
	}
	cell, steps, _, _ := w.resolve(w.drag.start, x, y, w.budgetLocked(i))
	w.spendLocked(i, cell, steps)
	w.drag = nil
	w.ghost = nil
	w.Mu.Unlock()

	w.emit(ChangeDiscrete)
	return cell, steps, nil
}

// CancelDrag puts the ghost away without moving anything.
func (w *World) CancelDrag() {
	w.Mu.Lock()
	had := w.drag != nil
	w.drag = nil
	w.ghost = nil
	w.Mu.Unlock()
	if had {
		w.emit(ChangeDiscrete)
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
