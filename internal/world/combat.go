package world

import (
	"fmt"
	"sort"
)

// StartCombat orders the deployed tokens by initiative (highest first,
// ties by name) and makes the first one active in round 1.
func (w *World) StartCombat() error {
	w.Mu.Lock()
	order := make([]int, 0, len(w.tokens))
	for i, t := range w.tokens {
		if t.IsDeployed {
			order = append(order, i)
		}
	}
	if len(order) == 0 {
		w.Mu.Unlock()
		return fmt.Errorf("world: no deployed tokens to fight")
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := w.tokens[order[a]], w.tokens[order[b]]
		if ta.Initiative != tb.Initiative {
			return ta.Initiative > tb.Initiative
		}
		return ta.Name < tb.Name
	})

	w.combat = true
	w.round = 1
	w.order = w.order[:0]
	w.resume = 0
	for _, i := range order {
		w.order = append(w.order, w.tokens[i].ID)
	}
	w.resetIn = make(map[string]int)
	w.activateLocked(w.order[0])
	active := w.activeID
	w.Mu.Unlock()

	w.log.Printf("combat started, %d tokens, %s first", len(order), active)
	w.emit(ChangeDiscrete)
	return nil
}

// NextTurn passes the turn on. Passing from the last token starts a new
// round. If the active token was removed, the turn goes to whoever came
// after it.
func (w *World) NextTurn() (string, int, error) {
	w.Mu.Lock()
	if !w.combat || len(w.order) == 0 {
		w.Mu.Unlock()
		return "", 0, fmt.Errorf("world: not in combat")
	}
	next := w.resume
	if i := indexOf(w.order, w.activeID); i >= 0 {
		next = i + 1
	}
	w.resume = 0
	if next >= len(w.order) {
		next = 0
		w.round++
	}
	w.activateLocked(w.order[next])
	active, round := w.activeID, w.round
	w.Mu.Unlock()

	w.emit(ChangeDiscrete)
	return active, round, nil
}

// SetActive hands the turn to a specific token without changing the round.
func (w *World) SetActive(id string) error {
	w.Mu.Lock()
	if w.findLocked(id) < 0 {
		w.Mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownToken, id)
	}
	if w.combat {
		w.resume = 0
		w.activateLocked(id)
	} else {
		w.activeID = id
	}
	w.Mu.Unlock()
	w.emit(ChangeDiscrete)
	return nil
}

// activateLocked makes id the active token. Its speed refills only the
// first time it becomes active in a round, so handing the turn back and
// forth doesn't hand out extra movement.
func (w *World) activateLocked(id string) {
	w.activeID = id
	if w.resetIn[id] == w.round {
		return
	}
	if i := w.findLocked(id); i >= 0 {
		w.tokens[i].RemainingSpeed = w.tokens[i].Speed
		w.resetIn[id] = w.round
	}
}

func (w *World) EndCombat() {
	w.Mu.Lock()
	w.combat = false
	w.round = 0
	w.order = nil
	w.resume = 0
	w.activeID = ""
	w.resetIn = make(map[string]int)
	for i := range w.tokens {
		w.tokens[i].RemainingSpeed = w.tokens[i].Speed
	}
	w.Mu.Unlock()
	w.emit(ChangeDiscrete)
}

// TurnOrder returns the ids in initiative order, empty outside combat.
func (w *World) TurnOrder() []string {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return append([]string(nil), w.order...)
}
