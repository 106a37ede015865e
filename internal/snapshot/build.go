package snapshot

import (
	"sort"
	"time"

	"github.com/Scrimzay/hexboard/internal/hex"
)

// EditorState is the GM's full working state as the store hands it out.
// Only part of it is public; Build decides which part.
type EditorState struct {
	Tokens     []Token
	ActiveID   string
	CombatMode bool
	Round      int

	// Published tiles are visible to viewers, draft tiles are the GM's
	// unpublished work.
	Tiles      map[string]OverlayTile
	DraftTiles map[string]OverlayTile

	Strokes []Stroke
	// Pending is the stroke being drawn right now, shown to viewers only
	// when it is marked Live.
	Pending *Stroke

	Ghost     *Ghost
	Selection []string
	Hover     *hex.Axial

	CurrentMapURL string
	Camera        Camera
	Viewport      Viewport
}

// Build projects the editor state into a viewer snapshot. It has no side
// effects and can be called speculatively.
func Build(st EditorState, now time.Time) Snapshot {
	snap := Snapshot{
		Tokens:        make([]Token, 0, len(st.Tokens)),
		ActiveID:      st.ActiveID,
		CombatMode:    st.CombatMode,
		Round:         st.Round,
		OverlayTiles:  make([]OverlayTile, 0, len(st.Tiles)),
		CurrentMapURL: st.CurrentMapURL,
		Camera:        st.Camera,
		Viewport:      st.Viewport,
		Timestamp:     now.UnixMilli(),
	}

	for _, tok := range st.Tokens {
		if !tok.IsDeployed {
			continue
		}
		snap.Tokens = append(snap.Tokens, tok)
	}

	for _, tile := range st.Tiles {
		snap.OverlayTiles = append(snap.OverlayTiles, tile)
	}
	SortTiles(snap.OverlayTiles)

	for _, s := range st.Strokes {
		snap.Drawings = append(snap.Drawings, s.Clone())
	}
	if st.Pending != nil && st.Pending.Live {
		snap.Drawings = append(snap.Drawings, st.Pending.Clone())
	}

	if st.Ghost != nil && tokenDeployed(snap.Tokens, st.Ghost.TokenID) {
		g := *st.Ghost
		snap.Ghost = &g
	}
	return snap
}

// SortTiles orders tiles row by row so equal tile sets encode equally.
func SortTiles(tiles []OverlayTile) {
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].R != tiles[j].R {
			return tiles[i].R < tiles[j].R
		}
		return tiles[i].Q < tiles[j].Q
	})
}

func tokenDeployed(tokens []Token, id string) bool {
	for _, t := range tokens {
		if t.ID == id {
			return true
		}
	}
	return false
}
