// Package snapshot defines what viewers get to see of the GM's state and
// the projection that produces it.
package snapshot

import (
	"encoding/json"

	"github.com/Scrimzay/hexboard/internal/hex"
)

type Token struct {
	ID             string    `json:"id" msgpack:"id"`
	Position       hex.Axial `json:"position" msgpack:"position"`
	IsDeployed     bool      `json:"isDeployed" msgpack:"isDeployed"`
	Speed          int       `json:"speed" msgpack:"speed"`
	RemainingSpeed int       `json:"remainingSpeed" msgpack:"remainingSpeed"`
	Initiative     int       `json:"initiative" msgpack:"initiative"`
	CellRadius     int       `json:"cellRadius" msgpack:"cellRadius"`
	Name           string    `json:"name,omitempty" msgpack:"name,omitempty"`
	Image          string    `json:"image,omitempty" msgpack:"image,omitempty"`
	Color          string    `json:"color,omitempty" msgpack:"color,omitempty"`
}

// OverlayTile paints one cell. Terrain and Color are display tags.
type OverlayTile struct {
	Q       int    `json:"q" msgpack:"q"`
	R       int    `json:"r" msgpack:"r"`
	Terrain string `json:"terrain,omitempty" msgpack:"terrain,omitempty"`
	Color   string `json:"color,omitempty" msgpack:"color,omitempty"`
}

func (t OverlayTile) Cell() hex.Axial { return hex.Axial{Q: t.Q, R: t.R} }

func (t OverlayTile) Key() string { return t.Cell().Key() }

type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Stroke is a pencil drawing in world space.
type Stroke struct {
	ID     string  `json:"id" msgpack:"id"`
	Color  string  `json:"color,omitempty" msgpack:"color,omitempty"`
	Width  float64 `json:"width" msgpack:"width"`
	Points []Point `json:"points" msgpack:"points"`
	Live   bool    `json:"live,omitempty" msgpack:"live,omitempty"`
}

// Ghost is the drag preview of a token that has not been dropped yet.
type Ghost struct {
	TokenID string    `json:"tokenId" msgpack:"tokenId"`
	X       float64   `json:"x" msgpack:"x"`
	Y       float64   `json:"y" msgpack:"y"`
	Cell    hex.Axial `json:"cell" msgpack:"cell"`
	Steps   int       `json:"steps" msgpack:"steps"`
}

type Camera struct {
	TX    float64 `json:"tx" msgpack:"tx"`
	TY    float64 `json:"ty" msgpack:"ty"`
	Scale float64 `json:"scale" msgpack:"scale"`
}

type Viewport struct {
	W int `json:"w" msgpack:"w"`
	H int `json:"h" msgpack:"h"`
}

// Snapshot is a point-in-time copy of everything a viewer renders. Treat it
// as a value: nothing mutates one after Build returns it.
//
// Epoch and Seq are stamped by the dispatcher when the snapshot goes out in
// full, they order snapshots coming in over racing transports.
type Snapshot struct {
	Epoch         string        `json:"epoch,omitempty" msgpack:"epoch,omitempty"`
	Seq           uint64        `json:"seq,omitempty" msgpack:"seq,omitempty"`
	Tokens        []Token       `json:"tokens" msgpack:"tokens"`
	ActiveID      string        `json:"activeId,omitempty" msgpack:"activeId,omitempty"`
	CombatMode    bool          `json:"combatMode" msgpack:"combatMode"`
	Round         int           `json:"round,omitempty" msgpack:"round,omitempty"`
	OverlayTiles  []OverlayTile `json:"overlayTiles" msgpack:"overlayTiles"`
	Drawings      []Stroke      `json:"drawings,omitempty" msgpack:"drawings,omitempty"`
	Ghost         *Ghost        `json:"ghost,omitempty" msgpack:"ghost,omitempty"`
	CurrentMapURL string        `json:"currentMapUrl" msgpack:"currentMapUrl"`
	Camera        Camera        `json:"camera" msgpack:"camera"`
	Viewport      Viewport      `json:"viewport" msgpack:"viewport"`
	Timestamp     int64         `json:"timestamp" msgpack:"timestamp"`
}

// ContentKey is the canonical encoding of the snapshot minus the fields
// that change on every build (epoch, seq, timestamp). Two snapshots with
// the same key look the same to a viewer.
func (s Snapshot) ContentKey() string {
	s.Epoch = ""
	s.Seq = 0
	s.Timestamp = 0
	b, err := json.Marshal(s)
	if err != nil {
		// only reachable with NaN/Inf floats, which the world refuses
		return "!" + err.Error()
	}
	return string(b)
}

// Newer reports whether s should replace cur on a viewer. Within an epoch
// the sequence number decides. Across epochs the GM restarted, and the
// build timestamp keeps a late payload from the old run out. An unstamped
// snapshot never replaces a stamped one.
func (s Snapshot) Newer(cur Snapshot) bool {
	switch {
	case s.Epoch == "" && cur.Epoch != "":
		return false
	case s.Epoch != cur.Epoch:
		return s.Timestamp >= cur.Timestamp
	case s.Epoch == "":
		// unstamped on both sides, the timestamp is all there is
		return s.Timestamp > cur.Timestamp
	default:
		return s.Seq > cur.Seq
	}
}

// Clone deep copies the slices so the copy can be handed to another owner.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Tokens = cloneSlice(s.Tokens)
	out.OverlayTiles = cloneSlice(s.OverlayTiles)
	if s.Drawings != nil {
		out.Drawings = make([]Stroke, len(s.Drawings))
		for i, st := range s.Drawings {
			out.Drawings[i] = st.Clone()
		}
	}
	if s.Ghost != nil {
		g := *s.Ghost
		out.Ghost = &g
	}
	return out
}

func (st Stroke) Clone() Stroke {
	st.Points = cloneSlice(st.Points)
	return st
}

// cloneSlice keeps nil and empty apart, they encode differently.
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
