package world

import "strings"

type Terrain string

const (
	TerrainNone   Terrain = ""
	TerrainGrass  Terrain = "grass"
	TerrainWater  Terrain = "water"
	TerrainForest Terrain = "forest"
	TerrainRock   Terrain = "rock"
	TerrainHills  Terrain = "hills"
	TerrainSand   Terrain = "sand"
	TerrainLava   Terrain = "lava"
	TerrainRoad   Terrain = "road"
	TerrainWall   Terrain = "wall"
)

// ParseTerrain accepts the names above in any case. An empty name is
// valid: the tile is then a plain color.
func ParseTerrain(name string) (Terrain, bool) {
	t := Terrain(strings.ToLower(strings.TrimSpace(name)))
	switch t {
	case TerrainNone, TerrainGrass, TerrainWater, TerrainForest, TerrainRock,
		TerrainHills, TerrainSand, TerrainLava, TerrainRoad, TerrainWall:
		return t, true
	default:
		return TerrainNone, false
	}
}

// Color is the default fill for a tile of this terrain.
func (t Terrain) Color() string {
	switch t {
	case TerrainGrass:
		return "#5a8f3c"
	case TerrainWater:
		return "#3a6ea5"
	case TerrainForest:
		return "#2f5d2a"
	case TerrainRock:
		return "#7a7a7a"
	case TerrainHills:
		return "#9c8a5a"
	case TerrainSand:
		return "#d8c48a"
	case TerrainLava:
		return "#c8431e"
	case TerrainRoad:
		return "#a08060"
	case TerrainWall:
		return "#3b3b3b"
	default:
		return ""
	}
}

// Difficult reports terrain that costs extra to cross. It is only a hint
// for the GM's display; movement clamping counts plain steps.
func (t Terrain) Difficult() bool {
	switch t {
	case TerrainWater, TerrainForest, TerrainHills, TerrainSand:
		return true
	default:
		return false
	}
}
