package world

import (
	"math/rand"
	"sort"

	"github.com/Scrimzay/hexboard/internal/hex"
	"github.com/Scrimzay/hexboard/internal/snapshot"
)

// PresetSize is the radius, in cells, of the area presets paint.
const PresetSize = 12

// Presets lists the map names InitMap knows.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var presets = map[string]func(tiles map[string]snapshot.OverlayTile, rng *rand.Rand){
	"blank":  func(map[string]snapshot.OverlayTile, *rand.Rand) {},
	"river":  presetRiver,
	"forest": presetForest,
	"arena":  presetArena,
}

// InitMap replaces the published overlay with a preset. Unknown names fall
// back to blank. seed makes forests reproducible; zero picks one.
func (w *World) InitMap(name string, seed int64) {
	build, ok := presets[name]
	if !ok {
		w.log.Printf("unknown map %q, falling back to blank", name)
		build = presets["blank"]
	}
	if seed == 0 {
		seed = rand.Int63()
	}

	tiles := make(map[string]snapshot.OverlayTile)
	build(tiles, rand.New(rand.NewSource(seed)))

	w.Mu.Lock()
	w.tiles = tiles
	w.draft = make(map[string]snapshot.OverlayTile)
	w.Mu.Unlock()

	w.log.Printf("map %q loaded, %d tiles", name, len(tiles))
	w.emit(ChangeOverlay)
}

func put(tiles map[string]snapshot.OverlayTile, c hex.Axial, t Terrain) {
	tiles[c.Key()] = snapshot.OverlayTile{Q: c.Q, R: c.R, Terrain: string(t), Color: t.Color()}
}

// presetRiver runs a river corner to corner with a road crossing it.
func presetRiver(tiles map[string]snapshot.OverlayTile, _ *rand.Rand) {
	for _, c := range hex.Line(hex.Axial{Q: -PresetSize, R: 0}, hex.Axial{Q: PresetSize, R: 0}) {
		put(tiles, c, TerrainWater)
		for _, n := range hex.Neighbors(c) {
			if n.R == 1 {
				put(tiles, n, TerrainSand)
			}
		}
	}
	for _, c := range hex.Line(hex.Axial{Q: 0, R: -PresetSize}, hex.Axial{Q: 0, R: PresetSize}) {
		put(tiles, c, TerrainRoad)
	}
}

// presetForest scatters clusters of trees, with some rocks, around the
// middle and keeps the centre clear.
func presetForest(tiles map[string]snapshot.OverlayTile, rng *rand.Rand) {
	for i := 0; i < 8; i++ {
		center := hex.Axial{Q: rng.Intn(2*PresetSize+1) - PresetSize, R: rng.Intn(2*PresetSize+1) - PresetSize}
		if hex.Distance(hex.Axial{}, center) > PresetSize {
			i--
			continue
		}
		size := 1 + rng.Intn(3)
		for _, c := range hex.Range(center, size) {
			if rng.Intn(4) == 0 {
				put(tiles, c, TerrainRock)
			} else {
				put(tiles, c, TerrainForest)
			}
		}
	}
	for _, c := range hex.Range(hex.Axial{}, 2) {
		delete(tiles, c.Key())
	}
}

// presetArena is a walled ring with a lava pit in the middle.
func presetArena(tiles map[string]snapshot.OverlayTile, _ *rand.Rand) {
	for _, c := range hex.Ring(hex.Axial{}, PresetSize/2) {
		put(tiles, c, TerrainWall)
	}
	for _, c := range hex.Range(hex.Axial{}, 1) {
		put(tiles, c, TerrainLava)
	}
}
