// Package hex holds the pointy-top hex grid math shared by the GM store,
// the brush and the drag preview. Nothing in here keeps state.
package hex

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sqrt3 = math.Sqrt(3)

// Axial addresses a cell with two integers. The implicit third cube
// coordinate is -q-r.
type Axial struct {
	Q int `json:"q" msgpack:"q"`
	R int `json:"r" msgpack:"r"`
}

// Cube is the three-integer form of a cell, X+Y+Z is always 0.
type Cube struct {
	X, Y, Z int
}

func (a Axial) Cube() Cube {
	return Cube{X: a.Q, Y: -a.Q - a.R, Z: a.R}
}

func (c Cube) Axial() Axial {
	return Axial{Q: c.X, R: c.Z}
}

func (a Axial) Add(b Axial) Axial {
	return Axial{Q: a.Q + b.Q, R: a.R + b.R}
}

// Key is the "q,r" form used for tile maps.
func (a Axial) Key() string {
	return strconv.Itoa(a.Q) + "," + strconv.Itoa(a.R)
}

func (a Axial) String() string {
	return "(" + a.Key() + ")"
}

// ParseKey reverses Key.
func ParseKey(key string) (Axial, error) {
	qs, rs, ok := strings.Cut(strings.TrimSpace(key), ",")
	if !ok {
		return Axial{}, fmt.Errorf("hex key %q: missing comma", key)
	}
	q, err := strconv.Atoi(strings.TrimSpace(qs))
	if err != nil {
		return Axial{}, fmt.Errorf("hex key %q: %w", key, err)
	}
	r, err := strconv.Atoi(strings.TrimSpace(rs))
	if err != nil {
		return Axial{}, fmt.Errorf("hex key %q: %w", key, err)
	}
	return Axial{Q: q, R: r}, nil
}

// AxialToPixel returns the centre of a cell in world space.
func AxialToPixel(a Axial, radius float64) (x, y float64) {
	q, r := float64(a.Q), float64(a.R)
	x = radius * sqrt3 * (q + r/2)
	y = radius * 1.5 * r
	return x, y
}

// PixelToAxial returns the cell containing a world point. Non-finite input
// or a non-positive radius resolves to the origin.
func PixelToAxial(x, y, radius float64) Axial {
	if !finite(x) || !finite(y) || !finite(radius) || radius <= 0 {
		return Axial{}
	}
	q := (sqrt3/3*x - y/3) / radius
	r := (2.0 / 3 * y) / radius
	return CubeRound(q, -q-r, r).Axial()
}

// CubeRound rounds fractional cube coordinates to a valid cell. Each
// component is rounded on its own, then the one that moved the most is
// recomputed from the other two so the triple still sums to zero.
func CubeRound(x, y, z float64) Cube {
	rx, ry, rz := math.Round(x), math.Round(y), math.Round(z)
	dx, dy, dz := math.Abs(rx-x), math.Abs(ry-y), math.Abs(rz-z)

	switch {
	case dx > dy && dx > dz:
		rx = -ry - rz
	case dy > dz:
		ry = -rx - rz
	default:
		rz = -rx - ry
	}
	return Cube{X: int(rx), Y: int(ry), Z: int(rz)}
}

// Distance is the number of steps between two cells.
func Distance(a, b Axial) int {
	dq := b.Q - a.Q
	dr := b.R - a.R
	ds := -dq - dr
	return (abs(dq) + abs(dr) + abs(ds)) / 2
}

// nudge keeps interpolated samples off exact rounding ties.
const nudge = 1e-6

// Line walks from a to b inclusive. The result always has Distance(a,b)+1
// cells and consecutive cells are neighbours.
func Line(a, b Axial) []Axial {
	n := Distance(a, b)
	cells := make([]Axial, 0, n+1)
	if n == 0 {
		return append(cells, a)
	}

	ac, bc := a.Cube(), b.Cube()
	ax, ay, az := float64(ac.X)+nudge, float64(ac.Y)+nudge, float64(ac.Z)-2*nudge
	bx, by, bz := float64(bc.X)+nudge, float64(bc.Y)+nudge, float64(bc.Z)-2*nudge

	step := 1.0 / float64(n)
	for i := 0; i <= n; i++ {
		t := step * float64(i)
		cells = append(cells, CubeRound(lerp(ax, bx, t), lerp(ay, by, t), lerp(az, bz, t)).Axial())
	}
	return cells
}

var directions = [6]Axial{
	{Q: 1, R: 0}, {Q: 1, R: -1}, {Q: 0, R: -1},
	{Q: -1, R: 0}, {Q: -1, R: 1}, {Q: 0, R: 1},
}

// Direction returns one of the six unit steps, i is taken mod 6.
func Direction(i int) Axial {
	i %= 6
	if i < 0 {
		i += 6
	}
	return directions[i]
}

func Neighbors(a Axial) []Axial {
	out := make([]Axial, 0, 6)
	for _, d := range directions {
		out = append(out, a.Add(d))
	}
	return out
}

// Range lists every cell within n steps of center, n < 0 yields nothing.
func Range(center Axial, n int) []Axial {
	if n < 0 {
		return nil
	}
	out := make([]Axial, 0, 3*n*(n+1)+1)
	for dq := -n; dq <= n; dq++ {
		lo := max(-n, -dq-n)
		hi := min(n, -dq+n)
		for dr := lo; dr <= hi; dr++ {
			out = append(out, Axial{Q: center.Q + dq, R: center.R + dr})
		}
	}
	return out
}

// Ring lists the cells exactly n steps away, walking counter-clockwise.
func Ring(center Axial, n int) []Axial {
	if n <= 0 {
		return []Axial{center}
	}
	out := make([]Axial, 0, 6*n)
	cur := center.Add(Axial{Q: directions[4].Q * n, R: directions[4].R * n})
	for side := 0; side < 6; side++ {
		for step := 0; step < n; step++ {
			out = append(out, cur)
			cur = cur.Add(directions[side])
		}
	}
	return out
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
