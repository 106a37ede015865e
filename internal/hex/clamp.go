package hex

import "math"

// Clamp returns the farthest cell on the straight line from start towards
// target that can be reached with budget steps, along with the steps used.
// Negative budgets count as zero.
func Clamp(start, target Axial, budget int) (Axial, int) {
	if budget <= 0 {
		return start, 0
	}
	dist := Distance(start, target)
	if dist <= budget {
		return target, dist
	}
	return Line(start, target)[budget], budget
}

// Reach is the world-space radius a budget covers: budget steps along one
// axis, centre to centre.
func Reach(budget int, radius float64) float64 {
	if budget <= 0 || !finite(radius) || radius <= 0 {
		return 0
	}
	return float64(budget) * sqrt3 * radius
}

// ClampPoint is the unsnapped variant used while dragging. The point keeps
// its direction from the start centre but may not leave the Reach circle.
func ClampPoint(start Axial, x, y float64, budget int, radius float64) (float64, float64) {
	cx, cy := AxialToPixel(start, radius)
	if !finite(x) || !finite(y) {
		return cx, cy
	}
	limit := Reach(budget, radius)
	if limit == 0 {
		return cx, cy
	}
	dx, dy := x-cx, y-cy
	d := math.Hypot(dx, dy)
	if d <= limit {
		return x, y
	}
	k := limit / d
	return cx + dx*k, cy + dy*k
}

// Commit resolves a released drag point to a cell. The ghost drawn during
// the drag and the drop both go through here, so what the GM sees under the
// pointer is what lands.
func Commit(start Axial, x, y float64, budget int, radius float64) (Axial, int) {
	px, py := ClampPoint(start, x, y, budget, radius)
	if !finite(radius) || radius <= 0 {
		return start, 0
	}
	return Clamp(start, PixelToAxial(px, py, radius), budget)
}
