package hex

import (
	"math"
	"testing"
)

func TestClampScenario(t *testing.T) {
	cell, steps := Clamp(Axial{}, Axial{Q: 5}, 3)
	if cell != (Axial{Q: 3}) || steps != 3 {
		t.Fatalf("Clamp((0,0),(5,0),3) = %v, %d; want (3,0), 3", cell, steps)
	}
}

func TestClampZeroAndNegativeBudget(t *testing.T) {
	start := Axial{Q: 2, R: -1}
	for _, budget := range []int{0, -1, -50} {
		cell, steps := Clamp(start, Axial{Q: 9, R: 4}, budget)
		if cell != start || steps != 0 {
			t.Fatalf("budget %d: Clamp = %v, %d; want start, 0", budget, cell, steps)
		}
	}
}

func TestClampDegenerateTarget(t *testing.T) {
	start := Axial{Q: 1, R: 1}
	cell, steps := Clamp(start, start, 4)
	if cell != start || steps != 0 {
		t.Fatalf("Clamp to self = %v, %d", cell, steps)
	}
}

func TestClampProperties(t *testing.T) {
	starts := []Axial{{}, {Q: 4, R: -2}, {Q: -3, R: 5}}
	targets := Range(Axial{}, 8)
	for _, start := range starts {
		for _, off := range targets {
			target := start.Add(off)
			for budget := -2; budget <= 9; budget++ {
				cell, steps := Clamp(start, target, budget)
				limit := max(0, budget)
				if d := Distance(start, cell); d > limit {
					t.Fatalf("Clamp(%v, %v, %d) = %v is %d steps away", start, target, budget, cell, d)
				}
				if Distance(start, cell) != steps {
					t.Fatalf("Clamp(%v, %v, %d) reported %d steps for %v", start, target, budget, steps, cell)
				}
				if Distance(start, target) <= budget && cell != target {
					t.Fatalf("reachable target %v clamped to %v with budget %d", target, cell, budget)
				}
				if budget > 0 && Distance(start, target) > budget {
					if steps != budget {
						t.Fatalf("unreachable target used %d of %d steps", steps, budget)
					}
					// stays on the walk towards the target
					if Line(start, target)[budget] != cell {
						t.Fatalf("clamped cell %v is not on the line", cell)
					}
				}
			}
		}
	}
}

func TestClampPointInsideReach(t *testing.T) {
	start := Axial{Q: 1, R: 1}
	cx, cy := AxialToPixel(start, 10)
	x, y := ClampPoint(start, cx+12, cy-4, 2, 10)
	if x != cx+12 || y != cy-4 {
		t.Fatalf("point inside reach moved to (%v, %v)", x, y)
	}
}

func TestClampPointOutsideReach(t *testing.T) {
	start := Axial{}
	radius := 16.0
	budget := 3
	limit := Reach(budget, radius)
	for deg := 0; deg < 360; deg += 7 {
		a := float64(deg) * math.Pi / 180
		x, y := ClampPoint(start, 1000*math.Cos(a), 1000*math.Sin(a), budget, radius)
		if d := math.Hypot(x, y); math.Abs(d-limit) > 1e-9 {
			t.Fatalf("angle %d: clamped distance %v, want %v", deg, d, limit)
		}
		// direction preserved
		if got := math.Atan2(y, x); math.Abs(math.Remainder(got-a, 2*math.Pi)) > 1e-9 {
			t.Fatalf("angle %d: direction changed to %v", deg, got)
		}
	}
}

func TestClampPointDegenerate(t *testing.T) {
	start := Axial{Q: 2, R: 0}
	cx, cy := AxialToPixel(start, 10)
	if x, y := ClampPoint(start, math.NaN(), 4, 3, 10); x != cx || y != cy {
		t.Fatalf("NaN point should collapse to start, got (%v, %v)", x, y)
	}
	if x, y := ClampPoint(start, 400, 400, 0, 10); x != cx || y != cy {
		t.Fatalf("zero budget should pin to start, got (%v, %v)", x, y)
	}
}

func TestCommitAgreesWithClampOnAxes(t *testing.T) {
	radius := 24.0
	starts := []Axial{{}, {Q: -2, R: 3}}
	for _, start := range starts {
		cx, cy := AxialToPixel(start, radius)
		for budget := 1; budget <= 8; budget++ {
			limit := Reach(budget, radius)
			for d := 0; d < 6; d++ {
				dir := Direction(d)
				ux, uy := AxialToPixel(dir, radius)
				norm := math.Hypot(ux, uy)
				edgeX, edgeY := cx+ux/norm*limit, cy+uy/norm*limit

				far := start.Add(Axial{Q: dir.Q * (budget + 6), R: dir.R * (budget + 6)})
				want, wantSteps := Clamp(start, far, budget)

				got, steps := Commit(start, edgeX, edgeY, budget, radius)
				if got != want || steps != wantSteps {
					t.Fatalf("start %v budget %d dir %d: edge commit %v/%d, discrete clamp %v/%d", start, budget, d, got, steps, want, wantSteps)
				}

				// dragging way past the edge lands on the same cell
				fx, fy := AxialToPixel(far, radius)
				if got, _ := Commit(start, fx, fy, budget, radius); got != want {
					t.Fatalf("start %v budget %d dir %d: far commit %v, want %v", start, budget, d, got, want)
				}
			}
		}
	}
}

func TestCommitReachableCellCentres(t *testing.T) {
	radius := 18.0
	start := Axial{Q: 1, R: -1}
	for budget := 0; budget <= 5; budget++ {
		for _, cell := range Range(start, budget) {
			x, y := AxialToPixel(cell, radius)
			got, steps := Commit(start, x, y, budget, radius)
			if got != cell || steps != Distance(start, cell) {
				t.Fatalf("budget %d: releasing on %v committed %v/%d", budget, cell, got, steps)
			}
		}
	}
}

func TestCommitNeverExceedsBudget(t *testing.T) {
	radius := 12.0
	start := Axial{}
	for budget := 0; budget <= 10; budget++ {
		for deg := 0; deg < 360; deg += 3 {
			a := float64(deg) * math.Pi / 180
			for _, dist := range []float64{5, 50, 500} {
				cell, steps := Commit(start, dist*math.Cos(a), dist*math.Sin(a), budget, radius)
				if Distance(start, cell) > budget || steps > budget {
					t.Fatalf("budget %d angle %d dist %v: committed %v (%d steps)", budget, deg, dist, cell, steps)
				}
			}
		}
	}
}

func TestCommitBadRadius(t *testing.T) {
	start := Axial{Q: 3, R: 3}
	if got, steps := Commit(start, 10, 10, 4, 0); got != start || steps != 0 {
		t.Fatalf("zero radius commit = %v, %d", got, steps)
	}
}
