package overlay

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

// identityProjector treats [lng, lat] as screen pixels, which makes expected
// geometry easy to write down by hand.
type identityProjector struct{}

func (identityProjector) Project(p orb.Point) ScreenPoint   { return ScreenPoint{X: p[0], Y: p[1]} }
func (identityProjector) Unproject(s ScreenPoint) orb.Point { return orb.Point{s.X, s.Y} }

// scenarioParams are the curve settings used in hand-computed examples.
var scenarioParams = CurveParams{CurvatureFactor: 0.2, MinPx: 10, MaxPx: 50, Segments: 4}

// scenarioAnchors have centers at (0,0) and (100,0) under the identity
// projector; pins are bottom-anchored so positions sit one radius lower.
func scenarioAnchors() (Anchor, Anchor) {
	return Anchor{Position: orb.Point{0, 10}, RadiusPx: 10},
		Anchor{Position: orb.Point{100, 10}, RadiusPx: 10}
}

func near(a, b, delta float64) bool {
	return math.Abs(a-b) <= delta
}

func assertPointNear(t *testing.T, want, got orb.Point, delta float64) {
	t.Helper()
	if !near(want[0], got[0], delta) || !near(want[1], got[1], delta) {
		t.Errorf("point = %v, want %v (±%g)", got, want, delta)
	}
}

func assertFinite(t *testing.T, pts ...orb.Point) {
	t.Helper()
	for _, p := range pts {
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("non-finite coordinate in %v", p)
			}
		}
	}
}

func testViewport(t *testing.T) *Viewport {
	t.Helper()
	v, err := NewViewport(ViewportState{Center: orb.Point{-85, 12}, Zoom: 5, Width: 800, Height: 600})
	if err != nil {
		t.Fatalf("NewViewport: %v", err)
	}
	return v
}

func tripDefinitions(t *testing.T) []RouteDefinition {
	t.Helper()
	defs, err := DefaultConfig().RouteDefinitions()
	if err != nil {
		t.Fatalf("RouteDefinitions: %v", err)
	}
	return defs
}

func testRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	r, err := NewRegistry(tripDefinitions(t), opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}
