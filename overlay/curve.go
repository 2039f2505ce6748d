package overlay

import (
	"math"

	"github.com/paulmach/orb"
)

// Curve is a quadratic Bezier route computed in screen space for one
// viewport state and sampled back into geographic coordinates.
type Curve struct {
	Polyline    orb.LineString // Segments+1 geographic samples, start to end
	Screen      []ScreenPoint  // the same samples in screen space
	Start       ScreenPoint
	End         ScreenPoint
	Control     ScreenPoint
	Mid         ScreenPoint // B(0.5)
	CurvaturePx float64     // distance of the control point from the chord midpoint
	AngleDeg    float64     // direction of the chord, atan2(dy, dx) in degrees

	normal ScreenPoint // unit left-hand perpendicular of the chord
}

// CurvatureMagnitude returns the bend in pixels for a chord of the given
// on-screen length. The proportional bend is clamped so short chords (high
// zoom) still curve visibly and long chords (low zoom) do not balloon.
func CurvatureMagnitude(length float64, params CurveParams) float64 {
	return math.Max(params.MinPx, math.Min(params.MaxPx, length*params.CurvatureFactor))
}

// BuildCurve constructs the screen-space curve between two geographic points.
// The control point sits on the left-hand perpendicular (-dy, dx) of the chord
// when bendSide is positive and on the right-hand side when it is negative.
func BuildCurve(p Projector, start, end orb.Point, params CurveParams, bendSide float64) Curve {
	br := NewBridge(p)
	a := br.Project(start)
	b := br.Project(end)

	d := b.Sub(a)
	length := d.safeLen()
	normal := d.perpLeft()

	curvature := CurvatureMagnitude(length, params)
	c := Midpoint(a, b).Add(normal.Scale(curvature * sideSign(bendSide)))

	segments := params.Segments
	if segments < 1 {
		segments = 1
	}

	screen := make([]ScreenPoint, segments+1)
	for i := 0; i <= segments; i++ {
		screen[i] = quadBezier(a, c, b, float64(i)/float64(segments))
	}

	return Curve{
		Polyline:    br.UnprojectAll(screen),
		Screen:      screen,
		Start:       a,
		End:         b,
		Control:     c,
		Mid:         quadBezier(a, c, b, 0.5),
		CurvaturePx: curvature,
		AngleDeg:    math.Atan2(d.Y, d.X) * 180 / math.Pi,
		normal:      normal,
	}
}

// quadBezier evaluates (1-t)²a + 2(1-t)t·c + t²b. At t=0 and t=1 the result
// is exactly a and b.
func quadBezier(a, c, b ScreenPoint, t float64) ScreenPoint {
	mt := 1 - t
	return ScreenPoint{
		X: mt*mt*a.X + 2*mt*t*c.X + t*t*b.X,
		Y: mt*mt*a.Y + 2*mt*t*c.Y + t*t*b.Y,
	}
}

// MarkerScreenPoint returns the curve midpoint pushed offsetPx pixels along the
// chord's perpendicular, toward the left-hand side for a positive side.
func (c Curve) MarkerScreenPoint(side, offsetPx float64) ScreenPoint {
	return c.Mid.Add(c.normal.Scale(offsetPx * sideSign(side)))
}

// MarkerPosition is MarkerScreenPoint converted to geographic coordinates.
func (c Curve) MarkerPosition(p Projector, side, offsetPx float64) orb.Point {
	return NewBridge(p).Unproject(c.MarkerScreenPoint(side, offsetPx))
}
