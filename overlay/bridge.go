package overlay

import (
	"math"

	"github.com/paulmach/orb"
)

// Projector converts between geographic and screen coordinates for the
// current viewport. Project and Unproject are expected to be approximate
// inverses while the viewport is unchanged.
type Projector interface {
	Project(p orb.Point) ScreenPoint
	Unproject(s ScreenPoint) orb.Point
}

// Bridge wraps a Projector supplied by the map view.
type Bridge struct {
	p Projector
}

// NewBridge returns a Bridge over p. A nil projector means the map view was
// never initialized, which is a caller bug.
func NewBridge(p Projector) Bridge {
	if p == nil {
		panic("overlay: projector is nil (map view not initialized)")
	}
	return Bridge{p: p}
}

// Project converts a geographic point to screen space.
func (b Bridge) Project(p orb.Point) ScreenPoint {
	return b.p.Project(p)
}

// Unproject converts a screen point back to geographic coordinates.
func (b Bridge) Unproject(s ScreenPoint) orb.Point {
	return b.p.Unproject(s)
}

// UnprojectAll converts a screen-space polyline to a geographic LineString.
func (b Bridge) UnprojectAll(pts []ScreenPoint) orb.LineString {
	ls := make(orb.LineString, len(pts))
	for i, s := range pts {
		ls[i] = b.p.Unproject(s)
	}
	return ls
}

// Add returns s + o.
func (s ScreenPoint) Add(o ScreenPoint) ScreenPoint {
	return ScreenPoint{X: s.X + o.X, Y: s.Y + o.Y}
}

// Sub returns s - o.
func (s ScreenPoint) Sub(o ScreenPoint) ScreenPoint {
	return ScreenPoint{X: s.X - o.X, Y: s.Y - o.Y}
}

// Scale returns s * k.
func (s ScreenPoint) Scale(k float64) ScreenPoint {
	return ScreenPoint{X: s.X * k, Y: s.Y * k}
}

// Len returns the Euclidean length of s treated as a vector.
func (s ScreenPoint) Len() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y)
}

// safeLen returns the length of s, or 1 when s is the zero vector so callers
// can divide by it.
func (s ScreenPoint) safeLen() float64 {
	if l := s.Len(); l != 0 {
		return l
	}
	return 1
}

// perpLeft returns the unit left-hand perpendicular (-dy, dx) of s.
// The zero vector yields the zero vector.
func (s ScreenPoint) perpLeft() ScreenPoint {
	l := s.safeLen()
	return ScreenPoint{X: -s.Y / l, Y: s.X / l}
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b ScreenPoint) ScreenPoint {
	return ScreenPoint{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}
