package overlay

import "github.com/paulmach/orb"

// AnchorCenter returns the screen position of an anchor's visual center.
// Pins are bottom-anchored, so the center is RadiusPx above the projected point.
func AnchorCenter(p Projector, a Anchor) ScreenPoint {
	s := NewBridge(p).Project(a.Position)
	return ScreenPoint{X: s.X, Y: s.Y - a.RadiusPx}
}

// Trim shortens the segment between two anchors so that it starts and ends
// on the edge of each anchor's circle instead of at its center.
//
// When both centers project to the same pixel the direction is undefined; the
// length is taken as 1 and the returned points are the centers themselves.
// Radii larger than half the distance between centers make the trim points
// cross. That result is deterministic and is not treated as an error.
func Trim(p Projector, a, b Anchor) (orb.Point, orb.Point) {
	br := NewBridge(p)
	ca := AnchorCenter(p, a)
	cb := AnchorCenter(p, b)

	d := cb.Sub(ca)
	u := d.Scale(1 / d.safeLen())

	ea := ca.Add(u.Scale(a.RadiusPx))
	eb := cb.Sub(u.Scale(b.RadiusPx))

	return br.Unproject(ea), br.Unproject(eb)
}
