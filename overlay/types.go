package overlay

import "github.com/paulmach/orb"

// ScreenPoint is a pixel position in the current viewport projection.
// X grows to the right, Y grows downward. A ScreenPoint is only meaningful
// for the viewport state it was computed under.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Anchor is a waypoint position paired with the pixel radius of the pin the
// Pin Layer renders there. Pins are bottom-anchored, so the visual center of
// the circle sits RadiusPx above the projected position.
type Anchor struct {
	Position orb.Point `json:"position"`
	RadiusPx float64   `json:"radiusPx"`
}

// CurveParams controls how far a route bends and how finely it is sampled.
type CurveParams struct {
	CurvatureFactor float64 `yaml:"curvatureFactor" json:"curvatureFactor"` // fraction of on-screen length used as bend
	MinPx           float64 `yaml:"minPx" json:"minPx"`
	MaxPx           float64 `yaml:"maxPx" json:"maxPx"`
	Segments        int     `yaml:"segments" json:"segments"` // polyline has Segments+1 points
}

// MarkerKind selects the glyph drawn at a route's midpoint.
type MarkerKind string

const (
	MarkerCar   MarkerKind = "car"
	MarkerPlane MarkerKind = "plane"
)

// RouteStyle selects the line styling of a route.
type RouteStyle string

const (
	StyleDrive  RouteStyle = "drive"
	StyleFlight RouteStyle = "flight"
)

// Feature kinds written to the "kind" property; layer filters match on these.
const (
	KindLine   = "line"
	KindMarker = "marker"
	KindPin    = "pin"
)

// Property keys shared by the feature builder, layer specs and renderer.
const (
	PropKind       = "kind"
	PropRouteID    = "routeId"
	PropAngle      = "angle"
	PropMarkerKind = "markerKind"
	PropStyle      = "style"
	PropDistanceKm = "distanceKm"
	PropName       = "name"
	PropRadiusPx   = "radiusPx"
	PropLabel      = "label"
)

// RouteDefinition declares one route. Definitions are built once at startup
// and never mutated.
type RouteDefinition struct {
	ID             string
	From           Anchor
	To             Anchor
	Curve          CurveParams
	BendSide       float64 // sign of the bend; 0 is treated as +1
	MarkerSide     float64 // sign of the marker offset; 0 is treated as +1
	MarkerOffsetPx float64
	MarkerKind     MarkerKind
	Style          RouteStyle
}

// DefaultCurveParams returns the tuned curve settings for a marker kind.
func DefaultCurveParams(kind MarkerKind) CurveParams {
	if kind == MarkerPlane {
		return CurveParams{CurvatureFactor: 0.14, MinPx: 14, MaxPx: 45, Segments: 90}
	}
	return CurveParams{CurvatureFactor: 0.18, MinPx: 18, MaxPx: 55, Segments: 90}
}

// DefaultMarkerOffsetPx returns how far a marker of the given kind sits off its line.
func DefaultMarkerOffsetPx(kind MarkerKind) float64 {
	if kind == MarkerPlane {
		return 14
	}
	return 0
}

// DefaultStyle returns the line style conventionally paired with a marker kind.
func DefaultStyle(kind MarkerKind) RouteStyle {
	if kind == MarkerPlane {
		return StyleFlight
	}
	return StyleDrive
}

// sideSign maps a configured side to -1 or +1.
func sideSign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
