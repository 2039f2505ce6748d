package overlay

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Pin radii in pixels. The rendered circles are 30px and 18px wide.
const (
	PrimaryPinRadiusPx = 15.0
	SmallPinRadiusPx   = 9.0
)

// Waypoint is a city pin. Pins are drawn bottom-anchored at Position.
type Waypoint struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	Position orb.Point `yaml:"position" json:"position"` // [lng, lat]
	Nights   int       `yaml:"nights,omitempty" json:"nights,omitempty"`
	Small    bool      `yaml:"small,omitempty" json:"small,omitempty"`
	Start    bool      `yaml:"start,omitempty" json:"start,omitempty"`
}

// RadiusPx is the radius the pin is rendered with.
func (w Waypoint) RadiusPx() float64 {
	if w.Small {
		return SmallPinRadiusPx
	}
	return PrimaryPinRadiusPx
}

// Anchor returns the route anchor for this pin. Routes built from waypoints
// always trim against the radius the pin is actually drawn with.
func (w Waypoint) Anchor() Anchor {
	return Anchor{Position: w.Position, RadiusPx: w.RadiusPx()}
}

// Label is the text shown inside the pin. Small pins and pins without a stay
// have no label.
func (w Waypoint) Label() string {
	if w.Small || w.Nights <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", w.Nights)
}

// Tooltip is the popup text for the pin.
func (w Waypoint) Tooltip() string {
	if w.Small || w.Nights <= 0 {
		return w.Name
	}
	if w.Nights == 1 {
		return fmt.Sprintf("%s\n1 Night", w.Name)
	}
	return fmt.Sprintf("%s\n%d Nights", w.Name, w.Nights)
}

// PinFeatures returns one point feature per waypoint, in order.
func PinFeatures(waypoints []Waypoint) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, w := range waypoints {
		f := geojson.NewFeature(w.Position)
		f.ID = w.ID
		f.Properties = geojson.Properties{
			PropKind:     KindPin,
			PropName:     w.Name,
			PropRadiusPx: w.RadiusPx(),
			PropLabel:    w.Label(),
			"small":      w.Small,
			"start":      w.Start,
		}
		if w.Nights > 0 {
			f.Properties["nights"] = w.Nights
		}
		fc.Append(f)
	}
	return fc
}
