package overlay

import (
	"fmt"
	"image/color"
)

// LayerSpec is a maplibre-style layer declaration.
type LayerSpec struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"` // "line" or "symbol"
	Source  string                 `json:"source"`
	Filter  []interface{}          `json:"filter,omitempty"`
	MinZoom float64                `json:"minzoom,omitempty"`
	Layout  map[string]interface{} `json:"layout,omitempty"`
	Paint   map[string]interface{} `json:"paint,omitempty"`
}

// LineStyle is the paint for one route style.
type LineStyle struct {
	Color   string
	Width   float64
	Opacity float64
	Dashes  []float64 // in line widths, as maplibre's line-dasharray
}

// MarkerStyle is the layout for one marker kind.
type MarkerStyle struct {
	IconSize       float64
	MinZoom        float64
	RotationOffset float64 // added to the feature's angle
}

var lineStyles = map[RouteStyle]LineStyle{
	StyleDrive:  {Color: "#2f9e6f", Width: 3, Opacity: 0.85},
	StyleFlight: {Color: "#2f9e6f", Width: 2.5, Opacity: 0.75, Dashes: []float64{2, 2}},
}

var markerStyles = map[MarkerKind]MarkerStyle{
	// The car glyph points left, hence the half turn.
	MarkerCar:   {IconSize: 3.5, MinZoom: 8, RotationOffset: 180},
	MarkerPlane: {IconSize: 2.2},
}

// LineStyleFor returns the paint for a route style, falling back to drive.
func LineStyleFor(style RouteStyle) LineStyle {
	if s, ok := lineStyles[style]; ok {
		return s
	}
	return lineStyles[StyleDrive]
}

// MarkerStyleFor returns the layout for a marker kind.
func MarkerStyleFor(kind MarkerKind) MarkerStyle {
	if s, ok := markerStyles[kind]; ok {
		return s
	}
	return MarkerStyle{IconSize: 1}
}

// IconID is the image identifier a marker kind's layer draws.
func IconID(kind MarkerKind) string {
	return string(kind) + "-icon"
}

// LineLayerID and MarkerLayerID name the layers declared for a style or kind.
func LineLayerID(style RouteStyle) string { return fmt.Sprintf("%s-route-line", style) }
func MarkerLayerID(kind MarkerKind) string { return fmt.Sprintf("route-marker-%s", kind) }

// LineLayer declares the line layer for one route style.
func LineLayer(sourceID string, style RouteStyle) LayerSpec {
	ls := LineStyleFor(style)
	paint := map[string]interface{}{
		"line-color":   ls.Color,
		"line-width":   ls.Width,
		"line-opacity": ls.Opacity,
	}
	if len(ls.Dashes) > 0 {
		paint["line-dasharray"] = ls.Dashes
	}
	return LayerSpec{
		ID:     LineLayerID(style),
		Type:   "line",
		Source: sourceID,
		Filter: []interface{}{"all",
			[]interface{}{"==", []interface{}{"get", PropKind}, KindLine},
			[]interface{}{"==", []interface{}{"get", PropStyle}, string(style)},
		},
		Layout: map[string]interface{}{"line-join": "round", "line-cap": "round"},
		Paint:  paint,
	}
}

// MarkerLayer declares the symbol layer for one marker kind.
func MarkerLayer(sourceID string, kind MarkerKind) LayerSpec {
	ms := MarkerStyleFor(kind)
	var rotate interface{} = []interface{}{"get", PropAngle}
	if ms.RotationOffset != 0 {
		rotate = []interface{}{"+", []interface{}{"get", PropAngle}, ms.RotationOffset}
	}
	return LayerSpec{
		ID:     MarkerLayerID(kind),
		Type:   "symbol",
		Source: sourceID,
		Filter: []interface{}{"all",
			[]interface{}{"==", []interface{}{"get", PropKind}, KindMarker},
			[]interface{}{"==", []interface{}{"get", PropMarkerKind}, string(kind)},
		},
		MinZoom: ms.MinZoom,
		Layout: map[string]interface{}{
			"icon-image":              IconID(kind),
			"icon-size":               ms.IconSize,
			"icon-rotation-alignment": "map",
			"icon-keep-upright":       false,
			"icon-allow-overlap":      true,
			"icon-ignore-placement":   true,
			"icon-rotate":             rotate,
		},
	}
}

// ParseHexColor parses "#rrggbb" into an opaque color.
func ParseHexColor(s string) (color.RGBA, error) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}
