package overlay

import (
	"math"

	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// BuildRouteFeatures trims and curves one route for the current viewport and
// returns exactly two features: the line first, then the marker. Both carry
// the route ID and a kind discriminator for layer filters.
func BuildRouteFeatures(p Projector, def RouteDefinition) []*geojson.Feature {
	start, end := Trim(p, def.From, def.To)
	curve := BuildCurve(p, start, end, def.Curve, def.BendSide)

	line := geojson.NewFeature(curve.Polyline)
	line.ID = def.ID + ":" + KindLine
	line.Properties = routeProperties(def, KindLine)
	line.Properties[PropDistanceKm] = roundTo(geo.Distance(def.From.Position, def.To.Position)/1000, 1)

	marker := geojson.NewFeature(curve.MarkerPosition(p, def.MarkerSide, def.MarkerOffsetPx))
	marker.ID = def.ID + ":" + KindMarker
	marker.Properties = routeProperties(def, KindMarker)
	marker.Properties[PropAngle] = curve.AngleDeg

	return []*geojson.Feature{line, marker}
}

func routeProperties(def RouteDefinition, kind string) geojson.Properties {
	return geojson.Properties{
		PropKind:       kind,
		PropRouteID:    def.ID,
		PropMarkerKind: string(def.MarkerKind),
		PropStyle:      string(def.Style),
	}
}

// roundTo rounds v to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
