package overlay

import (
	"errors"
	"image"

	"github.com/paulmach/orb/geojson"
)

// Event names a map view lifecycle notification.
type Event string

const (
	EventReady  Event = "ready"
	EventIdle   Event = "idle"
	EventMove   Event = "move"
	EventZoom   Event = "zoom"
	EventResize Event = "resize"
)

// Handler is invoked synchronously by the map view when an event fires.
type Handler func(ev Event)

// Image is an icon registered with the map view. SVG icons keep their source
// bytes; raster icons are decoded into Bitmap.
type Image struct {
	ID     string
	Format string // "svg", "png", "jpeg", "webp"
	Data   []byte
	Bitmap image.Image
	Width  int
	Height int
}

// ImageOptions mirrors the options accepted when registering an image.
type ImageOptions struct {
	PixelRatio float64
}

// Source declares a data source. Only "geojson" sources are supported.
type Source struct {
	Type string
	Data *geojson.FeatureCollection
}

// DataSource is the writable side of a declared GeoJSON source. SetData
// replaces the whole collection.
type DataSource interface {
	SetData(fc *geojson.FeatureCollection)
}

// MapView is the map collaborator the overlay draws onto.
type MapView interface {
	Projector
	HasImage(id string) bool
	AddImage(id string, img *Image, opts ImageOptions) error
	AddSource(id string, src Source) error
	GetSource(id string) (DataSource, bool)
	AddLayer(spec LayerSpec) error
	On(ev Event, h Handler)
	Once(ev Event, h Handler)
}

var (
	ErrSourceExists     = errors.New("source already exists")
	ErrUnknownSource    = errors.New("unknown source")
	ErrLayerExists      = errors.New("layer already exists")
	ErrImageExists      = errors.New("image already exists")
	ErrUnsupportedType  = errors.New("unsupported source type")
	ErrInvalidViewport  = errors.New("invalid viewport")
	ErrDuplicateRoute   = errors.New("duplicate route id")
	ErrEmptyRouteID     = errors.New("empty route id")
	ErrAlreadyAttached  = errors.New("registry already attached")
	ErrUnsupportedImage = errors.New("unsupported image format")
)
