package overlay

import (
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

const (
	// TileSize is the pixel width of one world tile at zoom 0, as in maplibre.
	TileSize = 512

	MinZoom = 0.0
	MaxZoom = 22.0

	earthRadius = 6378137.0 // meters, spherical Mercator
)

// ViewportState is the camera of a Viewport.
type ViewportState struct {
	Center orb.Point `json:"center" yaml:"center"` // [lng, lat]
	Zoom   float64   `json:"zoom" yaml:"zoom"`
	Width  int       `json:"width" yaml:"width"`
	Height int       `json:"height" yaml:"height"`
}

// Validate checks the state can be projected.
func (s ViewportState) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d must be positive", ErrInvalidViewport, s.Width, s.Height)
	}
	if math.IsNaN(s.Center[0]) || math.IsNaN(s.Center[1]) {
		return fmt.Errorf("%w: center %v is not a number", ErrInvalidViewport, s.Center)
	}
	if s.Center[1] < -85.051129 || s.Center[1] > 85.051129 || s.Center[0] < -180 || s.Center[0] > 180 {
		return fmt.Errorf("%w: center %v out of range", ErrInvalidViewport, s.Center)
	}
	if math.IsNaN(s.Zoom) {
		return fmt.Errorf("%w: zoom is NaN", ErrInvalidViewport)
	}
	return nil
}

// wrapLongitude folds lng into [-180, 180].
func wrapLongitude(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	return math.Mod(math.Mod(lng+180, 360)+360, 360) - 180
}

// ViewportCommand is a partial camera update received over HTTP or MQTT.
// Nil fields keep their current value.
type ViewportCommand struct {
	Center *orb.Point  `json:"center,omitempty"`
	Zoom   *float64    `json:"zoom,omitempty"`
	Width  *int        `json:"width,omitempty"`
	Height *int        `json:"height,omitempty"`
	PanBy  *[2]float64 `json:"panBy,omitempty"` // pixels, applied after center/zoom
}

// GeoJSONSource holds the current contents of a declared source. SetData
// swaps the whole collection, so readers never see a partial update.
type GeoJSONSource struct {
	mu      sync.RWMutex
	data    *geojson.FeatureCollection
	version uint64
}

// SetData replaces the source contents.
func (s *GeoJSONSource) SetData(fc *geojson.FeatureCollection) {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = fc
	s.version++
}

// Data returns the current collection. Callers must not modify it.
func (s *GeoJSONSource) Data() *geojson.FeatureCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Version counts SetData calls.
func (s *GeoJSONSource) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

type binding struct {
	h    Handler
	once bool
}

type registeredImage struct {
	img  *Image
	opts ImageOptions
}

// Viewport is a headless Web Mercator map view. Camera changes and event
// dispatch are serialized, so a handler always runs to completion before the
// next event is delivered.
type Viewport struct {
	dispatchMu sync.Mutex

	mu       sync.RWMutex
	state    ViewportState
	loaded   bool
	sources  map[string]*GeoJSONSource
	layers   []LayerSpec
	layerIDs map[string]bool
	images   map[string]registeredImage
	handlers map[Event][]binding
}

// NewViewport creates a viewport with the given camera.
func NewViewport(state ViewportState) (*Viewport, error) {
	state.Zoom = clampZoom(state.Zoom)
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &Viewport{
		state:    state,
		sources:  make(map[string]*GeoJSONSource),
		layerIDs: make(map[string]bool),
		images:   make(map[string]registeredImage),
		handlers: make(map[Event][]binding),
	}, nil
}

func clampZoom(z float64) float64 {
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

// State returns the current camera.
func (v *Viewport) State() ViewportState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// worldPixels converts a geographic point to absolute world pixels at the
// given zoom (origin at the Mercator origin, y down).
func worldPixels(p orb.Point, zoom float64) ScreenPoint {
	m := project.WGS84.ToMercator(p)
	scale := TileSize * math.Pow(2, zoom) / (2 * math.Pi * earthRadius)
	return ScreenPoint{X: m[0] * scale, Y: -m[1] * scale}
}

func projectWith(s ViewportState, p orb.Point) ScreenPoint {
	c := worldPixels(s.Center, s.Zoom)
	w := worldPixels(p, s.Zoom)
	return ScreenPoint{
		X: w.X - c.X + float64(s.Width)/2,
		Y: w.Y - c.Y + float64(s.Height)/2,
	}
}

func unprojectWith(s ViewportState, sp ScreenPoint) orb.Point {
	c := worldPixels(s.Center, s.Zoom)
	scale := TileSize * math.Pow(2, s.Zoom) / (2 * math.Pi * earthRadius)
	mx := (sp.X - float64(s.Width)/2 + c.X) / scale
	my := -(sp.Y - float64(s.Height)/2 + c.Y) / scale
	return project.Mercator.ToWGS84(orb.Point{mx, my})
}

// Project converts a geographic point to screen pixels for this camera.
func (s ViewportState) Project(p orb.Point) ScreenPoint {
	return projectWith(s, p)
}

// Unproject converts screen pixels to a geographic point for this camera.
func (s ViewportState) Unproject(sp ScreenPoint) orb.Point {
	return unprojectWith(s, sp)
}

// Snapshot returns a projector frozen at the current camera.
func (v *Viewport) Snapshot() Projector {
	return v.State()
}

// Project converts a geographic point to screen pixels for the current camera.
func (v *Viewport) Project(p orb.Point) ScreenPoint {
	return projectWith(v.State(), p)
}

// Unproject converts screen pixels to a geographic point for the current camera.
func (v *Viewport) Unproject(s ScreenPoint) orb.Point {
	return unprojectWith(v.State(), s)
}

// HasImage reports whether an image with the id is registered.
func (v *Viewport) HasImage(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.images[id]
	return ok
}

// AddImage registers an icon.
func (v *Viewport) AddImage(id string, img *Image, opts ImageOptions) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.images[id]; ok {
		return fmt.Errorf("add image %s: %w", id, ErrImageExists)
	}
	v.images[id] = registeredImage{img: img, opts: opts}
	return nil
}

// Image returns a registered icon.
func (v *Viewport) Image(id string) (*Image, ImageOptions, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ri, ok := v.images[id]
	return ri.img, ri.opts, ok
}

// AddSource declares a GeoJSON source.
func (v *Viewport) AddSource(id string, src Source) error {
	if src.Type != "geojson" {
		return fmt.Errorf("add source %s: %w: %q", id, ErrUnsupportedType, src.Type)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.sources[id]; ok {
		return fmt.Errorf("add source %s: %w", id, ErrSourceExists)
	}
	s := &GeoJSONSource{}
	s.SetData(src.Data)
	v.sources[id] = s
	return nil
}

// GetSource returns the writable side of a declared source.
func (v *Viewport) GetSource(id string) (DataSource, bool) {
	s, ok := v.Source(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// Source returns a declared source for reading.
func (v *Viewport) Source(id string) (*GeoJSONSource, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.sources[id]
	return s, ok
}

// AddLayer declares a layer. Layers keep declaration order.
func (v *Viewport) AddLayer(spec LayerSpec) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.layerIDs[spec.ID] {
		return fmt.Errorf("add layer %s: %w", spec.ID, ErrLayerExists)
	}
	if _, ok := v.sources[spec.Source]; !ok {
		return fmt.Errorf("add layer %s: %w: %s", spec.ID, ErrUnknownSource, spec.Source)
	}
	v.layerIDs[spec.ID] = true
	v.layers = append(v.layers, spec)
	return nil
}

// Layers returns the declared layers in order.
func (v *Viewport) Layers() []LayerSpec {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]LayerSpec, len(v.layers))
	copy(out, v.layers)
	return out
}

// On registers h for every future occurrence of ev.
func (v *Viewport) On(ev Event, h Handler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers[ev] = append(v.handlers[ev], binding{h: h})
}

// Once registers h for the next occurrence of ev only.
func (v *Viewport) Once(ev Event, h Handler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers[ev] = append(v.handlers[ev], binding{h: h, once: true})
}

// fire delivers ev to its handlers. Callers must hold dispatchMu.
func (v *Viewport) fire(ev Event) {
	v.mu.Lock()
	bs := v.handlers[ev]
	kept := bs[:0:0]
	for _, b := range bs {
		if !b.once {
			kept = append(kept, b)
		}
	}
	v.handlers[ev] = kept
	v.mu.Unlock()

	for _, b := range bs {
		b.h(ev)
	}
}

// Load fires ready followed by idle. Calls after the first are no-ops.
func (v *Viewport) Load() {
	v.dispatchMu.Lock()
	defer v.dispatchMu.Unlock()

	v.mu.Lock()
	if v.loaded {
		v.mu.Unlock()
		return
	}
	v.loaded = true
	v.mu.Unlock()

	v.fire(EventReady)
	v.fire(EventIdle)
}

// Loaded reports whether Load has run.
func (v *Viewport) Loaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

// JumpTo moves the camera, firing move and, when the zoom changed, zoom.
func (v *Viewport) JumpTo(center orb.Point, zoom float64) error {
	zoom = clampZoom(zoom)
	return v.Apply(ViewportCommand{Center: &center, Zoom: &zoom})
}

// PanBy shifts the camera by a pixel offset and fires move.
func (v *Viewport) PanBy(dx, dy float64) error {
	return v.Apply(ViewportCommand{PanBy: &[2]float64{dx, dy}})
}

// Resize changes the viewport size and fires resize.
func (v *Viewport) Resize(width, height int) error {
	return v.Apply(ViewportCommand{Width: &width, Height: &height})
}

// Apply updates the camera from a partial command and fires the matching
// events: resize when the size changed, move when the center changed, zoom
// when the zoom changed. An invalid result leaves the camera untouched.
func (v *Viewport) Apply(cmd ViewportCommand) error {
	v.dispatchMu.Lock()
	defer v.dispatchMu.Unlock()

	v.mu.Lock()
	prev := v.state
	next := prev
	if cmd.Center != nil {
		next.Center = *cmd.Center
	}
	if cmd.Zoom != nil {
		next.Zoom = clampZoom(*cmd.Zoom)
	}
	if cmd.Width != nil {
		next.Width = *cmd.Width
	}
	if cmd.Height != nil {
		next.Height = *cmd.Height
	}
	if cmd.PanBy != nil {
		next.Center = unprojectWith(next, ScreenPoint{
			X: float64(next.Width)/2 + cmd.PanBy[0],
			Y: float64(next.Height)/2 + cmd.PanBy[1],
		})
	}
	next.Center[0] = wrapLongitude(next.Center[0])
	if err := next.Validate(); err != nil {
		v.mu.Unlock()
		return err
	}
	v.state = next
	v.mu.Unlock()

	if next.Width != prev.Width || next.Height != prev.Height {
		v.fire(EventResize)
	}
	if next.Center != prev.Center || next.Zoom != prev.Zoom {
		v.fire(EventMove)
	}
	if next.Zoom != prev.Zoom {
		v.fire(EventZoom)
	}
	return nil
}
