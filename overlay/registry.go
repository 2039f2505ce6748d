package overlay

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
)

// DefaultSourceID is the GeoJSON source the registry publishes into.
const DefaultSourceID = "routes"

// MapContext records what the registry has declared on a map view, so
// declarations happen exactly once.
type MapContext struct {
	SourceID string

	mu       sync.Mutex
	attached bool
	layers   map[string]bool
	bindings []EventBinding
}

// EventBinding is one handler registration made by Attach.
type EventBinding struct {
	Event Event
	Once  bool
}

// HasLayer reports whether the layer was declared through this context.
func (c *MapContext) HasLayer(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layers[id]
}

// Bindings returns the event registrations made by Attach.
func (c *MapContext) Bindings() []EventBinding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventBinding, len(c.bindings))
	copy(out, c.bindings)
	return out
}

// declareLayer adds the layer to view unless this context already did.
func (c *MapContext) declareLayer(view MapView, spec LayerSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.layers[spec.ID] {
		return nil
	}
	if err := view.AddLayer(spec); err != nil {
		return err
	}
	c.layers[spec.ID] = true
	return nil
}

// Sink receives every published collection.
type Sink interface {
	PublishFeatures(fc *geojson.FeatureCollection) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(fc *geojson.FeatureCollection) error

// PublishFeatures calls f(fc).
func (f SinkFunc) PublishFeatures(fc *geojson.FeatureCollection) error {
	return f(fc)
}

type namedSink struct {
	name string
	sink Sink
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSourceID overrides the GeoJSON source ID.
func WithSourceID(id string) RegistryOption {
	return func(r *Registry) {
		r.ctx.SourceID = id
	}
}

// WithSink appends a sink that receives each published collection.
func WithSink(name string, s Sink) RegistryOption {
	return func(r *Registry) {
		r.sinks = append(r.sinks, namedSink{name: name, sink: s})
	}
}

// WithMetrics records recompute and sink metrics.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry owns the fixed route definitions and keeps the map view's route
// source in sync with the viewport.
type Registry struct {
	defs    []RouteDefinition
	ctx     *MapContext
	sinks   []namedSink
	metrics *Metrics

	publishMu sync.Mutex
	last      *geojson.FeatureCollection
}

// NewRegistry validates the definitions and returns a registry over them.
// Route IDs must be non-empty and unique.
func NewRegistry(defs []RouteDefinition, opts ...RegistryOption) (*Registry, error) {
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("route %d: %w", i, ErrEmptyRouteID)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("route %d: %w: %s", i, ErrDuplicateRoute, d.ID)
		}
		seen[d.ID] = true
	}

	r := &Registry{
		defs: append([]RouteDefinition(nil), defs...),
		ctx:  &MapContext{SourceID: DefaultSourceID, layers: make(map[string]bool)},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Definitions returns a copy of the route definitions in order.
func (r *Registry) Definitions() []RouteDefinition {
	return append([]RouteDefinition(nil), r.defs...)
}

// MapContext returns the declaration state of the registry.
func (r *Registry) MapContext() *MapContext {
	return r.ctx
}

// AddSink appends a sink after construction.
func (r *Registry) AddSink(name string, s Sink) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	r.sinks = append(r.sinks, namedSink{name: name, sink: s})
}

// MarkerKinds returns the distinct marker kinds in definition order.
func (r *Registry) MarkerKinds() []MarkerKind {
	var out []MarkerKind
	seen := make(map[MarkerKind]bool)
	for _, d := range r.defs {
		if !seen[d.MarkerKind] {
			seen[d.MarkerKind] = true
			out = append(out, d.MarkerKind)
		}
	}
	return out
}

// Styles returns the distinct route styles in definition order.
func (r *Registry) Styles() []RouteStyle {
	var out []RouteStyle
	seen := make(map[RouteStyle]bool)
	for _, d := range r.defs {
		if !seen[d.Style] {
			seen[d.Style] = true
			out = append(out, d.Style)
		}
	}
	return out
}

// Recompute builds the line and marker features of every route for the
// projector's current state. It has no side effects.
func (r *Registry) Recompute(p Projector) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, d := range r.defs {
		for _, f := range BuildRouteFeatures(p, d) {
			fc.Append(f)
		}
	}
	return fc
}

// Publish recomputes once and replaces the contents of the route source,
// then hands the collection to each sink in order. Sink failures are logged
// and do not fail the publish.
func (r *Registry) Publish(view MapView) (*geojson.FeatureCollection, error) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	start := time.Now()
	src, ok := view.GetSource(r.ctx.SourceID)
	if !ok {
		return nil, fmt.Errorf("publish routes: %w: %s", ErrUnknownSource, r.ctx.SourceID)
	}

	fc := r.Recompute(snapshot(view))
	src.SetData(fc)
	r.last = fc
	r.metrics.observeRecompute(start, fc)

	for _, s := range r.sinks {
		if err := s.sink.PublishFeatures(fc); err != nil {
			log.Printf("Warning: route sink %s failed: %v", s.name, err)
			r.metrics.sinkFailed(s.name)
		}
	}
	return fc, nil
}

// Last returns the most recently published collection, or nil.
func (r *Registry) Last() *geojson.FeatureCollection {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	return r.last
}

// snapshot freezes the view's camera when it supports that, so one
// recompute never mixes two viewport states.
func snapshot(view MapView) Projector {
	if s, ok := view.(interface{ Snapshot() Projector }); ok {
		return s.Snapshot()
	}
	return view
}

// Attach declares the route source and line layers on view, subscribes to
// the viewport events that invalidate screen-space geometry, and publishes
// the initial features. It may be called once per registry.
func (r *Registry) Attach(view MapView) error {
	r.ctx.mu.Lock()
	if r.ctx.attached {
		r.ctx.mu.Unlock()
		return ErrAlreadyAttached
	}
	err := view.AddSource(r.ctx.SourceID, Source{Type: "geojson", Data: geojson.NewFeatureCollection()})
	if err != nil {
		r.ctx.mu.Unlock()
		return fmt.Errorf("attach routes: %w", err)
	}
	r.ctx.attached = true
	r.ctx.mu.Unlock()

	for _, style := range r.Styles() {
		if err := r.ctx.declareLayer(view, LineLayer(r.ctx.SourceID, style)); err != nil {
			return fmt.Errorf("attach routes: %w", err)
		}
	}

	update := func(ev Event) {
		if _, err := r.Publish(view); err != nil {
			log.Printf("Error updating routes on %s: %v", ev, err)
		}
	}
	r.bind(view, EventReady, false, update)
	r.bind(view, EventMove, false, update)
	r.bind(view, EventZoom, false, update)
	r.bind(view, EventResize, false, update)
	r.bind(view, EventIdle, true, update)

	if _, err := r.Publish(view); err != nil {
		return fmt.Errorf("attach routes: %w", err)
	}
	return nil
}

func (r *Registry) bind(view MapView, ev Event, once bool, h Handler) {
	if once {
		view.Once(ev, h)
	} else {
		view.On(ev, h)
	}
	r.ctx.mu.Lock()
	r.ctx.bindings = append(r.ctx.bindings, EventBinding{Event: ev, Once: once})
	r.ctx.mu.Unlock()
}

// DeclareMarkerLayer adds the symbol layer for kind once its icon is
// registered on view. Until then routes of that kind render line-only.
// Declaring an already declared layer is a no-op.
func (r *Registry) DeclareMarkerLayer(view MapView, kind MarkerKind) error {
	if !view.HasImage(IconID(kind)) {
		return fmt.Errorf("declare marker layer %s: icon %s not registered", kind, IconID(kind))
	}
	if err := r.ctx.declareLayer(view, MarkerLayer(r.ctx.SourceID, kind)); err != nil {
		return fmt.Errorf("declare marker layer %s: %w", kind, err)
	}
	return nil
}
