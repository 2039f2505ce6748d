package overlay

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// Default viewport size used when the config leaves it out.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultViewportZoom   = 5.0
)

// Config is the travel map configuration file.
type Config struct {
	MQTT      MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	SourceID  string         `yaml:"sourceId,omitempty" json:"sourceId,omitempty"`
	Viewport  *ViewportState `yaml:"viewport,omitempty" json:"viewport,omitempty"`
	Waypoints []Waypoint     `yaml:"waypoints" json:"waypoints"`
	Routes    []RouteConfig  `yaml:"routes" json:"routes"`
	Assets    []AssetSource  `yaml:"assets,omitempty" json:"assets,omitempty"`
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// RouteConfig declares a route between two waypoints by ID. Omitted fields
// take the defaults of the marker kind.
type RouteConfig struct {
	ID             string       `yaml:"id" json:"id"`
	From           string       `yaml:"from" json:"from"`
	To             string       `yaml:"to" json:"to"`
	Marker         MarkerKind   `yaml:"marker,omitempty" json:"marker,omitempty"` // default car
	Style          RouteStyle   `yaml:"style,omitempty" json:"style,omitempty"`
	Curve          *CurveParams `yaml:"curve,omitempty" json:"curve,omitempty"`
	BendSide       float64      `yaml:"bendSide,omitempty" json:"bendSide,omitempty"`
	MarkerSide     float64      `yaml:"markerSide,omitempty" json:"markerSide,omitempty"`
	MarkerOffsetPx *float64     `yaml:"markerOffsetPx,omitempty" json:"markerOffsetPx,omitempty"`
}

// LoadConfig loads the configuration from a YAML file and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks waypoints, routes and the optional viewport.
func (c *Config) Validate() error {
	if len(c.Waypoints) == 0 {
		return fmt.Errorf("at least one waypoint must be defined")
	}

	seen := make(map[string]bool, len(c.Waypoints))
	for i, w := range c.Waypoints {
		if w.ID == "" {
			return fmt.Errorf("waypoints[%d].id is required", i)
		}
		if seen[w.ID] {
			return fmt.Errorf("waypoints[%d].id: duplicate waypoint %q", i, w.ID)
		}
		seen[w.ID] = true
		if w.Position[0] < -180 || w.Position[0] > 180 || w.Position[1] < -90 || w.Position[1] > 90 {
			return fmt.Errorf("waypoints[%d].position: %v out of range", i, w.Position)
		}
	}

	routes := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.ID == "" {
			return fmt.Errorf("routes[%d].id is required", i)
		}
		if routes[r.ID] {
			return fmt.Errorf("routes[%d].id: %w: %s", i, ErrDuplicateRoute, r.ID)
		}
		routes[r.ID] = true
		if !seen[r.From] {
			return fmt.Errorf("routes[%d].from: unknown waypoint %q", i, r.From)
		}
		if !seen[r.To] {
			return fmt.Errorf("routes[%d].to: unknown waypoint %q", i, r.To)
		}
		if r.Curve != nil && r.Curve.MinPx > r.Curve.MaxPx {
			return fmt.Errorf("routes[%d].curve: minPx %.1f exceeds maxPx %.1f", i, r.Curve.MinPx, r.Curve.MaxPx)
		}
	}

	for i, a := range c.Assets {
		if a.Kind == "" {
			return fmt.Errorf("assets[%d].kind is required", i)
		}
		if a.Location == "" {
			return fmt.Errorf("assets[%d].location is required for %s", i, a.Kind)
		}
	}

	if c.Viewport != nil {
		if err := c.Viewport.Validate(); err != nil {
			return fmt.Errorf("viewport: %w", err)
		}
	}
	return nil
}

// GetWaypointByID returns the waypoint with the given ID.
func (c *Config) GetWaypointByID(id string) *Waypoint {
	for i := range c.Waypoints {
		if c.Waypoints[i].ID == id {
			return &c.Waypoints[i]
		}
	}
	return nil
}

// GetSourceID returns the route source ID, defaulting to DefaultSourceID.
func (c *Config) GetSourceID() string {
	if c.SourceID == "" {
		return DefaultSourceID
	}
	return c.SourceID
}

// RouteDefinitions resolves the configured routes against the waypoints.
// Anchors take their radius from the pin drawn at each waypoint.
func (c *Config) RouteDefinitions() ([]RouteDefinition, error) {
	defs := make([]RouteDefinition, 0, len(c.Routes))
	for i, r := range c.Routes {
		from := c.GetWaypointByID(r.From)
		if from == nil {
			return nil, fmt.Errorf("routes[%d].from: unknown waypoint %q", i, r.From)
		}
		to := c.GetWaypointByID(r.To)
		if to == nil {
			return nil, fmt.Errorf("routes[%d].to: unknown waypoint %q", i, r.To)
		}

		kind := r.Marker
		if kind == "" {
			kind = MarkerCar
		}
		def := RouteDefinition{
			ID:             r.ID,
			From:           from.Anchor(),
			To:             to.Anchor(),
			Curve:          DefaultCurveParams(kind),
			BendSide:       sideSign(r.BendSide),
			MarkerSide:     sideSign(r.MarkerSide),
			MarkerOffsetPx: DefaultMarkerOffsetPx(kind),
			MarkerKind:     kind,
			Style:          r.Style,
		}
		if r.Curve != nil {
			def.Curve = *r.Curve
		}
		if r.MarkerOffsetPx != nil {
			def.MarkerOffsetPx = *r.MarkerOffsetPx
		}
		if def.Style == "" {
			def.Style = DefaultStyle(kind)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// InitialViewport returns the configured viewport, or one centered on the
// waypoints' bounding box when none is configured.
func (c *Config) InitialViewport() ViewportState {
	if c.Viewport != nil {
		return *c.Viewport
	}
	mp := make(orb.MultiPoint, 0, len(c.Waypoints))
	for _, w := range c.Waypoints {
		mp = append(mp, w.Position)
	}
	return ViewportState{
		Center: mp.Bound().Center(),
		Zoom:   DefaultViewportZoom,
		Width:  DefaultViewportWidth,
		Height: DefaultViewportHeight,
	}
}

// DefaultConfig is the Central America itinerary the overlay was first
// built for.
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{PublishPrefix: DefaultPublishPrefix, ClientID: "travelmap"},
		Waypoints: []Waypoint{
			{ID: "guatemala-city", Name: "Guatemala City", Position: orb.Point{-90.5069, 14.6349}, Small: true, Start: true},
			{ID: "antigua", Name: "Antigua Guatemala", Position: orb.Point{-90.7346, 14.5586}, Nights: 2},
			{ID: "atitlan", Name: "Lake Atitlán", Position: orb.Point{-91.1580, 14.7409}, Nights: 2},
			{ID: "nahuizalco", Name: "Nahuizalco", Position: orb.Point{-89.7360, 13.7770}, Small: true},
			{ID: "juayua", Name: "Juayúa", Position: orb.Point{-89.7450, 13.8410}, Nights: 1},
			{ID: "el-tunco", Name: "El Tunco", Position: orb.Point{-89.3850, 13.4920}, Nights: 2},
			{ID: "san-salvador", Name: "San Salvador", Position: orb.Point{-89.2182, 13.6929}, Nights: 1},
			{ID: "panama-city", Name: "Panama City", Position: orb.Point{-79.5199, 8.9824}, Nights: 3},
			{ID: "bocas-del-toro", Name: "Bocas del Toro", Position: orb.Point{-82.2479, 9.3406}, Nights: 2},
			{ID: "pty-airport", Name: "PTY Airport", Position: orb.Point{-79.3835, 9.0714}, Small: true},
		},
		Routes: []RouteConfig{
			{ID: "guatemala-city-antigua", From: "guatemala-city", To: "antigua", Marker: MarkerCar},
			{ID: "san-salvador-pty", From: "san-salvador", To: "pty-airport", Marker: MarkerPlane},
		},
		Assets: []AssetSource{
			{Kind: MarkerCar, Location: "./icons/car.svg", PixelRatio: DefaultPixelRatio},
			{Kind: MarkerPlane, Location: "./icons/plane.svg", PixelRatio: DefaultPixelRatio},
		},
	}
}
