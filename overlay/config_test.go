package overlay

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

func validConfigYAML() string {
	return `mqtt:
  broker: tcp://localhost:1883
  publishPrefix: trip
viewport:
  center: [-85.0, 12.0]
  zoom: 6
  width: 1024
  height: 768
waypoints:
  - id: san-salvador
    name: San Salvador
    position: [-89.2182, 13.6929]
    nights: 1
  - id: pty
    name: PTY Airport
    position: [-79.3835, 9.0714]
    small: true
routes:
  - id: sal-pty
    from: san-salvador
    to: pty
    marker: plane
    bendSide: -1
assets:
  - kind: plane
    location: ./icons/plane.svg
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig_NotExists(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.PublishPrefix != "trip" {
		t.Errorf("PublishPrefix = %q, want trip", cfg.MQTT.PublishPrefix)
	}
	if len(cfg.Waypoints) != 2 {
		t.Fatalf("waypoints = %d, want 2", len(cfg.Waypoints))
	}
	if cfg.Waypoints[0].Position != (orb.Point{-89.2182, 13.6929}) {
		t.Errorf("position = %v", cfg.Waypoints[0].Position)
	}
	if !cfg.Waypoints[1].Small {
		t.Error("pty should be a small pin")
	}
	if cfg.Viewport == nil || cfg.Viewport.Zoom != 6 {
		t.Errorf("viewport = %+v, want zoom 6", cfg.Viewport)
	}
	if cfg.GetSourceID() != DefaultSourceID {
		t.Errorf("source ID = %q, want %q", cfg.GetSourceID(), DefaultSourceID)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(string) string
		wantErr string
	}{
		{
			name:    "bad yaml",
			edit:    func(string) string { return "waypoints: [" },
			wantErr: "parsing config YAML",
		},
		{
			name:    "no waypoints",
			edit:    func(string) string { return "routes: []\n" },
			wantErr: "at least one waypoint",
		},
		{
			name:    "missing waypoint id",
			edit:    func(s string) string { return strings.Replace(s, "id: pty\n", "id: \"\"\n", 1) },
			wantErr: "waypoints[1].id is required",
		},
		{
			name:    "duplicate waypoint",
			edit:    func(s string) string { return strings.Replace(s, "id: pty\n", "id: san-salvador\n", 1) },
			wantErr: `waypoints[1].id: duplicate waypoint "san-salvador"`,
		},
		{
			name:    "unknown from",
			edit:    func(s string) string { return strings.Replace(s, "from: san-salvador", "from: guatemala", 1) },
			wantErr: `routes[0].from: unknown waypoint "guatemala"`,
		},
		{
			name:    "unknown to",
			edit:    func(s string) string { return strings.Replace(s, "to: pty", "to: bocas", 1) },
			wantErr: `routes[0].to: unknown waypoint "bocas"`,
		},
		{
			name:    "missing route id",
			edit:    func(s string) string { return strings.Replace(s, "id: sal-pty", "id: \"\"", 1) },
			wantErr: "routes[0].id is required",
		},
		{
			name:    "asset without location",
			edit:    func(s string) string { return strings.Replace(s, "location: ./icons/plane.svg", "location: \"\"", 1) },
			wantErr: "assets[0].location is required for plane",
		},
		{
			name:    "viewport without size",
			edit:    func(s string) string { return strings.Replace(s, "width: 1024", "width: 0", 1) },
			wantErr: "viewport: invalid viewport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.edit(validConfigYAML())))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_DuplicateRoute(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Routes = append(cfg.Routes, cfg.Routes[0])
	if err := cfg.Validate(); !errors.Is(err, ErrDuplicateRoute) {
		t.Errorf("Validate() = %v, want ErrDuplicateRoute", err)
	}
}

func TestConfig_RouteDefinitions(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	defs, err := cfg.RouteDefinitions()
	if err != nil {
		t.Fatalf("RouteDefinitions: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("definitions = %d, want 1", len(defs))
	}

	d := defs[0]
	if d.ID != "sal-pty" {
		t.Errorf("ID = %q", d.ID)
	}
	// Radii come from the pins drawn at each waypoint.
	if d.From.RadiusPx != PrimaryPinRadiusPx || d.To.RadiusPx != SmallPinRadiusPx {
		t.Errorf("radii = %v/%v, want %v/%v", d.From.RadiusPx, d.To.RadiusPx, PrimaryPinRadiusPx, SmallPinRadiusPx)
	}
	if d.Curve != DefaultCurveParams(MarkerPlane) {
		t.Errorf("Curve = %+v, want plane defaults", d.Curve)
	}
	if d.BendSide != -1 || d.MarkerSide != 1 {
		t.Errorf("sides = %v/%v, want -1/1", d.BendSide, d.MarkerSide)
	}
	if d.MarkerOffsetPx != 14 {
		t.Errorf("MarkerOffsetPx = %v, want 14", d.MarkerOffsetPx)
	}
	if d.Style != StyleFlight {
		t.Errorf("Style = %v, want flight", d.Style)
	}
}

func TestConfig_RouteDefaultsAndOverrides(t *testing.T) {
	offset := 6.0
	cfg := DefaultConfig()
	cfg.Routes = []RouteConfig{
		{ID: "plain", From: "antigua", To: "atitlan"},
		{ID: "tuned", From: "antigua", To: "atitlan", Marker: MarkerCar, Style: StyleFlight,
			Curve: &CurveParams{CurvatureFactor: 0.3, MinPx: 5, MaxPx: 20, Segments: 30}, MarkerOffsetPx: &offset},
	}

	defs, err := cfg.RouteDefinitions()
	if err != nil {
		t.Fatalf("RouteDefinitions: %v", err)
	}

	plain := defs[0]
	if plain.MarkerKind != MarkerCar || plain.Style != StyleDrive {
		t.Errorf("plain route = %v/%v, want car/drive", plain.MarkerKind, plain.Style)
	}
	if plain.Curve != DefaultCurveParams(MarkerCar) {
		t.Errorf("plain curve = %+v, want car defaults", plain.Curve)
	}
	if plain.MarkerOffsetPx != 0 {
		t.Errorf("plain offset = %v, want 0", plain.MarkerOffsetPx)
	}

	tuned := defs[1]
	if tuned.Style != StyleFlight || tuned.Curve.Segments != 30 || tuned.MarkerOffsetPx != 6 {
		t.Errorf("tuned route = %+v", tuned)
	}
}

func TestConfig_InitialViewport(t *testing.T) {
	vs := DefaultConfig().InitialViewport()

	if vs.Width != DefaultViewportWidth || vs.Zoom != DefaultViewportZoom {
		t.Errorf("viewport = %+v", vs)
	}
	// Bounding box of the itinerary: lng -91.158..-79.3835, lat 8.9824..14.7409.
	want := orb.Point{(-91.1580 - 79.3835) / 2, (8.9824 + 14.7409) / 2}
	assertPointNear(t, want, vs.Center, 1e-9)
	if err := vs.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(cfg.Waypoints, loaded.Waypoints) {
		t.Errorf("waypoints changed on round trip:\n got %+v\nwant %+v", loaded.Waypoints, cfg.Waypoints)
	}
	if !reflect.DeepEqual(cfg.Routes, loaded.Routes) {
		t.Errorf("routes changed on round trip:\n got %+v\nwant %+v", loaded.Routes, cfg.Routes)
	}
}
