package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/travelmap/overlay"
	"gopkg.in/natefinch/lumberjack.v2"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *overlay.Config
	View       *overlay.Viewport
	Registry   *overlay.Registry
	Assets     *overlay.AssetLoader
	Metrics    *overlay.Metrics
	MQTTClient *overlay.MQTTClient

	// publisher is set once MQTT starts; viewport commands may already be
	// arriving on the client's goroutines by then.
	pubMu     sync.RWMutex
	publisher *overlay.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	LogFile      string
	OutputFile   string
	RenderFormat string
	HttpPort     int
	MqttMode     bool
	HttpMode     bool

	logFile io.Closer
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Metrics: overlay.NewMetrics(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.LogFile = opts.LogFile
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// setupLogging tees the standard logger into a rotated file when --log-file
// is given.
func (a *App) setupLogging() {
	if a.LogFile == "" {
		return
	}
	w := &lumberjack.Logger{
		Filename:   a.LogFile,
		MaxSize:    32, // MB
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, w))
	a.logFile = w
}

func (a *App) closeLogging() {
	if a.logFile == nil {
		return
	}
	log.SetOutput(os.Stderr)
	if err := a.logFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", err)
	}
	a.logFile = nil
}

// loadConfig reads the config file. A missing file at the default path falls
// back to the built-in itinerary so --dump and --render work out of the box.
func (a *App) loadConfig() (*overlay.Config, error) {
	path := a.ConfigFile
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config.yaml" {
		log.Printf("Warning: %s not found, using the built-in itinerary", path)
		return overlay.DefaultConfig(), nil
	}
	config, err := overlay.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w (looked at %s)", err, path)
	}
	log.Printf("Loaded config from %s", path)
	return config, nil
}

// resolveAssets makes relative file locations relative to the config file.
func (a *App) resolveAssets(assets []overlay.AssetSource) []overlay.AssetSource {
	dir := filepath.Dir(a.ConfigFile)
	out := make([]overlay.AssetSource, len(assets))
	for i, src := range assets {
		if !strings.HasPrefix(src.Location, "http://") && !strings.HasPrefix(src.Location, "https://") &&
			!filepath.IsAbs(src.Location) {
			src.Location = filepath.Join(dir, src.Location)
		}
		out[i] = src
	}
	return out
}

// setup builds the viewport, attaches the route registry and loads marker
// icons. Icons that fail to load leave their routes line-only.
func (a *App) setup(ctx context.Context) error {
	if a.Config == nil {
		config, err := a.loadConfig()
		if err != nil {
			return err
		}
		a.Config = config
	}

	defs, err := a.Config.RouteDefinitions()
	if err != nil {
		return err
	}

	view, err := overlay.NewViewport(a.Config.InitialViewport())
	if err != nil {
		return fmt.Errorf("initial viewport: %w", err)
	}
	a.View = view

	registry, err := overlay.NewRegistry(defs,
		overlay.WithSourceID(a.Config.GetSourceID()),
		overlay.WithMetrics(a.Metrics),
	)
	if err != nil {
		return err
	}
	a.Registry = registry

	if err := registry.Attach(view); err != nil {
		return fmt.Errorf("attaching routes: %w", err)
	}
	log.Printf("Attached %d routes to source %q", len(defs), a.Config.GetSourceID())

	a.Assets = overlay.NewAssetLoader(view, overlay.WithAssetMetrics(a.Metrics))
	// Failures are logged by LoadAll; the affected routes render without markers.
	loaded := make(map[overlay.MarkerKind]string)
	_ = a.Assets.LoadAll(ctx, a.resolveAssets(a.Config.Assets), func(src overlay.AssetSource) {
		loaded[src.Kind] = src.Location
	})
	for _, kind := range registry.MarkerKinds() {
		location, ok := loaded[kind]
		if !ok {
			continue
		}
		if err := registry.DeclareMarkerLayer(view, kind); err != nil {
			log.Printf("Warning: declaring %s marker layer: %v", kind, err)
			continue
		}
		log.Printf("[DEBUG] %s icon loaded from %s", kind, location)
	}

	view.Load()
	return nil
}

// RunDump prints the route FeatureCollection for the initial viewport.
func (a *App) RunDump(out io.Writer) error {
	a.setupLogging()
	defer a.closeLogging()

	if err := a.setup(context.Background()); err != nil {
		return err
	}

	data, err := json.MarshalIndent(a.Registry.Last(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling routes: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// RunRender writes a snapshot of the initial viewport to OutputFile.
func (a *App) RunRender() error {
	a.setupLogging()
	defer a.closeLogging()

	if err := a.setup(context.Background()); err != nil {
		return err
	}

	f, err := os.Create(a.OutputFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	renderer := overlay.NewSnapshotRenderer(a.View, a.Registry, a.Config.Waypoints)
	switch a.RenderFormat {
	case "png":
		err = renderer.RenderToPNG(f)
	default:
		err = renderer.RenderToSVG(f)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", a.RenderFormat, err)
	}

	state := a.View.State()
	fmt.Printf("Rendered %d routes at zoom %.1f (%dx%d) to %s\n",
		len(a.Registry.Definitions()), state.Zoom, state.Width, state.Height, a.OutputFile)
	return nil
}

// Publisher returns the MQTT publisher, or nil before MQTT has started.
func (a *App) Publisher() *overlay.Publisher {
	a.pubMu.RLock()
	defer a.pubMu.RUnlock()
	return a.publisher
}

// SetPublisher installs the publisher used for viewport state updates.
func (a *App) SetPublisher(p *overlay.Publisher) {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	a.publisher = p
}

// applyViewport returns the handler shared by POST /viewport and the MQTT
// command topic.
func (a *App) applyViewport(origin string) overlay.ViewportCommandHandler {
	return func(cmd overlay.ViewportCommand) error {
		err := a.View.Apply(cmd)
		a.Metrics.ViewportCommand(origin, err)
		if err != nil {
			return err
		}
		if p := a.Publisher(); p != nil {
			if err := p.PublishViewport(a.View.State()); err != nil {
				log.Printf("Error publishing viewport: %v", err)
			}
		}
		return nil
	}
}

// republish pushes the current routes and viewport to the broker so retained
// topics are fresh after a (re)connect.
func (a *App) republish() {
	if _, err := a.Registry.Publish(a.View); err != nil {
		log.Printf("Error republishing routes: %v", err)
	}
	if p := a.Publisher(); p != nil {
		if err := p.PublishViewport(a.View.State()); err != nil {
			log.Printf("Error publishing viewport: %v", err)
		}
	}
}

// startMQTT connects to the broker and wires the publisher in as a route sink.
func (a *App) startMQTT() error {
	mqttClient, err := overlay.InitMQTT(a.Config, a.applyViewport("mqtt"))
	if err != nil {
		return fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if mqttClient == nil {
		return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
	}
	a.MQTTClient = mqttClient

	publisher := overlay.NewPublisher(mqttClient.GetClient(), mqttClient.Prefix())
	a.SetPublisher(publisher)
	a.Registry.AddSink("mqtt", publisher)
	mqttClient.SetOnConnected(a.republish)
	if mqttClient.IsConnected() {
		a.republish()
	}
	fmt.Println("MQTT route publisher initialized")
	return nil
}

// RunService runs MQTT and/or HTTP until interrupted.
func (a *App) RunService() error {
	a.setupLogging()
	defer a.closeLogging()

	fmt.Println("Starting travelmap service...")

	ctx, cancel := context.WithTimeout(context.Background(), overlay.DefaultAssetTimeout)
	err := a.setup(ctx)
	cancel()
	if err != nil {
		return err
	}

	if a.MqttMode {
		if err := a.startMQTT(); err != nil {
			return err
		}
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.View, a.Registry, a.Config, a.Metrics, a.applyViewport("http")),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Printf("  Viewport commands: %s\n", a.MQTTClient.ViewportCommandTopic())
		fmt.Printf("  Routes: %s (retained)\n", a.Publisher().RoutesTopic())
		fmt.Printf("  Viewport state: %s (retained)\n", a.Publisher().ViewportTopic())
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET  /health          - Health check")
		fmt.Println("  GET  /routes.geojson  - Route lines and markers for the current viewport")
		fmt.Println("  GET  /pins.geojson    - Waypoint pins")
		fmt.Println("  GET  /layers.json     - Declared layer specs")
		fmt.Println("  GET  /viewport        - Current camera")
		fmt.Println("  POST /viewport        - Move, zoom or resize the camera")
		fmt.Println("  GET  /routes.svg      - SVG snapshot")
		fmt.Println("  GET  /routes.png      - PNG snapshot")
		fmt.Println("  GET  /metrics         - Prometheus metrics")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
		cancel()
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
	return nil
}
