package overlay

import (
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects overlay counters on its own registry so several
// instances (one per test, say) never collide on registration.
type Metrics struct {
	reg *prometheus.Registry

	recomputes        prometheus.Counter
	recomputeDuration prometheus.Histogram
	features          *prometheus.GaugeVec
	sinkErrors        *prometheus.CounterVec
	assetLoads        *prometheus.CounterVec
	viewportCommands  *prometheus.CounterVec
}

// NewMetrics creates and registers the overlay metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		recomputes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "travelmap",
			Subsystem: "routes",
			Name:      "recomputes_total",
			Help:      "Total route feature recomputes",
		}),
		recomputeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "travelmap",
			Subsystem: "routes",
			Name:      "recompute_duration_seconds",
			Help:      "Time spent recomputing and publishing route features",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		features: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "travelmap",
			Subsystem: "routes",
			Name:      "features",
			Help:      "Features in the last published collection",
		}, []string{"kind"}),
		sinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelmap",
			Subsystem: "routes",
			Name:      "sink_errors_total",
			Help:      "Feature sink failures",
		}, []string{"sink"}),
		assetLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelmap",
			Subsystem: "assets",
			Name:      "loads_total",
			Help:      "Icon asset load attempts by result",
		}, []string{"result"}),
		viewportCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelmap",
			Subsystem: "viewport",
			Name:      "commands_total",
			Help:      "Viewport commands by origin and result",
		}, []string{"origin", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) observeRecompute(start time.Time, fc *geojson.FeatureCollection) {
	if m == nil {
		return
	}
	m.recomputes.Inc()
	m.recomputeDuration.Observe(time.Since(start).Seconds())
	counts := map[string]float64{KindLine: 0, KindMarker: 0}
	for _, f := range fc.Features {
		if k, ok := f.Properties[PropKind].(string); ok {
			counts[k]++
		}
	}
	for k, n := range counts {
		m.features.WithLabelValues(k).Set(n)
	}
}

func (m *Metrics) sinkFailed(name string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(name).Inc()
}

func (m *Metrics) assetLoaded(result string) {
	if m == nil {
		return
	}
	m.assetLoads.WithLabelValues(result).Inc()
}

// ViewportCommand records a viewport command from origin ("http" or "mqtt").
func (m *Metrics) ViewportCommand(origin string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.viewportCommands.WithLabelValues(origin, result).Inc()
}
