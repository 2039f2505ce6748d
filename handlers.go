package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/kwv/travelmap/overlay"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(view *overlay.Viewport, registry *overlay.Registry, config *overlay.Config, metrics *overlay.Metrics, onViewport overlay.ViewportCommandHandler) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Loaded    bool      `json:"loaded"`
			Routes    int       `json:"routes"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Loaded:    view.Loaded(),
			Routes:    len(registry.Definitions()),
		}
		writeJSON(w, "application/json", status)
	})

	// Route lines and markers as last published
	mux.HandleFunc("/routes.geojson", func(w http.ResponseWriter, r *http.Request) {
		fc := registry.Last()
		if fc == nil {
			http.Error(w, "No routes published", http.StatusServiceUnavailable)
			return
		}
		data, err := fc.MarshalJSON()
		if err != nil {
			log.Printf("Error encoding routes: %v", err)
			http.Error(w, "Failed to encode routes", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing routes: %v", err)
		}
	})

	// Waypoint pins
	mux.HandleFunc("/pins.geojson", func(w http.ResponseWriter, r *http.Request) {
		data, err := overlay.PinFeatures(config.Waypoints).MarshalJSON()
		if err != nil {
			log.Printf("Error encoding pins: %v", err)
			http.Error(w, "Failed to encode pins", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing pins: %v", err)
		}
	})

	// Declared layer specs, in draw order
	mux.HandleFunc("/layers.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, "application/json", view.Layers())
	})

	// Camera state; POST applies a viewport command
	mux.HandleFunc("/viewport", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			var cmd overlay.ViewportCommand
			if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
				http.Error(w, "Invalid viewport command: "+err.Error(), http.StatusBadRequest)
				return
			}
			if err := onViewport(cmd); err != nil {
				log.Printf("[HTTP] Viewport command rejected: %v", err)
				status := http.StatusInternalServerError
				if errors.Is(err, overlay.ErrInvalidViewport) {
					status = http.StatusBadRequest
				}
				http.Error(w, err.Error(), status)
				return
			}
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, "application/json", view.State())
	})

	// Snapshot renders of the current viewport
	mux.HandleFunc("/routes.svg", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		renderer := overlay.NewSnapshotRenderer(view, registry, config.Waypoints)
		if err := renderer.RenderToSVG(&buf); err != nil {
			log.Printf("Error rendering SVG: %v", err)
			http.Error(w, "Failed to render SVG", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing SVG: %v", err)
		}
	})

	mux.HandleFunc("/routes.png", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		renderer := overlay.NewSnapshotRenderer(view, registry, config.Waypoints)
		if err := renderer.RenderToPNG(&buf); err != nil {
			log.Printf("Error rendering PNG: %v", err)
			http.Error(w, "Failed to render PNG", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing PNG: %v", err)
		}
	})

	mux.Handle("/metrics", metrics.Handler())

	return mux
}

func writeJSON(w http.ResponseWriter, contentType string, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
