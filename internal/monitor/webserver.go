// Package monitor serves the tracker's HTTP status page and debug routes.
package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/facetrack/internal/network"
	"github.com/banshee-data/facetrack/internal/timeutil"
	"github.com/banshee-data/facetrack/internal/tracking"
	"github.com/banshee-data/facetrack/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

var statusTemplate = template.Must(template.ParseFS(statusHTML, "status.html"))

// WebServer serves the status page, /health and the /debug/ routes for a
// running tracker.
type WebServer struct {
	address  string
	tracker  *tracking.Tracker
	stats    *network.Stats
	gatherer prometheus.Gatherer
	clock    timeutil.Clock
	started  time.Time
	rebinds  chan RebindRequest
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Tracker *tracking.Tracker
	// Stats is optional; the status page omits receiver counters without it.
	Stats *network.Stats
	// Gatherer backs /debug/metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Clock    timeutil.Clock
}

// NewWebServer creates a web server for cfg.Tracker.
func NewWebServer(cfg WebServerConfig) *WebServer {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	ws := &WebServer{
		address:  cfg.Address,
		tracker:  cfg.Tracker,
		stats:    cfg.Stats,
		gatherer: cfg.Gatherer,
		clock:    cfg.Clock,
		started:  cfg.Clock.Now(),
		rebinds:  make(chan RebindRequest),
	}
	ws.mux = ws.setupRoutes()
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the server's root handler.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// DebugMux returns the server's mux so other components can attach their
// own /debug/ routes before Serve.
func (ws *WebServer) DebugMux() *http.ServeMux {
	return ws.mux
}

// Rebinds delivers port changes requested through the receiver debug page.
// The owner of the frame loop must receive from it and call Apply so that
// the tracker is only reconfigured between frames.
func (ws *WebServer) Rebinds() <-chan RebindRequest {
	return ws.rebinds
}

// Listen binds the HTTP listener. Serve calls it when it has not been called.
func (ws *WebServer) Listen() error {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", ws.address, err)
	}
	ws.listener = ln
	return nil
}

// Addr returns the bound listener address, or the configured one before
// Listen.
func (ws *WebServer) Addr() string {
	if ws.listener == nil {
		return ws.address
	}
	return ws.listener.Addr().String()
}

// Serve runs the HTTP server until ctx is cancelled.
func (ws *WebServer) Serve(ctx context.Context) error {
	if ws.listener == nil {
		if err := ws.Listen(); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.Addr())
		serveErr <- ws.server.Serve(ws.listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	ws.AttachDebugRoutes(mux)

	return mux
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("monitor: failed to encode response: %v", err)
	}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !ws.tracker.Running() {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status": %q, "service": "facetrack", "version": %q, "port": %d, "timestamp": %q}`,
		status, version.Version, ws.tracker.Port(), ws.clock.Now().UTC().Format(time.RFC3339))
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := struct {
		UDPPort         int
		Running         bool
		HTTPAddress     string
		Uptime          string
		Pending         int
		TrackFace       bool
		TrackTransforms bool
		Durations       tracking.Durations
		Stats           *network.StatsSnapshot
	}{
		UDPPort:         ws.tracker.Port(),
		Running:         ws.tracker.Running(),
		HTTPAddress:     ws.Addr(),
		Uptime:          ws.clock.Since(ws.started).Round(time.Second).String(),
		Pending:         ws.tracker.Pending(),
		TrackFace:       ws.tracker.Dispatcher().TrackFace(),
		TrackTransforms: ws.tracker.Dispatcher().TrackTransforms(),
		Durations:       ws.tracker.Engine().Durations(),
	}
	if ws.stats != nil {
		snap := ws.stats.Snapshot()
		data.Stats = &snap
	}

	w.Header().Set("Content-Type", "text/html")
	if err := statusTemplate.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}
