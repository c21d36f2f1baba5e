// Package monitor serves the engine's HTTP status and debug surface:
// health, Prometheus metrics, a frame timing chart and a live frame tail.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/frame"
	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/publish"
	"github.com/banshee-data/vrtrack/internal/settings"
	"github.com/banshee-data/vrtrack/internal/version"
)

// Engine is the read-only view of the coordinator the web server needs.
type Engine interface {
	State() frame.State
	SessionID() string
	Settings() settings.DriverSettings
	Devices() ([]device.Ref, error)
	RecentTimings() []frame.FrameTiming
}

// FrameSource provides live snapshots for the WebSocket tail.
type FrameSource interface {
	Subscribe() (<-chan *frame.Snapshot, func(), error)
	Stats() publish.Stats
}

// Config configures a WebServer.
type Config struct {
	Address string
	Engine  Engine
	Frames  FrameSource // optional
}

// WebServer serves the status and debug routes.
type WebServer struct {
	address string
	engine  Engine
	frames  FrameSource
	mux     *http.ServeMux
	server  *http.Server
}

// NewWebServer builds the server and its routes.
func NewWebServer(cfg Config) *WebServer {
	ws := &WebServer{
		address: cfg.Address,
		engine:  cfg.Engine,
		frames:  cfg.Frames,
		mux:     http.NewServeMux(),
	}
	ws.setupRoutes()
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Mux exposes the route table so other components can attach their own
// debug routes.
func (ws *WebServer) Mux() *http.ServeMux {
	return ws.mux
}

func (ws *WebServer) setupRoutes() {
	ws.mux.HandleFunc("/health", ws.handleHealth)
	ws.mux.HandleFunc("/api/status", ws.handleStatus)
	ws.mux.HandleFunc("/api/devices", ws.handleDevices)
	ws.mux.Handle("/metrics", monitoring.MetricsHandler())

	debug := tsweb.Debugger(ws.mux)
	debug.KV("Version", version.String())
	debug.HandleFunc("frame-timing", "frame duration chart", ws.handleFrameTimingChart)
	debug.HandleFunc("frames", "live frame tail", ws.handleFramesPage)
	debug.HandleSilentFunc("frames-ws", ws.handleFramesWebSocket)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[Monitor] HTTP server listening on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("[Monitor] HTTP server shutdown error: %v", err)
		ws.server.Close()
	}
	monitoring.Logf("[Monitor] HTTP server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "vrtrack",
		"state":     ws.engine.State().String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type frameSummary struct {
	Count       int     `json:"count"`
	MeanUs      float64 `json:"mean_us"`
	MaxUs       float64 `json:"max_us"`
	LastSeq     uint64  `json:"last_sequence"`
	LastUntrack int     `json:"last_untracked"`
}

func summarize(timings []frame.FrameTiming) frameSummary {
	s := frameSummary{Count: len(timings)}
	if len(timings) == 0 {
		return s
	}
	var total time.Duration
	for _, t := range timings {
		total += t.Duration
		if us := float64(t.Duration) / float64(time.Microsecond); us > s.MaxUs {
			s.MaxUs = us
		}
	}
	s.MeanUs = float64(total) / float64(len(timings)) / float64(time.Microsecond)
	last := timings[len(timings)-1]
	s.LastSeq = last.Sequence
	s.LastUntrack = last.Untracked
	return s
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"version":  version.Version,
		"state":    ws.engine.State().String(),
		"session":  ws.engine.SessionID(),
		"settings": ws.engine.Settings(),
		"frames":   summarize(ws.engine.RecentTimings()),
	}
	if ws.frames != nil {
		status["publisher"] = ws.frames.Stats()
	}
	writeJSON(w, http.StatusOK, status)
}

type deviceJSON struct {
	Handle     device.Handle     `json:"handle"`
	Serial     string            `json:"serial"`
	Kind       string            `json:"kind"`
	Properties map[string]string `json:"properties,omitempty"`
}

func (ws *WebServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	refs, err := ws.engine.Devices()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	out := make([]deviceJSON, 0, len(refs))
	for _, ref := range refs {
		out = append(out, deviceJSON{Handle: ref.Handle, Serial: ref.Serial, Kind: ref.Kind.String(), Properties: ref.Properties})
	}
	writeJSON(w, http.StatusOK, out)
}
