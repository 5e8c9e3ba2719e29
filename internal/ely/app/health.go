package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/Ely/common/version"
	"github.com/bdobrica/Ely/internal/ely/memory"
)

// HealthServer exposes /health, /status and /metrics.
type HealthServer struct {
	addr      string
	cache     cacheStats
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
	logger    *slog.Logger
}

// cacheStats is what /status needs from the memory cache.
type cacheStats interface {
	Len(scope memory.Scope) int
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Commit     string         `json:"commit"`
	BuildTime  string         `json:"build_time"`
	StartedAt  time.Time      `json:"started_at"`
	UptimeSecs float64        `json:"uptime_seconds"`
	Cached     map[string]int `json:"cached_conversations"`
}

// NewHealthServer creates the HTTP server without starting it. A nil
// gatherer leaves /metrics unregistered.
func NewHealthServer(addr string, cache cacheStats, gatherer prometheus.Gatherer, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		cache:     cache,
		startedAt: time.Now(),
		mux:       mux,
		logger:    logger,
	}
	mux.HandleFunc("GET /health", hs.handleHealth)
	mux.HandleFunc("GET /status", hs.handleStatus)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return hs
}

// ServeHTTP lets tests drive the server with httptest.NewRecorder.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start listens on addr and serves in the background until ctx is done or
// Stop is called. It returns once the listener is open.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}
	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		h.logger.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		h.Stop()
	}()
	return nil
}

// Stop shuts the server down, allowing five seconds for open requests.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Warn("health server shutdown error", "err", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	}, h.logger)
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cached := make(map[string]int, len(memory.Scopes()))
	for _, scope := range memory.Scopes() {
		n := 0
		if h.cache != nil {
			n = h.cache.Len(scope)
		}
		cached[string(scope)] = n
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
		Cached:     cached,
	}, h.logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("health: failed to encode JSON response", "err", err)
	}
}
