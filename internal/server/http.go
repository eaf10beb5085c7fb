package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chillingspace/CSD2161-A4/internal/config"
	"github.com/chillingspace/CSD2161-A4/internal/metrics"
)

const (
	serviceName    = "asteroids-arena"
	serviceVersion = "1.0.0"

	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"
)

// HTTPServer provides the admin API and the spectator websocket
type HTTPServer struct {
	server   *http.Server
	router   chi.Router
	logger   *slog.Logger
	config   *config.Config
	arena    *Server
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates the admin API for arena. /metrics serves gatherer.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, arena *Server, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		arena:     arena,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	h.router = chi.NewRouter()
	h.setupRoutes(h.router)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Address, strconv.Itoa(cfg.HTTP.Port)),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))

	r.Get("/sessions", h.withMetrics("/sessions", h.handleSessions))
	r.Get("/sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	r.Get("/match", h.withMetrics("/match", h.handleMatch))
	r.Get("/snapshot", h.withMetrics("/snapshot", h.handleSnapshot))
	r.Get("/highscores", h.withMetrics("/highscores", h.handleHighscores))

	// no request metrics for the scrape endpoint or the long-lived websocket
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.Get("/spectate", h.arena.spectators.ServeHTTP)
}

// Handler returns the router
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		handler(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(status), time.Since(startTime).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// Start binds the listener and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleRoot lists the available endpoints
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"GET /":              "API documentation",
			"GET /health":        "Service health check",
			"GET /config":        "Effective configuration",
			"GET /stats":         "Packet, session and task counters",
			"GET /sessions":      "List connected players",
			"GET /sessions/{id}": "Get a single player",
			"GET /match":         "Current match status",
			"GET /snapshot":      "Full world snapshot (JSON or msgpack)",
			"GET /highscores":    "Persisted leaderboard",
			"GET /metrics":       "Prometheus metrics",
			"GET /spectate":      "Websocket stream of ALL_ENTITIES frames",
		},
		"timestamp": time.Now().UTC(),
	})
}

// handleHealth reports liveness of each component
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.arena.Statistics()
	match := h.arena.world.Status()

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]any{
			"udp_server": map[string]any{
				"address":          h.arena.Addr().String(),
				"packets_received": stats.PacketsReceived,
				"queue_size":       stats.QueueSize,
			},
			"sessions": map[string]any{
				"active":   stats.ActiveSessions,
				"capacity": stats.MaxSessions,
			},
			"game": map[string]any{
				"phase": match.Phase,
				"ticks": match.Ticks,
			},
		},
	})
}

// handleConfig returns the effective configuration
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"server":    h.config.Server,
		"http":      h.config.HTTP,
		"game":      h.config.Game,
		"asteroids": h.config.Asteroids,
		"network":   h.config.Network,
		"highscore": h.config.Highscore,
		"logging":   h.config.Logging,
	})
}

// handleStats returns server counters
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"server":    h.arena.Statistics(),
		"match":     h.arena.world.Status(),
	})
}

// handleSessions lists connected players
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.arena.sessions.List()

	h.writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(sessions),
		"capacity":       h.arena.sessions.Capacity(),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// handleSessionDetail returns one player
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 8)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, exists := h.arena.sessions.Get(uint8(id))
	if !exists {
		h.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	h.writeJSON(w, http.StatusOK, sess)
}

// handleMatch returns the match phase and entity counts
func (h *HTTPServer) handleMatch(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.arena.world.Status())
}

// handleSnapshot returns every entity, as msgpack when asked for
func (h *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := h.arena.world.Snapshot()

	if !wantsMsgpack(r) {
		h.writeJSON(w, http.StatusOK, snapshot)
		return
	}

	data, err := msgpack.Marshal(&snapshot)
	if err != nil {
		h.logger.Error("Failed to encode snapshot", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "failed to encode snapshot")
		return
	}
	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func wantsMsgpack(r *http.Request) bool {
	if format := r.URL.Query().Get("format"); format != "" {
		return format == "msgpack"
	}
	return strings.Contains(r.Header.Get("Accept"), contentTypeMsgpack)
}

// handleHighscores returns the persisted leaderboard
func (h *HTTPServer) handleHighscores(w http.ResponseWriter, r *http.Request) {
	entries, err := h.arena.scores.Load(r.Context())
	if err != nil {
		h.logger.Error("Failed to load highscores", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "failed to load highscores")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"limit":      h.config.Highscore.Limit,
		"backend":    h.config.Highscore.Backend,
		"highscores": entries,
	})
}
