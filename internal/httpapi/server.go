// Package httpapi is the thin HTTP dispatcher from the wire contract
// to the query engine, registry, store, health tracker and runtime
// control: it validates input, maps error kinds to status codes, and
// renders JSON — it holds no business logic of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/container-telemetry/fabric/internal/config"
	"github.com/container-telemetry/fabric/internal/health"
	"github.com/container-telemetry/fabric/internal/obs"
	"github.com/container-telemetry/fabric/internal/query"
	"github.com/container-telemetry/fabric/internal/registry"
	"github.com/container-telemetry/fabric/internal/runtimeclient"
	"github.com/container-telemetry/fabric/internal/scheduler"
	"github.com/container-telemetry/fabric/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Role distinguishes the Agent's single-host surface from the
// Collector's multi-host one; only the host-management routes and the
// hostId= query parameter differ between them.
type Role string

const (
	RoleAgent     Role = "agent"
	RoleCollector Role = "collector"
)

// Server wires the HTTP surface to the shared core components. One
// Server backs one process, Agent or Collector.
type Server struct {
	role Role

	cfg      *config.Config
	registry *registry.Registry
	store    *store.Store
	health   *health.Tracker
	query    *query.Engine
	sched    *scheduler.Scheduler

	// agentHostID is the single synthetic host an Agent always
	// operates against; unused in Collector mode.
	agentHostID  string
	psiSupported bool

	version   string
	startedAt time.Time
	mw        *obs.Middleware
}

// Deps bundles the components a Server dispatches to.
type Deps struct {
	Role        Role
	Config      *config.Config
	Registry    *registry.Registry
	Store       *store.Store
	Health      *health.Tracker
	Scheduler    *scheduler.Scheduler
	AgentHostID  string // Agent mode only
	PSISupported bool   // Agent mode only
	Version      string
}

// NewServer builds a Server from Deps.
func NewServer(d Deps) *Server {
	return &Server{
		role:         d.Role,
		cfg:          d.Config,
		registry:     d.Registry,
		store:        d.Store,
		health:       d.Health,
		query:        query.New(d.Store),
		sched:        d.Scheduler,
		agentHostID:  d.AgentHostID,
		psiSupported: d.PSISupported,
		version:      d.Version,
		startedAt:    time.Now(),
		mw:           obs.NewMiddleware(prometheus.DefaultRegisterer),
	}
}

// Handler builds the complete net/http.Handler for this Server's role.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.wrap("root", s.handleRoot))
	mux.HandleFunc("/api/info", s.wrap("info", s.handleInfo))
	mux.HandleFunc("/api/stats", s.wrap("stats", s.handleStats))
	mux.HandleFunc("/api/containers", s.wrap("containers", s.handleContainers))
	mux.HandleFunc("/api/containers/", s.wrap("container-detail", s.handleContainerDetail))
	mux.HandleFunc("/api/metrics", s.wrap("metrics", s.handleMetrics))
	mux.HandleFunc("/api/metrics/latest", s.wrap("metrics-latest", s.handleMetricsLatest))
	mux.Handle("/metrics", promhttp.Handler())

	if s.role == RoleCollector {
		mux.HandleFunc("/api/hosts", s.wrap("hosts", s.handleHosts))
		mux.HandleFunc("/api/hosts/", s.wrap("host-detail", s.handleHostDetail))
	}

	return mux
}

func (s *Server) wrap(name string, h http.HandlerFunc) http.HandlerFunc {
	return s.mw.WrapHandler(name, h)
}

// NewHTTPServer builds the *http.Server wrapping Handler(), timeouts
// matching the teacher's pattern of bounding every phase of a request.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully within a 10s grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := s.NewHTTPServer(addr)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("httpapi: listening", "addr", addr, "role", s.role)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("httpapi: shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotConfigured):
		status = http.StatusBadRequest
	case errors.Is(err, ErrConflict), errors.Is(err, registry.ErrDuplicateURL):
		status = http.StatusConflict
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// dialHost constructs a one-off runtime client for an ad hoc operation
// (a control verb, an info lookup) — unlike the scheduler's long-lived
// per-host clients, these don't outlive a single request.
func dialHost(url string) (*runtimeclient.Client, error) {
	return runtimeclient.New(url)
}
