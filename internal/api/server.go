// Package api serves the slad admin/status HTTP API and Prometheus metrics.
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sharedline/slad/internal/cdr"
	"github.com/sharedline/slad/internal/config"
	"github.com/sharedline/slad/internal/devicestate"
	"github.com/sharedline/slad/internal/sla"
)

// defaultCDRLimit caps unbounded call record listings.
const defaultCDRLimit = 50

// SessionProvider exposes the live call sessions.
type SessionProvider interface {
	ActiveSessionCount() int
	Snapshots() []sla.SessionSnapshot
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	extensions *config.Extensions
	devices    devicestate.Store
	sessions   SessionProvider
	records    cdr.Repository
	registry   *prometheus.Registry
}

// NewServer creates the HTTP handler with all routes mounted. records and
// devices may be nil when the corresponding subsystem is disabled.
func NewServer(
	extensions *config.Extensions,
	devices devicestate.Store,
	sessions SessionProvider,
	records cdr.Repository,
	registry *prometheus.Registry,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		extensions: extensions,
		devices:    devices,
		sessions:   sessions,
		records:    records,
		registry:   registry,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RateLimit(DefaultRateLimit()))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/extensions", s.handleExtensions)
		r.Get("/sessions", s.handleSessions)
		r.Get("/cdrs", s.handleCDRs)
	})

	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			s.registry, promhttp.HandlerOpts{},
		))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// extensionStatus is one configured shared extension plus its current
// device-state label.
type extensionStatus struct {
	Name     string   `json:"name"`
	Stations []string `json:"stations"`
	Trunks   []string `json:"trunks"`
	State    string   `json:"state"`
}

func (s *Server) handleExtensions(w http.ResponseWriter, r *http.Request) {
	exts := s.extensions.All()
	out := make([]extensionStatus, 0, len(exts))
	for _, ext := range exts {
		status := extensionStatus{
			Name:     ext.Name,
			Stations: ext.Stations,
			Trunks:   ext.Trunks,
			State:    string(sla.StateUnknown),
		}
		if s.devices != nil {
			if state, err := s.devices.Get(r.Context(), ext.Name); err == nil && state != "" {
				status.State = state
			}
		}
		out = append(out, status)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps := s.sessions.Snapshots()
	if snaps == nil {
		snaps = []sla.SessionSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleCDRs(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusNotFound, "call records disabled")
		return
	}

	limit := defaultCDRLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = v
	}

	records, err := s.records.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list call records")
		return
	}
	if records == nil {
		records = []*cdr.CallRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
