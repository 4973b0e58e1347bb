package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dronetm/upload-dispatcher/pkg/circuitbreaker"
	"github.com/dronetm/upload-dispatcher/pkg/dispatcher"
	"github.com/dronetm/upload-dispatcher/pkg/logger"
)

// Server represents a health check HTTP server
type Server struct {
	port          string
	policy        dispatcher.RetryPolicy
	breakers      *circuitbreaker.Registry
	metricsAPIKey string
	ready         atomic.Bool
	logger        logger.Logger
	router        *chi.Mux
}

// NewServer creates a new health check server. breakers may be nil.
func NewServer(port string, policy dispatcher.RetryPolicy, breakers *circuitbreaker.Registry, metricsAPIKey string, logger logger.Logger) *Server {
	s := &Server{
		port:          port,
		policy:        policy,
		breakers:      breakers,
		metricsAPIKey: metricsAPIKey,
		logger:        logger,
		router:        chi.NewRouter(),
	}
	s.routes()
	return s
}

// SetReady flips the answer of /ready
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address of the server
func (s *Server) Addr() string {
	return ":" + s.port
}

func (s *Server) routes() {
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.router.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	s.router.Get("/status", s.handleStatus)

	// Circuit breaker admin control endpoint
	s.router.Post("/circuit/reset", s.handleCircuitReset)

	// Expose Prometheus metrics with API key authentication
	s.router.With(s.metricsAuthMiddleware).Handle("/metrics", promhttp.Handler())
}

type breakerStatus struct {
	Circuit      string `json:"circuit"`
	FailureCount int    `json:"failure_count"`
	Threshold    int    `json:"threshold"`
	LastFailure  string `json:"last_failure,omitempty"`
	TripTime     string `json:"trip_time,omitempty"`
}

type status struct {
	Ready           bool                     `json:"ready"`
	RetryBudget     int                      `json:"retry_budget"`
	RetryDelay      string                   `json:"retry_delay"`
	CircuitBreakers bool                     `json:"circuit_breakers"`
	Hosts           map[string]breakerStatus `json:"hosts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := status{
		Ready:       s.ready.Load(),
		RetryBudget: s.policy.Budget,
		RetryDelay:  s.policy.Delay.String(),
		Hosts:       make(map[string]breakerStatus),
	}

	if s.breakers != nil {
		st.CircuitBreakers = s.breakers.Enabled()
		for _, state := range s.breakers.States() {
			bs := breakerStatus{
				Circuit:      "closed",
				FailureCount: state.FailureCount,
				Threshold:    state.Threshold,
			}
			if state.Open {
				bs.Circuit = "open"
			}
			if !state.LastFailure.IsZero() {
				bs.LastFailure = state.LastFailure.UTC().Format(time.RFC3339)
			}
			if !state.TripTime.IsZero() {
				bs.TripTime = state.TripTime.UTC().Format(time.RFC3339)
			}
			st.Hosts[state.Host] = bs
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing host parameter"))
		return
	}

	if s.breakers == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Circuit breakers are not configured"))
		return
	}

	cb, ok := s.breakers.Lookup(host)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for host %s", host)))
		return
	}

	cb.Reset()
	s.logger.Notice("Circuit breaker for host %s reset by operator", host)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for host %s reset", host)))
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Get API key from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		// Check if the header has the correct format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		// Validate API key
		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
