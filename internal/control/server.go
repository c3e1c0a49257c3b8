// Package control serves the entropy-qa daemon's HTTP control plane: a
// read-only JSON view of every registered HealthMonitor. Serve accepts any
// net.Listener; the daemon hands it both a same-user Unix-socket listener
// (internal/ipc) and a plain TCP listener.
//
// This is the Go-idiomatic restatement of the original's JSON control
// protocol (`{"cmd":"stats","filter":"<id>"}` over the same socket) - see
// DESIGN.md for why a plain HTTP surface replaces that envelope instead
// of reimplementing it verbatim.
package control

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"entropyqad/internal/entropyqa"
	"entropyqad/internal/health"
	"entropyqad/internal/logging"
	"entropyqad/internal/metrics"
	"entropyqad/internal/security"
	"entropyqad/internal/tracing"
)

// Server is the HTTP control plane.
type Server struct {
	registry *entropyqa.MonitorRegistry
	checker  *health.Checker
	metrics  *metrics.EntropyQAMetrics
	logger   *logging.Logger
	limiter  *security.IPRateLimiter

	router *mux.Router
	http   *http.Server
}

// Config configures a Server.
type Config struct {
	Registry *entropyqa.MonitorRegistry
	Checker  *health.Checker // nil disables /healthz and /readyz
	Metrics  *metrics.EntropyQAMetrics // nil disables /metrics
	Logger   *logging.Logger

	// RateLimit caps requests per second per the rate limiter's token
	// bucket; Burst is the bucket capacity. Zero Rate disables limiting.
	RateLimit float64
	Burst     int
}

// New builds a Server wired per cfg. It does not start listening; call
// Serve with a listener (typically internal/ipc.Listen's result).
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		registry: cfg.Registry,
		checker:  cfg.Checker,
		metrics:  cfg.Metrics,
		logger:   logger.WithComponent("control"),
	}

	if cfg.RateLimit > 0 {
		s.limiter = security.NewIPRateLimiter(cfg.RateLimit, cfg.Burst, 10*time.Minute)
	}

	s.router = mux.NewRouter()
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.rateLimitMiddleware)
	s.router.Use(s.tracingMiddleware)

	s.router.HandleFunc("/ids", s.handleIDs).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStatsAll).Methods(http.MethodGet)
	s.router.HandleFunc("/stats/{id}", s.handleStatsOne).Methods(http.MethodGet)
	s.router.HandleFunc("/raw/{id}", s.handleRawOne).Methods(http.MethodGet)

	if s.checker != nil {
		s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", metrics.Default().HTTPHandler()).Methods(http.MethodGet)
	}

	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Serve blocks accepting connections on l until it is closed.
func (s *Server) Serve(l net.Listener) error {
	return s.http.Serve(l)
}

// Close shuts the HTTP server down immediately, closing active
// connections without waiting for in-flight requests to finish.
func (s *Server) Close() error {
	return s.http.Close()
}

// requestIDMiddleware stamps every request with a fresh UUID and logs
// method/path/status/duration tagged with it.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		w.Header().Set("X-Request-Id", reqID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.WithRequestID(reqID).Info("control request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				ip = host
			}
			if !s.limiter.Allow(ip) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), "control."+r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleIDs(w http.ResponseWriter, r *http.Request) {
	data, err := s.registry.Ids()
	s.writeJSONOrError(w, data, err)
}

func (s *Server) handleStatsAll(w http.ResponseWriter, r *http.Request) {
	data, err := s.registry.Stats("")
	s.writeJSONOrError(w, data, err)
}

func (s *Server) handleStatsOne(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, err := s.registry.Stats(id)
	s.writeJSONOrError(w, data, err)
}

func (s *Server) handleRawOne(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, err := s.registry.RawData(id)
	s.writeJSONOrError(w, data, err)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	results := s.checker.Check(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.checker.IsReady() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeJSONOrError(w http.ResponseWriter, data []byte, err error) {
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordError()
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
