// Package console serves the rule builder and rule list over HTTP.
package console

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"device-rules/internal/api"
	"device-rules/internal/draft"
	"device-rules/internal/logger"
	"device-rules/internal/metrics"
	"device-rules/internal/rule"
	"device-rules/internal/rulelist"
	"device-rules/internal/schema"
	"device-rules/internal/stats"
)

// Backend is the admin API as the console uses it.
type Backend interface {
	rulelist.Store
	draft.Creator
}

var _ Backend = (*api.Client)(nil)

// Config holds the optional parts of the server.
type Config struct {
	// MetricsPath mounts a Prometheus handler when Gatherer is set.
	MetricsPath string
	Gatherer    prometheus.Gatherer
	// RequestTimeout bounds every handler; zero disables it.
	RequestTimeout time.Duration
	// SessionTTL is how long an unused device session is kept. Defaults
	// to 30 minutes.
	SessionTTL time.Duration
}

const defaultSessionTTL = 30 * time.Minute

// Server routes console requests to per-device sessions.
type Server struct {
	backend    Backend
	lookup     schema.Lookup
	builder    *rule.Builder
	logger     *logger.Logger
	metrics    *metrics.Metrics
	stats      *stats.StatsCollector
	router     chi.Router
	sessionTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the draft, rule list and field selection of one device.
// Sharing it across requests keeps one submit in flight per device.
type session struct {
	draft     *draft.Controller
	list      *rulelist.Controller
	selection *schema.Selection
	lastUsed  time.Time
}

// NewServer builds the router. lookup may be nil, in which case every
// device resolves to no discovered fields.
func NewServer(backend Backend, lookup schema.Lookup, builder *rule.Builder, log *logger.Logger, m *metrics.Metrics, st *stats.StatsCollector, cfg Config) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if builder == nil {
		builder = rule.NewBuilder(rule.BuildOptions{}, log)
	}
	if st == nil {
		st = stats.NewStatsCollector()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}

	s := &Server{
		backend:    backend,
		lookup:     lookup,
		builder:    builder,
		logger:     log,
		metrics:    m,
		stats:      st,
		sessionTTL: cfg.SessionTTL,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
	s.router = s.routes(cfg)
	return s
}

func (s *Server) routes(cfg Config) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", s.handleStats)

	if cfg.Gatherer != nil && cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}

	r.Route("/devices/{deviceID}", func(r chi.Router) {
		r.Get("/fields", s.handleFields)
		r.Get("/rules", s.handleListRules)
		r.Post("/rules/preview", s.handlePreview)
		r.Post("/rules", s.handleSubmit)
		r.Post("/rules/{ruleID}/toggle", s.handleToggle)
		r.Delete("/rules/{ruleID}", s.handleDelete)
	})

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// session returns the session of deviceID, creating it on first use.
// Sessions idle for longer than the TTL are dropped on the way.
func (s *Server) session(deviceID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictIdle(now)

	if sess, ok := s.sessions[deviceID]; ok {
		sess.lastUsed = now
		return sess
	}

	log := s.logger.With("deviceId", deviceID)
	sess := &session{
		list:     rulelist.NewController(s.backend, log, s.stats),
		lastUsed: now,
	}

	var resolver draft.FieldResolver
	if s.lookup != nil {
		sess.selection = schema.NewSelection(s.lookup, log, s.metrics)
		resolver = sess.selection
	}
	sess.draft = draft.NewController(s.backend, resolver, sess.list, s.builder, log,
		draft.WithMetrics(s.metrics),
		draft.WithStats(s.stats))
	sess.draft.Bind(schema.Resolution{
		Device: schema.DeviceRef{ID: deviceID},
		Source: schema.SourceNone,
	})

	s.sessions[deviceID] = sess
	return sess
}

// evictIdle must be called with mu held. Sessions with a submit in flight
// are kept.
func (s *Server) evictIdle(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUsed) < s.sessionTTL || sess.draft.Busy() {
			continue
		}
		delete(s.sessions, id)
		s.logger.Debug("device session expired", "deviceId", id)
	}
}

// requestLogger logs one line per request with the chi request ID.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info("request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"requestId", chimw.GetReqID(r.Context()))
		})
	}
}
