// Package server handles HTTP endpoints and request routing.
package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bembel-site/leads"
	"bembel-site/metrics"
	"bembel-site/race"
	"bembel-site/ratelimit"
	"bembel-site/session"
)

const sessionCookieName = "bembel_admin_session"

// Config holds server configuration.
type Config struct {
	Leads    *leads.Service
	Race     *race.Service
	Sessions *session.Manager
	Limiter  *ratelimit.Limiter
	Logger   *slog.Logger

	TrustProxy         bool
	AllowedHosts       []string
	MaxURLLength       int
	MaxContentLength   int64
	MaxConcurrentPerIP int
	RequestTimeout     time.Duration
	SecureCookies      bool
	SessionTTL         time.Duration

	AdminToken     string
	AdminTokenHash string

	GlobalLimit     ratelimit.Limit
	LoginLimit      ratelimit.Limit
	AdminReadLimit  ratelimit.Limit
	AdminWriteLimit ratelimit.Limit
}

// Server handles HTTP requests.
type Server struct {
	leads    *leads.Service
	race     *race.Service
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	cfg      Config

	inflightMu sync.Mutex
	inflight   map[string]int
}

// New creates a new HTTP server handler.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		leads:    cfg.Leads,
		race:     cfg.Race,
		sessions: cfg.Sessions,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		cfg:      cfg,
		inflight: make(map[string]int),
	}
}

// Handler assembles the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID)
	r.Use(s.withSecurityHeaders)
	r.Use(s.withHostAllowlist)
	r.Use(s.withURLLengthCap)
	r.Use(s.withProbeDetection)
	r.Use(s.withGlobalRateLimit)
	r.Use(s.withInflightCap)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/leads/contact", s.handleSubmitContact)
		r.Post("/leads/sponsor", s.handleSubmitSponsor)

		r.Route("/race", func(r chi.Router) {
			r.Get("/feed", s.handleFeed)
			r.Get("/summary", s.handleSummary)
			r.Get("/polls/active", s.handleActivePolls)
			r.Post("/feed/{id}/react", s.handleReact)
			r.Post("/polls/{id}/vote", s.handleVote)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/session", s.handleLogin)
			r.Get("/session", s.handleSessionInfo)
			r.Post("/session/logout", s.handleLogout)
			r.Get("/leads", s.handleListLeads)
			r.Patch("/leads/{id}", s.handlePatchLead)
			r.Post("/race/feed", s.handleCreateFeedItem)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// securityEvent logs a rejected request and bumps the counter. The
// client always gets a uniform response; the detail stays in the log.
func (s *Server) securityEvent(r *http.Request, kind, detail string) {
	metrics.SecurityEvents.WithLabelValues(kind).Inc()
	s.logger.Warn("Security event",
		"kind", kind,
		"detail", detail,
		"ip", s.clientIP(r),
		"method", r.Method,
		"path", r.URL.Path)
}
