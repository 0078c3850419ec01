package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"bembel-site/metrics"
)

// probeFragments are path pieces that only scanners request. Any hit
// gets a uniform 404 and a security log entry.
var probeFragments = []string{
	"../", ".php", ".asp", ".env", ".git", ".ssh",
	"wp-admin", "wp-login", "phpmyadmin", "/etc/passwd",
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// withHostAllowlist rejects requests whose Host header is not on the
// configured list. An empty list admits any host.
func (s *Server) withHostAllowlist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.AllowedHosts) > 0 {
			host := strings.ToLower(stripPort(r.Host))
			allowed := false
			for _, h := range s.cfg.AllowedHosts {
				if host == h {
					allowed = true
					break
				}
			}
			if !allowed {
				s.securityEvent(r, "host_not_allowed", r.Host)
				writeError(w, http.StatusBadRequest, "bad_request")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withURLLengthCap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxURLLength > 0 && len(r.RequestURI) > s.cfg.MaxURLLength {
			s.securityEvent(r, "url_too_long", "")
			writeError(w, http.StatusRequestURITooLong, "url_too_long")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withProbeDetection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.ToLower(r.URL.Path)
		for _, fragment := range probeFragments {
			if strings.Contains(path, fragment) {
				s.securityEvent(r, "suspicious_path", r.URL.Path)
				writeError(w, http.StatusNotFound, "not_found")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withGlobalRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.clientIP(r)
		if res := s.limiter.Check("ip:"+ip, s.cfg.GlobalLimit); !res.Allowed {
			metrics.RateLimited.WithLabelValues("global").Inc()
			s.securityEvent(r, "rate_limited", "global")
			writeRateLimited(w, "too_many_requests", res.RetryAfterSeconds())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withInflightCap bounds concurrent requests per client so one slow
// client cannot hold every connection.
func (s *Server) withInflightCap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxConcurrentPerIP <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := s.clientIP(r)
		s.inflightMu.Lock()
		if s.inflight[ip] >= s.cfg.MaxConcurrentPerIP {
			s.inflightMu.Unlock()
			s.securityEvent(r, "rate_limited", "inflight")
			writeError(w, http.StatusTooManyRequests, "too_many_requests")
			return
		}
		s.inflight[ip]++
		s.inflightMu.Unlock()

		defer func() {
			s.inflightMu.Lock()
			s.inflight[ip]--
			if s.inflight[ip] <= 0 {
				delete(s.inflight, ip)
			}
			s.inflightMu.Unlock()
		}()
		next.ServeHTTP(w, r)
	})
}
