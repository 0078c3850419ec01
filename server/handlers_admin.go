package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"bembel-site/identity"
	"bembel-site/leads"
	"bembel-site/metrics"
	"bembel-site/session"
)

type loginRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	if res := s.limiter.Check("login:"+ip, s.cfg.LoginLimit); !res.Allowed {
		metrics.RateLimited.WithLabelValues("login").Inc()
		s.securityEvent(r, "rate_limited", "login")
		writeRateLimited(w, "too_many_requests", res.RetryAfterSeconds())
		return
	}

	if !s.adminConfigured() {
		writeError(w, http.StatusServiceUnavailable, "admin_not_configured")
		return
	}

	var req loginRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if !s.verifyAdminToken(req.Token) {
		s.securityEvent(r, "login_failed", "")
		s.writeUnauthorized(w)
		return
	}

	sess, err := s.sessions.Create(session.Context{IP: ip, UserAgent: r.Header.Get("User-Agent")})
	if err != nil {
		s.logger.Error("Session creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}

	s.setSessionCookie(w, sess.ID, int(s.cfg.SessionTTL.Seconds()))
	s.logger.Info("Admin login", "ip", ip)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"csrfToken": sess.CSRFToken,
		"session":   sessionInfo(sess),
	})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"csrfToken": sess.CSRFToken,
		"session":   sessionInfo(sess),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r, true)
	if !ok {
		return
	}
	s.sessions.Destroy(sess.ID)
	s.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireSession(w, r, false); !ok {
		return
	}
	ip := s.clientIP(r)
	if res := s.limiter.Check("admin:read:"+ip, s.cfg.AdminReadLimit); !res.Allowed {
		metrics.RateLimited.WithLabelValues("admin_read").Inc()
		writeRateLimited(w, "too_many_requests", res.RetryAfterSeconds())
		return
	}

	q := r.URL.Query()
	opts := leads.ListOptions{
		Type:   q.Get("type"),
		Status: q.Get("status"),
		Query:  q.Get("q"),
		Sort:   q.Get("sort"),
		Order:  q.Get("order"),
	}
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))

	result, err := s.leads.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Lead list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"total":  result.Total,
		"offset": result.Offset,
		"limit":  result.Limit,
		"stats":  result.Stats,
		"leads":  result.Leads,
	})
}

type patchLeadRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
	Actor  string `json:"actor"`
}

func (s *Server) handlePatchLead(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireSession(w, r, true); !ok {
		return
	}
	ip := s.clientIP(r)
	if res := s.limiter.Check("admin:write:"+ip, s.cfg.AdminWriteLimit); !res.Allowed {
		metrics.RateLimited.WithLabelValues("admin_write").Inc()
		writeRateLimited(w, "too_many_requests", res.RetryAfterSeconds())
		return
	}

	var req patchLeadRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	view, err := s.leads.PatchStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Note, req.Actor)
	if err != nil {
		switch {
		case errors.Is(err, leads.ErrInvalidStatus):
			writeError(w, http.StatusBadRequest, "invalid_status")
		case errors.Is(err, leads.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found")
		default:
			s.logger.Error("Lead patch failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_server_error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "lead": view})
}

// requireSession validates the session cookie and, for writes, the CSRF
// token and request origin. It writes the error response itself;
// callers bail out when ok is false.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request, write bool) (session.Session, bool) {
	var sessionID string
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	client := session.Context{IP: s.clientIP(r), UserAgent: r.Header.Get("User-Agent")}
	sess, err := s.sessions.Validate(sessionID, client, true)
	if err != nil {
		var reject *session.RejectError
		if errors.As(err, &reject) && reject.Reason != session.ReasonMissingCookie {
			s.securityEvent(r, "session_rejected", reject.Reason)
		}
		s.writeUnauthorized(w)
		return session.Session{}, false
	}

	if write {
		if !sameOrigin(r) {
			s.securityEvent(r, "origin_mismatch", r.Header.Get("Origin"))
			writeError(w, http.StatusForbidden, "invalid_origin")
			return session.Session{}, false
		}
		if !identity.Equal(r.Header.Get("X-CSRF-Token"), sess.CSRFToken) {
			s.securityEvent(r, "csrf_rejected", "")
			writeError(w, http.StatusForbidden, "invalid_csrf")
			return session.Session{}, false
		}
	}
	return sess, true
}

func (s *Server) writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func sessionInfo(sess session.Session) map[string]string {
	return map[string]string{
		"createdAt": sess.CreatedAt.UTC().Format(time.RFC3339),
		"expiresAt": sess.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
