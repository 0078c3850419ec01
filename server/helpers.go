package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"bembel-site/identity"
)

// clientIP resolves the caller's address. Behind a trusted proxy the
// first X-Forwarded-For entry wins; otherwise the socket peer does.
func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func stripPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

// writeJSON sends an API response. Responses are never cacheable.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends the uniform error envelope.
func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeRateLimited(w http.ResponseWriter, code string, retryAfterSeconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	writeError(w, http.StatusTooManyRequests, code)
}

// readJSON decodes a JSON request body into dst, enforcing the
// content-type and size caps. It writes the error response itself and
// reports whether decoding succeeded.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type")
			return false
		}
	}

	body := r.Body
	if s.cfg.MaxContentLength > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxContentLength)
	}
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request")
		return false
	}
	return true
}

// sameOrigin checks that a browser write request came from this site.
// The full host:port must match; a different port is a different
// origin. Requests without Origin or Referer (curl, tests) pass; those
// callers still need the CSRF token.
func sameOrigin(r *http.Request) bool {
	source := r.Header.Get("Origin")
	if source == "" {
		source = r.Header.Get("Referer")
	}
	if source == "" {
		return true
	}
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// bearerToken extracts the admin token from the Authorization header or
// the X-Admin-Token fallback.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-Admin-Token"))
}

// adminConfigured reports whether any admin credential is set.
func (s *Server) adminConfigured() bool {
	return s.cfg.AdminToken != "" || s.cfg.AdminTokenHash != ""
}

// verifyAdminToken compares a presented token against the configured
// credential in constant time. The bcrypt hash wins over the plain
// token when both are set.
func (s *Server) verifyAdminToken(token string) bool {
	if token == "" {
		return false
	}
	if s.cfg.AdminTokenHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminTokenHash), []byte(token)) == nil
	}
	if s.cfg.AdminToken != "" {
		return identity.Equal(token, s.cfg.AdminToken)
	}
	return false
}
