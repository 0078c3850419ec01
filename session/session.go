// Package session manages server-side admin sessions: opaque random
// ids handed out as cookies, paired CSRF tokens, absolute and idle
// expiry, and optional binding to the client's network identity.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bembel-site/identity"
)

// Reject reasons, logged and surfaced on 401 responses.
const (
	ReasonMissingCookie  = "missing_cookie"
	ReasonUnknownSession = "unknown_session"
	ReasonExpiredSession = "expired_session"
	ReasonIPMismatch     = "ip_mismatch"
	ReasonUAMismatch     = "ua_mismatch"
)

// RejectError reports why a session was not accepted.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return "session rejected: " + e.Reason
}

// Context carries the client attributes a session may be bound to.
type Context struct {
	IP        string
	UserAgent string
}

// Session is one authenticated admin session.
type Session struct {
	ID            string
	CSRFToken     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	IdleExpiresAt time.Time

	ipHash   string
	uaHash   string
	lastSeen time.Time
}

// Config configures a Manager.
type Config struct {
	// TTL is the absolute lifetime. No amount of activity extends a
	// session past CreatedAt+TTL.
	TTL time.Duration
	// IdleTTL is the sliding window: a session unused for IdleTTL
	// expires early.
	IdleTTL time.Duration
	// MaxSessions caps live sessions; creating one past the cap
	// evicts the least recently used.
	MaxSessions int
	// BindIdentity ties each session to the IP and user agent hashes
	// captured at login.
	BindIdentity bool
	// Salt feeds the identity hashes.
	Salt   string
	Logger *slog.Logger
}

// Manager owns all live sessions. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
	now      func() time.Time
}

// NewManager returns an empty Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Create mints a new session bound to client. The returned Session is a
// copy; the caller cannot mutate manager state through it.
func (m *Manager) Create(client Context) (Session, error) {
	id, err := randomToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	csrf, err := randomToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate csrf token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sess := &Session{
		ID:            id,
		CSRFToken:     csrf,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.cfg.TTL),
		IdleExpiresAt: now.Add(m.cfg.IdleTTL),
		lastSeen:      now,
	}
	if m.cfg.BindIdentity {
		sess.ipHash = identity.Hash(client.IP, m.cfg.Salt)
		sess.uaHash = identity.Hash(client.UserAgent, m.cfg.Salt)
	}

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.evictOldest()
	}
	m.sessions[id] = sess
	return *sess, nil
}

// Validate checks sessionID against client and, when touch is set,
// extends the idle window. It returns a copy of the session on success
// and a *RejectError otherwise. Sessions that fail identity binding are
// destroyed on the spot.
func (m *Manager) Validate(sessionID string, client Context, touch bool) (Session, error) {
	if sessionID == "" {
		return Session{}, &RejectError{Reason: ReasonMissingCookie}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, &RejectError{Reason: ReasonUnknownSession}
	}

	now := m.now()
	if !now.Before(sess.ExpiresAt) || !now.Before(sess.IdleExpiresAt) {
		delete(m.sessions, sessionID)
		return Session{}, &RejectError{Reason: ReasonExpiredSession}
	}

	if m.cfg.BindIdentity {
		if sess.ipHash != identity.Hash(client.IP, m.cfg.Salt) {
			delete(m.sessions, sessionID)
			return Session{}, &RejectError{Reason: ReasonIPMismatch}
		}
		if sess.uaHash != identity.Hash(client.UserAgent, m.cfg.Salt) {
			delete(m.sessions, sessionID)
			return Session{}, &RejectError{Reason: ReasonUAMismatch}
		}
	}

	if touch {
		sess.lastSeen = now
		sess.IdleExpiresAt = now.Add(m.cfg.IdleTTL)
	}
	return *sess, nil
}

// Destroy removes sessionID. Removing an unknown id is a no-op.
func (m *Manager) Destroy(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Sweep drops all expired sessions and returns how many went.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, sess := range m.sessions {
		if !now.Before(sess.ExpiresAt) || !now.Before(sess.IdleExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.cfg.Logger.Debug("Swept expired sessions", "removed", removed, "remaining", len(m.sessions))
	}
	return removed
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evictOldest removes the least recently seen session. Caller holds
// m.mu. Linear scan is fine at the caps this runs with.
func (m *Manager) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, sess := range m.sessions {
		if oldestID == "" || sess.lastSeen.Before(oldest) {
			oldestID = id
			oldest = sess.lastSeen
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		m.cfg.Logger.Info("Evicted least recently used session", "live", len(m.sessions))
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
