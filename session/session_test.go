package session

import (
	"errors"
	"testing"
	"time"
)

func testManager(cfg Config, start time.Time) (*Manager, *time.Time) {
	clock := start
	m := NewManager(cfg)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func defaultConfig() Config {
	return Config{
		TTL:          12 * time.Hour,
		IdleTTL:      2 * time.Hour,
		MaxSessions:  50,
		BindIdentity: true,
		Salt:         "test-salt",
	}
}

var client = Context{IP: "203.0.113.9", UserAgent: "Mozilla/5.0 test"}

func rejectReason(t *testing.T, err error) string {
	t.Helper()
	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("error = %v, want *RejectError", err)
	}
	return reject.Reason
}

func TestCreateAndValidate(t *testing.T) {
	m, _ := testManager(defaultConfig(), time.Unix(1000, 0))

	created, err := m.Create(client)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(created.ID) != 64 || len(created.CSRFToken) != 64 {
		t.Fatalf("token lengths = %d/%d, want 64/64", len(created.ID), len(created.CSRFToken))
	}
	if created.ID == created.CSRFToken {
		t.Fatal("session id and csrf token are identical")
	}

	got, err := m.Validate(created.ID, client, true)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.CSRFToken != created.CSRFToken {
		t.Error("Validate() returned a different csrf token")
	}
}

func TestValidateRejections(t *testing.T) {
	m, _ := testManager(defaultConfig(), time.Unix(1000, 0))
	created, err := m.Create(client)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name       string
		sessionID  string
		client     Context
		wantReason string
	}{
		{
			name:       "empty id",
			sessionID:  "",
			client:     client,
			wantReason: ReasonMissingCookie,
		},
		{
			name:       "unknown id",
			sessionID:  "deadbeef",
			client:     client,
			wantReason: ReasonUnknownSession,
		},
		{
			name:       "wrong ip",
			sessionID:  created.ID,
			client:     Context{IP: "198.51.100.1", UserAgent: client.UserAgent},
			wantReason: ReasonIPMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.sessionID, tt.client, false)
			if got := rejectReason(t, err); got != tt.wantReason {
				t.Errorf("reason = %q, want %q", got, tt.wantReason)
			}
		})
	}
}

func TestUserAgentMismatchDestroysSession(t *testing.T) {
	m, _ := testManager(defaultConfig(), time.Unix(1000, 0))
	created, _ := m.Create(client)

	other := Context{IP: client.IP, UserAgent: "curl/8.0"}
	_, err := m.Validate(created.ID, other, false)
	if got := rejectReason(t, err); got != ReasonUAMismatch {
		t.Fatalf("reason = %q, want %q", got, ReasonUAMismatch)
	}

	// The session is gone even for the original client.
	_, err = m.Validate(created.ID, client, false)
	if got := rejectReason(t, err); got != ReasonUnknownSession {
		t.Errorf("reason after mismatch = %q, want %q", got, ReasonUnknownSession)
	}
}

func TestIdentityBindingDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.BindIdentity = false
	m, _ := testManager(cfg, time.Unix(1000, 0))
	created, _ := m.Create(client)

	other := Context{IP: "198.51.100.1", UserAgent: "curl/8.0"}
	if _, err := m.Validate(created.ID, other, false); err != nil {
		t.Errorf("Validate() with binding disabled error = %v", err)
	}
}

func TestAbsoluteExpiry(t *testing.T) {
	m, clock := testManager(defaultConfig(), time.Unix(1000, 0))
	created, _ := m.Create(client)

	// Keep touching so idle expiry never fires, absolute still wins.
	for range 13 {
		*clock = clock.Add(time.Hour)
		_, err := m.Validate(created.ID, client, true)
		if clock.Sub(time.Unix(1000, 0)) < 12*time.Hour {
			if err != nil {
				t.Fatalf("Validate() at %s error = %v", clock, err)
			}
			continue
		}
		if got := rejectReason(t, err); got != ReasonExpiredSession {
			t.Fatalf("reason past absolute TTL = %q, want %q", got, ReasonExpiredSession)
		}
	}
}

func TestIdleExpiry(t *testing.T) {
	m, clock := testManager(defaultConfig(), time.Unix(1000, 0))
	created, _ := m.Create(client)

	*clock = clock.Add(2*time.Hour + time.Minute)
	_, err := m.Validate(created.ID, client, true)
	if got := rejectReason(t, err); got != ReasonExpiredSession {
		t.Fatalf("reason after idle gap = %q, want %q", got, ReasonExpiredSession)
	}
}

func TestExpiryBoundaryIsExclusive(t *testing.T) {
	m, clock := testManager(defaultConfig(), time.Unix(1000, 0))
	created, _ := m.Create(client)

	// Exactly at the idle deadline the session is already expired.
	*clock = clock.Add(2 * time.Hour)
	_, err := m.Validate(created.ID, client, false)
	if got := rejectReason(t, err); got != ReasonExpiredSession {
		t.Fatalf("reason at idle deadline = %q, want %q", got, ReasonExpiredSession)
	}

	// Same for the absolute deadline, idle touched along the way.
	created, _ = m.Create(client)
	for range 11 {
		*clock = clock.Add(time.Hour)
		if _, err := m.Validate(created.ID, client, true); err != nil {
			t.Fatalf("Validate() at %s error = %v", clock, err)
		}
	}
	*clock = clock.Add(time.Hour)
	_, err = m.Validate(created.ID, client, true)
	if got := rejectReason(t, err); got != ReasonExpiredSession {
		t.Errorf("reason at absolute deadline = %q, want %q", got, ReasonExpiredSession)
	}
}

func TestTouchExtendsIdleOnly(t *testing.T) {
	m, clock := testManager(defaultConfig(), time.Unix(1000, 0))
	created, _ := m.Create(client)

	*clock = clock.Add(90 * time.Minute)
	if _, err := m.Validate(created.ID, client, true); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	// Another 90 minutes is fine because the last touch reset idle.
	*clock = clock.Add(90 * time.Minute)
	if _, err := m.Validate(created.ID, client, true); err != nil {
		t.Errorf("Validate() after touch error = %v", err)
	}
}

func TestValidateWithoutTouchDoesNotExtend(t *testing.T) {
	m, clock := testManager(defaultConfig(), time.Unix(1000, 0))
	created, _ := m.Create(client)

	*clock = clock.Add(90 * time.Minute)
	if _, err := m.Validate(created.ID, client, false); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	*clock = clock.Add(31 * time.Minute)
	_, err := m.Validate(created.ID, client, false)
	if got := rejectReason(t, err); got != ReasonExpiredSession {
		t.Errorf("reason = %q, want %q", got, ReasonExpiredSession)
	}
}

func TestMaxSessionsEvictsLRU(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxSessions = 2
	cfg.BindIdentity = false
	m, clock := testManager(cfg, time.Unix(1000, 0))

	first, _ := m.Create(client)
	*clock = clock.Add(time.Minute)
	second, _ := m.Create(client)

	// Touch the first so the second becomes the eviction candidate.
	*clock = clock.Add(time.Minute)
	if _, err := m.Validate(first.ID, client, true); err != nil {
		t.Fatalf("Validate(first) error = %v", err)
	}

	*clock = clock.Add(time.Minute)
	third, _ := m.Create(client)

	if m.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", m.Count())
	}
	if _, err := m.Validate(second.ID, client, false); err == nil {
		t.Error("second session survived eviction, want evicted")
	}
	if _, err := m.Validate(first.ID, client, false); err != nil {
		t.Errorf("first session evicted, want kept: %v", err)
	}
	if _, err := m.Validate(third.ID, client, false); err != nil {
		t.Errorf("third session missing: %v", err)
	}
}

func TestDestroy(t *testing.T) {
	m, _ := testManager(defaultConfig(), time.Unix(1000, 0))
	created, _ := m.Create(client)

	m.Destroy(created.ID)
	m.Destroy(created.ID) // idempotent

	_, err := m.Validate(created.ID, client, false)
	if got := rejectReason(t, err); got != ReasonUnknownSession {
		t.Errorf("reason = %q, want %q", got, ReasonUnknownSession)
	}
}

func TestSweep(t *testing.T) {
	m, clock := testManager(defaultConfig(), time.Unix(1000, 0))
	m.Create(client)
	m.Create(client)

	*clock = clock.Add(time.Hour)
	fresh, _ := m.Create(client)

	*clock = clock.Add(90 * time.Minute)
	if removed := m.Sweep(); removed != 2 {
		t.Fatalf("Sweep() = %d, want 2", removed)
	}
	if _, err := m.Validate(fresh.ID, client, false); err != nil {
		t.Errorf("fresh session swept: %v", err)
	}
}
