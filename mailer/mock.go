package mailer

import (
	"context"
	"log/slog"
	"sync"
)

// MockProvider logs messages instead of sending them and keeps them
// for inspection in tests.
type MockProvider struct {
	mu     sync.Mutex
	logger *slog.Logger
	sent   []Message
	fail   error
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Name identifies the transport.
func (*MockProvider) Name() string { return "mock" }

// Send records the message, or returns the configured failure.
func (m *MockProvider) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	m.logger.Info("MOCK EMAIL",
		"to", msg.To,
		"subject", msg.Subject,
		"body_length", len(msg.Text))
	return nil
}

// Fail makes every subsequent Send return err.
func (m *MockProvider) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Sent returns a copy of the delivered messages.
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
