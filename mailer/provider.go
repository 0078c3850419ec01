// Package mailer delivers auto-reply emails through pluggable
// transports and keeps an append-only audit log of every attempt.
package mailer

import "context"

// Message is one outbound auto-reply.
type Message struct {
	LeadID  string
	To      string
	From    string
	ReplyTo string
	Subject string
	Text    string
}

// Provider defines the interface for delivery transports.
type Provider interface {
	// Send delivers msg or returns an error after exhausting retries.
	Send(ctx context.Context, msg Message) error
	// Name identifies the transport in logs and audit records.
	Name() string
}
