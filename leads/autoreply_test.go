package leads

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func leadByID(t *testing.T, f *fixture, id string) *Lead {
	t.Helper()
	snap, err := f.svc.store.Snapshot(context.Background())
	require.NoError(t, err)
	lead := findLead(snap, id)
	require.NotNil(t, lead)
	return lead
}

func TestAutoReplySent(t *testing.T) {
	f := newFixture(t, nil)

	lead, err := f.svc.SubmitContact(context.Background(), validContact(), meta)
	require.NoError(t, err)

	stored := leadByID(t, f, lead.ID)
	require.Equal(t, "sent", stored.AutoReply.Status)
	require.Equal(t, 1, stored.AutoReply.Attempts)
	require.NotNil(t, stored.AutoReply.LastAttemptAt)
	require.Empty(t, stored.AutoReply.LastError)

	last := stored.Timeline[len(stored.Timeline)-1]
	require.Equal(t, "auto_reply", last.Action)
	require.Equal(t, "system", last.Actor)
	require.Equal(t, "Auto-Reply versendet (mock).", last.Note)

	sent := f.mock.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "lisa@example.com", sent[0].To)
	require.Equal(t, "Danke fuer deine Nachricht | Bembel Racing Team", sent[0].Subject)
	require.Contains(t, sent[0].Text, "Hallo Lisa Beispiel,")
	require.Contains(t, sent[0].Text, "Thema: Mitmachen")
}

func TestAutoReplySponsorMessage(t *testing.T) {
	f := newFixture(t, nil)

	amount := 5000.0
	req := validSponsor()
	req.SelectedAmount = &amount
	_, err := f.svc.SubmitSponsor(context.Background(), req, meta)
	require.NoError(t, err)

	sent := f.mock.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "Danke fuer deine Sponsoring-Anfrage | Bembel Racing Team", sent[0].Subject)
	require.Contains(t, sent[0].Text, "Paket: Gold")
	require.Contains(t, sent[0].Text, "Budget: 5000 EUR")
}

func TestAutoReplyDisabled(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.AutoReplyEnabled = false })

	lead, err := f.svc.SubmitContact(context.Background(), validContact(), meta)
	require.NoError(t, err)

	stored := leadByID(t, f, lead.ID)
	require.Equal(t, "disabled", stored.AutoReply.Status)
	require.Equal(t, "AUTO_REPLY_ENABLED=false", stored.AutoReply.LastError)
	require.Empty(t, f.mock.Sent())
}

func TestAutoReplySkippedForSpam(t *testing.T) {
	f := newFixture(t, nil)

	req := validContact()
	req.Website = "filled"
	lead, err := f.svc.SubmitContact(context.Background(), req, meta)
	require.NoError(t, err)

	stored := leadByID(t, f, lead.ID)
	require.Equal(t, "skipped_spam", stored.AutoReply.Status)
	require.Equal(t, "lead_marked_as_spam", stored.AutoReply.LastError)
	require.Empty(t, f.mock.Sent())
}

func TestAutoReplyProviderFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.Fail(errors.New("HTTP 502"))

	lead, err := f.svc.SubmitContact(context.Background(), validContact(), meta)
	require.NoError(t, err)

	stored := leadByID(t, f, lead.ID)
	require.Equal(t, "failed", stored.AutoReply.Status)
	require.Equal(t, "HTTP 502", stored.AutoReply.LastError)

	last := stored.Timeline[len(stored.Timeline)-1]
	require.Equal(t, "Auto-Reply Status: failed (HTTP 502).", last.Note)
}

func TestAutoReplyQueuedWithoutProviders(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.providers = nil

	lead, err := f.svc.SubmitContact(context.Background(), validContact(), meta)
	require.NoError(t, err)

	stored := leadByID(t, f, lead.ID)
	require.Equal(t, "queued", stored.AutoReply.Status)
	require.Equal(t, "no_delivery_transport_configured", stored.AutoReply.LastError)
}

func TestAutoReplyRepeatDispatchAccumulatesAttempts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	lead, err := f.svc.SubmitContact(ctx, validContact(), meta)
	require.NoError(t, err)

	f.svc.DispatchAutoReply(ctx, lead.ID)
	stored := leadByID(t, f, lead.ID)
	require.Equal(t, 2, stored.AutoReply.Attempts)
	require.Len(t, f.mock.Sent(), 2)
}
