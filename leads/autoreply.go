package leads

import (
	"context"
	"fmt"
	"strings"

	"bembel-site/mailer"
	"bembel-site/metrics"
	"bembel-site/textutil"
)

// DispatchAutoReply resolves and records the auto-reply for one lead.
// Normally scheduled in the background right after a submission; safe
// to call again for the same lead (attempts accumulate).
func (s *Service) DispatchAutoReply(ctx context.Context, leadID string) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("Auto-reply snapshot failed", "lead_id", leadID, "error", err)
		return
	}
	lead := findLead(snap, leadID)
	if lead == nil {
		return
	}

	if !s.cfg.AutoReplyEnabled {
		s.markAutoReply(ctx, leadID, "disabled", "AUTO_REPLY_ENABLED=false", "Auto-Reply deaktiviert.")
		return
	}
	if lead.Status == "spam" {
		s.markAutoReply(ctx, leadID, "skipped_spam", "lead_marked_as_spam", "Auto-Reply wegen Spam-Flag uebersprungen.")
		return
	}

	recipient := strings.ToLower(textutil.SingleLine(lead.Contact.Email, 220))
	if !textutil.ValidEmail(recipient) {
		s.markAutoReply(ctx, leadID, "failed", "invalid_recipient", "Auto-Reply fehlgeschlagen: Empfaengeradresse ungueltig.")
		return
	}

	subject, text := buildAutoReply(lead)
	msg := mailer.Message{
		LeadID:  leadID,
		To:      recipient,
		From:    s.cfg.From,
		ReplyTo: s.cfg.ReplyTo,
		Subject: subject,
		Text:    text,
	}
	status, transport, errText := s.deliver(ctx, msg)

	note := fmt.Sprintf("Auto-Reply Status: %s.", status)
	switch {
	case status == "sent":
		note = fmt.Sprintf("Auto-Reply versendet (%s).", transport)
	case errText != "":
		note = fmt.Sprintf("Auto-Reply Status: %s (%s).", status, errText)
	}
	s.markAutoReply(ctx, leadID, status, errText, note)
}

// deliver walks the provider chain and returns the final outcome. Every
// attempt lands in the outbox log.
func (s *Service) deliver(ctx context.Context, msg mailer.Message) (status, transport, errText string) {
	now := s.now().UTC()

	for _, provider := range s.providers {
		err := provider.Send(ctx, msg)
		if err == nil {
			s.outbox.Append(mailer.Record{
				At: now, LeadID: msg.LeadID, To: msg.To, Subject: msg.Subject,
				Status: "sent", Transport: provider.Name(),
			})
			return "sent", provider.Name(), ""
		}

		s.logger.Warn("Auto-reply delivery failed",
			"lead_id", msg.LeadID, "transport", provider.Name(), "error", err)
		s.outbox.Append(mailer.Record{
			At: now, LeadID: msg.LeadID, To: msg.To, Subject: msg.Subject,
			Status: "failed", Transport: provider.Name(), Error: textutil.Sanitize(err.Error()),
		})
		status, transport, errText = "failed", provider.Name(), textutil.Sanitize(err.Error())
	}

	if len(s.providers) == 0 {
		s.outbox.Append(mailer.Record{
			At: now, LeadID: msg.LeadID, To: msg.To, Subject: msg.Subject,
			Status: "queued", Transport: "log_only", Text: msg.Text,
		})
		return "queued", "log_only", "no_delivery_transport_configured"
	}
	return status, transport, errText
}

// markAutoReply records a dispatch outcome on the lead.
func (s *Service) markAutoReply(ctx context.Context, leadID, status, errText, note string) {
	err := s.store.Mutate(ctx, func(doc *Document) error {
		lead := findLead(doc, leadID)
		if lead == nil {
			return nil
		}

		now := s.now().UTC()
		lead.AutoReply.Status = status
		lead.AutoReply.Attempts++
		lead.AutoReply.LastAttemptAt = &now
		lead.AutoReply.LastError = errText
		lead.UpdatedAt = now
		lead.Timeline = append(lead.Timeline, TimelineEntry{
			At: now, Actor: "system", Action: "auto_reply", Note: note,
		})
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to record auto-reply state", "lead_id", leadID, "error", err)
		return
	}
	metrics.AutoReplies.WithLabelValues(status).Inc()
}

// buildAutoReply renders the confirmation mail for a lead.
func buildAutoReply(lead *Lead) (subject, text string) {
	name := lead.Contact.Name
	if name == "" {
		name = "Team"
	}
	greeting := fmt.Sprintf("Hallo %s,", name)

	if lead.Type == "sponsor" {
		plan := textutil.SingleLine(lead.Details.SelectedPlan, 40)
		if plan == "" {
			plan = "-"
		}
		budget := "-"
		if lead.Details.SelectedAmount > 0 {
			budget = fmt.Sprintf("%d EUR", lead.Details.SelectedAmount)
		}
		text = strings.Join([]string{
			greeting,
			"",
			"danke fuer deine Sponsoring-Anfrage. Wir haben alle Angaben erhalten.",
			"",
			"Paket: " + plan,
			"Budget: " + budget,
			"",
			"Wir melden uns kurzfristig mit den naechsten Schritten.",
			"",
			"Beste Gruesse",
			"Bembel Racing Team",
		}, "\n")
		return "Danke fuer deine Sponsoring-Anfrage | Bembel Racing Team", text
	}

	topic := textutil.SingleLine(lead.Details.Topic, 60)
	if topic == "" {
		topic = "Kontakt"
	}
	text = strings.Join([]string{
		greeting,
		"",
		"danke fuer deine Nachricht an das Bembel Racing Team.",
		"",
		"Thema: " + topic,
		"",
		"Wir melden uns schnellstmoeglich bei dir.",
		"",
		"Beste Gruesse",
		"Bembel Racing Team",
	}, "\n")
	return "Danke fuer deine Nachricht | Bembel Racing Team", text
}
