package leads

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"

	"bembel-site/docstore"
	"bembel-site/identity"
	"bembel-site/metrics"
	"bembel-site/ratelimit"
	"bembel-site/textutil"
)

// ContactRequest is the public contact form payload. The message may
// arrive as either "msg" or "message"; "website" is the honeypot.
type ContactRequest struct {
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Topic         string   `json:"topic"`
	Msg           string   `json:"msg"`
	Message       string   `json:"message"`
	Website       string   `json:"website"`
	PagePath      string   `json:"pagePath"`
	FormStartedAt *float64 `json:"formStartedAt"`
}

// SponsorRequest is the public sponsoring form payload.
type SponsorRequest struct {
	Name           string   `json:"name"`
	Company        string   `json:"company"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone"`
	SelectedPlan   string   `json:"selectedPlan"`
	SelectedAmount *float64 `json:"selectedAmount"`
	StartWindow    string   `json:"startWindow"`
	Interests      []string `json:"interests"`
	Message        string   `json:"message"`
	Website        string   `json:"website"`
	PagePath       string   `json:"pagePath"`
	FormStartedAt  *float64 `json:"formStartedAt"`
}

// normalized is the validated, cleaned submission shared by both forms.
type normalized struct {
	contact       Contact
	details       Details
	honeypot      string
	pagePath      string
	formStartedAt *float64
}

// SubmitContact stores a contact form submission. Returns
// *ratelimit.BlockedError when the per-IP form limit is exhausted and
// ErrValidation on missing required fields.
func (s *Service) SubmitContact(ctx context.Context, req ContactRequest, meta ClientMeta) (*Lead, error) {
	if res := s.limiter.Check("form:contact:"+meta.IP, s.cfg.FormLimit); !res.Allowed {
		metrics.RateLimited.WithLabelValues("form_contact").Inc()
		return nil, &ratelimit.BlockedError{RetryAfter: res.RetryAfter}
	}

	norm, err := s.normalizeContact(req)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, "contact", norm, meta)
}

// SubmitSponsor stores a sponsoring form submission.
func (s *Service) SubmitSponsor(ctx context.Context, req SponsorRequest, meta ClientMeta) (*Lead, error) {
	if res := s.limiter.Check("form:sponsor:"+meta.IP, s.cfg.FormLimit); !res.Allowed {
		metrics.RateLimited.WithLabelValues("form_sponsor").Inc()
		return nil, &ratelimit.BlockedError{RetryAfter: res.RetryAfter}
	}

	norm, err := s.normalizeSponsor(req)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, "sponsor", norm, meta)
}

func (s *Service) normalizeContact(req ContactRequest) (normalized, error) {
	name := textutil.SingleLine(req.Name, 120)
	email := strings.ToLower(textutil.SingleLine(req.Email, 220))
	rawMessage := req.Msg
	if rawMessage == "" {
		rawMessage = req.Message
	}
	message := s.policy.Sanitize(textutil.Multiline(rawMessage, 4_000))

	if name == "" || email == "" || message == "" || !textutil.ValidEmail(email) {
		return normalized{}, ErrValidation
	}

	topic := textutil.SingleLine(req.Topic, 60)
	if !contactTopics[topic] {
		topic = "Sonstiges"
	}

	return normalized{
		contact:       Contact{Name: name, Email: email},
		details:       Details{Topic: topic, Message: message},
		honeypot:      textutil.SingleLine(req.Website, 120),
		pagePath:      textutil.PathHint(req.PagePath),
		formStartedAt: req.FormStartedAt,
	}, nil
}

func (s *Service) normalizeSponsor(req SponsorRequest) (normalized, error) {
	name := textutil.SingleLine(req.Name, 120)
	company := textutil.SingleLine(req.Company, 160)
	email := strings.ToLower(textutil.SingleLine(req.Email, 220))
	message := s.policy.Sanitize(textutil.Multiline(req.Message, 4_000))

	if name == "" || company == "" || email == "" || !textutil.ValidEmail(email) {
		return normalized{}, ErrValidation
	}

	plan := textutil.SingleLine(req.SelectedPlan, 40)
	if !sponsorPlans[plan] {
		plan = "Bronze"
	}

	amount := 300
	if req.SelectedAmount != nil && !math.IsNaN(*req.SelectedAmount) && !math.IsInf(*req.SelectedAmount, 0) {
		amount = textutil.ClampInt(int(math.Round(*req.SelectedAmount)), 300, 500_000)
	}

	startWindow := textutil.SingleLine(req.StartWindow, 80)
	if startWindow == "" {
		startWindow = "Nach Absprache"
	}

	var interests []string
	for _, entry := range req.Interests {
		cleaned := textutil.SingleLine(entry, 80)
		if cleaned == "" {
			continue
		}
		interests = append(interests, cleaned)
		if len(interests) == 10 {
			break
		}
	}

	return normalized{
		contact: Contact{Name: name, Email: email, Company: company, Phone: textutil.SingleLine(req.Phone, 80)},
		details: Details{
			SelectedPlan:   plan,
			SelectedAmount: amount,
			StartWindow:    startWindow,
			Interests:      interests,
			Message:        message,
		},
		honeypot:      textutil.SingleLine(req.Website, 120),
		pagePath:      textutil.PathHint(req.PagePath),
		formStartedAt: req.FormStartedAt,
	}, nil
}

func (s *Service) submit(ctx context.Context, leadType string, norm normalized, meta ClientMeta) (*Lead, error) {
	signals := s.collectSpamSignals(norm)

	lead, err := docstore.Apply(ctx, s.store, func(doc *Document) (*Lead, error) {
		if hasDuplicate(doc.Leads, leadType, norm, s.now()) {
			signals = append(signals, "duplicate_message")
		}

		now := s.now().UTC()
		status := "new"
		note := "Kontaktanfrage eingegangen."
		if leadType == "sponsor" {
			note = "Sponsoring-Anfrage eingegangen."
		}
		if len(signals) > 0 {
			status = "spam"
			note = "Automatisch als Spam markiert."
		}

		created := &Lead{
			ID:        uuid.NewString(),
			Type:      leadType,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
			Contact:   norm.contact,
			Details:   norm.details,
			Source: Source{
				Path:      norm.pagePath,
				IPHash:    identity.Hash(meta.IP, s.cfg.HashSalt),
				UserAgent: textutil.SingleLine(meta.UserAgent, 240),
				Referer:   textutil.SingleLine(meta.Referer, 240),
			},
			SpamSignals: signals,
			AutoReply:   AutoReply{Status: "pending"},
			Timeline: []TimelineEntry{
				{At: now, Actor: "system", Action: "created", Note: note},
			},
		}

		doc.Leads = append(doc.Leads, created)
		if excess := len(doc.Leads) - s.cfg.MaxStored; excess > 0 {
			doc.Leads = doc.Leads[excess:]
		}
		// Hand the caller a copy so nothing outside the store lock can
		// alias the live document.
		return created.detach(), nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LeadsSubmitted.WithLabelValues(leadType, lead.Status).Inc()
	s.logger.Info("Lead stored",
		"lead_id", lead.ID,
		"type", leadType,
		"status", lead.Status,
		"spam_signals", len(lead.SpamSignals))

	id := lead.ID
	s.spawn(func() { s.DispatchAutoReply(context.Background(), id) })
	return lead, nil
}
