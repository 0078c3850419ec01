// Package leads implements the lead funnel: form intake with spam
// scoring, auto-reply dispatch, and the admin view over collected
// leads.
package leads

import (
	"errors"
	"log/slog"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"bembel-site/docstore"
	"bembel-site/mailer"
	"bembel-site/ratelimit"
)

// Lead lifecycle statuses.
var validStatuses = map[string]bool{
	"new": true, "qualified": true, "contacted": true,
	"won": true, "lost": true, "spam": true,
}

var (
	contactTopics = map[string]bool{
		"Sponsoring": true, "Mitmachen": true, "Presse": true, "Sonstiges": true,
	}
	sponsorPlans = map[string]bool{
		"Bronze": true, "Silber": true, "Gold": true,
	}
)

var (
	// ErrValidation marks a payload missing required fields.
	ErrValidation = errors.New("invalid_payload")
	// ErrNotFound marks an unknown lead id.
	ErrNotFound = errors.New("not_found")
	// ErrInvalidStatus marks a status outside the lifecycle enum.
	ErrInvalidStatus = errors.New("invalid_status")
)

// Document is the persisted lead store.
type Document struct {
	Version int     `json:"version"`
	Leads   []*Lead `json:"leads"`
}

// Lead is one collected inquiry.
type Lead struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Contact     Contact         `json:"contact"`
	Details     Details         `json:"details"`
	Source      Source          `json:"source"`
	SpamSignals []string        `json:"spamSignals"`
	AutoReply   AutoReply       `json:"autoReply"`
	Timeline    []TimelineEntry `json:"timeline"`
}

// Contact holds the submitter's identity fields.
type Contact struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
}

// Details holds the form-specific payload. Contact forms fill topic
// and message; sponsor forms fill the plan fields.
type Details struct {
	Topic          string   `json:"topic,omitempty"`
	Message        string   `json:"message,omitempty"`
	SelectedPlan   string   `json:"selectedPlan,omitempty"`
	SelectedAmount int      `json:"selectedAmount,omitempty"`
	StartWindow    string   `json:"startWindow,omitempty"`
	Interests      []string `json:"interests,omitempty"`
}

// Source records where the submission came from. The raw client IP is
// never stored, only its salted hash.
type Source struct {
	Path      string `json:"path"`
	IPHash    string `json:"ipHash"`
	UserAgent string `json:"userAgent"`
	Referer   string `json:"referer"`
}

// AutoReply tracks the delivery state of the automatic confirmation.
type AutoReply struct {
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt"`
	LastError     string     `json:"lastError"`
}

// TimelineEntry is one audit entry on a lead.
type TimelineEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Note   string    `json:"note"`
}

// ClientMeta carries per-request client attributes into a submission.
type ClientMeta struct {
	IP        string
	UserAgent string
	Referer   string
}

// Config tunes the funnel.
type Config struct {
	HashSalt         string
	MinFill          time.Duration
	MaxFormAge       time.Duration
	FormLimit        ratelimit.Limit
	MaxStored        int
	AutoReplyEnabled bool
	From             string
	ReplyTo          string
}

// Service wires the funnel's collaborators together.
type Service struct {
	store     *docstore.Store[Document]
	limiter   *ratelimit.Limiter
	providers []mailer.Provider
	outbox    *mailer.Outbox
	logger    *slog.Logger
	policy    *bluemonday.Policy
	cfg       Config
	now       func() time.Time
	spawn     func(func())
}

// NewService creates the lead funnel service. providers are tried in
// order for auto-reply delivery; an empty list leaves replies queued in
// the outbox log.
func NewService(store *docstore.Store[Document], limiter *ratelimit.Limiter, providers []mailer.Provider, outbox *mailer.Outbox, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		limiter:   limiter,
		providers: providers,
		outbox:    outbox,
		cfg:       cfg,
		logger:    logger,
		policy:    bluemonday.StrictPolicy(),
		now:       time.Now,
		spawn:     func(f func()) { go f() },
	}
}

// NewDocument returns an empty lead store.
func NewDocument() *Document {
	return &Document{Version: 1, Leads: []*Lead{}}
}

// Normalize repairs a loaded document in place.
func Normalize(doc *Document) {
	doc.Version = 1
	if doc.Leads == nil {
		doc.Leads = []*Lead{}
	}
	for _, lead := range doc.Leads {
		if lead.SpamSignals == nil {
			lead.SpamSignals = []string{}
		}
		if lead.Timeline == nil {
			lead.Timeline = []TimelineEntry{}
		}
		if lead.AutoReply.Status == "" {
			lead.AutoReply.Status = "pending"
		}
	}
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s string) bool {
	return validStatuses[s]
}

// detach returns a deep copy of the lead, safe to hand out after the
// store lock is released.
func (l *Lead) detach() *Lead {
	out := *l
	out.SpamSignals = append([]string(nil), l.SpamSignals...)
	out.Timeline = append([]TimelineEntry(nil), l.Timeline...)
	if l.Details.Interests != nil {
		out.Details.Interests = append([]string(nil), l.Details.Interests...)
	}
	if l.AutoReply.LastAttemptAt != nil {
		at := *l.AutoReply.LastAttemptAt
		out.AutoReply.LastAttemptAt = &at
	}
	return &out
}

func findLead(doc *Document, id string) *Lead {
	for _, lead := range doc.Leads {
		if lead.ID == id {
			return lead
		}
	}
	return nil
}
