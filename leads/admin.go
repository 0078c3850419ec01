package leads

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bembel-site/docstore"
	"bembel-site/textutil"
)

// View is the admin projection of a lead. Details carry every field
// regardless of form type, and the timeline is trimmed to the last 12
// entries.
type View struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	CreatedAt   string          `json:"createdAt"`
	UpdatedAt   string          `json:"updatedAt"`
	Contact     Contact         `json:"contact"`
	Details     ViewDetails     `json:"details"`
	Source      Source          `json:"source"`
	SpamSignals []string        `json:"spamSignals"`
	AutoReply   AutoReply       `json:"autoReply"`
	Timeline    []TimelineEntry `json:"timeline"`
}

// ViewDetails always serializes every detail field.
type ViewDetails struct {
	Topic          string   `json:"topic"`
	Message        string   `json:"message"`
	SelectedPlan   string   `json:"selectedPlan"`
	SelectedAmount int      `json:"selectedAmount"`
	StartWindow    string   `json:"startWindow"`
	Interests      []string `json:"interests"`
}

// Stats aggregates the whole store, not just the filtered page.
type Stats struct {
	Total    int      `json:"total"`
	ByType   ByType   `json:"byType"`
	ByStatus ByStatus `json:"byStatus"`
}

// ByType counts leads per form type.
type ByType struct {
	Contact int `json:"contact"`
	Sponsor int `json:"sponsor"`
}

// ByStatus counts leads per lifecycle status.
type ByStatus struct {
	New       int `json:"new"`
	Qualified int `json:"qualified"`
	Contacted int `json:"contacted"`
	Won       int `json:"won"`
	Lost      int `json:"lost"`
	Spam      int `json:"spam"`
}

// ListOptions filters and pages the admin list.
type ListOptions struct {
	Type   string
	Status string
	Query  string
	Sort   string
	Order  string
	Limit  int
	Offset int
}

// ListResult is one page of leads plus store-wide stats.
type ListResult struct {
	Total  int    `json:"total"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
	Stats  Stats  `json:"stats"`
	Leads  []View `json:"leads"`
}

// List returns the filtered, sorted, paginated admin view.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot leads: %w", err)
	}

	filtered := make([]*Lead, 0, len(snap.Leads))
	query := strings.ToLower(textutil.SingleLine(opts.Query, 120))
	for _, lead := range snap.Leads {
		if opts.Type != "" && lead.Type != opts.Type {
			continue
		}
		if opts.Status != "" && lead.Status != opts.Status {
			continue
		}
		if query != "" && !matchesQuery(lead, query) {
			continue
		}
		filtered = append(filtered, lead)
	}

	sortField := opts.Sort
	if sortField != "updatedAt" {
		sortField = "createdAt"
	}
	ascending := opts.Order == "asc"
	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i].CreatedAt, filtered[j].CreatedAt
		if sortField == "updatedAt" {
			a, b = filtered[i].UpdatedAt, filtered[j].UpdatedAt
		}
		if ascending {
			return a.Before(b)
		}
		return a.After(b)
	})

	limit := textutil.ClampInt(opts.Limit, 1, 500)
	if opts.Limit == 0 {
		limit = 60
	}
	offset := textutil.ClampInt(opts.Offset, 0, 1_000_000)

	page := []View{}
	for i := offset; i < len(filtered) && len(page) < limit; i++ {
		page = append(page, project(filtered[i]))
	}

	return &ListResult{
		Total:  len(filtered),
		Offset: offset,
		Limit:  limit,
		Stats:  buildStats(snap.Leads),
		Leads:  page,
	}, nil
}

// PatchStatus moves a lead through its lifecycle and records the change
// on the timeline.
func (s *Service) PatchStatus(ctx context.Context, leadID, status, note, actor string) (*View, error) {
	status = strings.ToLower(textutil.SingleLine(status, 40))
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}
	note = s.policy.Sanitize(textutil.Multiline(note, 500))
	actor = textutil.SingleLine(actor, 80)
	if actor == "" {
		actor = "admin"
	}

	view, err := docstore.Apply(ctx, s.store, func(doc *Document) (View, error) {
		lead := findLead(doc, leadID)
		if lead == nil {
			return View{}, ErrNotFound
		}

		now := s.now().UTC()
		lead.Status = status
		lead.UpdatedAt = now
		entryNote := note
		if entryNote == "" {
			entryNote = fmt.Sprintf("Status auf '%s' gesetzt.", status)
		}
		lead.Timeline = append(lead.Timeline, TimelineEntry{
			At: now, Actor: actor, Action: "status_change", Note: entryNote,
		})
		return project(lead), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lead status changed", "lead_id", leadID, "status", status, "actor", actor)
	return &view, nil
}

func matchesQuery(lead *Lead, query string) bool {
	parts := []string{
		lead.ID, lead.Type, lead.Status,
		lead.Contact.Name, lead.Contact.Email, lead.Contact.Company, lead.Contact.Phone,
		lead.Details.Topic, lead.Details.SelectedPlan, lead.Details.StartWindow, lead.Details.Message,
	}
	parts = append(parts, lead.Details.Interests...)
	return strings.Contains(strings.ToLower(strings.Join(parts, " ")), query)
}

func buildStats(leadList []*Lead) Stats {
	stats := Stats{Total: len(leadList)}
	for _, lead := range leadList {
		switch lead.Type {
		case "contact":
			stats.ByType.Contact++
		case "sponsor":
			stats.ByType.Sponsor++
		}
		switch lead.Status {
		case "new":
			stats.ByStatus.New++
		case "qualified":
			stats.ByStatus.Qualified++
		case "contacted":
			stats.ByStatus.Contacted++
		case "won":
			stats.ByStatus.Won++
		case "lost":
			stats.ByStatus.Lost++
		case "spam":
			stats.ByStatus.Spam++
		}
	}
	return stats
}

func project(lead *Lead) View {
	timeline := lead.Timeline
	if len(timeline) > 12 {
		timeline = timeline[len(timeline)-12:]
	}
	interests := lead.Details.Interests
	if interests == nil {
		interests = []string{}
	}

	return View{
		ID:        lead.ID,
		Type:      lead.Type,
		Status:    lead.Status,
		CreatedAt: lead.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt: lead.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		Contact:   lead.Contact,
		Details: ViewDetails{
			Topic:          lead.Details.Topic,
			Message:        lead.Details.Message,
			SelectedPlan:   lead.Details.SelectedPlan,
			SelectedAmount: lead.Details.SelectedAmount,
			StartWindow:    lead.Details.StartWindow,
			Interests:      interests,
		},
		Source:      lead.Source,
		SpamSignals: lead.SpamSignals,
		AutoReply:   lead.AutoReply,
		Timeline:    timeline,
	}
}
