package race

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"bembel-site/docstore"
	"bembel-site/identity"
	"bembel-site/metrics"
	"bembel-site/ratelimit"
	"bembel-site/textutil"
)

// FeedItemView is the public projection of a feed item. Voter hashes
// never leave the store.
type FeedItemView struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	At        time.Time      `json:"at"`
	CreatedAt time.Time      `json:"createdAt"`
	Reactions map[string]int `json:"reactions"`
}

// SummaryView is the public status block.
type SummaryView struct {
	State         string          `json:"state"`
	NextMilestone string          `json:"nextMilestone"`
	LastUpdateAt  *time.Time      `json:"lastUpdateAt"`
	LastUpdate    *LastUpdateView `json:"lastUpdate"`
}

// LastUpdateView points at the newest feed item.
type LastUpdateView struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	At       time.Time `json:"at"`
}

// CreateFeedRequest is the admin payload for publishing an update,
// optionally with an attached poll and summary changes.
type CreateFeedRequest struct {
	Category      string   `json:"category"`
	Title         string   `json:"title"`
	Body          string   `json:"body"`
	At            string   `json:"at"`
	State         string   `json:"state"`
	NextMilestone string   `json:"nextMilestone"`
	PollQuestion  string   `json:"pollQuestion"`
	PollOptions   []string `json:"pollOptions"`
}

// CreateFeedResult is what a successful publish returns.
type CreateFeedResult struct {
	Item    FeedItemView `json:"item"`
	Poll    *PollView    `json:"poll"`
	Summary Summary      `json:"summary"`
}

// React applies a reaction mutation for one voter. action is add,
// remove, or toggle; anything else falls back to toggle. The returned
// bool reports whether the voter holds the reaction afterwards.
func (s *Service) React(ctx context.Context, itemID, reaction, voterID, action, clientIP string) (*FeedItemView, bool, error) {
	if res := s.limiter.Check("react:"+clientIP, s.cfg.ReactionLimit); !res.Allowed {
		metrics.RateLimited.WithLabelValues("reaction").Inc()
		return nil, false, &ratelimit.BlockedError{RetryAfter: res.RetryAfter}
	}

	reaction = strings.ToLower(textutil.SingleLine(reaction, 40))
	if !validReaction(reaction) {
		return nil, false, ErrInvalidReaction
	}
	if action != "add" && action != "remove" {
		action = "toggle"
	}

	voterIdentity := textutil.SingleLine(voterID, 120)
	if voterIdentity == "" {
		voterIdentity = clientIP
	}
	voterHash := identity.Hash(itemID+"|"+reaction+"|"+voterIdentity, s.cfg.HashSalt)

	type outcome struct {
		view    FeedItemView
		reacted bool
		present bool
	}
	result, err := docstore.Apply(ctx, s.store, func(doc *Document) (outcome, error) {
		item := findItem(doc, itemID)
		if item == nil {
			return outcome{}, ErrItemNotFound
		}

		voters := item.ReactionVoters[reaction]
		idx := -1
		for i, hash := range voters {
			if hash == voterHash {
				idx = i
				break
			}
		}
		present := idx != -1

		switch {
		case action == "add" && present:
			return outcome{view: projectItem(item), reacted: true, present: true}, nil
		case action == "remove" && !present:
			return outcome{view: projectItem(item), reacted: false}, nil
		case present:
			item.ReactionVoters[reaction] = append(voters[:idx], voters[idx+1:]...)
			item.Reactions[reaction] = len(item.ReactionVoters[reaction])
			return outcome{view: projectItem(item), reacted: false}, nil
		default:
			item.ReactionVoters[reaction] = append(voters, voterHash)
			item.Reactions[reaction] = len(item.ReactionVoters[reaction])
			return outcome{view: projectItem(item), reacted: true}, nil
		}
	})
	if err != nil {
		return nil, false, err
	}

	if action == "add" && result.present {
		return nil, true, &ReactionConflictError{Item: &result.view}
	}

	if result.reacted {
		metrics.Reactions.WithLabelValues("added").Inc()
	} else {
		metrics.Reactions.WithLabelValues("removed").Inc()
	}
	return &result.view, result.reacted, nil
}

// CreateFeedItem publishes an update, updates the summary, and
// optionally opens a poll.
func (s *Service) CreateFeedItem(ctx context.Context, req CreateFeedRequest) (*CreateFeedResult, error) {
	title := textutil.SingleLine(req.Title, 120)
	body := textutil.Multiline(req.Body, 2_000)
	if title == "" || body == "" {
		return nil, ErrInvalidPayload
	}

	category := strings.ToLower(textutil.SingleLine(req.Category, 20))
	if !feedCategories[category] {
		category = "rennen"
	}

	now := s.now().UTC()
	at := now
	if parsed, err := time.Parse(time.RFC3339, textutil.SingleLine(req.At, 80)); err == nil {
		at = parsed.UTC()
	}

	state := textutil.SingleLine(req.State, 80)
	nextMilestone := textutil.SingleLine(req.NextMilestone, 180)
	pollQuestion := textutil.SingleLine(req.PollQuestion, 240)
	pollLabels := make([]string, 0, len(req.PollOptions))
	for _, label := range req.PollOptions {
		cleaned := textutil.SingleLine(label, 120)
		if cleaned == "" {
			continue
		}
		pollLabels = append(pollLabels, cleaned)
		if len(pollLabels) == 6 {
			break
		}
	}

	result, err := docstore.Apply(ctx, s.store, func(doc *Document) (CreateFeedResult, error) {
		item := &FeedItem{
			ID:             uuid.NewString(),
			Category:       category,
			Title:          title,
			Body:           body,
			At:             at,
			CreatedAt:      now,
			Reactions:      emptyReactions(),
			ReactionVoters: map[string][]string{},
		}
		doc.Feed = append(doc.Feed, item)
		if excess := len(doc.Feed) - s.cfg.MaxFeedItems; excess > 0 {
			doc.Feed = doc.Feed[excess:]
		}

		itemAt := item.At
		doc.Summary.LastUpdateAt = &itemAt
		if state != "" {
			doc.Summary.State = state
		}
		if nextMilestone != "" {
			doc.Summary.NextMilestone = nextMilestone
		}

		var pollView *PollView
		if poll := buildPoll(pollQuestion, pollLabels, now); poll != nil {
			doc.Polls = append([]*Poll{poll}, doc.Polls...)
			if len(doc.Polls) > 30 {
				doc.Polls = doc.Polls[:30]
			}
			view := projectPoll(poll)
			pollView = &view
		}

		return CreateFeedResult{Item: projectItem(item), Poll: pollView, Summary: doc.Summary}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Feed item published",
		"item_id", result.Item.ID,
		"category", result.Item.Category,
		"with_poll", result.Poll != nil)
	return &result, nil
}

// Feed returns up to limit items after since, oldest first.
func (s *Service) Feed(ctx context.Context, since *time.Time, limit int, category string) ([]FeedItemView, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	limit = textutil.ClampInt(limit, 1, 100)
	category = strings.ToLower(textutil.SingleLine(category, 20))
	if !feedCategories[category] {
		category = ""
	}

	var filtered []*FeedItem
	for _, item := range snap.Feed {
		if category != "" && item.Category != category {
			continue
		}
		if since != nil && !item.At.After(*since) {
			continue
		}
		filtered = append(filtered, item)
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	views := make([]FeedItemView, 0, len(filtered))
	for _, item := range filtered {
		views = append(views, projectItem(item))
	}
	return views, nil
}

// Summary returns the status block plus a pointer at the newest item.
func (s *Service) Summary(ctx context.Context) (*SummaryView, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	view := &SummaryView{
		State:         snap.Summary.State,
		NextMilestone: snap.Summary.NextMilestone,
		LastUpdateAt:  snap.Summary.LastUpdateAt,
	}
	if len(snap.Feed) > 0 {
		latest := snap.Feed[len(snap.Feed)-1]
		view.LastUpdate = &LastUpdateView{
			ID:       latest.ID,
			Title:    latest.Title,
			Category: latest.Category,
			At:       latest.At,
		}
		if view.LastUpdateAt == nil {
			at := latest.At
			view.LastUpdateAt = &at
		}
	}
	return view, nil
}

func validReaction(key string) bool {
	for _, known := range ReactionKeys {
		if key == known {
			return true
		}
	}
	return false
}

func emptyReactions() map[string]int {
	counts := make(map[string]int, len(ReactionKeys))
	for _, key := range ReactionKeys {
		counts[key] = 0
	}
	return counts
}

func projectItem(item *FeedItem) FeedItemView {
	counts := make(map[string]int, len(ReactionKeys))
	for _, key := range ReactionKeys {
		counts[key] = item.Reactions[key]
	}
	return FeedItemView{
		ID:        item.ID,
		Category:  item.Category,
		Title:     item.Title,
		Body:      item.Body,
		At:        item.At,
		CreatedAt: item.CreatedAt,
		Reactions: counts,
	}
}
