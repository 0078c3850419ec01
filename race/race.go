// Package race implements the live race center: the update feed with
// per-voter reactions, polls with single-choice voting, and the rolling
// status summary.
package race

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"bembel-site/docstore"
	"bembel-site/ratelimit"
	"bembel-site/textutil"
)

// ReactionKeys are the only accepted reaction identifiers.
var ReactionKeys = []string{"fire", "checkered", "wrench"}

var feedCategories = map[string]bool{
	"technik": true, "rennen": true, "team": true,
}

var (
	// ErrItemNotFound marks an unknown feed item id.
	ErrItemNotFound = errors.New("update_not_found")
	// ErrPollNotFound marks an unknown poll id.
	ErrPollNotFound = errors.New("poll_not_found")
	// ErrInvalidReaction marks a reaction outside ReactionKeys.
	ErrInvalidReaction = errors.New("invalid_reaction")
	// ErrInvalidPayload marks a feed item missing title or body.
	ErrInvalidPayload = errors.New("invalid_payload")
)

// ReactionConflictError reports an add on an already-present voter,
// carrying the authoritative item state for client reconciliation.
type ReactionConflictError struct {
	Item *FeedItemView
}

func (*ReactionConflictError) Error() string { return "already_reacted" }

// VoteRejectedError reports a vote that could not be applied. Code is
// one of invalid_option, poll_closed, already_voted. Poll carries the
// authoritative state when known.
type VoteRejectedError struct {
	Poll             *PollView
	Code             string
	SelectedOptionID string
}

func (e *VoteRejectedError) Error() string { return e.Code }

// Document is the persisted race-center store.
type Document struct {
	Version int         `json:"version"`
	Summary Summary     `json:"summary"`
	Feed    []*FeedItem `json:"feed"`
	Polls   []*Poll     `json:"polls"`
}

// Summary is the rolling status block shown above the feed.
type Summary struct {
	State         string     `json:"state"`
	NextMilestone string     `json:"nextMilestone"`
	LastUpdateAt  *time.Time `json:"lastUpdateAt"`
}

// FeedItem is one update. Reactions and ReactionVoters are always
// mutated together so the counter equals the voter-set size.
type FeedItem struct {
	ID             string              `json:"id"`
	Category       string              `json:"category"`
	Title          string              `json:"title"`
	Body           string              `json:"body"`
	At             time.Time           `json:"at"`
	CreatedAt      time.Time           `json:"createdAt"`
	Reactions      map[string]int      `json:"reactions"`
	ReactionVoters map[string][]string `json:"reactionVoters"`
}

// Poll is one audience poll. Each voter hash holds at most one choice;
// an option's count equals the number of hashes mapped to it.
type Poll struct {
	ID           string            `json:"id"`
	Question     string            `json:"question"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	ExpiresAt    *time.Time        `json:"expiresAt"`
	Options      []*Option         `json:"options"`
	VoterHashes  []string          `json:"voterHashes"`
	VotesByVoter map[string]string `json:"votesByVoter"`
}

// Option is one poll choice.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Votes int    `json:"votes"`
}

// Config tunes the race center.
type Config struct {
	HashSalt      string
	MaxFeedItems  int
	ReactionLimit ratelimit.Limit
	VoteLimit     ratelimit.Limit
}

// Service wires the race center's collaborators together.
type Service struct {
	store   *docstore.Store[Document]
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService creates the race center service.
func NewService(store *docstore.Store[Document], limiter *ratelimit.Limiter, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// NewDocument returns an empty race-center store.
func NewDocument() *Document {
	return &Document{
		Version: 1,
		Summary: Summary{
			State:         "In Vorbereitung",
			NextMilestone: "Naechster Meilenstein folgt",
		},
		Feed:  []*FeedItem{},
		Polls: []*Poll{},
	}
}

// Normalize repairs a loaded document in place: malformed entries are
// dropped, voter sets deduped, counters rebuilt from the voter sets,
// and the historical seed data stripped.
func Normalize(doc *Document) {
	doc.Version = 1
	stripSeedData(doc)

	if doc.Summary.State == "" {
		doc.Summary.State = "In Vorbereitung"
	}
	if doc.Summary.NextMilestone == "" {
		doc.Summary.NextMilestone = "Naechster Meilenstein folgt"
	}

	feed := make([]*FeedItem, 0, len(doc.Feed))
	for _, item := range doc.Feed {
		if item == nil || item.ID == "" || item.Title == "" || item.Body == "" {
			continue
		}
		if !feedCategories[item.Category] {
			item.Category = "rennen"
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = item.At
		}

		voters := make(map[string][]string, len(ReactionKeys))
		counts := make(map[string]int, len(ReactionKeys))
		for _, key := range ReactionKeys {
			seen := make(map[string]bool)
			var deduped []string
			for _, hash := range item.ReactionVoters[key] {
				if hash == "" || seen[hash] {
					continue
				}
				seen[hash] = true
				deduped = append(deduped, hash)
			}
			if deduped == nil {
				deduped = []string{}
			}
			voters[key] = deduped
			counts[key] = len(deduped)
		}
		item.ReactionVoters = voters
		item.Reactions = counts
		feed = append(feed, item)
	}
	sort.SliceStable(feed, func(i, j int) bool { return feed[i].At.Before(feed[j].At) })
	doc.Feed = feed

	polls := make([]*Poll, 0, len(doc.Polls))
	for _, poll := range doc.Polls {
		if poll == nil || poll.ID == "" || poll.Question == "" || len(poll.Options) < 2 {
			continue
		}
		if poll.Status != "closed" {
			poll.Status = "active"
		}
		if poll.UpdatedAt.IsZero() {
			poll.UpdatedAt = poll.CreatedAt
		}

		optionIDs := make(map[string]bool, len(poll.Options))
		for _, option := range poll.Options {
			option.ID = strings.ToLower(option.ID)
			optionIDs[option.ID] = true
		}

		votes := make(map[string]string, len(poll.VotesByVoter))
		for hash, optionID := range poll.VotesByVoter {
			optionID = strings.ToLower(optionID)
			if hash == "" || !optionIDs[optionID] {
				continue
			}
			votes[hash] = optionID
		}
		poll.VotesByVoter = votes

		poll.VoterHashes = make([]string, 0, len(votes))
		for hash := range votes {
			poll.VoterHashes = append(poll.VoterHashes, hash)
		}
		sort.Strings(poll.VoterHashes)

		for _, option := range poll.Options {
			count := 0
			for _, optionID := range votes {
				if optionID == option.ID {
					count++
				}
			}
			option.Votes = count
		}

		polls = append(polls, poll)
	}
	sort.SliceStable(polls, func(i, j int) bool { return polls[i].CreatedAt.After(polls[j].CreatedAt) })
	doc.Polls = polls
}

// stripSeedData removes the demo content the site originally shipped
// with, so a store that still carries it starts clean.
func stripSeedData(doc *Document) {
	seedTitles := map[string]bool{
		"Setup-Check abgeschlossen": true,
		"Pit-Ablauf geprobt":        true,
		"Anreisefenster fix":        true,
	}
	const seedQuestion = "Was soll im naechsten Setup-Update im Fokus stehen?"

	stripFeed := len(doc.Feed) > 0 && len(doc.Feed) <= 3
	for _, item := range doc.Feed {
		if item == nil || !seedTitles[textutil.SingleLine(item.Title, 120)] {
			stripFeed = false
			break
		}
	}
	stripPolls := len(doc.Polls) > 0 && len(doc.Polls) <= 2
	for _, poll := range doc.Polls {
		if poll == nil || textutil.SingleLine(poll.Question, 240) != seedQuestion {
			stripPolls = false
			break
		}
	}

	if stripFeed {
		doc.Feed = []*FeedItem{}
		doc.Summary.LastUpdateAt = nil
	}
	if stripPolls {
		doc.Polls = []*Poll{}
	}
	if stripFeed || stripPolls {
		if textutil.SingleLine(doc.Summary.NextMilestone, 180) == "Transport, Pit-Setup und Abnahme" {
			doc.Summary.NextMilestone = "Naechster Meilenstein folgt"
		}
	}
}

func (p *Poll) active(now time.Time) bool {
	if p.Status != "active" {
		return false
	}
	if p.ExpiresAt == nil {
		return true
	}
	return p.ExpiresAt.After(now)
}

func findItem(doc *Document, id string) *FeedItem {
	for _, item := range doc.Feed {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func findPoll(doc *Document, id string) *Poll {
	for _, poll := range doc.Polls {
		if poll.ID == id {
			return poll
		}
	}
	return nil
}

func (p *Poll) option(id string) *Option {
	for _, option := range p.Options {
		if option.ID == id {
			return option
		}
	}
	return nil
}
