package race

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"bembel-site/docstore"
	"bembel-site/identity"
	"bembel-site/metrics"
	"bembel-site/ratelimit"
	"bembel-site/textutil"
)

// PollView is the public projection of a poll: no voter hashes, plus
// the vote total.
type PollView struct {
	ID         string       `json:"id"`
	Question   string       `json:"question"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	ExpiresAt  *time.Time   `json:"expiresAt"`
	TotalVotes int          `json:"totalVotes"`
	Options    []OptionView `json:"options"`
}

// OptionView is one poll choice with its count.
type OptionView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Votes int    `json:"votes"`
}

// Vote applies a vote mutation for one voter. action is vote, remove,
// or toggle; anything else falls back to toggle. A voter holds at most
// one choice per poll: voting for a new option moves the vote. The
// returned string is the voter's selected option afterwards ("" when
// cleared).
func (s *Service) Vote(ctx context.Context, pollID, optionID, voterID, action, clientIP string) (*PollView, string, error) {
	if res := s.limiter.Check("vote:"+clientIP, s.cfg.VoteLimit); !res.Allowed {
		metrics.RateLimited.WithLabelValues("vote").Inc()
		return nil, "", &ratelimit.BlockedError{RetryAfter: res.RetryAfter}
	}

	optionID = strings.ToLower(textutil.SingleLine(optionID, 80))
	if action != "vote" && action != "remove" {
		action = "toggle"
	}
	if action != "remove" && optionID == "" {
		return nil, "", &VoteRejectedError{Code: "invalid_option"}
	}

	voterIdentity := textutil.SingleLine(voterID, 120)
	if voterIdentity == "" {
		voterIdentity = clientIP
	}
	voterHash := identity.Hash(pollID+"|"+voterIdentity, s.cfg.HashSalt)

	type outcome struct {
		view     PollView
		selected string
		applied  string
	}
	result, err := docstore.Apply(ctx, s.store, func(doc *Document) (outcome, error) {
		poll := findPoll(doc, pollID)
		if poll == nil {
			return outcome{}, ErrPollNotFound
		}
		if !poll.active(s.now()) {
			view := projectPoll(poll)
			return outcome{}, &VoteRejectedError{Code: "poll_closed", Poll: &view}
		}

		selectedID, voted := poll.VotesByVoter[voterHash]
		selected := poll.option(selectedID)

		clear := func() outcome {
			if selected != nil {
				selected.Votes = max(0, selected.Votes-1)
			}
			delete(poll.VotesByVoter, voterHash)
			for i, hash := range poll.VoterHashes {
				if hash == voterHash {
					poll.VoterHashes = append(poll.VoterHashes[:i], poll.VoterHashes[i+1:]...)
					break
				}
			}
			poll.UpdatedAt = s.now().UTC()
			return outcome{view: projectPoll(poll), selected: "", applied: "cleared"}
		}

		if action == "remove" {
			if !voted {
				// Nothing to clear; leave the poll untouched and skip
				// the write.
				return outcome{view: projectPoll(poll)}, docstore.ErrNoChange
			}
			return clear(), nil
		}

		option := poll.option(optionID)
		if option == nil {
			view := projectPoll(poll)
			return outcome{}, &VoteRejectedError{Code: "invalid_option", Poll: &view, SelectedOptionID: selectedID}
		}

		if action == "toggle" && selectedID == optionID {
			return clear(), nil
		}
		if selectedID == optionID {
			view := projectPoll(poll)
			return outcome{}, &VoteRejectedError{Code: "already_voted", Poll: &view, SelectedOptionID: selectedID}
		}

		applied := "cast"
		if selected != nil {
			selected.Votes = max(0, selected.Votes-1)
			applied = "moved"
		}
		option.Votes++
		poll.VotesByVoter[voterHash] = option.ID
		if !containsString(poll.VoterHashes, voterHash) {
			poll.VoterHashes = append(poll.VoterHashes, voterHash)
		}
		poll.UpdatedAt = s.now().UTC()
		return outcome{view: projectPoll(poll), selected: option.ID, applied: applied}, nil
	})
	if err != nil {
		return nil, "", err
	}

	if result.applied != "" {
		metrics.Votes.WithLabelValues(result.applied).Inc()
	}
	return &result.view, result.selected, nil
}

// ActivePolls returns open, unexpired polls, newest first.
func (s *Service) ActivePolls(ctx context.Context) ([]PollView, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := []PollView{}
	for _, poll := range snap.Polls {
		if poll.active(now) {
			views = append(views, projectPoll(poll))
		}
	}
	return views, nil
}

// buildPoll assembles a poll from a question and option labels. Labels
// are deduped case-insensitively; colliding slugs get a numeric
// suffix. Returns nil when fewer than two distinct labels remain.
func buildPoll(question string, labels []string, now time.Time) *Poll {
	if question == "" || len(labels) < 2 {
		return nil
	}

	seen := make(map[string]bool, len(labels))
	var unique []string
	for _, label := range labels {
		key := strings.ToLower(label)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, label)
	}
	if len(unique) < 2 {
		return nil
	}

	usedIDs := make(map[string]bool, len(unique))
	options := make([]*Option, 0, len(unique))
	for _, label := range unique {
		optionID := textutil.Slugify(label)
		for suffix := 2; usedIDs[optionID]; suffix++ {
			optionID = textutil.Slugify(label) + "-" + strconv.Itoa(suffix)
		}
		usedIDs[optionID] = true
		options = append(options, &Option{ID: optionID, Label: label})
	}

	return &Poll{
		ID:           uuid.NewString(),
		Question:     question,
		Status:       "active",
		CreatedAt:    now,
		UpdatedAt:    now,
		Options:      options,
		VoterHashes:  []string{},
		VotesByVoter: map[string]string{},
	}
}

func projectPoll(poll *Poll) PollView {
	total := 0
	options := make([]OptionView, 0, len(poll.Options))
	for _, option := range poll.Options {
		votes := max(0, option.Votes)
		total += votes
		options = append(options, OptionView{ID: option.ID, Label: option.Label, Votes: votes})
	}
	return PollView{
		ID:         poll.ID,
		Question:   poll.Question,
		Status:     poll.Status,
		CreatedAt:  poll.CreatedAt,
		UpdatedAt:  poll.UpdatedAt,
		ExpiresAt:  poll.ExpiresAt,
		TotalVotes: total,
		Options:    options,
	}
}

func containsString(list []string, value string) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}
