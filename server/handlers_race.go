package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"bembel-site/race"
	"bembel-site/ratelimit"
)

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var since *time.Time
	if raw := q.Get("since"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			since = &parsed
		}
	}
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	items, err := s.race.Feed(r.Context(), since, limit, q.Get("category"))
	if err != nil {
		s.logger.Error("Feed read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"serverTime": serverTime(),
		"items":      items,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.race.Summary(r.Context())
	if err != nil {
		s.logger.Error("Summary read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"serverTime": serverTime(),
		"summary":    summary,
	})
}

func (s *Server) handleActivePolls(w http.ResponseWriter, r *http.Request) {
	polls, err := s.race.ActivePolls(r.Context())
	if err != nil {
		s.logger.Error("Poll read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"serverTime": serverTime(),
		"polls":      polls,
	})
}

type reactRequest struct {
	Reaction string `json:"reaction"`
	VoterID  string `json:"voterId"`
	Action   string `json:"action"`
}

func (s *Server) handleReact(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	item, reacted, err := s.race.React(r.Context(), chi.URLParam(r, "id"), req.Reaction, req.VoterID, req.Action, s.clientIP(r))
	if err != nil {
		var blocked *ratelimit.BlockedError
		var conflict *race.ReactionConflictError
		switch {
		case errors.As(err, &blocked):
			s.securityEvent(r, "rate_limited", "reaction")
			writeRateLimited(w, "too_many_reactions", blocked.RetryAfterSeconds())
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "already_reacted",
				"item":  conflict.Item,
			})
		case errors.Is(err, race.ErrInvalidReaction):
			writeError(w, http.StatusBadRequest, "bad_request")
		case errors.Is(err, race.ErrItemNotFound):
			writeError(w, http.StatusNotFound, "update_not_found")
		default:
			s.logger.Error("Reaction failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_server_error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"reacted": reacted,
		"item":    item,
	})
}

type voteRequest struct {
	OptionID string `json:"optionId"`
	VoterID  string `json:"voterId"`
	Action   string `json:"action"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	poll, selected, err := s.race.Vote(r.Context(), chi.URLParam(r, "id"), req.OptionID, req.VoterID, req.Action, s.clientIP(r))
	if err != nil {
		var blocked *ratelimit.BlockedError
		var rejected *race.VoteRejectedError
		switch {
		case errors.As(err, &blocked):
			s.securityEvent(r, "rate_limited", "vote")
			writeRateLimited(w, "too_many_votes", blocked.RetryAfterSeconds())
		case errors.As(err, &rejected):
			s.writeVoteRejected(w, rejected)
		case errors.Is(err, race.ErrPollNotFound):
			writeError(w, http.StatusNotFound, "poll_not_found")
		default:
			s.logger.Error("Vote failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_server_error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"selectedOptionId": selected,
		"poll":             poll,
	})
}

// writeVoteRejected maps the rejection codes: invalid_option is the
// caller's fault (400), poll_closed and already_voted are conflicts
// (409). The authoritative poll state rides along when known so clients
// can reconcile optimistic UI.
func (s *Server) writeVoteRejected(w http.ResponseWriter, rejected *race.VoteRejectedError) {
	status := http.StatusConflict
	if rejected.Code == "invalid_option" {
		status = http.StatusBadRequest
	}
	body := map[string]any{"error": rejected.Code}
	if rejected.Poll != nil {
		body["poll"] = rejected.Poll
	}
	if rejected.SelectedOptionID != "" {
		body["selectedOptionId"] = rejected.SelectedOptionID
	}
	writeJSON(w, status, body)
}

func (s *Server) handleCreateFeedItem(w http.ResponseWriter, r *http.Request) {
	if !s.adminConfigured() {
		writeError(w, http.StatusServiceUnavailable, "admin_not_configured")
		return
	}
	if !s.verifyAdminToken(bearerToken(r)) {
		s.securityEvent(r, "admin_token_rejected", "")
		s.writeUnauthorized(w)
		return
	}

	var req race.CreateFeedRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	result, err := s.race.CreateFeedItem(r.Context(), req)
	if err != nil {
		if errors.Is(err, race.ErrInvalidPayload) {
			writeError(w, http.StatusBadRequest, "bad_request")
			return
		}
		s.logger.Error("Feed publish failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":      true,
		"item":    result.Item,
		"poll":    result.Poll,
		"summary": result.Summary,
	})
}

func serverTime() string {
	return time.Now().UTC().Format(time.RFC3339)
}
