package server

import (
	"errors"
	"net/http"

	"bembel-site/leads"
	"bembel-site/ratelimit"
)

func (s *Server) handleSubmitContact(w http.ResponseWriter, r *http.Request) {
	var req leads.ContactRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	lead, err := s.leads.SubmitContact(r.Context(), req, s.clientMeta(r))
	s.writeSubmission(w, r, lead, err)
}

func (s *Server) handleSubmitSponsor(w http.ResponseWriter, r *http.Request) {
	var req leads.SponsorRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	lead, err := s.leads.SubmitSponsor(r.Context(), req, s.clientMeta(r))
	s.writeSubmission(w, r, lead, err)
}

func (s *Server) clientMeta(r *http.Request) leads.ClientMeta {
	return leads.ClientMeta{
		IP:        s.clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
		Referer:   r.Header.Get("Referer"),
	}
}

// writeSubmission maps a form submission outcome to the wire. Spam
// submissions are accepted with 202 so the sender learns nothing from
// the status code alone.
func (s *Server) writeSubmission(w http.ResponseWriter, r *http.Request, lead *leads.Lead, err error) {
	if err != nil {
		var blocked *ratelimit.BlockedError
		switch {
		case errors.As(err, &blocked):
			s.securityEvent(r, "rate_limited", "form")
			writeRateLimited(w, "too_many_submissions", blocked.RetryAfterSeconds())
		case errors.Is(err, leads.ErrValidation):
			writeError(w, http.StatusBadRequest, "bad_request")
		default:
			s.logger.Error("Lead submission failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_server_error")
		}
		return
	}

	status := http.StatusCreated
	body := map[string]any{"ok": true, "leadId": lead.ID, "status": "created"}
	if lead.Status == "spam" {
		status = http.StatusAccepted
		body["status"] = "received"
	}
	writeJSON(w, status, body)
}
