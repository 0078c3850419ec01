package leads

import (
	"strings"
	"time"

	"bembel-site/textutil"
)

// collectSpamSignals inspects a normalized submission for the signals
// that mark a lead as spam. The duplicate check lives in hasDuplicate
// because it needs the stored leads.
func (s *Service) collectSpamSignals(norm normalized) []string {
	var signals []string

	if norm.honeypot != "" {
		signals = append(signals, "honeypot_filled")
	}

	if norm.formStartedAt != nil {
		elapsed := time.Duration(float64(s.now().UnixMilli())-*norm.formStartedAt) * time.Millisecond
		if elapsed >= 0 && elapsed < s.cfg.MinFill {
			signals = append(signals, "too_fast")
		}
		if elapsed > s.cfg.MaxFormAge {
			signals = append(signals, "stale_form")
		}
	}

	if textutil.CountURLs(norm.details.Message) >= 4 {
		signals = append(signals, "link_flood")
	}

	return signals
}

// hasDuplicate reports whether an equivalent lead of the same type was
// stored within the last 24 hours: same email and message, and for
// sponsor leads also the same company.
func hasDuplicate(leadList []*Lead, leadType string, norm normalized, now time.Time) bool {
	for _, lead := range leadList {
		if lead.Type != leadType {
			continue
		}
		if now.Sub(lead.CreatedAt) > 24*time.Hour {
			continue
		}
		if !strings.EqualFold(lead.Contact.Email, norm.contact.Email) {
			continue
		}
		if lead.Details.Message != norm.details.Message {
			continue
		}
		if leadType == "sponsor" && !strings.EqualFold(lead.Contact.Company, norm.contact.Company) {
			continue
		}
		return true
	}
	return false
}
