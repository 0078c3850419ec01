// Package metrics exposes Prometheus counters for the service's
// domain events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LeadsSubmitted counts accepted lead submissions by form type and
	// resulting status (new or spam).
	LeadsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bembel_leads_submitted_total",
			Help: "Lead submissions accepted, by form type and stored status.",
		},
		[]string{"type", "status"},
	)

	// RateLimited counts 429 rejections by limiter scope.
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bembel_rate_limited_total",
			Help: "Requests rejected by a rate limiter, by scope.",
		},
		[]string{"scope"},
	)

	// Reactions counts feed reaction mutations by effective action.
	Reactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bembel_reactions_total",
			Help: "Feed reactions applied, by effective action.",
		},
		[]string{"action"},
	)

	// Votes counts poll vote mutations by effective action.
	Votes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bembel_votes_total",
			Help: "Poll votes applied, by effective action.",
		},
		[]string{"action"},
	)

	// AutoReplies counts auto-reply dispatch outcomes.
	AutoReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bembel_auto_replies_total",
			Help: "Auto-reply dispatch outcomes.",
		},
		[]string{"status"},
	)

	// SecurityEvents counts logged security rejections by kind.
	SecurityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bembel_security_events_total",
			Help: "Security-relevant rejections, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		LeadsSubmitted,
		RateLimited,
		Reactions,
		Votes,
		AutoReplies,
		SecurityEvents,
	)
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
