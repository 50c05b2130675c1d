// Package metrics exposes Prometheus counters for routing decisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConversationsCreated counts initial assignments by routing method.
	ConversationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conversation_router",
		Name:      "conversations_created_total",
		Help:      "Conversations created, labelled by routing method.",
	}, []string{"method"})

	// FallbackRoutes counts automatic assignments that hit the fallback provider.
	FallbackRoutes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conversation_router",
		Name:      "routing_fallback_total",
		Help:      "Automatic assignments where no routing rule matched.",
	})

	// Transfers counts successful provider transfers.
	Transfers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conversation_router",
		Name:      "transfers_total",
		Help:      "Successful conversation transfers.",
	})

	// Suggestions counts reassignment evaluations by outcome.
	Suggestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conversation_router",
		Name:      "reassignment_suggestions_total",
		Help:      "Reassignment evaluations, labelled by whether a suggestion was made.",
	}, []string{"suggested"})
)

// Handler returns the HTTP handler serving the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
