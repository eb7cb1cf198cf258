// Package observability carries the platform's structured logging and
// Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks platform activity: message flow per tenant, rate-limit
// and wallet refusals, LLM latency and token burn, confirmation flow
// outcomes, and the live worker count.
type Metrics struct {
	// MessageCounter counts processed messages.
	// Labels: direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// RateLimitRejections counts requests refused by the rate gate.
	// Labels: window (minute|day), plan (free|premium)
	RateLimitRejections *prometheus.CounterVec

	// WalletDebits counts wallet debit attempts.
	// Labels: status (granted|refused|error)
	WalletDebits *prometheus.CounterVec

	// WalletTokensSpent accumulates tokens debited from wallets.
	WalletTokensSpent prometheus.Counter

	// LLMRequestDuration measures model API call latency in seconds.
	// Labels: model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls.
	// Labels: model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ConfirmOutcomes counts confirmation flow resolutions.
	// Labels: outcome (confirmed|cancelled|expired|not_found|pick)
	ConfirmOutcomes *prometheus.CounterVec

	// ActiveWorkers gauges the number of live tenant workers.
	ActiveWorkers prometheus.Gauge

	// PendingSweeps counts expired pending actions removed per sweep.
	PendingSweeps prometheus.Counter
}

// NewMetrics registers all metrics on the default Prometheus registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on an explicit registerer; tests pass a fresh
// registry to avoid duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_messages_total",
				Help: "Total number of messages processed by direction",
			},
			[]string{"direction"},
		),
		RateLimitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_ratelimit_rejections_total",
				Help: "Requests refused by the rate gate, by window and plan",
			},
			[]string{"window", "plan"},
		),
		WalletDebits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_wallet_debits_total",
				Help: "Wallet debit attempts by status",
			},
			[]string{"status"},
		),
		WalletTokensSpent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assistant_wallet_tokens_spent_total",
				Help: "Total tokens debited from owner wallets",
			},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_llm_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_llm_requests_total",
				Help: "Total model API requests by model and status",
			},
			[]string{"model", "status"},
		),
		ConfirmOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_confirm_outcomes_total",
				Help: "Calendar confirmation flow resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistant_active_workers",
				Help: "Current number of live tenant workers",
			},
		),
		PendingSweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assistant_pending_actions_swept_total",
				Help: "Expired pending confirmations removed by the sweeper",
			},
		),
	}
}
