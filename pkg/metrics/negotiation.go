package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transition outcomes recorded on bid_transitions_total.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// NegotiationMetrics records bid lifecycle and thread activity.
type NegotiationMetrics struct {
	transitions *prometheus.CounterVec
	messages    *prometheus.CounterVec
	history     *prometheus.HistogramVec
	bidsPlaced  prometheus.Counter
}

// NewNegotiationMetrics registers the negotiation metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewNegotiationMetrics(reg prometheus.Registerer) *NegotiationMetrics {
	if reg == nil {
		return &NegotiationMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bid_transitions_total",
		Help: "Bid lifecycle transitions by event and outcome.",
	}, []string{"event", "outcome"})
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "negotiation_messages_total",
		Help: "Negotiation messages appended by sender type and kind.",
	}, []string{"sender_type", "kind"})
	history := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "negotiation_history_fetch_seconds",
		Help:    "Latency of negotiation history page reads.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	bidsPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bids_placed_total",
		Help: "Bids placed on open projects.",
	})
	reg.MustRegister(transitions, messages, history, bidsPlaced)
	return &NegotiationMetrics{
		transitions: transitions,
		messages:    messages,
		history:     history,
		bidsPlaced:  bidsPlaced,
	}
}

// IncBidPlaced counts a successfully placed bid.
func (m *NegotiationMetrics) IncBidPlaced() {
	if m == nil || m.bidsPlaced == nil {
		return
	}
	m.bidsPlaced.Inc()
}

// IncTransition counts a transition attempt for the given event.
func (m *NegotiationMetrics) IncTransition(event, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

// IncMessage counts an appended message. Proposals are counted as kind=proposal.
func (m *NegotiationMetrics) IncMessage(senderType string, proposal bool) {
	if m == nil || m.messages == nil {
		return
	}
	kind := "text"
	if proposal {
		kind = "proposal"
	}
	m.messages.WithLabelValues(normalizeLabel(senderType), kind).Inc()
}

// ObserveHistoryFetch records how long a history page read took. mode is
// "full" for an initial fetch and "incremental" for cursor reads.
func (m *NegotiationMetrics) ObserveHistoryFetch(mode string, duration time.Duration) {
	if m == nil || m.history == nil {
		return
	}
	m.history.WithLabelValues(normalizeLabel(mode)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
