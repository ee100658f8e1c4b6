package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNegotiationMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewNegotiationMetrics(reg)

	metrics.IncBidPlaced()
	metrics.IncTransition("accept", OutcomeApplied)
	metrics.IncTransition("accept", OutcomeRejected)
	metrics.IncTransition("accept", OutcomeRejected)
	metrics.IncMessage("SELLER", true)
	metrics.ObserveHistoryFetch("incremental", 40*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "bid_transitions_total", map[string]string{"event": "accept", "outcome": OutcomeRejected}); err != nil {
		t.Fatalf("fetch transitions: %v", err)
	} else if got != 2 {
		t.Fatalf("expected rejected=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "negotiation_messages_total", map[string]string{"sender_type": "SELLER", "kind": "proposal"}); err != nil {
		t.Fatalf("fetch messages: %v", err)
	} else if got != 1 {
		t.Fatalf("expected messages=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "bids_placed_total", nil); err != nil {
		t.Fatalf("fetch bids placed: %v", err)
	} else if got != 1 {
		t.Fatalf("expected bids placed=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "negotiation_history_fetch_seconds", map[string]string{"mode": "incremental"}); err != nil {
		t.Fatalf("fetch history: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilNegotiationMetricsIsNoop(t *testing.T) {
	var metrics *NegotiationMetrics
	metrics.IncBidPlaced()
	metrics.IncTransition("reject", OutcomeApplied)
	metrics.IncMessage("BUYER", false)
	metrics.ObserveHistoryFetch("full", time.Millisecond)

	unregistered := NewNegotiationMetrics(nil)
	unregistered.IncTransition("reject", OutcomeApplied)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
