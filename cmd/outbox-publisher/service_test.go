package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/pkg/config"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/metrics"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			{
				ID:            uuid.New(),
				EventType:     enums.EventBidPlaced,
				AggregateType: enums.AggregateBid,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-one"),
			},
			{
				ID:            uuid.New(),
				EventType:     enums.EventBidPlaced,
				AggregateType: enums.AggregateBid,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-two"),
			},
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "negotiation-topic",
			AggregateType: enums.AggregateBid,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.BidPlacedEvent{},
	}
	eventRegistry := &fakeRegistry{resolved: resolved}
	service := newTestService(t, repo, pub, eventRegistry, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestPublishResolvedSetsAttributes(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventNegotiationMessageAppended,
		AggregateType: enums.AggregateNegotiationMessage,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "appended"),
		CreatedAt:     time.Now().UTC(),
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "negotiation-topic",
			AggregateType: enums.AggregateNegotiationMessage,
		},
		Payload: &payloads.NegotiationMessageAppendedEvent{},
	}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, nil)
	service.publisherFactory = func(topic string) publisher {
		if topic != "negotiation-topic" {
			t.Fatalf("unexpected topic %q", topic)
		}
		return pub
	}

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one message sent, got %d", len(pub.sent))
	}
	attrs := pub.sent[0].Attributes
	if attrs["event_type"] != string(enums.EventNegotiationMessageAppended) {
		t.Fatalf("unexpected event_type attribute %q", attrs["event_type"])
	}
	if attrs["aggregate_id"] != event.AggregateID.String() {
		t.Fatalf("unexpected aggregate_id attribute %q", attrs["aggregate_id"])
	}
	if !bytes.Equal(pub.sent[0].Data, event.Payload) {
		t.Fatalf("payload mismatch")
	}
	if len(repo.published) != 1 {
		t.Fatalf("expected published row recorded once, got %d", len(repo.published))
	}
}

func TestServiceProcessBatchMarksTerminalOnNonRetryable(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventBidAccepted,
		AggregateType: enums.AggregateBid,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "nonretryable"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	service := newTestService(t, repo, &fakePublisher{}, reg, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.terminal); got != 1 {
		t.Fatalf("expected terminal row, got %d", got)
	}
	if repo.terminal[0] != event.ID {
		t.Fatalf("terminal row recorded wrong ID")
	}
	if repo.reasons[0] != enums.OutboxTerminalNonRetryable {
		t.Fatalf("expected non_retryable reason, got %s", repo.reasons[0])
	}
	if len(repo.published) != 0 {
		t.Fatalf("expected nothing published")
	}
}

func TestServiceProcessBatchMarksTerminalOnMaxAttempts(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventBidCountered,
		AggregateType: enums.AggregateBid,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "max-attempts"),
		AttemptCount:  1,
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "negotiation-topic",
			AggregateType: enums.AggregateBid,
		},
		Payload: &payloads.BidTransitionedEvent{},
	}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})
	reg := prometheus.NewRegistry()
	service.metrics = metrics.NewOutboxMetrics(reg)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.terminal); got != 1 {
		t.Fatalf("expected terminal row, got %d", got)
	}
	if repo.reasons[0] != enums.OutboxTerminalMaxAttempts {
		t.Fatalf("expected max_attempts reason, got %s", repo.reasons[0])
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal rows must not also be marked failed")
	}
	if got := counterSum(t, reg, "outbox_events_terminal_total"); got != 1 {
		t.Fatalf("expected one terminal event counted, got %f", got)
	}
}

func counterSum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestBackoffIsCapped(t *testing.T) {
	backoff := newBackoff(time.Second)
	for i := 0; i < 12; i++ {
		wait, stop := backoff.Next()
		if stop {
			t.Fatalf("backoff must never stop")
		}
		if wait > maxBackoff+jitterWindow {
			t.Fatalf("attempt %d waited %v, above cap", i, wait)
		}
	}
}

func TestFailedEventHoldsLaterEventsOfSameBid(t *testing.T) {
	bidA, bidB := uuid.New(), uuid.New()
	events := []models.OutboxEvent{
		{ID: uuid.New(), EventType: enums.EventNegotiationMessageAppended, AggregateType: enums.AggregateNegotiationMessage, AggregateID: uuid.New(), Payload: mustEnvelopePayload(t, "a1")},
		{ID: uuid.New(), EventType: enums.EventBidPlaced, AggregateType: enums.AggregateBid, AggregateID: bidB, Payload: mustEnvelopePayload(t, "b1")},
		{ID: uuid.New(), EventType: enums.EventBidAccepted, AggregateType: enums.AggregateBid, AggregateID: bidA, Payload: mustEnvelopePayload(t, "a2")},
	}
	reg := &fakeRegistry{
		resolved: &registry.ResolvedEvent{Descriptor: registry.EventDescriptor{Topic: "negotiation-topic"}},
		payloads: map[uuid.UUID]any{
			events[0].ID: &payloads.NegotiationMessageAppendedEvent{BidID: bidA},
			events[1].ID: &payloads.BidPlacedEvent{BidID: bidB},
			events[2].ID: &payloads.BidTransitionedEvent{BidID: bidA},
		},
	}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	repo := &fakeRepo{events: events}
	service := newTestService(t, repo, pub, reg, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.sent) != 2 {
		t.Fatalf("expected the held event to stay unsent, sent %d", len(pub.sent))
	}
	if pub.sent[0].OrderingKey != "bid:"+bidA.String() || pub.sent[0].Attributes["bid_id"] != bidA.String() {
		t.Fatalf("message event must be keyed by its bid, got %q", pub.sent[0].OrderingKey)
	}
	if pub.sent[1].OrderingKey != "bid:"+bidB.String() {
		t.Fatalf("unexpected ordering key %q", pub.sent[1].OrderingKey)
	}
	if len(pub.resumed) != 1 || pub.resumed[0] != "bid:"+bidA.String() {
		t.Fatalf("failed key must be resumed, got %v", pub.resumed)
	}
	if len(repo.failed) != 1 || repo.failed[0] != events[0].ID {
		t.Fatalf("expected only the first event marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != events[1].ID {
		t.Fatalf("expected only the other bid published, got %v", repo.published)
	}
}

func TestOrderingKeyFallsBackToAggregate(t *testing.T) {
	projectID := uuid.New()
	event := models.OutboxEvent{AggregateType: enums.AggregateProject, AggregateID: projectID}
	resolved := &registry.ResolvedEvent{Payload: &payloads.ExpenseRecordedEvent{ProjectID: projectID}}
	if got := orderingKey(event, resolved); got != "project:"+projectID.String() {
		t.Fatalf("unexpected ordering key %q", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, registry registryResolver, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         registry,
		PublisherFactory: func(_ string) publisher { return pub },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	reasons   []enums.OutboxTerminalReason
}

func (f *fakeRepo) ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminal(tx *gorm.DB, id uuid.UUID, reason enums.OutboxTerminalReason, cause error, at time.Time) error {
	f.terminal = append(f.terminal, id)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
	resumed []string
}

func (f *fakePublisher) ResumePublish(key string) {
	f.resumed = append(f.resumed, key)
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	payloads map[uuid.UUID]any
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	if payload, ok := f.payloads[event.ID]; ok {
		resolved.Payload = payload
	}
	return &resolved, f.err
}

func TestNewServiceReportsEveryMissingDependency(t *testing.T) {
	_, err := NewService(ServiceParams{Config: &config.Config{}})
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, name := range []string{"logger", "database client", "pubsub client", "outbox repository", "event registry"} {
		if !strings.Contains(err.Error(), name+" is required") {
			t.Fatalf("error %q does not mention %s", err, name)
		}
	}
	if strings.Contains(err.Error(), "config is required") {
		t.Fatalf("config was provided: %v", err)
	}
}
