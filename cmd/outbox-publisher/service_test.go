package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/config"
	"github.com/angelmondragon/picknest-core/pkg/db"
	"github.com/angelmondragon/picknest-core/pkg/db/dbtest"
	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	"github.com/angelmondragon/picknest-core/pkg/logger"
	"github.com/angelmondragon/picknest-core/pkg/metrics"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
	"github.com/angelmondragon/picknest-core/pkg/outbox/payloads"
	"github.com/angelmondragon/picknest-core/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			orderEventRow(t, "event-one", 0),
			orderEventRow(t, "event-two", 0),
		},
	}
	out := &fakeSink{errs: []error{errors.New("transient"), nil}}
	service := newTestService(t, repo, out, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, nil)

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

func TestServicePublishesWithAggregateKeyAndAttributes(t *testing.T) {
	event := orderEventRow(t, "keyed", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	out := &fakeSink{}
	service := newTestService(t, repo, out, &fakeRegistry{resolved: orderResolved()}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(out.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(out.sent))
	}
	msg := out.sent[0]
	if msg.topic != "orders-topic" {
		t.Fatalf("unexpected topic %q", msg.topic)
	}
	if msg.key != event.AggregateID.String() {
		t.Fatalf("expected aggregate key, got %q", msg.key)
	}
	if !bytes.Equal(msg.value, event.Payload) {
		t.Fatalf("payload was altered on the way out")
	}
	if msg.attributes["event_type"] != string(enums.EventOrderOpened) || msg.attributes["aggregate_id"] != event.AggregateID.String() {
		t.Fatalf("unexpected attributes %v", msg.attributes)
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := orderEventRow(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	eventRegistry := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	reg := prometheus.NewRegistry()
	service := newTestService(t, repo, &fakeSink{}, eventRegistry, dlqRepo, nil)
	service.metrics = metrics.NewOutboxMetrics(reg)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	count, err := testutil.GatherAndCount(reg, "picknest_outbox_dead_lettered_total")
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one dead-letter series, got %d", count)
	}
}

func TestServiceSinkNonRetryableGoesToDLQ(t *testing.T) {
	event := orderEventRow(t, "no-topic", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	out := &fakeSink{errs: []error{registry.NewNonRetryableError(errors.New("topic missing"))}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, out, &fakeRegistry{resolved: orderResolved()}, dlqRepo, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(dlqRepo.entries) != 1 || dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non-retryable dlq entry, got %+v", dlqRepo.entries)
	}
	if len(repo.terminal) != 1 || len(repo.failed) != 0 {
		t.Fatalf("expected terminal mark only, terminal=%d failed=%d", len(repo.terminal), len(repo.failed))
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := orderEventRow(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	out := &fakeSink{errs: []error{errors.New("transient")}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, out, &fakeRegistry{resolved: orderResolved()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestServiceDeliversCommittedRowsFromDatabase(t *testing.T) {
	conn := dbtest.New(t)
	client := db.Wrap(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	orderID := uuid.New()
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return emitter.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventOrderOpened,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          payloads.OrderEvent{OrderID: orderID, Status: enums.OrderStatusPending},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	outboxCfg := config.OutboxConfig{
		BatchSize:      10,
		PollIntervalMS: 10,
		MaxAttempts:    3,
		Sink:           config.OutboxSinkKafka,
		OrdersTopic:    "orders",
		PaymentsTopic:  "payments",
		InventoryTopic: "inventory",
	}
	eventRegistry, err := registry.NewEventRegistry(outboxCfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	out := &fakeSink{}
	service, err := NewService(ServiceParams{
		Config:        outboxCfg,
		Logger:        logger.Nop(),
		DB:            client,
		Sink:          out,
		Repository:    outbox.NewRepository(conn),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(conn),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	processed, err := service.processBatch(context.Background())
	if err != nil || !processed {
		t.Fatalf("first batch: processed=%v err=%v", processed, err)
	}
	processed, err = service.processBatch(context.Background())
	if err != nil || processed {
		t.Fatalf("second batch should be empty: processed=%v err=%v", processed, err)
	}
	if len(out.sent) != 1 || out.sent[0].topic != "orders" || out.sent[0].key != orderID.String() {
		t.Fatalf("unexpected deliveries %+v", out.sent)
	}

	var row models.OutboxEvent
	if err := conn.Where("aggregate_id = ?", orderID).First(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.PublishedAt == nil {
		t.Fatalf("expected row to be marked published")
	}
}

func TestServiceRunFailsWhenSinkUnreachable(t *testing.T) {
	out := &fakeSink{pingErr: errors.New("no brokers")}
	service := newTestService(t, &fakeRepo{}, out, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	if err := service.Run(context.Background()); err == nil {
		t.Fatal("expected readiness failure")
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeSink{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := service.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPubSubSinkWithoutPublisherIsNonRetryable(t *testing.T) {
	pubSink, err := newPubSubSink(fakePubSubClient{})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	err = pubSink.Publish(context.Background(), "missing", "", []byte(`{}`), nil)
	var nonRetry registry.NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
	if _, err := newPubSubSink(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func newTestService(t *testing.T, repo outboxRepository, out sink, eventRegistry registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 10,
		MaxAttempts:    5,
		Sink:           "test",
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:        outboxCfg,
		Logger:        logg,
		DB:            &fakeDB{},
		Sink:          out,
		Repository:    repo,
		Registry:      eventRegistry,
		DLQRepository: dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func orderResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventOrderOpened,
			AggregateType: enums.AggregateOrder,
			Topic:         "orders-topic",
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.OrderEvent{},
	}
}

func orderEventRow(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
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
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderOpened,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type sentMessage struct {
	topic      string
	key        string
	value      []byte
	attributes map[string]string
}

type fakeSink struct {
	errs    []error
	sent    []sentMessage
	pingErr error
}

func (f *fakeSink) Publish(_ context.Context, topic, key string, value []byte, attributes map[string]string) error {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err == nil {
		f.sent = append(f.sent, sentMessage{topic: topic, key: key, value: value, attributes: attributes})
	}
	return err
}

func (f *fakeSink) Ping(context.Context) error {
	return f.pingErr
}

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
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
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
