package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository/repotest"
	"github.com/jwalitptl/clinic-booking/internal/service/event"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
	"github.com/jwalitptl/clinic-booking/pkg/messaging"
	"github.com/jwalitptl/clinic-booking/pkg/metrics"
)

type published struct {
	channel string
	payload []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (b *fakeBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, published{channel, payload})
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, ...string) (<-chan messaging.Message, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBroker) Close() error { return nil }

func testConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Minute,
		Channels:      messaging.Channels{Prefix: "clinic:"},
	}
}

func addEvent(t *testing.T, repo *repotest.Outbox, eventType string) *model.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"appointment_id": uuid.NewString()})
	require.NoError(t, err)
	e := &model.OutboxEvent{ID: uuid.New(), EventType: eventType, Payload: payload}
	require.NoError(t, repo.Create(context.Background(), e))
	return e
}

func TestNewOutboxProcessor_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	_, err := NewOutboxProcessor(repotest.NewOutbox(), &fakeBroker{}, cfg, logger.Nop(), metrics.NewNop())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.RetryDelay = 0
	_, err = NewOutboxProcessor(repotest.NewOutbox(), &fakeBroker{}, cfg, logger.Nop(), metrics.NewNop())
	assert.Error(t, err)
}

func TestOutboxProcessor_PublishesToPrefixedChannel(t *testing.T) {
	repo := repotest.NewOutbox()
	broker := &fakeBroker{}
	m := metrics.NewNop()
	p, err := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	require.NoError(t, err)

	created := addEvent(t, repo, model.EventAppointmentCreated)
	addEvent(t, repo, model.EventPaymentRefunded)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, broker.messages, 2)
	assert.Equal(t, "clinic:appointment.created", broker.messages[0].channel)
	assert.JSONEq(t, string(created.Payload), string(broker.messages[0].payload))
	assert.Equal(t, "clinic:payment.refunded", broker.messages[1].channel)

	for _, e := range repo.Events() {
		assert.Equal(t, model.OutboxStatusProcessed, e.Status)
		assert.NotNil(t, e.ProcessedAt)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEventsProcessed))

	// Nothing left to claim.
	n, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, broker.messages, 2)
}

func TestOutboxProcessor_RetriesWithBackoffThenParks(t *testing.T) {
	repo := repotest.NewOutbox()
	broker := &fakeBroker{err: errors.New("redis down")}
	m := metrics.NewNop()
	p, err := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	require.NoError(t, err)
	// Retries computed from a clock in the past are due immediately.
	base := time.Now().Add(-24 * time.Hour)
	p.now = func() time.Time { return base }

	e := addEvent(t, repo, model.EventPaymentCompleted)

	_, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusRetry, e.Status)
	require.NotNil(t, e.RetryAt)
	assert.Equal(t, base.Add(time.Minute), *e.RetryAt)
	assert.Equal(t, "redis down", *e.ErrorMessage)

	_, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusRetry, e.Status)
	assert.Equal(t, base.Add(2*time.Minute), *e.RetryAt)

	_, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusFailed, e.Status)
	assert.Nil(t, e.RetryAt)
	assert.Equal(t, 3, e.RetryCount)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxEventsFailed))

	// Parked events are not claimed again.
	broker.err = nil
	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, broker.messages)
}

func TestOutboxProcessor_ClaimError(t *testing.T) {
	repo := repotest.NewOutbox()
	repo.Err = errors.New("db down")
	m := metrics.NewNop()
	p, err := NewOutboxProcessor(repo, &fakeBroker{}, testConfig(), logger.Nop(), m)
	require.NoError(t, err)

	_, err = p.ProcessBatch(context.Background())
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DatabaseOperations.WithLabelValues("claim_outbox_events", "error")))
}

func TestOutboxCleanupWorker(t *testing.T) {
	repo := repotest.NewOutbox()
	p, err := NewOutboxProcessor(repo, &fakeBroker{}, testConfig(), logger.Nop(), metrics.NewNop())
	require.NoError(t, err)

	addEvent(t, repo, model.EventAppointmentCreated)
	_, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	pending := addEvent(t, repo, model.EventAppointmentUpdated)

	// Zero retention removes everything already processed.
	w := NewOutboxCleanupWorker(event.NewEventService(repo, logger.Nop()), 0, time.Hour, logger.Nop())
	time.Sleep(time.Millisecond)
	w.RunOnce(context.Background())

	events := repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, pending.ID, events[0].ID)
}
