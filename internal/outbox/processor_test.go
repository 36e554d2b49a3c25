package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/courier-lifecycle/internal/clients"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	"github.com/vaidashi/courier-lifecycle/internal/repository/memory"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) SendMessage(ctx context.Context, topic string, key string, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n clients.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func enqueue(t *testing.T, store *memory.Store, eventType string) *models.OutboxMessage {
	t.Helper()
	shipment := models.NewShipment("usr-1", models.ShipmentTypeGift)
	shipment.Status = models.StatusConfirmed
	shipment.TrackingNumber = models.StringPtr("CLX123")

	msg, err := models.NewShipmentStatusChangedEvent(shipment, models.StatusDraft, "usr-1")
	require.NoError(t, err)
	msg.EventType = eventType

	require.NoError(t, store.InTx(context.Background(), func(tx repository.Tx) error {
		return tx.EnqueueOutbox(context.Background(), msg)
	}))
	return msg
}

// strictStore refuses writes on a cancelled context, as a database driver does,
// and can drop the next completion write
type strictStore struct {
	*memory.Store
	failNextCompletion bool
}

func (s *strictStore) MarkAsCompleted(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failNextCompletion {
		s.failNextCompletion = false
		return errors.New("connection reset")
	}
	return s.Store.MarkAsCompleted(ctx, id)
}

func (s *strictStore) MarkAsPending(ctx context.Context, id int64, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.MarkAsPending(ctx, id, errorMessage)
}

type handlerFunc func(ctx context.Context, msg *models.OutboxMessage) error

func (f handlerFunc) HandleMessage(ctx context.Context, msg *models.OutboxMessage) error {
	return f(ctx, msg)
}

func statusOf(t *testing.T, store *memory.Store, id int64) models.OutboxMessage {
	t.Helper()
	for _, m := range store.OutboxMessages() {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("message %d not found", id)
	return models.OutboxMessage{}
}

func TestProcessBatchPublishesByShipmentKey(t *testing.T) {
	store := memory.NewStore()
	msg := enqueue(t, store, models.EventShipmentStatusChanged)

	pub := new(mockPublisher)
	pub.On("SendMessage", mock.Anything, "shipment-events", msg.AggregateID, msg.Payload).Return(nil).Once()

	p := NewProcessor(store, ProcessorConfig{MaxRetries: 3}, logger.NewNop())
	p.RegisterHandler(models.EventShipmentStatusChanged, NewKafkaHandler(pub, "shipment-events", logger.NewNop()))

	result, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Delivered: 1}, result)
	assert.Equal(t, models.OutboxStatusCompleted, statusOf(t, store, msg.ID).Status)
	pub.AssertExpectations(t)

	result, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, result)
}

func TestProcessBatchRetriesThenParks(t *testing.T) {
	store := memory.NewStore()
	msg := enqueue(t, store, models.EventShipmentStatusChanged)

	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("queue unavailable"))

	p := NewProcessor(store, ProcessorConfig{MaxRetries: 2}, logger.NewNop())
	p.RegisterHandler(models.EventShipmentStatusChanged, NewNotificationHandler(notifier, logger.NewNop()))

	result, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Retried: 1}, result)

	stored := statusOf(t, store, msg.ID)
	assert.Equal(t, models.OutboxStatusPending, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "queue unavailable")

	result, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Failed: 1}, result)
	assert.Equal(t, models.OutboxStatusFailed, statusOf(t, store, msg.ID).Status)
	assert.Equal(t, 2, statusOf(t, store, msg.ID).ProcessingAttempts)
}

func TestProcessBatchParksUnknownEvents(t *testing.T) {
	store := memory.NewStore()
	msg := enqueue(t, store, "shipment_renamed")

	p := NewProcessor(store, ProcessorConfig{}, logger.NewNop())

	result, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Failed: 1}, result)
	assert.Equal(t, models.OutboxStatusFailed, statusOf(t, store, msg.ID).Status)
}

func TestNotificationHandlerBuildsNotification(t *testing.T) {
	store := memory.NewStore()
	msg := enqueue(t, store, models.EventShipmentStatusChanged)

	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n clients.Notification) bool {
		return n.OwnerID == "usr-1" &&
			n.TrackingNumber == "CLX123" &&
			n.OldStatus == models.StatusDraft &&
			n.NewStatus == models.StatusConfirmed
	})).Return(nil).Once()

	h := NewNotificationHandler(notifier, logger.NewNop())
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	notifier.AssertExpectations(t)

	assert.Error(t, h.HandleMessage(context.Background(), &models.OutboxMessage{Payload: []byte("not json")}))
}

func TestProcessBatchReclaimsMessageWhoseCompletionWasLost(t *testing.T) {
	mem := memory.NewStore()
	store := &strictStore{Store: mem, failNextCompletion: true}
	msg := enqueue(t, mem, models.EventShipmentStatusChanged)

	pub := new(mockPublisher)
	pub.On("SendMessage", mock.Anything, "shipment-events", msg.AggregateID, msg.Payload).Return(nil).Twice()

	start := time.Now()
	clock := start
	p := NewProcessor(store, ProcessorConfig{MaxRetries: 3, ProcessingLease: time.Minute}, logger.NewNop())
	p.now = func() time.Time { return clock }
	p.RegisterHandler(models.EventShipmentStatusChanged, NewKafkaHandler(pub, "shipment-events", logger.NewNop()))

	result, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Retried: 1}, result)
	assert.Equal(t, models.OutboxStatusProcessing, statusOf(t, mem, msg.ID).Status)

	clock = start.Add(30 * time.Second)
	result, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, result)

	clock = start.Add(2 * time.Minute)
	result, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Reclaimed: 1, Delivered: 1}, result)
	assert.Equal(t, models.OutboxStatusCompleted, statusOf(t, mem, msg.ID).Status)
	pub.AssertExpectations(t)
}

func TestProcessBatchRecordsRetryAfterCancellation(t *testing.T) {
	mem := memory.NewStore()
	store := &strictStore{Store: mem}
	msg := enqueue(t, mem, models.EventShipmentStatusChanged)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewProcessor(store, ProcessorConfig{MaxRetries: 3}, logger.NewNop())
	p.RegisterHandler(models.EventShipmentStatusChanged, handlerFunc(func(ctx context.Context, msg *models.OutboxMessage) error {
		cancel()
		return ctx.Err()
	}))

	result, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Retried: 1}, result)

	stored := statusOf(t, mem, msg.ID)
	assert.Equal(t, models.OutboxStatusPending, stored.Status)
	assert.Equal(t, 1, stored.ProcessingAttempts)
}
