package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/courier-lifecycle/internal/clients"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n clients.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func statusEvent(t *testing.T) []byte {
	t.Helper()
	shipment := models.NewShipment("usr-1", models.ShipmentTypeDocument)
	shipment.Status = models.StatusPickedUp
	msg, err := models.NewShipmentStatusChangedEvent(shipment, models.StatusOutForPickup, "system:domestic-sync")
	require.NoError(t, err)
	return msg.Payload
}

func TestShipmentEventsHandlerNotifiesOwner(t *testing.T) {
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n clients.Notification) bool {
		return n.OwnerID == "usr-1" && n.NewStatus == models.StatusPickedUp
	})).Return(nil).Once()

	h := NewShipmentEventsHandler(notifier, logger.NewNop())
	require.NoError(t, h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: statusEvent(t)}))
	notifier.AssertExpectations(t)
}

func TestShipmentEventsHandlerRedeliversOnNotifierFailure(t *testing.T) {
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("throttled"))

	h := NewShipmentEventsHandler(notifier, logger.NewNop())
	assert.Error(t, h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: statusEvent(t)}))
}

func TestShipmentEventsHandlerDropsOtherPayloads(t *testing.T) {
	notifier := new(mockNotifier)
	h := NewShipmentEventsHandler(notifier, logger.NewNop())

	assert.NoError(t, h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("garbage")}))

	other, err := json.Marshal(models.OutboxMessageEvent{EventType: "shipment_archived", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.NoError(t, h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: other}))

	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}
