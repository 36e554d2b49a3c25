package handlers

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/vaidashi/courier-lifecycle/internal/clients"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// ShipmentEventsHandler turns shipment events from Kafka into customer notifications
type ShipmentEventsHandler struct {
	notifier clients.Notifier
	logger   logger.Logger
}

// NewShipmentEventsHandler creates a new ShipmentEventsHandler
func NewShipmentEventsHandler(notifier clients.Notifier, logger logger.Logger) *ShipmentEventsHandler {
	return &ShipmentEventsHandler{
		notifier: notifier,
		logger:   logger,
	}
}

// HandleMessage handles one event. Malformed payloads are dropped so they cannot block the partition.
func (h *ShipmentEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	event, data, err := models.DecodeStatusChanged(msg.Value)

	if err != nil {
		h.logger.Error("Dropping undecodable shipment event",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset)
		return nil
	}

	if event.EventType != models.EventShipmentStatusChanged {
		h.logger.Warn("unknown event type", "eventType", event.EventType)
		return nil
	}

	h.logger.Info("Shipment status changed",
		"shipmentID", data.ShipmentID,
		"eventID", event.EventID,
		"oldStatus", data.OldStatus,
		"newStatus", data.NewStatus)

	if err := h.notifier.Notify(ctx, clients.NotificationFromEvent(event, data)); err != nil {
		return fmt.Errorf("failed to notify owner of %s: %w", data.ShipmentID, err)
	}

	return nil
}
