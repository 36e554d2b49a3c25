package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/courier-lifecycle/internal/clients"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// LoggingHandler logs status events without delivering them anywhere
type LoggingHandler struct {
	logger logger.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// HandleMessage logs the decoded event
func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	event, data, err := models.DecodeStatusChanged(message.Payload)

	if err != nil {
		return fmt.Errorf("failed to decode outbox message: %w", err)
	}

	h.logger.Info("Shipment status changed",
		"messageID", message.ID,
		"eventID", event.EventID,
		"shipmentID", data.ShipmentID,
		"oldStatus", data.OldStatus,
		"newStatus", data.NewStatus)

	return nil
}

// NotificationHandler notifies the owner directly. It is used when no event stream is configured.
type NotificationHandler struct {
	notifier clients.Notifier
	logger   logger.Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(notifier clients.Notifier, logger logger.Logger) *NotificationHandler {
	return &NotificationHandler{notifier: notifier, logger: logger}
}

// HandleMessage sends one notification per status change
func (h *NotificationHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	event, data, err := models.DecodeStatusChanged(message.Payload)

	if err != nil {
		return fmt.Errorf("failed to decode outbox message: %w", err)
	}

	if err := h.notifier.Notify(ctx, clients.NotificationFromEvent(event, data)); err != nil {
		return fmt.Errorf("failed to notify owner: %w", err)
	}

	return nil
}
