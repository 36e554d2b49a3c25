package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// Notification tells a customer their shipment moved
type Notification struct {
	ShipmentID     string                `json:"shipmentId"`
	OwnerID        string                `json:"ownerId"`
	TrackingNumber string                `json:"trackingNumber,omitempty"`
	OldStatus      models.ShipmentStatus `json:"oldStatus"`
	NewStatus      models.ShipmentStatus `json:"newStatus"`
	OccurredAt     time.Time             `json:"occurredAt"`
}

// NotificationFromEvent builds a Notification from a status change event
func NotificationFromEvent(event *models.OutboxMessageEvent, data *models.StatusChangedData) Notification {
	return Notification{
		ShipmentID:     data.ShipmentID,
		OwnerID:        data.OwnerID,
		TrackingNumber: data.TrackingNumber,
		OldStatus:      data.OldStatus,
		NewStatus:      data.NewStatus,
		OccurredAt:     event.OccurredAt,
	}
}

// Notifier delivers customer notifications (email, WhatsApp) asynchronously
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SQSAPI is the subset of the SQS client the notifier uses
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier queues notifications for the delivery service
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
	logger   logger.Logger
}

// NewSQSNotifier creates a new SQSNotifier
func NewSQSNotifier(client SQSAPI, queueURL string, logger logger.Logger) *SQSNotifier {
	return &SQSNotifier{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// NewSQSNotifierFromRegion loads the default AWS credentials chain for region
func NewSQSNotifierFromRegion(ctx context.Context, region, queueURL string, logger logger.Logger) (*SQSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSQSNotifier(sqs.NewFromConfig(cfg), queueURL, logger), nil
}

// Notify sends the notification to the queue
func (n *SQSNotifier) Notify(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)

	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notification.NewStatus)),
			},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to send notification to SQS: %w", err)
	}

	n.logger.Debug("Notification queued", "shipmentID", notification.ShipmentID, "status", notification.NewStatus)
	return nil
}

// LogNotifier writes notifications to the log, for environments without a queue
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger logger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification
func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.Info("Customer notification",
		"shipmentID", notification.ShipmentID,
		"ownerID", notification.OwnerID,
		"trackingNumber", notification.TrackingNumber,
		"status", notification.NewStatus)
	return nil
}
