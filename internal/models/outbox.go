package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// EventShipmentStatusChanged is emitted for every committed transition
const EventShipmentStatusChanged = "shipment_status_changed"

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregateType"`
	AggregateID        string       `db:"aggregate_id" json:"aggregateId"`
	EventType          string       `db:"event_type" json:"eventType"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"createdAt"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processedAt,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processingAttempts"`
	ClaimedAt          *time.Time   `db:"claimed_at" json:"claimedAt,omitempty"`
	LastError          *string      `db:"last_error" json:"lastError,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent is the envelope written into the payload column
type OutboxMessageEvent struct {
	EventType   string          `json:"eventType"`
	EventID     string          `json:"eventId"`
	AggregateID string          `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Data        json.RawMessage `json:"data"`
}

// StatusChangedData is the body of a shipment_status_changed event
type StatusChangedData struct {
	ShipmentID     string         `json:"shipmentId"`
	OwnerID        string         `json:"ownerId"`
	TrackingNumber string         `json:"trackingNumber,omitempty"`
	OldStatus      ShipmentStatus `json:"oldStatus"`
	NewStatus      ShipmentStatus `json:"newStatus"`
	Version        int64          `json:"version"`
	ActorID        string         `json:"actorId"`
}

// NewShipmentStatusChangedEvent builds the outbox row for a committed transition
func NewShipmentStatusChangedEvent(shipment *Shipment, oldStatus ShipmentStatus, actorID string) (*OutboxMessage, error) {
	data := StatusChangedData{
		ShipmentID: shipment.ID,
		OwnerID:    shipment.OwnerID,
		OldStatus:  oldStatus,
		NewStatus:  shipment.Status,
		Version:    shipment.Version,
		ActorID:    actorID,
	}
	if shipment.TrackingNumber != nil {
		data.TrackingNumber = *shipment.TrackingNumber
	}

	raw, err := json.Marshal(data)

	if err != nil {
		return nil, err
	}

	event := OutboxMessageEvent{
		EventType:   EventShipmentStatusChanged,
		EventID:     GenerateID("evt"),
		AggregateID: shipment.ID,
		OccurredAt:  GetCurrentTime(),
		Data:        raw,
	}

	payload, err := json.Marshal(event)

	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		EventType:     event.EventType,
		Payload:       payload,
		AggregateType: "shipment",
		AggregateID:   shipment.ID,
		CreatedAt:     event.OccurredAt,
		Status:        OutboxStatusPending,
	}, nil
}

// DecodeStatusChanged parses an outbox or Kafka payload back into its data
func DecodeStatusChanged(payload []byte) (*OutboxMessageEvent, *StatusChangedData, error) {
	var event OutboxMessageEvent

	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, nil, err
	}

	var data StatusChangedData

	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, nil, err
	}

	return &event, &data, nil
}
