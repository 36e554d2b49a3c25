package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentStatus is the closed set of lifecycle states
type ShipmentStatus string

const (
	StatusDraft            ShipmentStatus = "draft"
	StatusConfirmed        ShipmentStatus = "confirmed"
	StatusPaymentReceived  ShipmentStatus = "payment_received"
	StatusPickupScheduled  ShipmentStatus = "pickup_scheduled"
	StatusOutForPickup     ShipmentStatus = "out_for_pickup"
	StatusPickedUp         ShipmentStatus = "picked_up"
	StatusAtWarehouse      ShipmentStatus = "at_warehouse"
	StatusQCInProgress     ShipmentStatus = "qc_in_progress"
	StatusQCPassed         ShipmentStatus = "qc_passed"
	StatusQCFailed         ShipmentStatus = "qc_failed"
	StatusPendingPayment   ShipmentStatus = "pending_payment"
	StatusDispatched       ShipmentStatus = "dispatched"
	StatusInTransit        ShipmentStatus = "in_transit"
	StatusCustomsClearance ShipmentStatus = "customs_clearance"
	StatusOutForDelivery   ShipmentStatus = "out_for_delivery"
	StatusDelivered        ShipmentStatus = "delivered"
	StatusCancelled        ShipmentStatus = "cancelled"
)

// AllStatuses lists every status in typical progress order
var AllStatuses = []ShipmentStatus{
	StatusDraft,
	StatusConfirmed,
	StatusPaymentReceived,
	StatusPickupScheduled,
	StatusOutForPickup,
	StatusPickedUp,
	StatusAtWarehouse,
	StatusQCInProgress,
	StatusQCPassed,
	StatusQCFailed,
	StatusPendingPayment,
	StatusDispatched,
	StatusInTransit,
	StatusCustomsClearance,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

// ParseShipmentStatus converts a raw string into a known status
func ParseShipmentStatus(s string) (ShipmentStatus, error) {
	for _, status := range AllStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown shipment status %q", s)
}

// IsTerminal reports whether no further transitions are possible
func (s ShipmentStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// ShipmentType discriminates the booking payload
type ShipmentType string

const (
	ShipmentTypeMedicine ShipmentType = "medicine"
	ShipmentTypeDocument ShipmentType = "document"
	ShipmentTypeGift     ShipmentType = "gift"
)

// Shipment represents a courier booking and its lifecycle state
type Shipment struct {
	ID                   string          `db:"id" json:"id"`
	TrackingNumber       *string         `db:"tracking_number" json:"trackingNumber,omitempty"`
	OwnerID              string          `db:"owner_id" json:"ownerId"`
	Type                 ShipmentType    `db:"shipment_type" json:"type"`
	Status               ShipmentStatus  `db:"status" json:"status"`
	Version              int64           `db:"version" json:"version"`
	DestinationCountry   string          `db:"destination_country" json:"destinationCountry"`
	RecipientName        string          `db:"recipient_name" json:"recipientName"`
	RecipientPhone       string          `db:"recipient_phone" json:"recipientPhone"`
	RecipientAddress     string          `db:"recipient_address" json:"recipientAddress"`
	PickupAddress        string          `db:"pickup_address" json:"pickupAddress"`
	WeightKg             decimal.Decimal `db:"weight_kg" json:"weightKg"`
	DeclaredValue        decimal.Decimal `db:"declared_value" json:"declaredValue"`
	ShippingCharge       decimal.Decimal `db:"shipping_charge" json:"shippingCharge"`
	TotalAmount          decimal.Decimal `db:"total_amount" json:"totalAmount"`
	AdditionalCharge     decimal.Decimal `db:"additional_charge" json:"additionalCharge"`
	PrescriptionURL      *string         `db:"prescription_url" json:"prescriptionUrl,omitempty"`
	DomesticAWB          *string         `db:"domestic_awb" json:"domesticAwb,omitempty"`
	InternationalCarrier *string         `db:"international_carrier" json:"internationalCarrier,omitempty"`
	InternationalAWB     *string         `db:"international_awb" json:"internationalAwb,omitempty"`
	ManifestID           *string         `db:"manifest_id" json:"manifestId,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updatedAt"`

	Items  []LineItem `db:"-" json:"items,omitempty"`
	Addons []Addon    `db:"-" json:"addons,omitempty"`
}

// NewShipment creates a draft shipment owned by ownerID
func NewShipment(ownerID string, shipmentType ShipmentType) *Shipment {
	now := GetCurrentTime()
	return &Shipment{
		ID:        GenerateID("shp"),
		OwnerID:   ownerID,
		Type:      shipmentType,
		Status:    StatusDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LineItem is one declared content of a shipment
type LineItem struct {
	ID                   string          `db:"id" json:"id"`
	ShipmentID           string          `db:"shipment_id" json:"shipmentId"`
	Kind                 ShipmentType    `db:"kind" json:"kind"`
	Description          string          `db:"description" json:"description"`
	Quantity             int             `db:"quantity" json:"quantity"`
	UnitValue            decimal.Decimal `db:"unit_value" json:"unitValue"`
	PrescriptionRequired bool            `db:"prescription_required" json:"prescriptionRequired"`
}

// Value returns quantity times unit value
func (i LineItem) Value() decimal.Decimal {
	return i.UnitValue.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Addon is an optional paid service attached to a shipment
type Addon struct {
	ShipmentID string          `db:"shipment_id" json:"shipmentId"`
	Code       string          `db:"code" json:"code"`
	Price      decimal.Decimal `db:"price" json:"price"`
}

// StatusChange is one row of a shipment's lifecycle history
type StatusChange struct {
	ID         string         `db:"id" json:"id"`
	ShipmentID string         `db:"shipment_id" json:"shipmentId"`
	FromStatus ShipmentStatus `db:"from_status" json:"fromStatus"`
	ToStatus   ShipmentStatus `db:"to_status" json:"toStatus"`
	Version    int64          `db:"version" json:"version"`
	ActorID    string         `db:"actor_id" json:"actorId"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}
