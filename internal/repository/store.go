package repository

import (
	"context"
	"time"

	"github.com/vaidashi/courier-lifecycle/internal/models"
)

// ShipmentFilter selects shipments for the background workers
type ShipmentFilter struct {
	Statuses        []models.ShipmentStatus
	WithDomesticAWB bool
	// UpdatedBefore excludes shipments touched at or after it. Zero means no bound.
	UpdatedBefore time.Time
	// BySyncAge orders by last carrier sync, never-synced first, instead of by last update.
	BySyncAge bool
	Limit     int
}

// ShipmentStore persists shipments outside of a lifecycle transaction.
// Status and version are only ever changed through Tx.
type ShipmentStore interface {
	CreateShipment(ctx context.Context, shipment *models.Shipment) error
	AddLineItems(ctx context.Context, shipmentID string, items []models.LineItem) error
	AddAddons(ctx context.Context, shipmentID string, addons []models.Addon) error
	// DeleteShipment is only used to compensate a booking whose children failed to insert.
	DeleteShipment(ctx context.Context, id string) error
	GetShipment(ctx context.Context, id string) (*models.Shipment, error)
	ListShipments(ctx context.Context, filter ShipmentFilter) ([]*models.Shipment, error)
	// MarkSynced records that the carrier was polled for a shipment, whatever the outcome.
	MarkSynced(ctx context.Context, id string, at time.Time) error
	StatusHistory(ctx context.Context, shipmentID string) ([]models.StatusChange, error)
}

// LedgerReader reads the append-only ledger
type LedgerReader interface {
	ListEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error)
	GetReceipt(ctx context.Context, id string) (*models.Receipt, error)
}

// RoleStore resolves role assignments
type RoleStore interface {
	GetRoles(ctx context.Context, userID string) ([]models.Role, error)
	GrantRole(ctx context.Context, userID string, role models.Role) error
}

// AuditStore persists access decisions
type AuditStore interface {
	RecordAudit(ctx context.Context, entry *models.AuditEntry) error
}

// OutboxStore is used by the outbox processor
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	// MarkAsProcessing claims a pending message at claimedAt.
	MarkAsProcessing(ctx context.Context, id int64, claimedAt time.Time) error
	// ReclaimStale returns messages claimed before cutoff to pending and reports how many.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
	MarkAsCompleted(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64, errorMessage string) error
	MarkAsPending(ctx context.Context, id int64, errorMessage string) error
}

// Tx is a unit of work. Everything written through one Tx commits or rolls back together.
type Tx interface {
	// GetShipmentForUpdate loads and locks the row until the transaction ends.
	GetShipmentForUpdate(ctx context.Context, id string) (*models.Shipment, error)
	// UpdateShipment persists status and the mutable hand-off fields, bumping version by one.
	// It fails with ErrVersionConflict unless the stored version equals expectedVersion.
	UpdateShipment(ctx context.Context, shipment *models.Shipment, expectedVersion int64) error
	AppendStatusChange(ctx context.Context, change *models.StatusChange) error
	CreateManifest(ctx context.Context, manifest *models.Manifest) error

	// LockAccount serializes money movement for one user until the transaction ends.
	LockAccount(ctx context.Context, userID string) error
	AccountTotals(ctx context.Context, userID string) (models.LedgerTotals, error)
	ReferenceTotals(ctx context.Context, userID, referenceID string) (models.LedgerTotals, error)
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error
	CreateReceipt(ctx context.Context, receipt *models.Receipt) error
	GetReceiptByPaymentRef(ctx context.Context, paymentRef string) (*models.Receipt, error)

	EnqueueOutbox(ctx context.Context, message *models.OutboxMessage) error
}

// Store is the full persistence surface of the service
type Store interface {
	ShipmentStore
	LedgerReader
	RoleStore
	AuditStore
	OutboxStore

	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
