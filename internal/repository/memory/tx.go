package memory

import (
	"context"

	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
)

// memTx mutates the live state; Store.InTx restores the snapshot on failure
type memTx struct {
	st *state
}

func (t *memTx) GetShipmentForUpdate(ctx context.Context, id string) (*models.Shipment, error) {
	shipment, ok := t.st.shipments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &shipment, nil
}

func (t *memTx) UpdateShipment(ctx context.Context, shipment *models.Shipment, expectedVersion int64) error {
	current, ok := t.st.shipments[shipment.ID]
	if !ok || current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}

	if shipment.ManifestID != nil {
		if _, ok := t.st.manifests[*shipment.ManifestID]; !ok {
			return repository.ErrNotFound
		}
	}

	joinsManifest := shipment.ManifestID != nil && current.ManifestID == nil

	now := models.GetCurrentTime()
	current.Status = shipment.Status
	current.TrackingNumber = shipment.TrackingNumber
	current.AdditionalCharge = shipment.AdditionalCharge
	current.DomesticAWB = shipment.DomesticAWB
	current.InternationalCarrier = shipment.InternationalCarrier
	current.InternationalAWB = shipment.InternationalAWB
	current.ManifestID = shipment.ManifestID
	current.Version = expectedVersion + 1
	current.UpdatedAt = now
	t.st.shipments[shipment.ID] = current

	if joinsManifest {
		m := t.st.manifests[*shipment.ManifestID]
		m.ShipmentIDs = append(m.ShipmentIDs, shipment.ID)
		t.st.manifests[m.ID] = m
	}

	shipment.Version = current.Version
	shipment.UpdatedAt = now
	return nil
}

func (t *memTx) AppendStatusChange(ctx context.Context, change *models.StatusChange) error {
	for _, existing := range t.st.history[change.ShipmentID] {
		if existing.Version == change.Version {
			return repository.ErrDuplicate
		}
	}
	t.st.history[change.ShipmentID] = append(t.st.history[change.ShipmentID], *change)
	return nil
}

func (t *memTx) CreateManifest(ctx context.Context, manifest *models.Manifest) error {
	if _, exists := t.st.manifests[manifest.ID]; exists {
		return repository.ErrDuplicate
	}
	row := *manifest
	row.ShipmentIDs = nil
	t.st.manifests[manifest.ID] = row
	return nil
}

// LockAccount is a no-op: the store lock is already held for the whole transaction
func (t *memTx) LockAccount(ctx context.Context, userID string) error {
	return nil
}

func (t *memTx) AccountTotals(ctx context.Context, userID string) (models.LedgerTotals, error) {
	var totals models.LedgerTotals
	for _, entry := range t.st.entries {
		if entry.UserID == userID {
			totals.Add(entry)
		}
	}
	return totals, nil
}

func (t *memTx) ReferenceTotals(ctx context.Context, userID, referenceID string) (models.LedgerTotals, error) {
	var totals models.LedgerTotals
	for _, entry := range t.st.entries {
		if entry.UserID == userID && entry.ReferenceID != nil && *entry.ReferenceID == referenceID {
			totals.Add(entry)
		}
	}
	return totals, nil
}

func (t *memTx) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if !entry.Amount.IsPositive() {
		return repository.ErrDatabase
	}
	t.st.entries = append(t.st.entries, *entry)
	return nil
}

func (t *memTx) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	for _, existing := range t.st.receipts {
		if existing.PaymentRef == receipt.PaymentRef {
			return repository.ErrDuplicate
		}
	}
	t.st.receipts[receipt.ID] = *receipt
	return nil
}

func (t *memTx) GetReceiptByPaymentRef(ctx context.Context, paymentRef string) (*models.Receipt, error) {
	for _, receipt := range t.st.receipts {
		if receipt.PaymentRef == paymentRef {
			r := receipt
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *memTx) EnqueueOutbox(ctx context.Context, message *models.OutboxMessage) error {
	t.st.nextOutboxID++
	message.ID = t.st.nextOutboxID
	t.st.outbox = append(t.st.outbox, *message)
	return nil
}
