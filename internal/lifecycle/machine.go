package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// Funds is the ledger surface the machine needs inside a transaction
type Funds interface {
	DebitInTx(ctx context.Context, tx repository.Tx, userID string, amount decimal.Decimal, shipmentID, description string) (*models.LedgerEntry, error)
	HoldInTx(ctx context.Context, tx repository.Tx, userID string, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error)
	CaptureHoldInTx(ctx context.Context, tx repository.Tx, userID, referenceID, description string) ([]*models.LedgerEntry, error)
	SettleInTx(ctx context.Context, tx repository.Tx, userID, referenceID string) ([]*models.LedgerEntry, error)
}

// TransitionRequest asks for one status change
type TransitionRequest struct {
	ShipmentID      string
	To              models.ShipmentStatus
	ExpectedVersion int64
	Actor           models.Actor

	// AllowedFrom narrows the legal current statuses, used when an admin action
	// names a specific edge rather than just a target.
	AllowedFrom []models.ShipmentStatus

	// Charge is the additional amount reserved when requesting payment
	Charge decimal.Decimal
	// DomesticAWB is recorded when pickup is scheduled
	DomesticAWB string
	// Carrier, AWB and ManifestID are recorded on dispatch
	Carrier    string
	AWB        string
	ManifestID string
}

// Machine applies shipment transitions
type Machine struct {
	store  repository.Store
	funds  Funds
	logger logger.Logger
}

// NewMachine creates a new Machine
func NewMachine(store repository.Store, funds Funds, logger logger.Logger) *Machine {
	return &Machine{
		store:  store,
		funds:  funds,
		logger: logger,
	}
}

// Transition validates and applies one status change. On any failure nothing is persisted.
func (m *Machine) Transition(ctx context.Context, req TransitionRequest) (*models.Shipment, error) {
	var shipment *models.Shipment

	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		shipment, err = m.apply(ctx, tx, req)
		return err
	})

	if err != nil {
		m.logFailure(err, req)
		return nil, err
	}

	m.logger.Info("Shipment status changed",
		"shipmentID", shipment.ID,
		"status", shipment.Status,
		"version", shipment.Version,
		"actorID", req.Actor.UserID)

	return shipment, nil
}

// DispatchItem is one member of a manifest
type DispatchItem struct {
	ShipmentID      string `json:"shipmentId" validate:"required"`
	ExpectedVersion int64  `json:"expectedVersion" validate:"required,gt=0"`
	AWB             string `json:"awb" validate:"required"`
}

// BatchDispatch creates a manifest and dispatches every member in one transaction.
// If any member fails the whole batch is rolled back.
func (m *Machine) BatchDispatch(ctx context.Context, carrier string, items []DispatchItem, actor models.Actor) (*models.Manifest, []*models.Shipment, error) {
	if carrier == "" {
		return nil, nil, apperrors.NewValidationError("carrier is required")
	}
	if len(items) == 0 {
		return nil, nil, apperrors.NewValidationError("a manifest needs at least one shipment")
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.ShipmentID] {
			return nil, nil, apperrors.NewValidationError(fmt.Sprintf("shipment %s appears twice", item.ShipmentID))
		}
		seen[item.ShipmentID] = true
	}

	manifest := models.NewManifest(carrier, actor.UserID)
	var shipments []*models.Shipment

	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		shipments = shipments[:0]

		if err := tx.CreateManifest(ctx, manifest); err != nil {
			return err
		}

		for _, item := range items {
			shipment, err := m.apply(ctx, tx, TransitionRequest{
				ShipmentID:      item.ShipmentID,
				To:              models.StatusDispatched,
				ExpectedVersion: item.ExpectedVersion,
				Actor:           actor,
				Carrier:         carrier,
				AWB:             item.AWB,
				ManifestID:      manifest.ID,
			})
			if err != nil {
				var appErr *apperrors.AppError
				if errors.As(err, &appErr) {
					appErr.WithContext("shipmentId", item.ShipmentID)
				}
				return err
			}
			shipments = append(shipments, shipment)
		}
		return nil
	})

	if err != nil {
		m.logger.Warn("Manifest rolled back", "error", err, "carrier", carrier, "size", len(items))
		return nil, nil, err
	}

	manifest.ShipmentIDs = make([]string, 0, len(shipments))
	for _, s := range shipments {
		manifest.ShipmentIDs = append(manifest.ShipmentIDs, s.ID)
	}

	m.logger.Info("Manifest dispatched", "manifestID", manifest.ID, "carrier", carrier, "size", len(shipments))
	return manifest, shipments, nil
}

// apply runs the transition contract inside tx
func (m *Machine) apply(ctx context.Context, tx repository.Tx, req TransitionRequest) (*models.Shipment, error) {
	shipment, err := tx.GetShipmentForUpdate(ctx, req.ShipmentID)

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("shipment %s not found", req.ShipmentID))
		}
		return nil, err
	}

	if shipment.Version != req.ExpectedVersion {
		return nil, apperrors.NewVersionConflictError(fmt.Sprintf(
			"shipment %s is at version %d, not %d", shipment.ID, shipment.Version, req.ExpectedVersion))
	}

	edge, ok := Lookup(shipment.Status, req.To)
	if !ok || !statusIn(shipment.Status, req.AllowedFrom) {
		return nil, apperrors.NewInvalidTransitionError(fmt.Sprintf(
			"cannot move shipment from %s to %s", shipment.Status, req.To))
	}

	if !edge.Permits(req.Actor, shipment.OwnerID) {
		return nil, apperrors.NewForbiddenError("You do not have permission to perform this action")
	}

	from := shipment.Status

	if err := m.applyEffect(ctx, tx, edge, shipment, req); err != nil {
		return nil, err
	}

	shipment.Status = req.To

	if err := tx.UpdateShipment(ctx, shipment, req.ExpectedVersion); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperrors.NewVersionConflictError(fmt.Sprintf("shipment %s was modified concurrently", shipment.ID))
		}
		return nil, err
	}

	change := &models.StatusChange{
		ID:         models.GenerateID("hst"),
		ShipmentID: shipment.ID,
		FromStatus: from,
		ToStatus:   shipment.Status,
		Version:    shipment.Version,
		ActorID:    req.Actor.UserID,
		CreatedAt:  shipment.UpdatedAt,
	}

	if err := tx.AppendStatusChange(ctx, change); err != nil {
		return nil, err
	}

	event, err := models.NewShipmentStatusChangedEvent(shipment, from, req.Actor.UserID)

	if err != nil {
		return nil, fmt.Errorf("failed to build status event: %w", err)
	}

	if err := tx.EnqueueOutbox(ctx, event); err != nil {
		return nil, err
	}

	return shipment, nil
}

func (m *Machine) applyEffect(ctx context.Context, tx repository.Tx, edge Edge, shipment *models.Shipment, req TransitionRequest) error {
	switch edge.Effect {
	case EffectConfirm:
		if shipment.TrackingNumber == nil {
			shipment.TrackingNumber = models.StringPtr(models.GenerateTrackingNumber())
		}
		if shipment.TotalAmount.IsPositive() {
			_, err := m.funds.DebitInTx(ctx, tx, shipment.OwnerID, shipment.TotalAmount, shipment.ID,
				"Shipment booking "+*shipment.TrackingNumber)
			return err
		}

	case EffectSchedulePickup:
		if req.DomesticAWB != "" {
			shipment.DomesticAWB = models.StringPtr(req.DomesticAWB)
		}

	case EffectRequestPayment:
		if !req.Charge.IsPositive() {
			return apperrors.NewValidationError("an additional charge greater than zero is required")
		}
		if _, err := m.funds.HoldInTx(ctx, tx, shipment.OwnerID, req.Charge, shipment.ID, "Additional charge reserved"); err != nil {
			return err
		}
		shipment.AdditionalCharge = shipment.AdditionalCharge.Add(req.Charge)

	case EffectCapturePayment:
		_, err := m.funds.CaptureHoldInTx(ctx, tx, shipment.OwnerID, shipment.ID, "Additional shipment charge")
		return err

	case EffectDispatch:
		if req.Carrier == "" || req.AWB == "" {
			return apperrors.NewValidationError("carrier and awb are required for dispatch")
		}
		shipment.InternationalCarrier = models.StringPtr(req.Carrier)
		shipment.InternationalAWB = models.StringPtr(req.AWB)
		if req.ManifestID != "" {
			shipment.ManifestID = models.StringPtr(req.ManifestID)
		}

	case EffectSettle:
		_, err := m.funds.SettleInTx(ctx, tx, shipment.OwnerID, shipment.ID)
		return err
	}

	return nil
}

// logFailure keeps expected outcomes out of the error log
func (m *Machine) logFailure(err error, req TransitionRequest) {
	appErr := apperrors.From(err)

	switch appErr.Code {
	case apperrors.CodeInternal, apperrors.CodeUpstream:
		m.logger.Error("Failed to change shipment status", "error", err, "shipmentID", req.ShipmentID, "to", req.To)
	default:
		m.logger.Debug("Shipment transition rejected", "code", appErr.Code, "shipmentID", req.ShipmentID, "to", req.To)
	}
}

func statusIn(status models.ShipmentStatus, allowed []models.ShipmentStatus) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}
