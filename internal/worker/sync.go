package worker

import (
	"context"
	"errors"
	"time"

	"github.com/vaidashi/courier-lifecycle/internal/clients"
	"github.com/vaidashi/courier-lifecycle/internal/lifecycle"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// TrackingSource returns the carrier's latest scan for a domestic AWB
type TrackingSource interface {
	LatestEvent(ctx context.Context, awb string) (*clients.TrackingEvent, error)
}

var syncStatuses = []models.ShipmentStatus{
	models.StatusPickupScheduled,
	models.StatusOutForPickup,
	models.StatusPickedUp,
}

// SyncWorker advances shipments in domestic pickup from carrier tracking scans
type SyncWorker struct {
	store     repository.ShipmentStore
	machine   *lifecycle.Machine
	carrier   TrackingSource
	batchSize int
	actor     models.Actor
	now       func() time.Time
	logger    logger.Logger
}

// NewSyncWorker creates a new SyncWorker
func NewSyncWorker(store repository.ShipmentStore, machine *lifecycle.Machine, carrier TrackingSource, batchSize int, logger logger.Logger) *SyncWorker {
	return &SyncWorker{
		store:     store,
		machine:   machine,
		carrier:   carrier,
		batchSize: batchSize,
		actor:     models.SystemActor("domestic-sync"),
		now:       time.Now,
		logger:    logger,
	}
}

// Run syncs one batch. Per-shipment failures are counted, not returned.
func (w *SyncWorker) Run(ctx context.Context) (Result, error) {
	var result Result

	shipments, err := w.store.ListShipments(ctx, repository.ShipmentFilter{
		Statuses:        syncStatuses,
		WithDomesticAWB: true,
		BySyncAge:       true,
		Limit:           w.batchSize,
	})

	if err != nil {
		return result, err
	}

	for _, s := range shipments {
		if ctx.Err() != nil {
			break
		}
		result.Processed++

		advanced, err := w.syncOne(ctx, s)

		// Rotate polled shipments to the back of the queue, including ones with no new scan
		if markErr := w.store.MarkSynced(ctx, s.ID, w.now()); markErr != nil {
			w.logger.Warn("Failed to record sync", "error", markErr, "shipmentID", s.ID)
		}

		switch {
		case err != nil:
			result.Errors++
			w.logger.Warn("Failed to sync shipment", "error", err, "shipmentID", s.ID)
		case advanced:
			result.Advanced++
		default:
			result.Skipped++
		}
	}

	return result, nil
}

func (w *SyncWorker) syncOne(ctx context.Context, s *models.Shipment) (bool, error) {
	event, err := w.carrier.LatestEvent(ctx, *s.DomesticAWB)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	target, ok := clients.MapCarrierCode(event.Code)
	if !ok {
		w.logger.Debug("Ignoring carrier code", "code", event.Code, "shipmentID", s.ID)
		return false, nil
	}

	// The carrier call can be slow; state may have moved since the list
	current, err := w.store.GetShipment(ctx, s.ID)

	if err != nil {
		return false, err
	}

	if current.Status == target {
		return false, nil
	}

	if _, ok := lifecycle.Lookup(current.Status, target); !ok {
		w.logger.Debug("Carrier status does not follow current status",
			"shipmentID", s.ID, "status", current.Status, "carrierStatus", target)
		return false, nil
	}

	_, err = w.machine.Transition(ctx, lifecycle.TransitionRequest{
		ShipmentID:      current.ID,
		To:              target,
		ExpectedVersion: current.Version,
		Actor:           w.actor,
	})

	if err != nil {
		return false, err
	}

	return true, nil
}
