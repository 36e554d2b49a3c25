package worker

import (
	"context"
	"time"

	"github.com/vaidashi/courier-lifecycle/internal/lifecycle"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// SimulationConfig controls the demo progression
type SimulationConfig struct {
	StepInterval time.Duration
	BatchSize    int
	Production   bool
}

// SimulationWorker walks idle shipments one step along the happy path. It never runs in production.
type SimulationWorker struct {
	store   repository.ShipmentStore
	machine *lifecycle.Machine
	cfg     SimulationConfig
	actor   models.Actor
	now     func() time.Time
	logger  logger.Logger
}

// NewSimulationWorker creates a new SimulationWorker
func NewSimulationWorker(store repository.ShipmentStore, machine *lifecycle.Machine, cfg SimulationConfig, logger logger.Logger) *SimulationWorker {
	return &SimulationWorker{
		store:   store,
		machine: machine,
		cfg:     cfg,
		actor:   models.SystemActor("simulation"),
		now:     time.Now,
		logger:  logger,
	}
}

// Run advances every eligible shipment by one step
func (w *SimulationWorker) Run(ctx context.Context) (Result, error) {
	if w.cfg.Production {
		return Result{}, apperrors.NewForbiddenError("simulation is disabled in production")
	}

	var result Result

	// Only statuses the system actor can advance
	shipments, err := w.store.ListShipments(ctx, repository.ShipmentFilter{
		Statuses:      lifecycle.AdvanceableBy(w.actor),
		UpdatedBefore: w.now().Add(-w.cfg.StepInterval),
		Limit:         w.cfg.BatchSize,
	})

	if err != nil {
		return result, err
	}

	for _, s := range shipments {
		if ctx.Err() != nil {
			break
		}
		result.Processed++

		next, ok := lifecycle.NextOnPath(s.Status)
		if !ok {
			result.Skipped++
			continue
		}

		edge, ok := lifecycle.Lookup(s.Status, next)
		if !ok || !edge.Permits(w.actor, s.OwnerID) {
			result.Skipped++
			continue
		}

		_, err := w.machine.Transition(ctx, lifecycle.TransitionRequest{
			ShipmentID:      s.ID,
			To:              next,
			ExpectedVersion: s.Version,
			Actor:           w.actor,
		})

		if err != nil {
			result.Errors++
			w.logger.Warn("Simulation step failed", "error", err, "shipmentID", s.ID, "to", next)
			continue
		}
		result.Advanced++
	}

	return result, nil
}
