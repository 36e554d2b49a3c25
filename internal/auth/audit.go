package auth

import (
	"context"

	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// AuditRecorder persists access decisions
type AuditRecorder interface {
	Record(ctx context.Context, actorID, operation string, decision models.AuditDecision, reason string)
}

// StoreAuditRecorder writes decisions to the audit store. Failures are logged and swallowed.
type StoreAuditRecorder struct {
	store  repository.AuditStore
	logger logger.Logger
}

// NewStoreAuditRecorder creates a new StoreAuditRecorder
func NewStoreAuditRecorder(store repository.AuditStore, logger logger.Logger) *StoreAuditRecorder {
	return &StoreAuditRecorder{store: store, logger: logger}
}

// Record writes one audit entry
func (r *StoreAuditRecorder) Record(ctx context.Context, actorID, operation string, decision models.AuditDecision, reason string) {
	entry := &models.AuditEntry{
		ID:         models.GenerateID("aud"),
		ActorID:    actorID,
		Operation:  operation,
		Decision:   decision,
		Reason:     reason,
		OccurredAt: models.GetCurrentTime(),
	}

	if err := r.store.RecordAudit(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error("Failed to record audit entry", "error", err, "actorID", actorID, "operation", operation)
	}
}
