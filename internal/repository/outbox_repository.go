package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vaidashi/courier-lifecycle/internal/models"
)

// EnqueueOutbox inserts a new outbox message within the transaction
func (t *pgTx) EnqueueOutbox(ctx context.Context, message *models.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			aggregate_type, aggregate_id, event_type, payload,
			created_at, status
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) RETURNING id
	`

	var id int64

	err := t.tx.QueryRowContext(
		ctx,
		query,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&id)

	if err != nil {
		t.logger.Error("Failed to create outbox message", "error", err, "aggregateID", message.AggregateID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	message.ID = id
	return nil
}

// GetPendingMessages returns up to limit pending messages, oldest first
func (s *PostgresStore) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
			   created_at, processed_at, processing_attempts, last_error, status
		FROM outbox_messages
		WHERE status = $1
		ORDER BY id ASC
		LIMIT $2
	`

	var messages []*models.OutboxMessage

	err := s.db.DB.SelectContext(ctx, &messages, query, models.OutboxStatusPending, limit)

	if err != nil {
		s.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// MarkAsProcessing updates the status of an outbox message to processing
func (s *PostgresStore) MarkAsProcessing(ctx context.Context, id int64, claimedAt time.Time) error {
	return s.setOutboxStatus(ctx, `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = processing_attempts + 1, claimed_at = $2
		WHERE id = $3
	`, models.OutboxStatusProcessing, claimedAt, id)
}

// ReclaimStale puts messages whose claim expired back into the queue
func (s *PostgresStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $1
		WHERE status = $2 AND (claimed_at IS NULL OR claimed_at < $3)
	`, models.OutboxStatusPending, models.OutboxStatusProcessing, cutoff)

	if err != nil {
		s.logger.Error("Failed to reclaim outbox messages", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return int(n), nil
}

// MarkAsCompleted updates the status of an outbox message to completed
func (s *PostgresStore) MarkAsCompleted(ctx context.Context, id int64) error {
	return s.setOutboxStatus(ctx, `
		UPDATE outbox_messages
		SET status = $1, processed_at = $2
		WHERE id = $3
	`, models.OutboxStatusCompleted, time.Now().UTC(), id)
}

// MarkAsFailed parks a message that exhausted its retries
func (s *PostgresStore) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	return s.setOutboxStatus(ctx, `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`, models.OutboxStatusFailed, errorMessage, id)
}

// MarkAsPending returns a message to the queue for another attempt
func (s *PostgresStore) MarkAsPending(ctx context.Context, id int64, errorMessage string) error {
	return s.setOutboxStatus(ctx, `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`, models.OutboxStatusPending, errorMessage, id)
}

func (s *PostgresStore) setOutboxStatus(ctx context.Context, query string, args ...interface{}) error {
	if _, err := s.db.DB.ExecContext(ctx, query, args...); err != nil {
		s.logger.Error("Failed to update outbox message", "error", err)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}
