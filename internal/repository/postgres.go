package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/vaidashi/courier-lifecycle/internal/database"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// PostgresStore implements Store on top of sqlx and lib/pq
type PostgresStore struct {
	db     *database.Database
	logger logger.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *database.Database, logger logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Ping checks the underlying connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// InTx runs fn inside a database transaction
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.DB.BeginTxx(ctx, nil)

	if err != nil {
		s.logger.Error("Failed to begin transaction", "error", err)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	// Rollback transaction if any error occurs
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				s.logger.Error("Failed to rollback transaction", "error", rollbackErr)
			}
		}
	}()

	if err = fn(&pgTx{tx: tx, logger: s.logger}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", "error", err)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// pgTx implements Tx over one sqlx transaction
type pgTx struct {
	tx     *sqlx.Tx
	logger logger.Logger
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func dbError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return fmt.Errorf("%w: %v", ErrDatabase, err)
}
