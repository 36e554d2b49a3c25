package repository

import (
	"context"
	"fmt"

	"github.com/vaidashi/courier-lifecycle/internal/models"
)

// GetRoles returns the roles assigned to a user; none is a valid answer
func (s *PostgresStore) GetRoles(ctx context.Context, userID string) ([]models.Role, error) {
	var roles []models.Role

	if err := s.db.DB.SelectContext(ctx, &roles, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID); err != nil {
		s.logger.Error("Failed to get roles", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return roles, nil
}

// GrantRole assigns role to a user; granting twice is a no-op
func (s *PostgresStore) GrantRole(ctx context.Context, userID string, role models.Role) error {
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, userID, role)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// RecordAudit stores one access decision
func (s *PostgresStore) RecordAudit(ctx context.Context, entry *models.AuditEntry) error {
	_, err := s.db.DB.NamedExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, operation, decision, reason, occurred_at)
		VALUES (:id, :actor_id, :operation, :decision, :reason, :occurred_at)
	`, entry)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}
