package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/vaidashi/courier-lifecycle/internal/models"
)

const shipmentColumns = `id, tracking_number, owner_id, shipment_type, status, version,
	destination_country, recipient_name, recipient_phone, recipient_address, pickup_address,
	weight_kg, declared_value, shipping_charge, total_amount, additional_charge,
	prescription_url, domestic_awb, international_carrier, international_awb, manifest_id,
	created_at, updated_at`

// CreateShipment inserts a new shipment row without children
func (s *PostgresStore) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	query := `
		INSERT INTO shipments (` + shipmentColumns + `)
		VALUES (:id, :tracking_number, :owner_id, :shipment_type, :status, :version,
			:destination_country, :recipient_name, :recipient_phone, :recipient_address, :pickup_address,
			:weight_kg, :declared_value, :shipping_charge, :total_amount, :additional_charge,
			:prescription_url, :domestic_awb, :international_carrier, :international_awb, :manifest_id,
			:created_at, :updated_at)
	`

	if _, err := s.db.DB.NamedExecContext(ctx, query, shipment); err != nil {
		s.logger.Error("Failed to create shipment", "error", err, "shipmentID", shipment.ID)
		return dbError(err)
	}

	return nil
}

// AddLineItems inserts all items of a shipment in one statement
func (s *PostgresStore) AddLineItems(ctx context.Context, shipmentID string, items []models.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	for i := range items {
		items[i].ShipmentID = shipmentID
	}

	query := `
		INSERT INTO shipment_items (id, shipment_id, kind, description, quantity, unit_value, prescription_required)
		VALUES (:id, :shipment_id, :kind, :description, :quantity, :unit_value, :prescription_required)
	`

	if _, err := s.db.DB.NamedExecContext(ctx, query, items); err != nil {
		s.logger.Error("Failed to add line items", "error", err, "shipmentID", shipmentID)
		return dbError(err)
	}

	return nil
}

// AddAddons inserts the selected add-ons of a shipment
func (s *PostgresStore) AddAddons(ctx context.Context, shipmentID string, addons []models.Addon) error {
	if len(addons) == 0 {
		return nil
	}

	for i := range addons {
		addons[i].ShipmentID = shipmentID
	}

	query := `
		INSERT INTO shipment_addons (shipment_id, code, price)
		VALUES (:shipment_id, :code, :price)
	`

	if _, err := s.db.DB.NamedExecContext(ctx, query, addons); err != nil {
		s.logger.Error("Failed to add addons", "error", err, "shipmentID", shipmentID)
		return dbError(err)
	}

	return nil
}

// DeleteShipment removes a draft and its children
func (s *PostgresStore) DeleteShipment(ctx context.Context, id string) error {
	result, err := s.db.DB.ExecContext(ctx, `DELETE FROM shipments WHERE id = $1 AND status = $2`, id, models.StatusDraft)

	if err != nil {
		s.logger.Error("Failed to delete shipment", "error", err, "shipmentID", id)
		return dbError(err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetShipment retrieves a shipment with its items and add-ons
func (s *PostgresStore) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	shipment, err := getShipment(ctx, s.db.DB, id, false)

	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("Failed to get shipment", "error", err, "shipmentID", id)
		}
		return nil, err
	}

	if err := s.db.DB.SelectContext(ctx, &shipment.Items,
		`SELECT id, shipment_id, kind, description, quantity, unit_value, prescription_required
		FROM shipment_items WHERE shipment_id = $1 ORDER BY id`, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err := s.db.DB.SelectContext(ctx, &shipment.Addons,
		`SELECT shipment_id, code, price FROM shipment_addons WHERE shipment_id = $1 ORDER BY code`, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return shipment, nil
}

// ListShipments returns shipments matching filter, least recently updated first
// or, with BySyncAge, least recently synced first
func (s *PostgresStore) ListShipments(ctx context.Context, filter ShipmentFilter) ([]*models.Shipment, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, status := range filter.Statuses {
		statuses[i] = string(status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	args := []interface{}{pq.Array(statuses), limit}
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE status = ANY($1)`
	if filter.WithDomesticAWB {
		query += ` AND domestic_awb IS NOT NULL`
	}
	if !filter.UpdatedBefore.IsZero() {
		args = append(args, filter.UpdatedBefore)
		query += fmt.Sprintf(` AND updated_at < $%d`, len(args))
	}
	if filter.BySyncAge {
		query += ` ORDER BY last_synced_at ASC NULLS FIRST, updated_at ASC, id ASC LIMIT $2`
	} else {
		query += ` ORDER BY updated_at ASC, id ASC LIMIT $2`
	}

	var shipments []*models.Shipment

	if err := s.db.DB.SelectContext(ctx, &shipments, query, args...); err != nil {
		s.logger.Error("Failed to list shipments", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return shipments, nil
}

// MarkSynced stamps last_synced_at without touching status, version or updated_at
func (s *PostgresStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.DB.ExecContext(ctx, `UPDATE shipments SET last_synced_at = $2 WHERE id = $1`, id, at)

	if err != nil {
		s.logger.Error("Failed to mark shipment synced", "error", err, "shipmentID", id)
		return dbError(err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StatusHistory returns the transitions of a shipment in version order
func (s *PostgresStore) StatusHistory(ctx context.Context, shipmentID string) ([]models.StatusChange, error) {
	var changes []models.StatusChange

	err := s.db.DB.SelectContext(ctx, &changes, `
		SELECT id, shipment_id, from_status, to_status, version, actor_id, created_at
		FROM shipment_status_history
		WHERE shipment_id = $1
		ORDER BY version ASC
	`, shipmentID)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return changes, nil
}

// GetShipmentForUpdate loads the shipment row with a row lock
func (t *pgTx) GetShipmentForUpdate(ctx context.Context, id string) (*models.Shipment, error) {
	return getShipment(ctx, t.tx, id, true)
}

// UpdateShipment writes the transition guarded by the expected version
func (t *pgTx) UpdateShipment(ctx context.Context, shipment *models.Shipment, expectedVersion int64) error {
	now := models.GetCurrentTime()

	result, err := t.tx.ExecContext(ctx, `
		UPDATE shipments
		SET status = $1, version = version + 1, tracking_number = $2, additional_charge = $3,
			domestic_awb = $4, international_carrier = $5, international_awb = $6, manifest_id = $7,
			updated_at = $8
		WHERE id = $9 AND version = $10
	`,
		shipment.Status,
		shipment.TrackingNumber,
		shipment.AdditionalCharge,
		shipment.DomesticAWB,
		shipment.InternationalCarrier,
		shipment.InternationalAWB,
		shipment.ManifestID,
		now,
		shipment.ID,
		expectedVersion,
	)

	if err != nil {
		t.logger.Error("Failed to update shipment", "error", err, "shipmentID", shipment.ID)
		return dbError(err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return ErrVersionConflict
	}

	shipment.Version = expectedVersion + 1
	shipment.UpdatedAt = now
	return nil
}

// AppendStatusChange records one history row
func (t *pgTx) AppendStatusChange(ctx context.Context, change *models.StatusChange) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO shipment_status_history (id, shipment_id, from_status, to_status, version, actor_id, created_at)
		VALUES (:id, :shipment_id, :from_status, :to_status, :version, :actor_id, :created_at)
	`, change)

	if err != nil {
		return dbError(err)
	}

	return nil
}

// CreateManifest inserts the manifest header; members reference it by manifest_id
func (t *pgTx) CreateManifest(ctx context.Context, manifest *models.Manifest) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO manifests (id, carrier, created_by, created_at)
		VALUES (:id, :carrier, :created_by, :created_at)
	`, manifest)

	if err != nil {
		t.logger.Error("Failed to create manifest", "error", err, "manifestID", manifest.ID)
		return dbError(err)
	}

	return nil
}

func getShipment(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*models.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var shipment models.Shipment

	if err := sqlx.GetContext(ctx, q, &shipment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &shipment, nil
}
