package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/vaidashi/courier-lifecycle/internal/config"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := Open(cfg.GetDBConnString(), logger)

	if err != nil {
		return nil, err
	}

	logger.Info("Connected to database", "host", cfg.DB.Host, "database", cfg.DB.Name)
	return db, nil
}

// Open connects using a raw DSN or URL
func Open(dsn string, logger logger.Logger) (*Database, error) {
	db, err := sqlx.Connect("postgres", dsn)

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{
		DB:     db,
		logger: logger,
	}, nil
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// RunMigrations creates the schema if it does not exist
func (d *Database) RunMigrations(ctx context.Context) error {
	_, err := d.DB.ExecContext(ctx, schema)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS manifests (
	id VARCHAR(50) PRIMARY KEY,
	carrier VARCHAR(100) NOT NULL,
	created_by VARCHAR(100) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS shipments (
	id VARCHAR(50) PRIMARY KEY,
	tracking_number VARCHAR(50) UNIQUE,
	owner_id VARCHAR(100) NOT NULL,
	shipment_type VARCHAR(20) NOT NULL,
	status VARCHAR(30) NOT NULL,
	version BIGINT NOT NULL DEFAULT 1,
	destination_country VARCHAR(2) NOT NULL,
	recipient_name TEXT NOT NULL,
	recipient_phone VARCHAR(30) NOT NULL,
	recipient_address TEXT NOT NULL,
	pickup_address TEXT NOT NULL,
	weight_kg NUMERIC(10, 3) NOT NULL,
	declared_value NUMERIC(14, 2) NOT NULL,
	shipping_charge NUMERIC(14, 2) NOT NULL,
	total_amount NUMERIC(14, 2) NOT NULL,
	additional_charge NUMERIC(14, 2) NOT NULL DEFAULT 0,
	prescription_url TEXT,
	domestic_awb VARCHAR(100),
	international_carrier VARCHAR(100),
	international_awb VARCHAR(100),
	manifest_id VARCHAR(50) REFERENCES manifests(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_shipments_owner_id ON shipments(owner_id);
CREATE INDEX IF NOT EXISTS idx_shipments_status ON shipments(status);

ALTER TABLE shipments ADD COLUMN IF NOT EXISTS last_synced_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_shipments_status_synced ON shipments(status, last_synced_at);

CREATE TABLE IF NOT EXISTS shipment_items (
	id VARCHAR(50) PRIMARY KEY,
	shipment_id VARCHAR(50) NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
	kind VARCHAR(20) NOT NULL,
	description TEXT NOT NULL,
	quantity INT NOT NULL,
	unit_value NUMERIC(14, 2) NOT NULL,
	prescription_required BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS shipment_addons (
	shipment_id VARCHAR(50) NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
	code VARCHAR(50) NOT NULL,
	price NUMERIC(14, 2) NOT NULL,
	PRIMARY KEY (shipment_id, code)
);

CREATE TABLE IF NOT EXISTS shipment_status_history (
	id VARCHAR(50) PRIMARY KEY,
	shipment_id VARCHAR(50) NOT NULL REFERENCES shipments(id),
	from_status VARCHAR(30) NOT NULL,
	to_status VARCHAR(30) NOT NULL,
	version BIGINT NOT NULL,
	actor_id VARCHAR(100) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (shipment_id, version)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id VARCHAR(50) PRIMARY KEY,
	user_id VARCHAR(100) NOT NULL,
	entry_type VARCHAR(20) NOT NULL CHECK (entry_type IN ('credit', 'debit', 'refund', 'hold', 'release', 'adjustment')),
	amount NUMERIC(14, 2) NOT NULL CHECK (amount > 0),
	description TEXT NOT NULL,
	reference_id VARCHAR(100),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_user_id ON ledger_entries(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_ledger_reference ON ledger_entries(user_id, reference_id);

CREATE OR REPLACE FUNCTION ledger_entries_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'ledger entries are append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_ledger_entries_immutable ON ledger_entries;
CREATE TRIGGER trg_ledger_entries_immutable
	BEFORE UPDATE OR DELETE ON ledger_entries
	FOR EACH ROW EXECUTE FUNCTION ledger_entries_immutable();

CREATE TABLE IF NOT EXISTS receipts (
	id VARCHAR(50) PRIMARY KEY,
	user_id VARCHAR(100) NOT NULL,
	ledger_entry_id VARCHAR(50) NOT NULL UNIQUE REFERENCES ledger_entries(id),
	payment_ref VARCHAR(100) NOT NULL UNIQUE,
	payment_method VARCHAR(50) NOT NULL,
	amount NUMERIC(14, 2) NOT NULL,
	taxable_amount NUMERIC(14, 2) NOT NULL,
	tax_amount NUMERIC(14, 2) NOT NULL,
	tax_rate NUMERIC(5, 4) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id VARCHAR(100) NOT NULL,
	role VARCHAR(50) NOT NULL,
	granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, role)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id VARCHAR(50) PRIMARY KEY,
	actor_id VARCHAR(100) NOT NULL,
	operation VARCHAR(100) NOT NULL,
	decision VARCHAR(10) NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Outbox table for message publishing
CREATE TABLE IF NOT EXISTS outbox_messages (
	id BIGSERIAL PRIMARY KEY,
	aggregate_type VARCHAR(50) NOT NULL,
	aggregate_id VARCHAR(50) NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	processing_attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	status VARCHAR(20) NOT NULL DEFAULT 'pending'
);

ALTER TABLE outbox_messages ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMPTZ;

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);
`
