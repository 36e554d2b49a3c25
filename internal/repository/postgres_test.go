package repository

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/courier-lifecycle/internal/database"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// newTestStore connects to TEST_DATABASE_URL or skips
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	l := logger.NewNop()
	db, err := database.Open(dsn, l)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(context.Background()))
	return NewPostgresStore(db, l)
}

func newDraft(ownerID string) *models.Shipment {
	s := models.NewShipment(ownerID, models.ShipmentTypeDocument)
	s.DestinationCountry = "GB"
	s.RecipientName = "R. Mehta"
	s.RecipientPhone = "+441234567"
	s.RecipientAddress = "1 High St, London"
	s.PickupAddress = "Pune"
	s.WeightKg = decimal.RequireFromString("0.5")
	s.ShippingCharge = decimal.NewFromInt(1500)
	s.TotalAmount = decimal.NewFromInt(1500)
	return s
}

func TestPostgresVersionGuard(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	shipment := newDraft(models.GenerateID("usr"))
	require.NoError(t, store.CreateShipment(ctx, shipment))

	var wg sync.WaitGroup
	results := make([]error, 2)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.InTx(ctx, func(tx Tx) error {
				row, err := tx.GetShipmentForUpdate(ctx, shipment.ID)
				if err != nil {
					return err
				}
				row.Status = models.StatusConfirmed
				return tx.UpdateShipment(ctx, row, 1)
			})
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrVersionConflict)
	}
	assert.Equal(t, 1, ok)

	stored, err := store.GetShipment(ctx, shipment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestPostgresLedgerIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := models.GenerateID("usr")
	entry := models.NewLedgerEntry(userID, models.EntryCredit, decimal.NewFromInt(500), "pay-x", "recharge")

	require.NoError(t, store.InTx(ctx, func(tx Tx) error { return tx.AppendEntry(ctx, entry) }))

	_, err := store.db.DB.ExecContext(ctx, `UPDATE ledger_entries SET amount = 1 WHERE id = $1`, entry.ID)
	assert.Error(t, err)

	_, err = store.db.DB.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = $1`, entry.ID)
	assert.Error(t, err)

	entries, err := store.ListEntries(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(500)))
}

func TestPostgresCompensatingDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	shipment := newDraft(models.GenerateID("usr"))
	require.NoError(t, store.CreateShipment(ctx, shipment))
	require.NoError(t, store.AddLineItems(ctx, shipment.ID, []models.LineItem{{
		ID: models.GenerateID("itm"), Kind: models.ShipmentTypeDocument, Description: "Degree certificate", Quantity: 1,
	}}))

	require.NoError(t, store.DeleteShipment(ctx, shipment.ID))

	_, err := store.GetShipment(ctx, shipment.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
