// Package memory is an in-process Store used for tests and local demos.
// One mutex serializes every operation; a failed transaction restores a snapshot.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
)

type state struct {
	shipments    map[string]models.Shipment
	items        map[string][]models.LineItem
	addons       map[string][]models.Addon
	history      map[string][]models.StatusChange
	manifests    map[string]models.Manifest
	entries      []models.LedgerEntry
	receipts     map[string]models.Receipt
	roles        map[string][]models.Role
	audit        []models.AuditEntry
	outbox       []models.OutboxMessage
	nextOutboxID int64
	synced       map[string]time.Time
}

func newState() state {
	return state{
		shipments: make(map[string]models.Shipment),
		items:     make(map[string][]models.LineItem),
		addons:    make(map[string][]models.Addon),
		history:   make(map[string][]models.StatusChange),
		manifests: make(map[string]models.Manifest),
		receipts:  make(map[string]models.Receipt),
		roles:     make(map[string][]models.Role),
		synced:    make(map[string]time.Time),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.shipments {
		c.shipments[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]models.LineItem(nil), v...)
	}
	for k, v := range s.addons {
		c.addons[k] = append([]models.Addon(nil), v...)
	}
	for k, v := range s.history {
		c.history[k] = append([]models.StatusChange(nil), v...)
	}
	for k, v := range s.manifests {
		v.ShipmentIDs = append([]string(nil), v.ShipmentIDs...)
		c.manifests[k] = v
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = append([]models.Role(nil), v...)
	}
	c.entries = append([]models.LedgerEntry(nil), s.entries...)
	c.audit = append([]models.AuditEntry(nil), s.audit...)
	c.outbox = append([]models.OutboxMessage(nil), s.outbox...)
	c.nextOutboxID = s.nextOutboxID
	for k, v := range s.synced {
		c.synced[k] = v
	}
	return c
}

// Store implements repository.Store in memory
type Store struct {
	mu sync.Mutex
	st state
}

var _ repository.Store = (*Store)(nil)

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{st: newState()}
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// InTx runs fn while holding the store lock
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		}
		if err != nil {
			s.st = snapshot
		}
	}()

	return fn(&memTx{st: &s.st})
}

// CreateShipment stores a new shipment
func (s *Store) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.shipments[shipment.ID]; exists {
		return repository.ErrDuplicate
	}
	if shipment.TrackingNumber != nil {
		for _, other := range s.st.shipments {
			if other.TrackingNumber != nil && *other.TrackingNumber == *shipment.TrackingNumber {
				return repository.ErrDuplicate
			}
		}
	}

	row := *shipment
	row.Items, row.Addons = nil, nil
	s.st.shipments[shipment.ID] = row
	return nil
}

// AddLineItems stores the items of an existing shipment
func (s *Store) AddLineItems(ctx context.Context, shipmentID string, items []models.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.shipments[shipmentID]; !ok {
		return repository.ErrNotFound
	}
	for _, item := range items {
		item.ShipmentID = shipmentID
		s.st.items[shipmentID] = append(s.st.items[shipmentID], item)
	}
	return nil
}

// AddAddons stores the add-ons of an existing shipment
func (s *Store) AddAddons(ctx context.Context, shipmentID string, addons []models.Addon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.shipments[shipmentID]; !ok {
		return repository.ErrNotFound
	}
	for _, addon := range addons {
		addon.ShipmentID = shipmentID
		s.st.addons[shipmentID] = append(s.st.addons[shipmentID], addon)
	}
	return nil
}

// DeleteShipment removes a draft and its children
func (s *Store) DeleteShipment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shipment, ok := s.st.shipments[id]
	if !ok || shipment.Status != models.StatusDraft {
		return repository.ErrNotFound
	}
	delete(s.st.shipments, id)
	delete(s.st.items, id)
	delete(s.st.addons, id)
	return nil
}

// GetShipment returns a copy of the shipment with its children
func (s *Store) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shipment, ok := s.st.shipments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	shipment.Items = append([]models.LineItem(nil), s.st.items[id]...)
	shipment.Addons = append([]models.Addon(nil), s.st.addons[id]...)
	return &shipment, nil
}

// ListShipments filters shipments, least recently updated first
func (s *Store) ListShipments(ctx context.Context, filter repository.ShipmentFilter) ([]*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[models.ShipmentStatus]bool, len(filter.Statuses))
	for _, status := range filter.Statuses {
		wanted[status] = true
	}

	var out []*models.Shipment
	for _, shipment := range s.st.shipments {
		if !wanted[shipment.Status] {
			continue
		}
		if filter.WithDomesticAWB && shipment.DomesticAWB == nil {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !shipment.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		row := shipment
		out = append(out, &row)
	}

	sort.Slice(out, func(i, j int) bool {
		if filter.BySyncAge {
			si, sj := s.st.synced[out[i].ID], s.st.synced[out[j].ID]
			if !si.Equal(sj) {
				return si.Before(sj)
			}
		}
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MarkSynced records the last carrier poll for a shipment
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.shipments[id]; !ok {
		return repository.ErrNotFound
	}
	s.st.synced[id] = at
	return nil
}

// StatusHistory returns the transitions of a shipment in version order
func (s *Store) StatusHistory(ctx context.Context, shipmentID string) ([]models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.StatusChange(nil), s.st.history[shipmentID]...), nil
}

// ListEntries returns a user's entries in insertion order
func (s *Store) ListEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.LedgerEntry
	for _, entry := range s.st.entries {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// GetReceipt retrieves a receipt by its ID
func (s *Store) GetReceipt(ctx context.Context, id string) (*models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.st.receipts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &receipt, nil
}

// GetRoles returns the roles assigned to a user
func (s *Store) GetRoles(ctx context.Context, userID string) ([]models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Role(nil), s.st.roles[userID]...), nil
}

// GrantRole assigns a role; granting twice is a no-op
func (s *Store) GrantRole(ctx context.Context, userID string, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.st.roles[userID] {
		if r == role {
			return nil
		}
	}
	s.st.roles[userID] = append(s.st.roles[userID], role)
	return nil
}

// RecordAudit stores one access decision
func (s *Store) RecordAudit(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.audit = append(s.st.audit, *entry)
	return nil
}

// AuditEntries returns every recorded decision
func (s *Store) AuditEntries() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.AuditEntry(nil), s.st.audit...)
}

// OutboxMessages returns every outbox message regardless of status
func (s *Store) OutboxMessages() []models.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.OutboxMessage(nil), s.st.outbox...)
}

// GetPendingMessages returns up to limit pending messages, oldest first
func (s *Store) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.OutboxMessage
	for _, msg := range s.st.outbox {
		if msg.Status != models.OutboxStatusPending {
			continue
		}
		m := msg
		out = append(out, &m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkAsProcessing updates the status of an outbox message to processing
func (s *Store) MarkAsProcessing(ctx context.Context, id int64, claimedAt time.Time) error {
	return s.updateOutbox(id, func(m *models.OutboxMessage) {
		m.Status = models.OutboxStatusProcessing
		m.ProcessingAttempts++
		m.ClaimedAt = &claimedAt
	})
}

// ReclaimStale returns expired claims to pending
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.st.outbox {
		m := &s.st.outbox[i]
		if m.Status != models.OutboxStatusProcessing {
			continue
		}
		if m.ClaimedAt == nil || m.ClaimedAt.Before(cutoff) {
			m.Status = models.OutboxStatusPending
			n++
		}
	}
	return n, nil
}

// MarkAsCompleted updates the status of an outbox message to completed
func (s *Store) MarkAsCompleted(ctx context.Context, id int64) error {
	return s.updateOutbox(id, func(m *models.OutboxMessage) {
		now := models.GetCurrentTime()
		m.Status = models.OutboxStatusCompleted
		m.ProcessedAt = &now
	})
}

// MarkAsFailed parks a message that exhausted its retries
func (s *Store) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	return s.updateOutbox(id, func(m *models.OutboxMessage) {
		m.Status = models.OutboxStatusFailed
		m.LastError = &errorMessage
	})
}

// MarkAsPending returns a message to the queue
func (s *Store) MarkAsPending(ctx context.Context, id int64, errorMessage string) error {
	return s.updateOutbox(id, func(m *models.OutboxMessage) {
		m.Status = models.OutboxStatusPending
		m.LastError = &errorMessage
	})
}

func (s *Store) updateOutbox(id int64, fn func(m *models.OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.st.outbox {
		if s.st.outbox[i].ID == id {
			fn(&s.st.outbox[i])
			return nil
		}
	}
	return repository.ErrNotFound
}

// Manifest returns a stored manifest with its member shipment ids
func (s *Store) Manifest(id string) (models.Manifest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.st.manifests[id]
	m.ShipmentIDs = append([]string(nil), m.ShipmentIDs...)
	return m, ok
}
