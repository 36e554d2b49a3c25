// Package lifecycle owns every shipment status change. Each transition is validated
// against a fixed edge table and applied in a single store transaction together
// with its ledger effects, history row and outbox event.
package lifecycle

import "github.com/vaidashi/courier-lifecycle/internal/models"

// Effect is the side effect an edge applies atomically with the status change
type Effect int

const (
	EffectNone Effect = iota
	// EffectConfirm assigns a tracking number and debits the booking total
	EffectConfirm
	// EffectSchedulePickup records the domestic carrier AWB when one is given
	EffectSchedulePickup
	// EffectRequestPayment reserves the additional charge found during inspection
	EffectRequestPayment
	// EffectCapturePayment converts the reserved additional charge into a debit
	EffectCapturePayment
	// EffectDispatch records the international carrier hand-off
	EffectDispatch
	// EffectSettle releases holds and refunds what was charged
	EffectSettle
)

// Edge is one legal transition and who may trigger it
type Edge struct {
	From   models.ShipmentStatus
	To     models.ShipmentStatus
	Roles  []models.Role
	Owner  bool // the owning customer or partner may trigger it
	Effect Effect
}

type edgeKey struct {
	from models.ShipmentStatus
	to   models.ShipmentStatus
}

var (
	adminOnly   = []models.Role{models.RoleAdmin}
	adminSystem = []models.Role{models.RoleAdmin, models.RoleSystem}
	staff       = []models.Role{models.RoleAdmin, models.RoleWarehouseOperator}
	staffSystem = []models.Role{models.RoleAdmin, models.RoleWarehouseOperator, models.RoleSystem}
)

// customerCancellable are the statuses from which an owner may still cancel
var customerCancellable = map[models.ShipmentStatus]bool{
	models.StatusDraft:           true,
	models.StatusConfirmed:       true,
	models.StatusPaymentReceived: true,
	models.StatusPickupScheduled: true,
}

var edges = buildEdges()

func buildEdges() map[edgeKey]Edge {
	list := []Edge{
		{From: models.StatusDraft, To: models.StatusConfirmed, Roles: adminOnly, Owner: true, Effect: EffectConfirm},
		{From: models.StatusConfirmed, To: models.StatusPaymentReceived, Roles: adminSystem},
		{From: models.StatusPaymentReceived, To: models.StatusPickupScheduled, Roles: staffSystem, Effect: EffectSchedulePickup},
		{From: models.StatusPickupScheduled, To: models.StatusOutForPickup, Roles: staffSystem},
		{From: models.StatusOutForPickup, To: models.StatusPickedUp, Roles: staffSystem},
		{From: models.StatusPickedUp, To: models.StatusAtWarehouse, Roles: staffSystem},
		{From: models.StatusAtWarehouse, To: models.StatusQCInProgress, Roles: staff},
		{From: models.StatusQCInProgress, To: models.StatusQCPassed, Roles: staff},
		{From: models.StatusQCInProgress, To: models.StatusQCFailed, Roles: staff},
		{From: models.StatusQCFailed, To: models.StatusQCInProgress, Roles: staff},
		{From: models.StatusQCPassed, To: models.StatusPendingPayment, Roles: staff, Effect: EffectRequestPayment},
		{From: models.StatusQCFailed, To: models.StatusPendingPayment, Roles: staff, Effect: EffectRequestPayment},
		{From: models.StatusPendingPayment, To: models.StatusQCPassed, Roles: adminOnly, Effect: EffectCapturePayment},
		{From: models.StatusQCPassed, To: models.StatusDispatched, Roles: adminOnly, Effect: EffectDispatch},
		{From: models.StatusDispatched, To: models.StatusInTransit, Roles: adminSystem},
		{From: models.StatusInTransit, To: models.StatusCustomsClearance, Roles: adminSystem},
		{From: models.StatusCustomsClearance, To: models.StatusOutForDelivery, Roles: adminSystem},
		{From: models.StatusOutForDelivery, To: models.StatusDelivered, Roles: adminSystem},
	}

	for _, status := range models.AllStatuses {
		if status.IsTerminal() {
			continue
		}
		list = append(list, Edge{
			From:   status,
			To:     models.StatusCancelled,
			Roles:  adminOnly,
			Owner:  customerCancellable[status],
			Effect: EffectSettle,
		})
	}

	table := make(map[edgeKey]Edge, len(list))
	for _, e := range list {
		table[edgeKey{e.From, e.To}] = e
	}
	return table
}

// Lookup returns the edge from -> to if it is legal
func Lookup(from, to models.ShipmentStatus) (Edge, bool) {
	e, ok := edges[edgeKey{from, to}]
	return e, ok
}

// Edges returns every legal edge
func Edges() []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		out = append(out, e)
	}
	return out
}

// Permits reports whether actor may trigger e on a shipment owned by ownerID
func (e Edge) Permits(actor models.Actor, ownerID string) bool {
	if actor.HasAnyRole(e.Roles...) {
		return true
	}
	return e.Owner && actor.UserID == ownerID &&
		actor.HasAnyRole(models.RoleCustomer, models.RoleCXBCPartner)
}

var canonicalPath = map[models.ShipmentStatus]models.ShipmentStatus{
	models.StatusDraft:            models.StatusConfirmed,
	models.StatusConfirmed:        models.StatusPaymentReceived,
	models.StatusPaymentReceived:  models.StatusPickupScheduled,
	models.StatusPickupScheduled:  models.StatusOutForPickup,
	models.StatusOutForPickup:     models.StatusPickedUp,
	models.StatusPickedUp:         models.StatusAtWarehouse,
	models.StatusAtWarehouse:      models.StatusQCInProgress,
	models.StatusQCInProgress:     models.StatusQCPassed,
	models.StatusQCFailed:         models.StatusQCInProgress,
	models.StatusPendingPayment:   models.StatusQCPassed,
	models.StatusQCPassed:         models.StatusDispatched,
	models.StatusDispatched:       models.StatusInTransit,
	models.StatusInTransit:        models.StatusCustomsClearance,
	models.StatusCustomsClearance: models.StatusOutForDelivery,
	models.StatusOutForDelivery:   models.StatusDelivered,
}

// NextOnPath returns the next status on the happy path
func NextOnPath(status models.ShipmentStatus) (models.ShipmentStatus, bool) {
	next, ok := canonicalPath[status]
	return next, ok
}

// AdvanceableBy lists the statuses whose next happy-path step actor may trigger
// on any shipment, in AllStatuses order
func AdvanceableBy(actor models.Actor) []models.ShipmentStatus {
	var out []models.ShipmentStatus
	for _, status := range models.AllStatuses {
		next, ok := canonicalPath[status]
		if !ok {
			continue
		}
		if edge, ok := Lookup(status, next); ok && actor.HasAnyRole(edge.Roles...) {
			out = append(out, status)
		}
	}
	return out
}
