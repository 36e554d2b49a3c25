package lifecycle

import (
	"fmt"

	"github.com/vaidashi/courier-lifecycle/internal/models"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
)

// Action is a named admin operation on a shipment
type Action string

const (
	ActionConfirmPayment       Action = "confirm_payment"
	ActionSchedulePickup       Action = "schedule_pickup"
	ActionStartPickup          Action = "start_pickup"
	ActionMarkPickedUp         Action = "mark_picked_up"
	ActionReceiveAtWarehouse   Action = "receive_at_warehouse"
	ActionQualityCheck         Action = "quality_check"
	ActionPackage              Action = "package"
	ActionReject               Action = "reject"
	ActionReinspect            Action = "reinspect"
	ActionRequestPayment       Action = "request_payment"
	ActionApproveDispatch      Action = "approve_dispatch"
	ActionMarkInTransit        Action = "mark_in_transit"
	ActionMarkCustomsClearance Action = "mark_customs_clearance"
	ActionMarkOutForDelivery   Action = "mark_out_for_delivery"
	ActionMarkDelivered        Action = "mark_delivered"
	ActionCancel               Action = "cancel"
)

type actionEdge struct {
	to   models.ShipmentStatus
	from []models.ShipmentStatus
}

var actions = map[Action]actionEdge{
	ActionConfirmPayment:       {to: models.StatusPaymentReceived},
	ActionSchedulePickup:       {to: models.StatusPickupScheduled},
	ActionStartPickup:          {to: models.StatusOutForPickup},
	ActionMarkPickedUp:         {to: models.StatusPickedUp},
	ActionReceiveAtWarehouse:   {to: models.StatusAtWarehouse},
	ActionQualityCheck:         {to: models.StatusQCInProgress, from: []models.ShipmentStatus{models.StatusAtWarehouse}},
	ActionPackage:              {to: models.StatusQCPassed, from: []models.ShipmentStatus{models.StatusQCInProgress}},
	ActionReject:               {to: models.StatusQCFailed},
	ActionReinspect:            {to: models.StatusQCInProgress, from: []models.ShipmentStatus{models.StatusQCFailed}},
	ActionRequestPayment:       {to: models.StatusPendingPayment},
	ActionApproveDispatch:      {to: models.StatusQCPassed, from: []models.ShipmentStatus{models.StatusPendingPayment}},
	ActionMarkInTransit:        {to: models.StatusInTransit},
	ActionMarkCustomsClearance: {to: models.StatusCustomsClearance},
	ActionMarkOutForDelivery:   {to: models.StatusOutForDelivery},
	ActionMarkDelivered:        {to: models.StatusDelivered},
	ActionCancel:               {to: models.StatusCancelled},
}

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := actions[a]; !ok {
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown action %q", s))
	}
	return a, nil
}

// Request builds the transition for this action
func (a Action) Request(shipmentID string, expectedVersion int64, actor models.Actor) TransitionRequest {
	def := actions[a]
	return TransitionRequest{
		ShipmentID:      shipmentID,
		To:              def.to,
		ExpectedVersion: expectedVersion,
		Actor:           actor,
		AllowedFrom:     def.from,
	}
}

// Target is the status the action moves a shipment to
func (a Action) Target() models.ShipmentStatus {
	return actions[a].to
}
