// Package booking creates shipments and exposes the customer and admin
// operations on them. Status changes are delegated to the lifecycle machine.
package booking

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/clients"
	"github.com/vaidashi/courier-lifecycle/internal/lifecycle"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// Service implements booking operations
type Service struct {
	store      repository.Store
	machine    *lifecycle.Machine
	compliance clients.ComplianceLookup
	storage    clients.Storage
	bucket     string
	validate   *validator.Validate
	logger     logger.Logger
}

// NewService creates a new booking Service
func NewService(
	store repository.Store,
	machine *lifecycle.Machine,
	compliance clients.ComplianceLookup,
	storage clients.Storage,
	bucket string,
	logger logger.Logger,
) *Service {
	return &Service{
		store:      store,
		machine:    machine,
		compliance: compliance,
		storage:    storage,
		bucket:     bucket,
		validate:   validator.New(),
		logger:     logger,
	}
}

// CreateBooking validates and persists a draft shipment. No money moves until confirmation.
func (s *Service) CreateBooking(ctx context.Context, req BookingRequest, actor models.Actor) (*models.Shipment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	if err := validateAmounts(req); err != nil {
		return nil, err
	}

	rule, err := s.compliance.Rules(ctx, req.DestinationCountry)

	if err != nil {
		return nil, err
	}

	shipment := models.NewShipment(actor.UserID, req.Type)
	shipment.DestinationCountry = strings.ToUpper(req.DestinationCountry)
	shipment.RecipientName = req.RecipientName
	shipment.RecipientPhone = req.RecipientPhone
	shipment.RecipientAddress = req.RecipientAddress
	shipment.PickupAddress = req.PickupAddress
	shipment.WeightKg = req.WeightKg
	shipment.ShippingCharge = req.ShippingCharge

	items := make([]models.LineItem, 0, len(req.Items))
	declared := decimal.Zero
	needsPrescription := false

	for _, in := range req.Items {
		item := models.LineItem{
			ID:                   models.GenerateID("itm"),
			ShipmentID:           shipment.ID,
			Kind:                 req.Type,
			Description:          in.Description,
			Quantity:             in.Quantity,
			UnitValue:            in.UnitValue,
			PrescriptionRequired: in.PrescriptionRequired,
		}
		declared = declared.Add(item.Value())
		needsPrescription = needsPrescription || in.PrescriptionRequired
		items = append(items, item)
	}

	addons := make([]models.Addon, 0, len(req.Addons))
	total := req.ShippingCharge

	for _, code := range req.Addons {
		price, _ := AddonPrice(code)
		addons = append(addons, models.Addon{ShipmentID: shipment.ID, Code: code, Price: price})
		total = total.Add(price)
	}

	shipment.DeclaredValue = declared
	shipment.TotalAmount = total

	if err := checkCompliance(rule, req, declared, needsPrescription); err != nil {
		return nil, err
	}

	if req.Prescription != nil {
		objectPath := path.Join("prescriptions", shipment.ID, path.Base(req.Prescription.FileName))
		doc, err := s.storage.Upload(ctx, s.bucket, objectPath, req.Prescription.Content)

		if err != nil {
			s.logger.Error("Failed to store prescription", "error", err, "shipmentID", shipment.ID)
			return nil, err
		}
		shipment.PrescriptionURL = models.StringPtr(doc.URL)
	}

	if err := s.store.CreateShipment(ctx, shipment); err != nil {
		s.logger.Error("Failed to save shipment", "error", err, "shipmentID", shipment.ID)
		return nil, err
	}

	if err := s.persistChildren(ctx, shipment.ID, items, addons); err != nil {
		s.logger.Error("Failed to save shipment contents, removing draft", "error", err, "shipmentID", shipment.ID)

		// The request may already be cancelled; the draft must still go
		if delErr := s.store.DeleteShipment(context.WithoutCancel(ctx), shipment.ID); delErr != nil {
			s.logger.Error("Failed to remove orphaned draft", "error", delErr, "shipmentID", shipment.ID)
		}
		return nil, err
	}

	shipment.Items = items
	shipment.Addons = addons

	s.logger.Info("Booking created",
		"shipmentID", shipment.ID,
		"ownerID", shipment.OwnerID,
		"type", shipment.Type,
		"totalAmount", shipment.TotalAmount.StringFixed(2))

	return shipment, nil
}

func (s *Service) persistChildren(ctx context.Context, shipmentID string, items []models.LineItem, addons []models.Addon) error {
	if err := s.store.AddLineItems(ctx, shipmentID, items); err != nil {
		return err
	}

	if len(addons) == 0 {
		return nil
	}

	return s.store.AddAddons(ctx, shipmentID, addons)
}

// ConfirmBooking moves a draft to confirmed and debits the wallet
func (s *Service) ConfirmBooking(ctx context.Context, id string, expectedVersion int64, actor models.Actor) (*models.Shipment, error) {
	if _, err := s.GetShipment(ctx, id, actor); err != nil {
		return nil, err
	}

	return s.machine.Transition(ctx, lifecycle.TransitionRequest{
		ShipmentID:      id,
		To:              models.StatusConfirmed,
		ExpectedVersion: expectedVersion,
		Actor:           actor,
	})
}

// CancelBooking cancels a shipment and settles its ledger
func (s *Service) CancelBooking(ctx context.Context, id string, expectedVersion int64, actor models.Actor) (*models.Shipment, error) {
	if _, err := s.GetShipment(ctx, id, actor); err != nil {
		return nil, err
	}

	return s.machine.Transition(ctx, lifecycle.TransitionRequest{
		ShipmentID:      id,
		To:              models.StatusCancelled,
		ExpectedVersion: expectedVersion,
		Actor:           actor,
	})
}

// DispatchInternational hands a QC-passed shipment to the international carrier
func (s *Service) DispatchInternational(ctx context.Context, id string, expectedVersion int64, carrier, awb string, actor models.Actor) (*models.Shipment, error) {
	if !actor.HasRole(models.RoleAdmin) {
		return nil, apperrors.NewForbiddenError("You do not have permission to perform this action")
	}

	return s.machine.Transition(ctx, lifecycle.TransitionRequest{
		ShipmentID:      id,
		To:              models.StatusDispatched,
		ExpectedVersion: expectedVersion,
		Actor:           actor,
		AllowedFrom:     []models.ShipmentStatus{models.StatusQCPassed},
		Carrier:         strings.TrimSpace(carrier),
		AWB:             strings.TrimSpace(awb),
	})
}

// CreateManifest dispatches a batch of shipments to one carrier atomically
func (s *Service) CreateManifest(ctx context.Context, carrier string, items []lifecycle.DispatchItem, actor models.Actor) (*models.Manifest, []*models.Shipment, error) {
	if !actor.HasRole(models.RoleAdmin) {
		return nil, nil, apperrors.NewForbiddenError("You do not have permission to perform this action")
	}

	if err := s.validate.Var(items, "required,min=1,max=500,dive"); err != nil {
		return nil, nil, validationError(err)
	}

	return s.machine.BatchDispatch(ctx, strings.TrimSpace(carrier), items, actor)
}

// ActionRequest is an admin operation on one shipment
type ActionRequest struct {
	ShipmentID      string
	Action          lifecycle.Action
	ExpectedVersion int64
	Charge          decimal.Decimal
	DomesticAWB     string
}

// ApplyAction runs a named admin action
func (s *Service) ApplyAction(ctx context.Context, req ActionRequest, actor models.Actor) (*models.Shipment, error) {
	tr := req.Action.Request(req.ShipmentID, req.ExpectedVersion, actor)
	tr.Charge = req.Charge
	tr.DomesticAWB = strings.TrimSpace(req.DomesticAWB)

	return s.machine.Transition(ctx, tr)
}

// GetShipment returns a shipment visible to actor. Other customers' shipments are reported as not found.
func (s *Service) GetShipment(ctx context.Context, id string, actor models.Actor) (*models.Shipment, error) {
	shipment, err := s.store.GetShipment(ctx, id)

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("shipment %s not found", id))
		}
		return nil, err
	}

	if shipment.OwnerID != actor.UserID && !actor.IsStaff() {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("shipment %s not found", id))
	}

	return shipment, nil
}

// History returns the status changes of a shipment visible to actor
func (s *Service) History(ctx context.Context, id string, actor models.Actor) ([]models.StatusChange, error) {
	if _, err := s.GetShipment(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.store.StatusHistory(ctx, id)
}
