package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/clients"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
)

var maxWeightKg = decimal.NewFromInt(70)

// validationError turns validator output into a readable ValidationError
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError(err.Error())
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return apperrors.NewValidationError("invalid booking: " + strings.Join(msgs, "; "))
}

func validateAmounts(req BookingRequest) error {
	if !req.WeightKg.IsPositive() || req.WeightKg.GreaterThan(maxWeightKg) {
		return apperrors.NewValidationError("weightKg must be greater than 0 and at most 70")
	}

	if !req.ShippingCharge.IsPositive() || !req.ShippingCharge.Equal(req.ShippingCharge.Round(2)) {
		return apperrors.NewValidationError("shippingCharge must be a positive amount with at most two decimals")
	}

	for i, item := range req.Items {
		if item.UnitValue.IsNegative() || !item.UnitValue.Equal(item.UnitValue.Round(2)) {
			return apperrors.NewValidationError(fmt.Sprintf("items[%d].unitValue must be a non-negative amount with at most two decimals", i))
		}
		if item.PrescriptionRequired && req.Type != models.ShipmentTypeMedicine {
			return apperrors.NewValidationError(fmt.Sprintf("items[%d] only medicine items can require a prescription", i))
		}
	}

	for _, code := range req.Addons {
		if _, ok := AddonPrice(code); !ok {
			return apperrors.NewValidationError(fmt.Sprintf("unknown add-on %q", code))
		}
	}

	return nil
}

// checkCompliance applies the destination rules to a priced booking
func checkCompliance(rule *clients.ComplianceRule, req BookingRequest, declared decimal.Decimal, needsPrescription bool) error {
	if !rule.Allows(req.Type) {
		return apperrors.NewValidationError(fmt.Sprintf("%s shipments are not permitted to %s", req.Type, rule.Country))
	}

	if rule.MaxDeclaredValue.IsPositive() && declared.GreaterThan(rule.MaxDeclaredValue) {
		return apperrors.NewValidationError(fmt.Sprintf("declared value exceeds the %s limit of %s",
			rule.Country, rule.MaxDeclaredValue.StringFixed(2)))
	}

	switch req.Type {
	case models.ShipmentTypeMedicine:
		if (needsPrescription || rule.PrescriptionRequired) && req.Prescription == nil {
			return apperrors.NewValidationError("a prescription is required for this medicine shipment")
		}
	case models.ShipmentTypeGift:
		if !declared.IsPositive() {
			return apperrors.NewValidationError("gift shipments must declare a value")
		}
	}

	return nil
}
