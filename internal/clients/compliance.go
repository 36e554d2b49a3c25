package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
)

// ComplianceRule is what a destination country allows
type ComplianceRule struct {
	Country          string
	Prohibited       []models.ShipmentType
	MaxDeclaredValue decimal.Decimal
	// PrescriptionRequired applies to medicine shipments
	PrescriptionRequired bool
}

// Allows reports whether shipments of type t may go to this destination
func (r ComplianceRule) Allows(t models.ShipmentType) bool {
	for _, p := range r.Prohibited {
		if p == t {
			return false
		}
	}
	return true
}

// ComplianceLookup resolves destination rules
type ComplianceLookup interface {
	Rules(ctx context.Context, country string) (*ComplianceRule, error)
}

// StaticCompliance serves rules from an in-process table
type StaticCompliance struct {
	rules map[string]ComplianceRule
}

// NewStaticCompliance creates a lookup over rules. Nil uses the default table.
func NewStaticCompliance(rules []ComplianceRule) *StaticCompliance {
	if rules == nil {
		rules = DefaultComplianceRules()
	}

	table := make(map[string]ComplianceRule, len(rules))
	for _, r := range rules {
		table[strings.ToUpper(r.Country)] = r
	}
	return &StaticCompliance{rules: table}
}

// Rules returns the rule for country, or a validation error if it is not serviced
func (c *StaticCompliance) Rules(ctx context.Context, country string) (*ComplianceRule, error) {
	rule, ok := c.rules[strings.ToUpper(country)]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("destination %s is not serviced", country))
	}
	return &rule, nil
}

// DefaultComplianceRules is the destination table shipped with the service
func DefaultComplianceRules() []ComplianceRule {
	return []ComplianceRule{
		{Country: "US", MaxDeclaredValue: decimal.NewFromInt(800), PrescriptionRequired: true},
		{Country: "GB", MaxDeclaredValue: decimal.NewFromInt(1000), PrescriptionRequired: true},
		{Country: "CA", MaxDeclaredValue: decimal.NewFromInt(800), PrescriptionRequired: true},
		{Country: "AU", MaxDeclaredValue: decimal.NewFromInt(1000), PrescriptionRequired: true},
		{Country: "AE", MaxDeclaredValue: decimal.NewFromInt(1500), Prohibited: []models.ShipmentType{models.ShipmentTypeMedicine}},
		{Country: "SG", MaxDeclaredValue: decimal.NewFromInt(400), PrescriptionRequired: true},
		{Country: "DE", MaxDeclaredValue: decimal.NewFromInt(1000), PrescriptionRequired: true},
	}
}
