package booking

import (
	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/models"
)

// BookingRequest is the input to CreateBooking
type BookingRequest struct {
	Type               models.ShipmentType `json:"type" validate:"required,oneof=medicine document gift"`
	DestinationCountry string              `json:"destinationCountry" validate:"required,len=2,alpha"`
	RecipientName      string              `json:"recipientName" validate:"required,max=200"`
	RecipientPhone     string              `json:"recipientPhone" validate:"required,e164"`
	RecipientAddress   string              `json:"recipientAddress" validate:"required,max=1000"`
	PickupAddress      string              `json:"pickupAddress" validate:"required,max=1000"`
	WeightKg           decimal.Decimal     `json:"weightKg"`
	ShippingCharge     decimal.Decimal     `json:"shippingCharge"`
	Items              []ItemRequest       `json:"items" validate:"required,min=1,max=50,dive"`
	Addons             []string            `json:"addons" validate:"max=10,unique,dive,required"`
	Prescription       *Document           `json:"prescription,omitempty"`
}

// ItemRequest is one declared content
type ItemRequest struct {
	Description          string          `json:"description" validate:"required,max=500"`
	Quantity             int             `json:"quantity" validate:"required,gt=0,lte=1000"`
	UnitValue            decimal.Decimal `json:"unitValue"`
	PrescriptionRequired bool            `json:"prescriptionRequired"`
}

// Document is an uploaded file; Content is base64 in JSON
type Document struct {
	FileName string `json:"fileName" validate:"required,max=200"`
	Content  []byte `json:"content" validate:"required"`
}

// addonPrices is the add-on catalog
var addonPrices = map[string]decimal.Decimal{
	"insurance":             decimal.NewFromInt(199),
	"express_handling":      decimal.NewFromInt(299),
	"signature_on_delivery": decimal.NewFromInt(49),
	"extra_packaging":       decimal.NewFromInt(99),
}

// AddonPrice returns the catalog price of an add-on
func AddonPrice(code string) (decimal.Decimal, bool) {
	price, ok := addonPrices[code]
	return price, ok
}
