package models

import "time"

// Manifest groups shipments handed to one international carrier together
type Manifest struct {
	ID          string    `db:"id" json:"id"`
	Carrier     string    `db:"carrier" json:"carrier"`
	CreatedBy   string    `db:"created_by" json:"createdBy"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	ShipmentIDs []string  `db:"-" json:"shipmentIds"`
}

// NewManifest creates an empty manifest for carrier
func NewManifest(carrier, createdBy string) *Manifest {
	return &Manifest{
		ID:        GenerateID("mft"),
		Carrier:   carrier,
		CreatedBy: createdBy,
		CreatedAt: GetCurrentTime(),
	}
}
