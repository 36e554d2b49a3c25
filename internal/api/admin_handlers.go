package api

import (
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/auth"
	"github.com/vaidashi/courier-lifecycle/internal/booking"
	"github.com/vaidashi/courier-lifecycle/internal/lifecycle"
	"github.com/vaidashi/courier-lifecycle/internal/models"
)

type actionRequest struct {
	ShipmentID      string           `json:"shipmentId"`
	Action          string           `json:"action"`
	ExpectedVersion int64            `json:"expectedVersion"`
	Charge          *decimal.Decimal `json:"charge,omitempty"`
	DomesticAWB     string           `json:"domesticAwb,omitempty"`
}

type dispatchRequest struct {
	ShipmentID      string `json:"shipmentId"`
	ExpectedVersion int64  `json:"expectedVersion"`
	Carrier         string `json:"carrier"`
	AWB             string `json:"awb"`
}

type manifestRequest struct {
	Carrier string                   `json:"carrier"`
	Items   []lifecycle.DispatchItem `json:"items"`
}

type manifestResponse struct {
	Manifest  *models.Manifest   `json:"manifest"`
	Shipments []*models.Shipment `json:"shipments"`
}

// adminActionHandler applies a named warehouse or operations action
func (s *Server) adminActionHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	action, err := lifecycle.ParseAction(req.Action)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	if err := (versionRequest{ExpectedVersion: req.ExpectedVersion}).validate(); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	shipment, err := s.deps.Bookings.ApplyAction(r.Context(), booking.ActionRequest{
		ShipmentID:      req.ShipmentID,
		Action:          action,
		ExpectedVersion: req.ExpectedVersion,
		Charge:          amountOrZero(req.Charge),
		DomesticAWB:     req.DomesticAWB,
	}, actor)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusOK, shipment)
}

// dispatchHandler hands one shipment to the international carrier
func (s *Server) dispatchHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	var req dispatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	if err := (versionRequest{ExpectedVersion: req.ExpectedVersion}).validate(); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	shipment, err := s.deps.Bookings.DispatchInternational(r.Context(), req.ShipmentID, req.ExpectedVersion, req.Carrier, req.AWB, actor)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusOK, shipment)
}

// createManifestHandler dispatches a batch under one manifest
func (s *Server) createManifestHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	var req manifestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	manifest, shipments, err := s.deps.Bookings.CreateManifest(r.Context(), req.Carrier, req.Items, actor)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusCreated, manifestResponse{Manifest: manifest, Shipments: shipments})
}
