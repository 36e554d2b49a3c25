package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/vaidashi/courier-lifecycle/internal/auth"
	"github.com/vaidashi/courier-lifecycle/internal/booking"
	"github.com/vaidashi/courier-lifecycle/internal/models"
)

// bookingCreated carries the new shipment's identity next to the draft itself.
// TrackingNumber stays null until the booking is confirmed.
type bookingCreated struct {
	ShipmentID     string  `json:"shipmentId"`
	TrackingNumber *string `json:"trackingNumber"`
	*models.Shipment
}

// createBookingHandler creates a draft shipment for the caller
func (s *Server) createBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	var req booking.BookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	shipment, err := s.deps.Bookings.CreateBooking(r.Context(), req, actor)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusCreated, bookingCreated{
		ShipmentID:     shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		Shipment:       shipment,
	})
}

// confirmBookingHandler confirms a draft and charges the wallet
func (s *Server) confirmBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id := mux.Vars(r)["id"]

	var req versionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	shipment, err := s.deps.Bookings.ConfirmBooking(r.Context(), id, req.ExpectedVersion, actor)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusOK, shipment)
}

// cancelBookingHandler cancels a shipment and settles its charges
func (s *Server) cancelBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id := mux.Vars(r)["id"]

	var req versionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	shipment, err := s.deps.Bookings.CancelBooking(r.Context(), id, req.ExpectedVersion, actor)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusOK, shipment)
}

// getShipmentHandler returns a single shipment
func (s *Server) getShipmentHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	shipment, err := s.deps.Bookings.GetShipment(r.Context(), mux.Vars(r)["id"], actor)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusOK, shipment)
}

// getShipmentHistoryHandler returns the status changes of a shipment
func (s *Server) getShipmentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	history, err := s.deps.Bookings.History(r.Context(), mux.Vars(r)["id"], actor)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusOK, history)
}
