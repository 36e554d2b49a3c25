package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/auth"
)

type rechargeRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentRef  string          `json:"paymentRef"`
	Description string          `json:"description"`
}

func (s *Server) getWalletHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	balance, err := s.deps.Ledger.Balance(r.Context(), actor.UserID)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusOK, balance)
}

func (s *Server) getWalletEntriesHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	entries, err := s.deps.Ledger.Entries(r.Context(), actor.UserID)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusOK, entries)
}

func (s *Server) getReceiptHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	receipt, err := s.deps.Ledger.Receipt(r.Context(), actor.UserID, mux.Vars(r)["id"])

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusOK, receipt)
}

// rechargeHandler credits the wallet after the gateway confirms the payment
func (s *Server) rechargeHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	var req rechargeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	description := req.Description
	if description == "" {
		description = "Wallet recharge"
	}

	receipt, err := s.deps.Ledger.AddFunds(r.Context(), actor.UserID, req.Amount, req.PaymentRef, description)

	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	s.respondOK(w, http.StatusCreated, receipt)
}
