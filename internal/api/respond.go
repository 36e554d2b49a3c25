package api

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/auth"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
)

// ApiResponse is the envelope of every response
type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

const genericFailure = "Something went wrong. Please try again later."

const maxBodyBytes = 8 << 20

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return apperrors.NewValidationError("Invalid request payload")
	}
	return nil
}

// respondWithError maps err onto its status and code. Customers never see upstream or internal detail.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.From(err)
	message := appErr.Error()

	switch appErr.Code {
	case apperrors.CodeInternal, apperrors.CodeUpstream:
		s.logger.Error("Request failed",
			"error", err,
			"code", appErr.Code,
			"method", r.Method,
			"path", r.URL.Path)

		actor, ok := auth.ActorFrom(r.Context())
		if !ok || !actor.IsStaff() {
			message = genericFailure
		}
	}

	s.respondWithJSON(w, appErr.StatusCode, ApiResponse{
		Success: false,
		Error:   message,
		Code:    string(appErr.Code),
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (s *Server) respondOK(w http.ResponseWriter, code int, data interface{}) {
	s.respondWithJSON(w, code, ApiResponse{Success: true, Data: data})
}

// versionRequest is the body of single-shipment transitions
type versionRequest struct {
	ExpectedVersion int64 `json:"expectedVersion"`
}

func (v versionRequest) validate() error {
	if v.ExpectedVersion <= 0 {
		return apperrors.NewValidationError("expectedVersion is required")
	}
	return nil
}

// amountOrZero reads an optional money field
func amountOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
