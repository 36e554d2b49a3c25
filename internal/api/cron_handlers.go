package api

import (
	"net/http"

	"github.com/vaidashi/courier-lifecycle/internal/worker"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
)

// cronHandler runs a background job on behalf of the external scheduler
func (s *Server) cronHandler(runner *worker.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			s.respondWithError(w, r, apperrors.NewNotFoundError("job is not configured"))
			return
		}

		result, err := runner.Run(r.Context())

		if err != nil {
			s.respondWithError(w, r, err)
			return
		}

		s.respondOK(w, http.StatusOK, result)
	}
}
