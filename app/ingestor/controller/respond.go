package controller

import (
	"errors"
	"net/http"

	indexermodels "github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres/registry"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant"
	"github.com/canopy-network/ingestx/pkg/destination"
	"github.com/canopy-network/ingestx/pkg/indexer"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInUse):
		return http.StatusConflict
	case errors.Is(err, indexer.ErrInvalidConfiguration),
		errors.Is(err, indexermodels.ErrUnsupportedCategory),
		errors.Is(err, schema.ErrInvalidPlan):
		return http.StatusBadRequest
	case errors.Is(err, tenant.ErrConnectionUnavailable),
		errors.Is(err, destination.ErrWriteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (c *Controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.Logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}
