package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/service"
)

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrNoContentSID):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, repo.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, repo.ErrDuplicate):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrProvider):
		status, msg = http.StatusBadGateway, err.Error()
	default:
		slog.Error("request failed", "error", err)
	}

	writeJSON(w, status, map[string]any{"error": msg})
}
