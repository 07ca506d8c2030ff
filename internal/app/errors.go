package app

import (
	"errors"
	"net/http"

	"zentel/client/internal/api"
	"zentel/client/internal/drafts"
	"zentel/client/internal/export"
)

// mapError turns a session error into the bridge's status, code and message.
func mapError(err error) (status int, code, message string, details any) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		return apiErr.Status, apiErr.Code, apiErr.Message, apiErr.Details
	}
	switch {
	case errors.Is(err, api.ErrTransient):
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", api.UserMessage(err), nil
	case errors.Is(err, drafts.ErrNotFound), errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing), errors.Is(err, errDraftsDisabled):
		return http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
