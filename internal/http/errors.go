package http

import (
	"context"
	"errors"
	"net/http"

	"participation/internal/core"
	"participation/internal/log"
)

// statusFor maps an editor or store error onto a status code and the
// message shown to the user. Server-side failures get a generic message;
// the cause goes to the log only.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errSessionExpired):
		return http.StatusConflict, "Session expired. Load the month again."
	case errors.Is(err, core.ErrDuplicateEntry),
		errors.Is(err, core.ErrInvalidSelection),
		errors.Is(err, core.ErrInvalidRate),
		errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrInvalidKey):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, core.ErrRowNotFound):
		return http.StatusNotFound, "That row no longer exists. Reload the editor."
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "The data store is unavailable. Try again shortly."
	case errors.Is(err, core.ErrStoreWrite):
		return http.StatusBadGateway, "Saving failed. Your edits are kept; try again."
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The request timed out. Try again."
	default:
		return http.StatusInternalServerError, "Unexpected error."
	}
}

// writeError renders err into the message area and logs it at a level that
// matches who is at fault.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	logger := log.FromContext(r.Context())

	if status >= http.StatusInternalServerError {
		fields := log.NewFields()
		fields[log.FieldMethod] = r.Method
		fields[log.FieldPath] = r.URL.Path
		fields[log.FieldStatusCode] = status
		log.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, log.ComponentHTTP, op, fields)
	} else {
		logger.DebugContext(r.Context(), "Request rejected",
			log.FieldOperation, op,
			log.FieldStatusCode, status,
			log.FieldError, err.Error())
	}

	ErrorResponse(status, msg).Write(w)
}
