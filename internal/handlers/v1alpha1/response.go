package v1alpha1

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	api "github.com/safemasking/masking-api/api/v1alpha1"
	"github.com/safemasking/masking-api/internal/handlers/validator"
	"github.com/safemasking/masking-api/internal/service"
	"github.com/safemasking/masking-api/pkg/requestid"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	render.Status(r, status)
	render.JSON(w, r, body)
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, api.Error{Message: message, RequestId: requestid.Ptr(r.Context())})
}

// writeError maps a service error onto its status code.
func writeError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var (
		notFound   *service.ErrResourceNotFound
		forbidden  *service.ErrJobAccessForbidden
		validation *service.ErrValidation
		invalid    *service.ErrJobInvalidState
		form       *validator.ErrInvalidForm
	)

	switch {
	case errors.As(err, &notFound):
		writeMessage(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &forbidden):
		writeMessage(w, r, http.StatusForbidden, err.Error())
	case errors.As(err, &validation), errors.As(err, &form):
		writeMessage(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalid):
		writeMessage(w, r, http.StatusConflict, err.Error())
	default:
		writeMessage(w, r, http.StatusInternalServerError, fmt.Sprintf("failed to %s: %v", action, err))
	}
}

func jobIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, service.NewErrValidation("invalid job id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return service.NewErrValidation("empty body")
	}
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return service.NewErrValidation("malformed body: %v", err)
	}
	return nil
}
