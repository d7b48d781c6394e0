package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"auditdesk.io/internal/domain"
	"auditdesk.io/internal/obs"
)

type errorBody struct {
	Error        string `json:"error"`
	Code         string `json:"code,omitempty"`
	Confidential bool   `json:"confidential,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, errorBody{Error: msg, Code: errorCode(code)})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, body errorBody) {
	if r != nil {
		body.RequestID = middleware.GetReqID(r.Context())
	}
	writeJSON(w, code, body)
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "internal"
	}
}

// handleError maps domain errors onto status codes. Internal failures are
// logged and answered with a generic message.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCode):
		writeErrorBody(w, r, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_code"})
	case errors.Is(err, domain.ErrExpired):
		writeErrorBody(w, r, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "expired"})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrPermission):
		writeErrorBody(w, r, http.StatusForbidden, errorBody{
			Error:        err.Error(),
			Code:         "forbidden",
			Confidential: domain.IsConfidential(err),
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.Logger().ErrorContext(r.Context(), "request failed",
			"route", obs.RoutePattern(r),
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
