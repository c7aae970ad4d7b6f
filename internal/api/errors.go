package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"presto-notebook/internal/domain"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	}

	switch domain.KindOf(err) {
	case domain.KindEmptyQuery, domain.KindMissingOrExcessiveLimit:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindAccessDenied:
		return http.StatusForbidden
	case domain.KindCanceled:
		return http.StatusConflict
	case domain.KindEngineConnectionUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindEngineQueryError, domain.KindNoColumns:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	body := errorBody{Code: status, Kind: string(domain.KindOf(err)), Message: err.Error()}
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}
