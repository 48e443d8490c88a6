package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tjfontaine/polyglot-time-awareness/internal/annotation/marker"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error *domain.APIError `json:"error"`
}

// ToCanonicalError converts any error to a domain.APIError. Marker codec
// failures become annotation errors; anything unrecognised is a server
// error.
func ToCanonicalError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, marker.ErrMalformedFragment):
		return domain.NewAPIError(domain.ErrorTypeAnnotation, err.Error()).WithCode(domain.ErrorCodeMalformedFragment)
	case errors.Is(err, marker.ErrDuplicateIdentity):
		return domain.NewAPIError(domain.ErrorTypeAnnotation, err.Error()).WithCode(domain.ErrorCodeDuplicateIdentity)
	case errors.Is(err, marker.ErrCorruptEndMarker):
		return domain.NewAPIError(domain.ErrorTypeAnnotation, err.Error()).WithCode(domain.ErrorCodeCorruptEndMarker)
	}
	return domain.ErrServer(err.Error())
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := ToCanonicalError(err)
	writeJSON(w, apiErr.HTTPStatusCode(), errorBody{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
