package console

import (
	"encoding/json"
	"errors"
	"net/http"

	"device-rules/internal/api"
	"device-rules/internal/draft"
	"device-rules/internal/rule"
	"device-rules/internal/rulelist"
	"device-rules/internal/schema"
)

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

// errBadRequest marks a body that could not be decoded.
var errBadRequest = errors.New("invalid request body")

// ErrorResponse is the body of every non-2xx console response.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &ErrorResponse{Code: code, Message: message})
}

// handleError converts controller and admin API errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	var ve *rule.ValidationError
	if errors.As(err, &ve) {
		respondJSON(w, http.StatusUnprocessableEntity, &ErrorResponse{
			Code:    "validation_failed",
			Message: ve.Message,
			Field:   ve.Field,
		})
		return
	}

	if api.IsNotFound(err) {
		respondError(w, http.StatusNotFound, "not_found", api.UserMessage(err, "not found"))
		return
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		respondJSON(w, http.StatusBadGateway, &ErrorResponse{
			Code:    "upstream_error",
			Message: apiErr.UserMessage(),
			Details: map[string]interface{}{"status": apiErr.StatusCode},
		})
		return
	}

	switch {
	case errors.Is(err, errBadRequest):
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, draft.ErrNoDevice), errors.Is(err, rulelist.ErrNoDevice):
		respondError(w, http.StatusBadRequest, "no_device", err.Error())
	case errors.Is(err, draft.ErrSubmitInProgress):
		respondError(w, http.StatusConflict, "submit_in_progress", err.Error())
	case errors.Is(err, schema.ErrStaleSelection):
		respondError(w, http.StatusConflict, "stale_selection", err.Error())
	case errors.Is(err, rulelist.ErrNotConfirmed):
		respondError(w, http.StatusPreconditionFailed, "not_confirmed", "delete requires confirm=true")
	case errors.Is(err, rulelist.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", api.GenericMessage)
	}
}

// decodeDraft decodes a draft body over the form defaults.
func decodeDraft(w http.ResponseWriter, r *http.Request) (draft.Draft, error) {
	d := draft.NewDraft()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&d); err != nil {
		return draft.Draft{}, errBadRequest
	}
	return d, nil
}
