package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// GenericMessage is shown when the admin API gave no usable detail.
const GenericMessage = "Request failed. Please try again."

// APIError is a non-2xx response from the admin API.
type APIError struct {
	StatusCode int
	Detail     string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("admin api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("admin api returned status %d: %s", e.StatusCode, e.Detail)
}

// UserMessage returns the server detail, or GenericMessage when there is none.
func (e *APIError) UserMessage() string {
	if e.Detail != "" {
		return e.Detail
	}
	return GenericMessage
}

// UserMessage extracts a displayable message from err. Admin API errors
// carry the server detail; anything else yields fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

// IsNotFound reports whether err is a 404 from the admin API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{StatusCode: status, Detail: extractDetail(body)}
}

// extractDetail reads the error body shapes the admin API produces:
// {"detail": "..."}, {"detail": [{"msg": "..."}, ...]} and {"message": "..."}.
func extractDetail(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}

		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			var msgs []string
			for _, item := range items {
				if m := strings.TrimSpace(item.Msg); m != "" {
					msgs = append(msgs, m)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}

	return strings.TrimSpace(payload.Message)
}
