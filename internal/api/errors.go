package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RateLimitError is returned when the upstream reports that no requests
// remain in the current rate limit window. It marshals to
// {"limitReached":true,"auth":<raw body>}.
type RateLimitError struct {
	LimitReached bool   `json:"limitReached"`
	Auth         string `json:"auth"`
}

func newRateLimitError(body []byte) *RateLimitError {
	return &RateLimitError{LimitReached: true, Auth: string(body)}
}

func (e *RateLimitError) Error() string {
	return "rate limit reached"
}

func (e *RateLimitError) Status() (int, string) {
	return http.StatusTooManyRequests, "rate limit reached"
}

// InvalidJSONError is returned when the upstream body is not a usable JSON
// value. Body holds the response as received.
type InvalidJSONError struct {
	Body string
}

func (e *InvalidJSONError) Error() string {
	return "invalid json"
}

func (e *InvalidJSONError) Status() (int, string) {
	return http.StatusBadGateway, "invalid json"
}

// APIError is returned when the upstream responded with JSON carrying an
// "error" field. Payload is the complete parsed response.
type APIError struct {
	Payload map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error: %v", e.Payload["error"])
}

func (e *APIError) Status() (int, string) {
	return http.StatusBadGateway, fmt.Sprint(e.Payload["error"])
}

// MarshalJSON renders the upstream payload unchanged.
func (e *APIError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Payload)
}
