package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/flutter-oauth/flutter/internal/api"
	"github.com/flutter-oauth/flutter/internal/audit"
	"github.com/flutter-oauth/flutter/internal/session"
	"github.com/flutter-oauth/flutter/internal/signing"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// readFunc reads from the upstream API with a user's credentials.
type readFunc func(ctx context.Context, creds signing.Credentials, params url.Values) (any, error)

func verify(f *api.Fetcher) readFunc {
	return func(ctx context.Context, creds signing.Credentials, _ url.Values) (any, error) {
		return f.Verify(ctx, creds)
	}
}

// handleAPIRead serves an upstream read for the session's user, forwarding
// the request query string when forwardQuery is set.
func handleAPIRead(read readFunc, forwardQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		ctx := r.Context()
		sess := session.RequireFromContext(ctx)
		entry := audit.Log(ctx)
		entry.SessionStage = sess.Stage().String()

		creds, ok := sess.Credentials()
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		entry.Authenticated = true

		var params url.Values
		if forwardQuery {
			params = r.URL.Query()
		}

		value, err := read(ctx, creds, params)
		if err != nil {
			entry.Error = err.Error()
			log.Ctx(ctx).Info().Err(err).Msg("upstream read failed")
			writeReadError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, value)
	})
}

// writeReadError responds with the status of the error. Rate limit and
// upstream API errors are rendered as their JSON form; other errors carry
// only the status message.
func writeReadError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)

	var (
		limitErr *api.RateLimitError
		apiErr   *api.APIError
	)
	switch {
	case errors.As(err, &limitErr):
		writeJSON(w, status, limitErr)
	case errors.As(err, &apiErr):
		writeJSON(w, status, apiErr)
	default:
		writeJSONError(w, status, message)
	}
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
