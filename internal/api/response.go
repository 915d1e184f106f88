package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
	"github.com/gyaneshwarpardhi/uebax/internal/recorder"
	"github.com/gyaneshwarpardhi/uebax/internal/store"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, event.ErrInvalidKind), errors.Is(err, recorder.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// listResponse wraps any list endpoint.
type listResponse[T any] struct {
	Results []T `json:"results"`
	Count   int `json:"count"`
}

// recordResponse is the body of a recorded or replayed event.
type recordResponse struct {
	Event    *event.Event   `json:"event"`
	Alerts   []*alert.Alert `json:"alerts"`
	Warnings []string       `json:"warnings"`
}

func newRecordResponse(res *recorder.Result) recordResponse {
	warnings := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnings = append(warnings, w.Error())
	}
	return recordResponse{Event: res.Event, Alerts: res.Alerts(), Warnings: warnings}
}

type batchItemResponse struct {
	Index int `json:"index"`
	*recordResponse
	Error string `json:"error,omitempty"`
}
