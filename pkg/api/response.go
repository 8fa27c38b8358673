// Package api serves the read-only status endpoints of the daemon.
package api

import (
	"encoding/json"
	"net/http"

	"xswap/pkg/logger"
)

type ResponseStatus string

const (
	StatusOk       ResponseStatus = "OK"
	StatusNotFound ResponseStatus = "NOT_FOUND"
	StatusError    ResponseStatus = "ERROR"
)

// ResponseWrapper is the envelope of every JSON response. Data is always
// present on success; empty lists are encoded as [].
type ResponseWrapper[T any] struct {
	Status       ResponseStatus `json:"status"`
	Data         T              `json:"data"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// Write value into w as json. Handles possible error as internal server error
func writeResponse(w http.ResponseWriter, code int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		logger.Error("error writing response: %v", err)
	}
}

func writeOk[T any](w http.ResponseWriter, value T) {
	writeResponse(w, http.StatusOK, ResponseWrapper[T]{Status: StatusOk, Data: value})
}

func writeError(w http.ResponseWriter, code int, status ResponseStatus, message string) {
	writeResponse(w, code, ResponseWrapper[any]{Status: status, ErrorMessage: message})
}
