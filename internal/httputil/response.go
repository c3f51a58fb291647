// Package httputil holds the JSON response helpers shared by the
// acquisition control API and the monitor chart handlers.
package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody is the payload of every non-2xx JSON response. ErrorState
// carries the acquisition error-state code when the failure maps to one
// (see the orchestrator error taxonomy), and is omitted otherwise.
type ErrorBody struct {
	Error      string `json:"error"`
	ErrorState int    `json:"error_state,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] response encode failed: %v", err)
	}
}

// WriteJSONOK writes v with 200 OK.
func WriteJSONOK(w http.ResponseWriter, v interface{}) {
	WriteJSON(w, http.StatusOK, v)
}

// WriteJSONError writes an ErrorBody without an error-state code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteJSONErrorState writes an ErrorBody carrying the acquisition
// error-state code that blocks the requested operation.
func WriteJSONErrorState(w http.ResponseWriter, status, state int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg, ErrorState: state})
}

// MethodNotAllowed rejects a request with 405.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest rejects a request with 400 and the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// NotFound rejects a request with 404 and the given message.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}

// InternalServerError rejects a request with 500 and the given message.
func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}
