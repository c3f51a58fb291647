package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

func TestWriteJSONOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"slice_counter": 42})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["slice_counter"] != 42 {
		t.Errorf("slice_counter = %d, want 42", resp["slice_counter"])
	}
}

func TestWriteJSONErrorOmitsZeroState(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusConflict, "acquisition already running")

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	var raw map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if raw["error"] != "acquisition already running" {
		t.Errorf("error = %v", raw["error"])
	}
	if _, ok := raw["error_state"]; ok {
		t.Error("error_state present in a stateless error body")
	}
}

func TestWriteJSONErrorState(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONErrorState(rec, http.StatusConflict, 403, "overwrite of existing tile image")

	body := decodeError(t, rec)
	if body.ErrorState != 403 {
		t.Errorf("error_state = %d, want 403", body.ErrorState)
	}
	if body.Error != "overwrite of existing tile image" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestRejectionHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
		code  int
	}{
		{"method not allowed", func(w http.ResponseWriter) { MethodNotAllowed(w) }, http.StatusMethodNotAllowed},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "missing 'grid' parameter") }, http.StatusBadRequest},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no such run") }, http.StatusNotFound},
		{"internal error", func(w http.ResponseWriter) { InternalServerError(w, "render failed") }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			if body := decodeError(t, rec); body.Error == "" {
				t.Error("empty error message")
			}
		})
	}
}
