package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, []int{1, 2})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}
	if got := rec.Body.String(); got != "[1,2]\n" {
		t.Errorf("body = %q", got)
	}
}

func TestErrorf(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Errorf(rec, http.StatusNotFound, "scan %q not found", "abc")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != `scan "abc" not found` {
		t.Errorf("error = %s", resp["error"])
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, func() {})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want header already sent", rec.Code)
	}
}
