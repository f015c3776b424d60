package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusUnprocessableEntity, "validation_error", "campo requerido",
		map[string]any{"field": "email"})

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["error"] != "validation_error" || body["message"] != "campo requerido" {
		t.Fatalf("envelope wrong: %v", body)
	}
	if ctx := body["context"].(map[string]any); ctx["field"] != "email" {
		t.Fatalf("context lost: %v", body)
	}
	rid, _ := body["request_id"].(string)
	if !strings.HasPrefix(rid, "req_") || len(rid) <= len("req_") {
		t.Fatalf("every error carries a request id, got %q", rid)
	}
}

func TestWriteErrorOmitsEmptyFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusNotFound, "module not found", "", nil)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if _, ok := body["message"]; ok {
		t.Fatalf("empty message must be omitted: %v", body)
	}
	if _, ok := body["context"]; ok {
		t.Fatalf("empty context must be omitted: %v", body)
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	if NewRequestID() == NewRequestID() {
		t.Fatalf("request ids must not repeat")
	}
}
