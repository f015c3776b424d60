package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

// WriteError emits the API error envelope. Every error carries a fresh
// request_id so a client report can be matched to server logs. Context is
// optional structured detail (e.g. a contract violation list).
func WriteError(w http.ResponseWriter, status int, code, message string, context map[string]any) {
	body := map[string]any{"error": code, "request_id": NewRequestID()}
	if message != "" {
		body["message"] = message
	}
	if len(context) > 0 {
		body["context"] = context
	}
	WriteJSON(w, status, body)
}
