package httpkit

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope is the wire shape of every non-2xx response.
type ErrorEnvelope struct {
	Error errorBody `json:"error"`
}

// DecodeJSON reads a request body into v, rejecting unknown fields so
// typos in client payloads fail loudly instead of being dropped.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func WriteErr(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	WriteJSON(w, status, ErrorEnvelope{Error: errorBody{
		Code:    code,
		Message: msg,
		Details: details,
	}})
}
