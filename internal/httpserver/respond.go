package httpserver

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON envelope for an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Respond writes v as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// RespondError writes an ErrorResponse with the given status code.
func RespondError(w http.ResponseWriter, status int, errCode, message string) {
	Respond(w, status, ErrorResponse{Error: errCode, Message: message})
}
