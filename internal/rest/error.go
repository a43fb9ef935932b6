package rest

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// ErrorResponse is the body returned by every handler that fails. Success is
// always false; it is kept in the payload because the UI checks it instead of
// the status code.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Queued  bool   `json:"queued,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, resp ErrorResponse) {
	resp.Success = false
	WriteJSON(w, status, resp)
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}
