package helper

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"dfstore/models"
)

// WriteJSON writes v as the JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Encoding response: %v", err)
	}
}

// WriteError writes a JSON error body in the shared envelope.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, models.ErrorResponse{Error: msg})
}
