package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jgirmay/slidegenie-realtime/pkg/http/dto"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	writeJSON(w, statusCode, &dto.ErrorResponse{
		Error:     code,
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	})
}
