package server

import (
	"encoding/json"
	"net/http"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"
)

// CommandResponse acknowledges a command written to the device.
type CommandResponse struct {
	Status  string `json:"status"`
	Command string `json:"command"`
}

// ErrorBody is the JSON body of every failed API request.
type ErrorBody struct {
	Error string `json:"error"`
}

// StatusResponse describes the serial link.
type StatusResponse struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port"`
	BaudRate  int    `json:"baudRate"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

// ErrorResponse writes {"error": msg} with the given status.
func ErrorResponse(w http.ResponseWriter, r *http.Request, httpStatus int, msg string) {
	logger.Warn("Request %s %s failed with HTTP status %d: %s", r.Method, r.URL.Path, httpStatus, msg)
	writeJSON(w, httpStatus, ErrorBody{Error: msg})
}
