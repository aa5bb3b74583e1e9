package handlers

import (
	"encoding/json"
	"net/http"
)

// LivenessMessage is the body of GET /.
const LivenessMessage = "Facebook Chatbot is running!"

// Liveness answers GET / with a fixed text.
func Liveness(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, LivenessMessage)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

// Health reports which outbound credentials are configured. The relay is
// healthy as long as it is serving; missing credentials only degrade replies.
type Health struct {
	checks map[string]bool
}

// NewHealth captures the credential checks once; configuration does not
// change after startup.
func NewHealth(verifyToken, pageToken, apiKey, model bool) *Health {
	return &Health{checks: map[string]bool{
		"verify_token":       verifyToken,
		"page_access_token":  pageToken,
		"completion_api_key": apiKey,
		"completion_model":   model,
	}}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Checks: h.checks})
}
