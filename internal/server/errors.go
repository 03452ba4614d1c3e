package server

import (
	"encoding/json"
	"net/http"

	"github.com/vantagesec/vantage/pkg/models"
)

// APIError is the structured error body for non-streamed failures.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorBody struct {
	Error any `json:"error"`
}

func writeError(w http.ResponseWriter, status int, apiType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: APIError{Type: apiType, Message: message}})
}

// rateLimitError is the 429 body. The client uses isPremiumUser to decide
// whether to offer an upgrade action.
type rateLimitError struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	IsPremiumUser bool   `json:"isPremiumUser"`
}

func writeRateLimited(w http.ResponseWriter, info models.RateLimitInfo) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	msg := info.Message
	if msg == "" {
		msg = "rate limit reached"
	}
	json.NewEncoder(w).Encode(errorBody{Error: rateLimitError{
		Type:          "ratelimit_hit",
		Message:       msg,
		IsPremiumUser: info.IsPremiumUser,
	}})
}
