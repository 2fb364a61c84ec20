// Package api provides HTTP handlers for the portal API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nto-labs/agentforce-portal/internal/agentforce"
	"github.com/nto-labs/agentforce-portal/internal/domain"
)

// SessionProvider obtains, reuses and discards conversation sessions.
type SessionProvider interface {
	GetOrCreateSession(ctx context.Context, agentID string) (*domain.ChatSession, error)
	EndSession(ctx context.Context, agentID string) error
}

// TurnSender drives one streaming conversation turn.
type TurnSender interface {
	SendStreamingMessage(ctx context.Context, agentID, sessionID, text string, cb agentforce.Callbacks) error
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// upstreamStatus maps an engine error to an HTTP status for JSON endpoints.
func upstreamStatus(err error) int {
	var (
		configErr   *agentforce.ConfigurationError
		authErr     *agentforce.AuthError
		upstreamErr *agentforce.UpstreamError
		expiredErr  *agentforce.SessionExpiredError
	)
	switch {
	case errors.As(err, &configErr):
		return http.StatusInternalServerError
	case errors.As(err, &authErr):
		return http.StatusBadGateway
	case errors.As(err, &upstreamErr):
		if upstreamErr.Status >= 400 && upstreamErr.Status < 600 {
			return upstreamErr.Status
		}
		return http.StatusBadGateway
	case errors.As(err, &expiredErr):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
