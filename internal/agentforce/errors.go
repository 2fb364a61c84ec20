package agentforce

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates a missing required setting. Fatal for the
// operation, never retried.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s is not configured", e.Setting)
}

// AuthError indicates the bearer token could not be acquired.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError indicates a non-2xx response from the agent platform.
type UpstreamError struct {
	Operation string
	Status    int
	Message   string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.Status, e.Message)
	}
	return fmt.Sprintf("%s failed with status %d", e.Operation, e.Status)
}

// SessionExpiredError indicates the upstream no longer knows the session.
// Local state has already been invalidated; the user must start a new
// conversation.
type SessionExpiredError struct {
	AgentID   string
	SessionID string
}

func (e *SessionExpiredError) Error() string {
	return "session expired, please start a new conversation"
}

// IsSessionExpired reports whether err is a SessionExpiredError.
func IsSessionExpired(err error) bool {
	var expired *SessionExpiredError
	return errors.As(err, &expired)
}
