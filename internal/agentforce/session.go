package agentforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nto-labs/agentforce-portal/internal/domain"
	"github.com/nto-labs/agentforce-portal/internal/store"
)

// SessionManager obtains or reuses one conversation session per agent.
type SessionManager struct {
	repo        store.Repository
	tokens      TokenSource
	baseURL     string
	instanceURL string
	httpClient  *http.Client
	now         func() time.Time
}

// NewSessionManager creates a session manager. baseURL is the agent platform
// API root, instanceURL the configured Salesforce instance.
func NewSessionManager(repo store.Repository, tokens TokenSource, baseURL, instanceURL string) *SessionManager {
	return &SessionManager{
		repo:        repo,
		tokens:      tokens,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		instanceURL: domain.NormalizeEndpoint(instanceURL),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		now:         time.Now,
	}
}

// GetOrCreateSession returns the stored session for an agent if it is still
// valid, otherwise creates a new one upstream and persists it.
func (m *SessionManager) GetOrCreateSession(ctx context.Context, agentID string) (*domain.ChatSession, error) {
	session, err := m.repo.GetSession(ctx, agentID)
	if err != nil {
		// Storage failures are recovered locally: treat as absent.
		slog.Warn("failed to read stored session", "agent_id", agentID, "error", err)
	}
	if session != nil {
		return session, nil
	}

	return m.initiateSession(ctx, agentID)
}

// EndSession discards the local session and conversation state for an agent.
func (m *SessionManager) EndSession(ctx context.Context, agentID string) error {
	return m.repo.ClearSession(ctx, agentID)
}

func (m *SessionManager) initiateSession(ctx context.Context, agentID string) (*domain.ChatSession, error) {
	if m.instanceURL == "" {
		return nil, &ConfigurationError{Setting: "SALESFORCE_INSTANCE_URL"}
	}

	token, err := m.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	body, err := json.Marshal(sessionRequest{
		ExternalSessionKey: uuid.NewString(),
		InstanceConfig:     instanceConfig{Endpoint: m.instanceURL},
		StreamingCapabilities: streamingCapabilities{
			ChunkTypes: []string{"Text"},
		},
		BypassUser: false,
	})
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}

	url := fmt.Sprintf("%s/agents/%s/sessions", m.baseURL, agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, &UpstreamError{
			Operation: "create session",
			Status:    resp.StatusCode,
			Message:   strings.TrimSpace(string(detail)),
		}
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if sr.SessionID == "" {
		return nil, fmt.Errorf("no sessionId in session response")
	}

	session := &domain.ChatSession{
		SessionID: sr.SessionID,
		AgentID:   agentID,
		CreatedAt: m.now().UTC(),
		Endpoint:  m.instanceURL,
	}

	if err := m.repo.PutSession(ctx, session); err != nil {
		// The session is usable even if it could not be persisted.
		slog.Warn("failed to persist session", "agent_id", agentID, "error", err)
	}

	slog.Info("created agent session", "agent_id", agentID, "session_id", session.SessionID)
	return session, nil
}
