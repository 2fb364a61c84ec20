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

	"github.com/nto-labs/agentforce-portal/internal/domain"
	"github.com/nto-labs/agentforce-portal/internal/store"
)

// Controller orchestrates one request/response turn with an agent. The
// caller is responsible for persisting the outgoing user message before
// invoking a send, and for serializing turns per agent.
type Controller struct {
	repo       store.Repository
	tokens     TokenSource
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewController creates a conversation controller. The stream client carries
// no overall timeout: a turn ends when the upstream closes the stream.
func NewController(repo store.Repository, tokens TokenSource, baseURL string) *Controller {
	return &Controller{
		repo:       repo,
		tokens:     tokens,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

// SendStreamingMessage sends the user text and drives the event dispatcher
// over the streaming response. Every failure path reaches cb.OnError as
// well as the returned error, so callers may rely on either channel.
//
// An upstream 404 invalidates the local session and returns a
// SessionExpiredError; the caller must start a new conversation.
func (c *Controller) SendStreamingMessage(ctx context.Context, agentID, sessionID, text string, cb Callbacks) error {
	resp, err := c.postMessage(ctx, agentID, sessionID, text, true)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err.Error())
		}
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return newDispatcher(agentID, c.repo, cb).run(ctx, resp.Body)
}

// SendMessage is the non-streaming variant: it sends the user text and
// returns the agent's first response message after persisting it.
func (c *Controller) SendMessage(ctx context.Context, agentID, sessionID, text string) (*domain.ChatMessage, error) {
	resp, err := c.postMessage(ctx, agentID, sessionID, text, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var mr messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode message response: %w", err)
	}
	if len(mr.Messages) == 0 {
		return nil, fmt.Errorf("no message in response")
	}

	first := mr.Messages[0]
	msg := &domain.ChatMessage{
		ID:          first.ID,
		Content:     first.Message,
		IsUser:      false,
		Timestamp:   c.now().UTC(),
		ToolOutputs: first.Result,
	}
	if err := c.repo.AppendMessage(ctx, agentID, msg); err != nil {
		slog.Warn("failed to persist agent message", "agent_id", agentID, "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// postMessage allocates the sequence id (exactly once, before the network
// call), issues the send and maps error statuses. On success the caller
// owns the response body.
func (c *Controller) postMessage(ctx context.Context, agentID, sessionID, text string, streaming bool) (*http.Response, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	sequenceID, err := c.repo.NextSequenceID(ctx, agentID)
	if err != nil {
		// Storage failures are recovered locally; the upstream tolerates a
		// restarted sequence within a session far better than a lost turn.
		slog.Warn("failed to allocate sequence id, falling back to 1", "agent_id", agentID, "error", err)
		sequenceID = 1
	}

	body, err := json.Marshal(messageRequest{
		Message: messagePayload{
			Type:       "Text",
			SequenceID: sequenceID,
			Text:       text,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode message request: %w", err)
	}

	url := fmt.Sprintf("%s/sessions/%s/messages", c.baseURL, sessionID)
	if streaming {
		url += "/stream"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
		slog.Info("session not found upstream, clearing local state",
			"agent_id", agentID, "session_id", sessionID)
		if err := c.repo.ClearSession(ctx, agentID); err != nil {
			slog.Warn("failed to clear expired session", "agent_id", agentID, "error", err)
		}
		return nil, &SessionExpiredError{AgentID: agentID, SessionID: sessionID}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
		return nil, &UpstreamError{
			Operation: "send message",
			Status:    resp.StatusCode,
			Message:   strings.TrimSpace(string(detail)),
		}
	}

	return resp, nil
}
