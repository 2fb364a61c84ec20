package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nto-labs/agentforce-portal/internal/agentforce"
	"github.com/nto-labs/agentforce-portal/internal/catalog"
	"github.com/nto-labs/agentforce-portal/internal/domain"
)

// memRepo is an in-memory Repository for handler tests.
type memRepo struct {
	mu       sync.Mutex
	messages map[string][]domain.ChatMessage
	cleared  []string
}

func newMemRepo() *memRepo {
	return &memRepo{messages: make(map[string][]domain.ChatMessage)}
}

func (m *memRepo) GetSession(context.Context, string) (*domain.ChatSession, error) { return nil, nil }
func (m *memRepo) PutSession(context.Context, *domain.ChatSession) error           { return nil }

func (m *memRepo) ClearSession(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, agentID)
	m.cleared = append(m.cleared, agentID)
	return nil
}

func (m *memRepo) GetMessages(_ context.Context, agentID string) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatMessage(nil), m.messages[agentID]...), nil
}

func (m *memRepo) AppendMessage(_ context.Context, agentID string, msg *domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[agentID] = append(m.messages[agentID], *msg)
	return nil
}

func (m *memRepo) NextSequenceID(context.Context, string) (int, error) { return 1, nil }
func (m *memRepo) Ping(context.Context) error                          { return nil }
func (m *memRepo) Close() error                                        { return nil }

type stubSessions struct {
	session *domain.ChatSession
	err     error
	ended   []string
}

func (s *stubSessions) GetOrCreateSession(context.Context, string) (*domain.ChatSession, error) {
	return s.session, s.err
}

func (s *stubSessions) EndSession(_ context.Context, agentID string) error {
	s.ended = append(s.ended, agentID)
	return nil
}

type stubSender struct {
	err   error
	drive func(cb agentforce.Callbacks)
}

func (s *stubSender) SendStreamingMessage(_ context.Context, _, _, _ string, cb agentforce.Callbacks) error {
	if s.drive != nil {
		s.drive(cb)
	}
	return s.err
}

func testSession() *domain.ChatSession {
	return &domain.ChatSession{
		SessionID: "sess-1",
		AgentID:   "agent-1",
		CreatedAt: time.Now().UTC(),
		Endpoint:  "https://example.my.salesforce.com",
	}
}

func newTestRouter(t *testing.T, h *ChatHandler) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func newTestHandler(t *testing.T, repo *memRepo, sessions SessionProvider, sender TurnSender) *ChatHandler {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	return NewChatHandler(repo, cat, sessions, sender)
}

func TestHandleListAgents(t *testing.T) {
	h := newTestHandler(t, newMemRepo(), &stubSessions{}, &stubSender{})
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got struct {
		Agents []catalog.Agent `json:"agents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Agents) != 4 {
		t.Errorf("Expected 4 agents, got %d", len(got.Agents))
	}
}

func TestHandleListAgentsSearch(t *testing.T) {
	h := newTestHandler(t, newMemRepo(), &stubSessions{}, &stubSender{})
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents?q=sally", nil))

	var got struct {
		Agents []catalog.Agent `json:"agents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Agents) != 1 || got.Agents[0].Name != "Sally" {
		t.Errorf("Expected only Sally, got %+v", got.Agents)
	}
}

func TestHandleGetMessages(t *testing.T) {
	repo := newMemRepo()
	_ = repo.AppendMessage(context.Background(), "agent-1", &domain.ChatMessage{
		ID: "msg-1", Content: "hello", IsUser: true, Timestamp: time.Now().UTC(),
	})

	h := newTestHandler(t, repo, &stubSessions{}, &stubSender{})
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents/agent-1/messages", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].ID != "msg-1" {
		t.Errorf("Unexpected messages: %+v", got.Messages)
	}
}

func TestHandleCreateSession(t *testing.T) {
	h := newTestHandler(t, newMemRepo(), &stubSessions{session: testSession()}, &stubSender{})
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/agents/agent-1/session", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got domain.ChatSession
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("Expected sess-1, got %q", got.SessionID)
	}
}

func TestHandleCreateSessionConfigurationError(t *testing.T) {
	sessions := &stubSessions{err: &agentforce.ConfigurationError{Setting: "SALESFORCE_INSTANCE_URL"}}
	h := newTestHandler(t, newMemRepo(), sessions, &stubSender{})
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/agents/agent-1/session", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestHandleEndSession(t *testing.T) {
	sessions := &stubSessions{}
	h := newTestHandler(t, newMemRepo(), sessions, &stubSender{})
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/agents/agent-1/session", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}
	if len(sessions.ended) != 1 || sessions.ended[0] != "agent-1" {
		t.Errorf("Expected EndSession for agent-1, got %v", sessions.ended)
	}
}

func TestHandleChatStreamsEvents(t *testing.T) {
	repo := newMemRepo()
	sender := &stubSender{
		drive: func(cb agentforce.Callbacks) {
			cb.OnProgress("Working on it...")
			cb.OnTextChunk("Hel", 0)
			cb.OnTextChunk("lo", 3)
			cb.OnInform(domain.ChatMessage{ID: "m1", Content: "Hello", Timestamp: time.Now().UTC()})
			cb.OnEndOfTurn()
		},
	}
	h := newTestHandler(t, repo, &stubSessions{session: testSession()}, sender)
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agents/agent-1/chat",
		strings.NewReader(`{"message":"hi there"}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		"event: progress",
		"event: chunk",
		`"text":"Hel"`,
		`"text":"Hello"`,
		"event: message",
		"event: end",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Body missing %q:\n%s", want, body)
		}
	}

	// The user message was persisted before the turn ran.
	messages := repo.messages["agent-1"]
	if len(messages) != 1 {
		t.Fatalf("Expected 1 persisted message, got %d", len(messages))
	}
	if messages[0].Content != "hi there" || !messages[0].IsUser || messages[0].ID == "" {
		t.Errorf("Unexpected persisted message: %+v", messages[0])
	}
}

func TestHandleChatOffsetZeroResetsBuffer(t *testing.T) {
	sender := &stubSender{
		drive: func(cb agentforce.Callbacks) {
			cb.OnTextChunk("first draft", 0)
			cb.OnTextChunk("restarted", 0)
			cb.OnTextChunk(" text", 9)
		},
	}
	h := newTestHandler(t, newMemRepo(), &stubSessions{session: testSession()}, sender)
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agents/agent-1/chat",
		strings.NewReader(`{"message":"hi"}`))
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `"text":"restarted text"`) {
		t.Errorf("Expected buffer reset at offset 0:\n%s", body)
	}
	if strings.Contains(body, `"text":"first draftrestarted`) {
		t.Errorf("Buffer was not reset at offset 0:\n%s", body)
	}
}

func TestHandleChatSessionExpired(t *testing.T) {
	sender := &stubSender{err: &agentforce.SessionExpiredError{AgentID: "agent-1", SessionID: "sess-1"}}
	h := newTestHandler(t, newMemRepo(), &stubSessions{session: testSession()}, sender)
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agents/agent-1/chat",
		strings.NewReader(`{"message":"hi"}`))
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "event: session_expired") {
		t.Errorf("Expected session_expired event:\n%s", w.Body.String())
	}
}

func TestHandleChatRejectsBadBody(t *testing.T) {
	h := newTestHandler(t, newMemRepo(), &stubSessions{session: testSession()}, &stubSender{})
	r := newTestRouter(t, h)

	for name, body := range map[string]string{
		"invalid json":  "{not json",
		"empty message": `{"message":"   "}`,
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/agents/agent-1/chat", strings.NewReader(body))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", name, w.Code)
		}
	}
}

func TestHandleChatConcurrentTurnRejected(t *testing.T) {
	h := newTestHandler(t, newMemRepo(), &stubSessions{session: testSession()}, &stubSender{})
	r := newTestRouter(t, h)

	// Simulate an in-flight turn for the same agent.
	h.inflight.Store("agent-1", struct{}{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agents/agent-1/chat",
		strings.NewReader(`{"message":"hi"}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	// A different agent is unaffected.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/agents/agent-2/chat",
		strings.NewReader(`{"message":"hi"}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for other agent, got %d", w.Code)
	}
}
