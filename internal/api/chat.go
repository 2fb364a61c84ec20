package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nto-labs/agentforce-portal/internal/agentforce"
	"github.com/nto-labs/agentforce-portal/internal/catalog"
	"github.com/nto-labs/agentforce-portal/internal/domain"
	"github.com/nto-labs/agentforce-portal/internal/store"
)

// maxChatBodySize bounds incoming chat request bodies (64KB).
const maxChatBodySize = 64 << 10

// ChatHandler serves the agent catalog and conversation endpoints.
type ChatHandler struct {
	repo     store.Repository
	catalog  *catalog.Catalog
	sessions SessionProvider
	sender   TurnSender

	// inflight guards one turn per agent. A concurrent send for the same
	// agent is rejected with 409 rather than queued.
	inflight sync.Map
}

// NewChatHandler creates the conversation handler.
func NewChatHandler(repo store.Repository, cat *catalog.Catalog, sessions SessionProvider, sender TurnSender) *ChatHandler {
	return &ChatHandler{
		repo:     repo,
		catalog:  cat,
		sessions: sessions,
		sender:   sender,
	}
}

// RegisterRoutes registers the conversation routes (require authentication).
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/agents", h.HandleListAgents)
	r.Route("/api/agents/{agentID}", func(r chi.Router) {
		r.Get("/messages", h.HandleGetMessages)
		r.Post("/session", h.HandleCreateSession)
		r.Delete("/session", h.HandleEndSession)
		r.Post("/chat", h.HandleChat)
	})
}

// HandleListAgents returns the workshop catalog, optionally filtered by ?q=.
func (h *ChatHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.catalog.Search(r.URL.Query().Get("q"))
	JSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// HandleGetMessages returns the stored conversation history for an agent.
func (h *ChatHandler) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	messages, err := h.repo.GetMessages(r.Context(), agentID)
	if err != nil {
		slog.Warn("failed to load messages", "agent_id", agentID, "error", err)
		messages = []domain.ChatMessage{}
	}
	JSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// HandleCreateSession returns the live session for an agent, creating one
// upstream when necessary.
func (h *ChatHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	session, err := h.sessions.GetOrCreateSession(r.Context(), agentID)
	if err != nil {
		slog.Error("failed to obtain session", "agent_id", agentID, "error", err)
		Error(w, upstreamStatus(err), err.Error())
		return
	}
	JSON(w, http.StatusOK, session)
}

// HandleEndSession discards the local session and history for an agent.
func (h *ChatHandler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if err := h.sessions.EndSession(r.Context(), agentID); err != nil {
		slog.Error("failed to end session", "agent_id", agentID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Message string `json:"message"`
}

// HandleChat runs one conversation turn and relays it to the browser as an
// SSE stream. The user message is persisted before the upstream send so a
// failed turn never loses it.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	if _, loaded := h.inflight.LoadOrStore(agentID, struct{}{}); loaded {
		Error(w, http.StatusConflict, "a turn is already in flight for this agent")
		return
	}
	defer h.inflight.Delete(agentID)

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	session, err := h.sessions.GetOrCreateSession(r.Context(), agentID)
	if err != nil {
		slog.Error("failed to obtain session", "agent_id", agentID, "error", err)
		Error(w, upstreamStatus(err), err.Error())
		return
	}

	userMsg := &domain.ChatMessage{
		ID:        uuid.NewString(),
		Content:   req.Message,
		IsUser:    true,
		Timestamp: time.Now().UTC(),
	}
	if err := h.repo.AppendMessage(r.Context(), agentID, userMsg); err != nil {
		slog.Warn("failed to persist user message", "agent_id", agentID, "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	turn := newTurnRelay(w, flusher)
	err = h.sender.SendStreamingMessage(r.Context(), agentID, session.SessionID, req.Message, turn.callbacks())

	var expired *agentforce.SessionExpiredError
	if errors.As(err, &expired) {
		// The error callback already carried the message; this dedicated
		// event lets the client prompt for a fresh conversation.
		turn.writeEvent("session_expired", map[string]string{"error": expired.Error()})
	}
	if err != nil {
		slog.Warn("turn failed", "agent_id", agentID, "session_id", session.SessionID, "error", err)
	}
}

// turnRelay accumulates turn-transient state and forwards engine callbacks
// to the browser as SSE events.
type turnRelay struct {
	w       io.Writer
	flusher http.Flusher

	buffer strings.Builder
}

func newTurnRelay(w io.Writer, flusher http.Flusher) *turnRelay {
	return &turnRelay{w: w, flusher: flusher}
}

func (t *turnRelay) callbacks() agentforce.Callbacks {
	return agentforce.Callbacks{
		OnProgress: func(message string) {
			t.writeEvent("progress", map[string]string{"message": message})
		},
		OnTextChunk: func(chunk string, offset int) {
			// Offset zero starts a new buffer; the upstream may replay the
			// first chunk mid-turn, so replace rather than append.
			if offset == 0 {
				t.buffer.Reset()
			}
			t.buffer.WriteString(chunk)
			t.writeEvent("chunk", map[string]any{
				"chunk":  chunk,
				"offset": offset,
				"text":   t.buffer.String(),
			})
		},
		OnInform: func(msg domain.ChatMessage) {
			t.writeEvent("message", msg)
		},
		OnValidationFailure: func() {
			t.writeEvent("validation_failure", map[string]bool{"validationFailure": true})
		},
		OnEndOfTurn: func() {
			t.buffer.Reset()
			t.writeEvent("end", map[string]bool{"done": true})
		},
		OnError: func(errMsg string) {
			t.writeEvent("error", map[string]string{"error": errMsg})
		},
	}
}

func (t *turnRelay) writeEvent(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal SSE event", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(t.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		slog.Warn("failed to write SSE event", "event", event, "error", err)
		return
	}
	t.flusher.Flush()
}
