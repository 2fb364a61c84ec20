package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nto-labs/agentforce-portal/internal/salesforce"
)

// maxAudioSize bounds uploaded audio files (25MB).
const maxAudioSize = 25 << 20

// transcriptionTimeout caps one speech-to-text round trip.
const transcriptionTimeout = 2 * time.Minute

// SalesforceHandler proxies token minting, agent discovery and audio
// transcription to the Salesforce instance. These routes exist so workshop
// tooling never sees the connected-app credentials.
type SalesforceHandler struct {
	tokens      *salesforce.TokenProvider
	transcriber *salesforce.Transcriber
}

// NewSalesforceHandler creates the Salesforce proxy handler.
func NewSalesforceHandler(tokens *salesforce.TokenProvider, transcriber *salesforce.Transcriber) *SalesforceHandler {
	return &SalesforceHandler{tokens: tokens, transcriber: transcriber}
}

// RegisterRoutes registers the proxy routes. The caller is expected to gate
// them behind shared-secret auth.
func (h *SalesforceHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/salesforce/session-token", h.HandleSessionToken)
	r.Get("/api/salesforce/agents", h.HandleListAgents)
	r.Post("/api/salesforce/transcription", h.HandleTranscription)
}

// HandleSessionToken mints a short-lived bearer token for direct instance
// access.
func (h *SalesforceHandler) HandleSessionToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.tokens.GetValidToken(r.Context())
	if err != nil {
		slog.Error("failed to obtain session token", "error", err)
		Error(w, http.StatusBadGateway, "failed to obtain session token")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"session_token": token})
}

// HandleListAgents returns the agent definitions configured on the instance.
func (h *SalesforceHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.tokens.ListAgents(r.Context())
	if err != nil {
		slog.Error("failed to list remote agents", "error", err)
		Error(w, http.StatusBadGateway, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []salesforce.RemoteAgent{}
	}
	JSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// HandleTranscription accepts a multipart audio upload and returns the
// transcribed text segments.
func (h *SalesforceHandler) HandleTranscription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioSize)
	if err := r.ParseMultipartForm(maxAudioSize); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		Error(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	token := strings.TrimSpace(r.FormValue("accessToken"))
	if token == "" {
		token, err = h.tokens.GetValidToken(r.Context())
		if err != nil {
			slog.Error("failed to obtain transcription token", "error", err)
			Error(w, http.StatusBadGateway, "failed to obtain access token")
			return
		}
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Transcription of a long recording can outlast the default handler
	// deadline, so cap it explicitly.
	ctx, cancel := context.WithTimeout(r.Context(), transcriptionTimeout)
	defer cancel()

	segments, err := h.transcriber.Transcribe(ctx, token, file,
		header.Filename, contentType, r.FormValue("language"))
	if err != nil {
		slog.Error("transcription failed", "filename", header.Filename, "error", err)
		Error(w, http.StatusBadGateway, "transcription failed")
		return
	}
	if segments == nil {
		segments = []string{}
	}
	JSON(w, http.StatusOK, map[string]any{"transcription": segments})
}
