package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handler serves the login endpoints.
type Handler struct {
	password string
	tokens   *TokenManager
	isDev    bool
}

// NewHandler creates a login handler. isDev disables the Secure cookie flag
// for local development.
func NewHandler(password string, tokens *TokenManager, isDev bool) *Handler {
	return &Handler{password: password, tokens: tokens, isDev: isDev}
}

// RegisterRoutes registers the public auth routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.HandleLogin)
		r.Get("/verify", h.HandleVerify)
		r.Post("/logout", h.HandleLogout)
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

// HandleLogin checks the workshop password and sets the login cookie.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid password"})
		return
	}

	token, err := h.tokens.Generate()
	if err != nil {
		slog.Error("failed to generate login token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(TokenExpiry.Seconds()),
		Expires:  time.Now().Add(TokenExpiry),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !h.isDev,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Login successful"})
}

// HandleVerify reports whether the request carries a valid login cookie.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
		return
	}
	if err := h.tokens.Verify(cookie.Value); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

// HandleLogout clears the login cookie.
func (h *Handler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode auth response", "error", err)
	}
}
