// Package salesforce talks to the Salesforce instance: OAuth token exchange,
// agent discovery and audio transcription.
package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultTokenTTL is used when the issued token carries no decodable expiry.
const defaultTokenTTL = 25 * time.Minute

// expirySkew is subtracted from the token lifetime so a token is refreshed
// before the upstream rejects it.
const expirySkew = time.Minute

// TokenProvider exchanges client credentials for a bearer token and caches
// it until shortly before expiry. Safe for concurrent use.
type TokenProvider struct {
	instanceURL  string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenProvider creates a token provider for the given instance.
func NewTokenProvider(instanceURL, clientID, clientSecret string) *TokenProvider {
	return &TokenProvider{
		instanceURL:  strings.TrimSuffix(instanceURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// GetValidToken returns a cached token or fetches a fresh one.
func (p *TokenProvider) GetValidToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expiresAt) {
		return p.token, nil
	}

	token, expiresAt, err := p.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	p.token = token
	p.expiresAt = expiresAt
	return token, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
// Call after an upstream 401.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expiresAt = time.Time{}
}

func (p *TokenProvider) fetchToken(ctx context.Context) (string, time.Time, error) {
	if p.instanceURL == "" {
		return "", time.Time{}, fmt.Errorf("instance URL is not configured")
	}
	if p.clientID == "" || p.clientSecret == "" {
		return "", time.Time{}, fmt.Errorf("client credentials are not configured")
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.instanceURL+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token exchange: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		detail := tr.ErrorDesc
		if detail == "" {
			detail = tr.Error
		}
		return "", time.Time{}, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, detail)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("no access_token in token response")
	}

	return tr.AccessToken, tokenExpiry(tr.AccessToken), nil
}

// tokenExpiry derives the refresh deadline from the token's exp claim when
// the token is a JWT, falling back to a conservative TTL.
func tokenExpiry(token string) time.Time {
	fallback := time.Now().Add(defaultTokenTTL)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return fallback
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}

	deadline := exp.Time.Add(-expirySkew)
	if deadline.Before(time.Now()) {
		slog.Warn("upstream issued an already-expired token")
		return fallback
	}
	return deadline
}
