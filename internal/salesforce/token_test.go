package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, fetches *int, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/oauth2/token" {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "csecret", r.PostForm.Get("client_secret"))

		*fetches++
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{
			"access_token": token,
			"token_type":   "Bearer",
		}))
	}))
}

func TestGetValidTokenCaches(t *testing.T) {
	fetches := 0
	srv := newTokenServer(t, &fetches, "opaque-token")
	defer srv.Close()

	p := NewTokenProvider(srv.URL, "cid", "csecret")

	for i := 0; i < 3; i++ {
		token, err := p.GetValidToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "opaque-token", token)
	}
	assert.Equal(t, 1, fetches, "subsequent calls reuse the cached token")
}

func TestInvalidateForcesRefetch(t *testing.T) {
	fetches := 0
	srv := newTokenServer(t, &fetches, "opaque-token")
	defer srv.Close()

	p := NewTokenProvider(srv.URL, "cid", "csecret")

	_, err := p.GetValidToken(context.Background())
	require.NoError(t, err)
	p.Invalidate()
	_, err = p.GetValidToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, fetches)
}

func TestGetValidTokenMissingConfig(t *testing.T) {
	p := NewTokenProvider("", "cid", "csecret")
	_, err := p.GetValidToken(context.Background())
	require.Error(t, err)

	p = NewTokenProvider("https://example.my.salesforce.com", "", "")
	_, err = p.GetValidToken(context.Background())
	require.Error(t, err)
}

func TestGetValidTokenUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_client",
			"error_description": "client identifier invalid",
		})
	}))
	defer srv.Close()

	p := NewTokenProvider(srv.URL, "cid", "csecret")
	_, err := p.GetValidToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client identifier invalid")
}

func TestTokenExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	deadline := tokenExpiry(signed)
	assert.WithinDuration(t, exp.Add(-expirySkew), deadline, time.Second)
}

func TestTokenExpiryFallbackForOpaqueToken(t *testing.T) {
	deadline := tokenExpiry("not-a-jwt")
	assert.WithinDuration(t, time.Now().Add(defaultTokenTTL), deadline, time.Second)
}

func TestListAgentsRetriesOnUnauthorized(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/services/oauth2/token":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case r.URL.Path == "/services/data/v64.0/query/":
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(queryResponse{
				TotalSize: 1,
				Done:      true,
				Records:   []RemoteAgent{{ID: "0Xx000", MasterLabel: "Sally"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewTokenProvider(srv.URL, "cid", "csecret")
	agents, err := p.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "Sally", agents[0].MasterLabel)
	assert.Equal(t, 2, calls)
}
