package domain

import (
	"testing"
	"time"
)

func TestMatchesEndpoint(t *testing.T) {
	s := &ChatSession{Endpoint: "https://example.my.salesforce.com"}

	tests := []struct {
		endpoint string
		want     bool
	}{
		{"https://example.my.salesforce.com", true},
		{"https://example.my.salesforce.com/", true},
		{"https://other.my.salesforce.com", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := s.MatchesEndpoint(tt.endpoint); got != tt.want {
			t.Errorf("MatchesEndpoint(%q) = %v, want %v", tt.endpoint, got, tt.want)
		}
	}
}

func TestMatchesEndpointStoredWithSlash(t *testing.T) {
	s := &ChatSession{Endpoint: "https://example.my.salesforce.com/"}
	if !s.MatchesEndpoint("https://example.my.salesforce.com") {
		t.Error("Expected stored trailing slash to be ignored")
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	ttl := 24 * time.Hour

	fresh := &ChatSession{CreatedAt: now.Add(-23 * time.Hour)}
	if fresh.Expired(now, ttl) {
		t.Error("23h old session should not be expired with 24h TTL")
	}

	stale := &ChatSession{CreatedAt: now.Add(-25 * time.Hour)}
	if !stale.Expired(now, ttl) {
		t.Error("25h old session should be expired with 24h TTL")
	}

	boundary := &ChatSession{CreatedAt: now.Add(-ttl)}
	if !boundary.Expired(now, ttl) {
		t.Error("Session exactly at TTL should be expired")
	}
}
