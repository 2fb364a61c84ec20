// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultAgentforceBaseURL is the public Agentforce API used when
// AGENTFORCE_BASE_URL is not set.
const DefaultAgentforceBaseURL = "https://api.salesforce.com/einstein/ai-agent/v1"

// DefaultTranscriptionURL is the Einstein speech-to-text endpoint used when
// TRANSCRIPTION_URL is not set.
const DefaultTranscriptionURL = "https://api.salesforce.com/einstein/platform/v1/models/transcribeInternalV1/transcriptions"

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Upstream Salesforce / Agentforce settings.
	InstanceURL       string
	ClientID          string
	ClientSecret      string
	AgentforceBaseURL string
	TranscriptionURL  string

	// Portal authentication.
	AuthPassword string
	JWTSecret    string

	// SessionTTL is the maximum age of an upstream conversation session
	// before it is invalidated locally.
	SessionTTL time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/portal.db"),
		InstanceURL:       strings.TrimSuffix(getEnv("SALESFORCE_INSTANCE_URL", ""), "/"),
		ClientID:          getEnv("SALESFORCE_CLIENT_ID", ""),
		ClientSecret:      getEnv("SALESFORCE_CLIENT_SECRET", ""),
		AgentforceBaseURL: getEnv("AGENTFORCE_BASE_URL", DefaultAgentforceBaseURL),
		TranscriptionURL:  getEnv("TRANSCRIPTION_URL", DefaultTranscriptionURL),
		AuthPassword:      getEnv("AUTH_PASSWORD", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		SessionTTL:        getEnvDuration("SESSION_TTL", 24*time.Hour),
	}

	// The login JWT falls back to the workshop password as signing secret.
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.AuthPassword
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set. Missing
// Salesforce credentials are not fatal here: they surface as configuration
// errors at the point of use so the portal can still serve static pages.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AuthPassword == "" {
		return fmt.Errorf("AUTH_PASSWORD cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
