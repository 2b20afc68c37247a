// Package config provides process configuration for the chat gateway.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/safegate/safegate/domain"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "SAFEGATE_MODE"
	// ModeMock indicates mock backends should be used.
	ModeMock = "MOCK"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Generation backend
	GenerationURL    string
	GenerationAPIKey string
	GenerationModel  string

	// Safety backend (both URL and model must be set to enable gating)
	SafetyURL    string
	SafetyAPIKey string
	SafetyModel  string

	// Timeouts
	GenerationTimeout time.Duration
	SafetyTimeout     time.Duration

	// Transcript database (empty disables persistence)
	TranscriptDB string

	// Gate policy mode: suppress or rewrite-only
	GatePolicy string

	// Ask the generation backend to safen refused responses instead of
	// substituting the canned refusal
	RewriteWithModel bool

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		GenerationURL:     getEnv("GENERATION_URL", "http://localhost:8000"),
		GenerationAPIKey:  getEnv("GENERATION_API_KEY", ""),
		GenerationModel:   getEnv("GENERATION_MODEL", ""),
		SafetyURL:         getEnv("SAFETY_URL", ""),
		SafetyAPIKey:      getEnv("SAFETY_API_KEY", ""),
		SafetyModel:       getEnv("SAFETY_MODEL", ""),
		GenerationTimeout: time.Duration(getEnvInt("GENERATION_TIMEOUT_MS", 120000)) * time.Millisecond,
		SafetyTimeout:     time.Duration(getEnvInt("SAFETY_TIMEOUT_MS", 30000)) * time.Millisecond,
		TranscriptDB:      getEnv("TRANSCRIPT_DB", "file:transcript.db?cache=shared&mode=rwc"),
		GatePolicy:        getEnv("GATE_POLICY", domain.GatePolicySuppress),
		RewriteWithModel:  getEnvBool("REWRITE_WITH_MODEL", false),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// MockMode reports whether mock backends were requested.
func MockMode() bool {
	return os.Getenv(EnvMode) == ModeMock
}

// DefaultSessionConfig derives the default per-session configuration from
// the process configuration. Gating is enabled only when both safety
// settings are present.
func (c *Config) DefaultSessionConfig() domain.SessionConfig {
	sc := domain.SessionConfig{
		Generation: domain.BackendRef{
			BaseURL: c.GenerationURL,
			APIKey:  c.GenerationAPIKey,
			Model:   c.GenerationModel,
		},
		GatePolicy: c.GatePolicy,
	}
	if c.SafetyURL != "" && c.SafetyModel != "" {
		sc.Safety = &domain.BackendRef{
			BaseURL: c.SafetyURL,
			APIKey:  c.SafetyAPIKey,
			Model:   c.SafetyModel,
		}
	}
	return sc
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
