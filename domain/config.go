package domain

import "fmt"

// BackendRef identifies one chat-completion backend endpoint.
type BackendRef struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model"`
}

// SamplingParams are the generation sampling knobs forwarded to the backend.
// Nil fields are omitted from requests and left to backend defaults.
type SamplingParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Gate policy modes. SuppressHarmful refuses a harmful request before
// generation; RewriteOnly always generates and only rewrites afterwards.
const (
	GatePolicySuppress    = "suppress"
	GatePolicyRewriteOnly = "rewrite-only"
)

// SessionConfig is the per-session configuration, set at session creation
// and mutable only through explicit reconfiguration between turns.
type SessionConfig struct {
	Generation   BackendRef     `json:"generation"`
	Safety       *BackendRef    `json:"safety,omitempty"` // nil disables gating
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Sampling     SamplingParams `json:"sampling"`
	Streaming    bool           `json:"streaming"`
	GatePolicy   string         `json:"gate_policy,omitempty"`
}

// GatingEnabled reports whether safety classification runs for this session.
func (c SessionConfig) GatingEnabled() bool {
	return c.Safety != nil
}

// Validate checks that the configuration is usable. A safety backend needs
// both endpoint and model set, mirroring the original requirement that the
// filter port and model come together.
func (c SessionConfig) Validate() error {
	if c.Generation.BaseURL == "" || c.Generation.Model == "" {
		return fmt.Errorf("generation backend requires base_url and model")
	}
	if c.Safety != nil && (c.Safety.BaseURL == "" || c.Safety.Model == "") {
		return fmt.Errorf("safety backend requires base_url and model")
	}
	switch c.GatePolicy {
	case "", GatePolicySuppress, GatePolicyRewriteOnly:
	default:
		return fmt.Errorf("unknown gate_policy %q", c.GatePolicy)
	}
	return nil
}
