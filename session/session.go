// Package session owns per-conversation state: the ordered message history,
// the session configuration and the single-flight turn guard.
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/safegate/safegate/domain"
)

// Session is one conversation with its configuration. Turn processing is
// sequential and single-flight: BeginTurn rejects a second concurrent turn
// with domain.ErrTurnInProgress. Independent sessions share nothing and run
// fully concurrently.
type Session struct {
	id string

	mu     sync.Mutex
	cfg    domain.SessionConfig
	conv   *domain.Conversation
	active bool
}

// New creates a session with a validated configuration. The conversation is
// seeded with the configured system prompt.
func New(cfg domain.SessionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	return &Session{
		id:   "sess_" + uuid.New().String()[:8],
		cfg:  cfg,
		conv: domain.NewConversation(cfg.SystemPrompt),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Config returns the current configuration.
func (s *Session) Config() domain.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Reconfigure replaces the configuration between turns. It is rejected with
// domain.ErrTurnInProgress while a turn is active; configuration never
// changes mid-turn.
func (s *Session) Reconfigure(cfg domain.SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return domain.ErrTurnInProgress
	}
	s.cfg = cfg
	return nil
}

// BeginTurn claims the session for one turn, or fails with
// domain.ErrTurnInProgress when a turn is already active.
func (s *Session) BeginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return domain.ErrTurnInProgress
	}
	s.active = true
	return nil
}

// EndTurn releases the session after a turn finishes, fails or is cancelled.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// History returns a copy of the conversation so far.
func (s *Session) History() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Messages()
}

// Append adds finalized messages to the conversation. Only the orchestrator
// calls this, at turn finalization; provisional streaming content never
// reaches the conversation.
func (s *Session) Append(msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Append(msgs...)
}

// Len returns the conversation length.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Len()
}
