// Package store defines the transcript sink and its implementations. The
// sink receives finalized turn records; appends are fire-and-forget from the
// orchestrator's perspective and a sink failure never fails a turn.
package store

import (
	"context"

	"github.com/safegate/safegate/domain"
)

// Sink persists finalized turn records.
type Sink interface {
	// AppendTurn persists one finalized record.
	AppendTurn(ctx context.Context, rec *domain.TurnRecord) error

	// ListTurns returns finalized records for a session in creation order.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.TurnRecord, error)

	// Lifecycle
	Close() error
}

// NopSink discards everything. Used when no transcript database is
// configured and in tests.
type NopSink struct{}

func (NopSink) AppendTurn(ctx context.Context, rec *domain.TurnRecord) error {
	return nil
}

func (NopSink) ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.TurnRecord, error) {
	return nil, nil
}

func (NopSink) Close() error { return nil }
