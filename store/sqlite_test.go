package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/safegate/safegate/domain"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "transcript.db"))
	if err != nil {
		t.Fatalf("NewSQLiteSink failed: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestAppendAndListTurns(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := &domain.TurnRecord{
		TurnID:    "turn_1",
		SessionID: "sess_1",
		State:     domain.TurnStateFinalized,
		User:      domain.Message{Role: domain.RoleUser, Content: "Hello"},
		Assistant: domain.Message{Role: domain.RoleAssistant, Content: "Hi there!"},
		PreVerdict: &domain.SafetyVerdict{
			HarmfulRequest: domain.AnswerNo,
		},
		PostVerdict: &domain.SafetyVerdict{
			HarmfulRequest:  domain.AnswerNo,
			ResponseRefusal: domain.AnswerNo,
			HarmfulResponse: domain.AnswerNo,
		},
		CreatedAt:   now,
		FinalizedAt: &now,
	}
	if err := sink.AppendTurn(ctx, rec); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	got, err := sink.ListTurns(ctx, "sess_1", 0)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(got))
	}
	if got[0].User.Content != "Hello" || got[0].Assistant.Content != "Hi there!" {
		t.Fatalf("unexpected record: %+v", got[0])
	}
	if got[0].PreVerdict == nil || got[0].PreVerdict.HarmfulRequest != domain.AnswerNo {
		t.Fatalf("pre verdict lost: %+v", got[0].PreVerdict)
	}
	if got[0].PostVerdict == nil || got[0].PostVerdict.HarmfulResponse != domain.AnswerNo {
		t.Fatalf("post verdict lost: %+v", got[0].PostVerdict)
	}
}

func TestAppendErrorTurn(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	rec := &domain.TurnRecord{
		TurnID:       "turn_err",
		SessionID:    "sess_2",
		State:        domain.TurnStateFinalized,
		User:         domain.Message{Role: domain.RoleUser, Content: "Hello"},
		ErrorKind:    domain.ErrorKindTimeout,
		ErrorMessage: "backend timeout",
		CreatedAt:    time.Now(),
	}
	if err := sink.AppendTurn(ctx, rec); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	got, err := sink.ListTurns(ctx, "sess_2", 0)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(got) != 1 || got[0].ErrorKind != domain.ErrorKindTimeout {
		t.Fatalf("unexpected records: %+v", got)
	}
	if got[0].PreVerdict != nil || got[0].PostVerdict != nil {
		t.Fatalf("error turn must carry no verdicts: %+v", got[0])
	}
}

func TestListTurnsScopedBySession(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	for i, sess := range []string{"sess_a", "sess_b", "sess_a"} {
		rec := &domain.TurnRecord{
			TurnID:    "turn_" + string(rune('0'+i)),
			SessionID: sess,
			User:      domain.Message{Role: domain.RoleUser, Content: "hi"},
			Assistant: domain.Message{Role: domain.RoleAssistant, Content: "hello"},
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}
		if err := sink.AppendTurn(ctx, rec); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	got, err := sink.ListTurns(ctx, "sess_a", 0)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 turns for sess_a, got %d", len(got))
	}
}
