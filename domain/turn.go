package domain

import "time"

// TurnState tracks a turn through the orchestration state machine.
type TurnState string

const (
	TurnStateAwaitingInput   TurnState = "AWAITING_INPUT"
	TurnStatePreClassify     TurnState = "PRE_CLASSIFY"
	TurnStateGenerate        TurnState = "GENERATE"
	TurnStatePostClassify    TurnState = "POST_CLASSIFY"
	TurnStateRewriteDecision TurnState = "REWRITE_DECISION"
	TurnStateFinalized       TurnState = "FINALIZED"
)

// TurnRecord is the unit emitted per user turn: the originating user
// message, the resulting assistant message (possibly replaced with a
// refusal), the optional pre- and post-generation verdicts and the rewritten
// flag. During streaming a record exists in provisional form (growing
// assistant content, no verdicts, state before FINALIZED); consumers must
// treat every record before the finalized one as advisory.
type TurnRecord struct {
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	State     TurnState `json:"state"`

	User      Message `json:"user"`
	Assistant Message `json:"assistant"`

	PreVerdict  *SafetyVerdict `json:"pre_verdict,omitempty"`
	PostVerdict *SafetyVerdict `json:"post_verdict,omitempty"`
	Rewritten   bool           `json:"rewritten"`

	// ErrorKind and ErrorMessage are set on error-bearing records when a
	// backend failure ended the turn early.
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Clone returns a snapshot of the record, used for provisional emission
// while the underlying record keeps accumulating.
func (r *TurnRecord) Clone() *TurnRecord {
	out := *r
	if r.PreVerdict != nil {
		v := *r.PreVerdict
		out.PreVerdict = &v
	}
	if r.PostVerdict != nil {
		v := *r.PostVerdict
		out.PostVerdict = &v
	}
	if r.FinalizedAt != nil {
		t := *r.FinalizedAt
		out.FinalizedAt = &t
	}
	return &out
}
