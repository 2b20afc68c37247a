// Package turn drives the safety-gated turn pipeline: an optional
// pre-generation classification pass, the generation call (blocking or
// streamed), an optional post-generation classification pass and the
// rewrite decision, merged into one turn record per user message.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/safegate/safegate/domain"
	"github.com/safegate/safegate/llm"
	"github.com/safegate/safegate/policy"
	"github.com/safegate/safegate/prompts"
	"github.com/safegate/safegate/safety"
	"github.com/safegate/safegate/session"
	"github.com/safegate/safegate/store"
)

// TurnCallback receives provisional turn records during a streamed turn and
// finally the finalized record. Returning a non-nil error cancels the turn:
// the backend stream is terminated and the conversation is left as if the
// turn never started.
type TurnCallback func(rec *domain.TurnRecord) error

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModelRewrite makes the rewrite path ask the generation backend for a
// safened response (the make-safe template) instead of substituting the
// canned refusal. On any failure the canned refusal is used.
func WithModelRewrite() Option {
	return func(o *Orchestrator) { o.rewriteWithModel = true }
}

// Orchestrator runs the turn state machine for one session. The classifier
// and gate may be nil when the session has gating disabled; no safety call
// is ever made for such sessions.
type Orchestrator struct {
	sess       *session.Session
	gen        llm.Generator
	classifier safety.Classifier
	gate       *policy.Engine
	sink       store.Sink
	catalog    *prompts.Catalog

	rewriteWithModel bool
}

// New creates an orchestrator. sink may be nil, in which case records are
// not persisted.
func New(sess *session.Session, gen llm.Generator, classifier safety.Classifier, gate *policy.Engine, sink store.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sess:       sess,
		gen:        gen,
		classifier: classifier,
		gate:       gate,
		sink:       sink,
		catalog:    prompts.NewCatalog(),
	}
	if o.sink == nil {
		o.sink = store.NopSink{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Session returns the session this orchestrator drives.
func (o *Orchestrator) Session() *session.Session {
	return o.sess
}

// Submit runs one blocking turn. Backend failures during generation end the
// turn with an error-bearing finalized record, not a Go error; the error
// return covers turn admission (domain.ErrTurnInProgress) only.
func (o *Orchestrator) Submit(ctx context.Context, text string) (*domain.TurnRecord, error) {
	return o.run(ctx, text, nil)
}

// SubmitStream runs one streamed turn, invoking fn per provisional record
// (growing assistant content, no verdicts yet) and once with the finalized
// record. Cancellation via fn or ctx leaves the conversation untouched and
// returns the cancellation error with a nil record.
func (o *Orchestrator) SubmitStream(ctx context.Context, text string, fn TurnCallback) (*domain.TurnRecord, error) {
	if fn == nil {
		return nil, fmt.Errorf("stream callback is required")
	}
	return o.run(ctx, text, fn)
}

// callbackAbort wraps a consumer cancellation so it can be told apart from
// backend failures after the stream unwinds.
type callbackAbort struct {
	err error
}

func (a *callbackAbort) Error() string { return a.err.Error() }
func (a *callbackAbort) Unwrap() error { return a.err }

func (o *Orchestrator) run(ctx context.Context, text string, fn TurnCallback) (*domain.TurnRecord, error) {
	if err := o.sess.BeginTurn(); err != nil {
		return nil, err
	}
	defer o.sess.EndTurn()

	cfg := o.sess.Config()
	rec := &domain.TurnRecord{
		TurnID:    "turn_" + uuid.New().String()[:8],
		SessionID: o.sess.ID(),
		State:     domain.TurnStateAwaitingInput,
		User:      domain.Message{Role: domain.RoleUser, Content: text},
		Assistant: domain.Message{Role: domain.RoleAssistant},
		CreatedAt: time.Now(),
	}

	gating := cfg.GatingEnabled() && o.classifier != nil

	// PRE_CLASSIFY
	if gating {
		rec.State = domain.TurnStatePreClassify
		verdict, err := o.classifier.ClassifyRequest(ctx, text)
		if err != nil {
			log.Printf("WARN: pre-generation classification failed, degrading to unknown: %v", err)
			verdict = domain.UnknownPromptVerdict()
		}
		rec.PreVerdict = &verdict

		if o.decide(ctx, policy.StagePre, verdict) == policy.DecisionRefuse {
			// Generation is skipped entirely; the canned refusal stands in.
			rec.State = domain.TurnStateRewriteDecision
			o.substituteRefusal(rec)
			return o.finalize(ctx, rec, fn), nil
		}
	}

	// GENERATE
	rec.State = domain.TurnStateGenerate
	req := o.buildRequest(cfg, text)

	var genErr error
	if fn != nil {
		genErr = o.generateStream(ctx, req, rec, fn)
		var abort *callbackAbort
		if errors.As(genErr, &abort) {
			// Consumer cancelled mid-stream: the turn never finalizes and
			// the conversation stays as if it never started.
			return nil, abort.err
		}
		if errors.Is(genErr, context.Canceled) {
			return nil, genErr
		}
	} else {
		resp, err := o.gen.CreateChatCompletion(ctx, req)
		genErr = err
		if err == nil {
			rec.Assistant.Content = resp.Choices[0].Message.Content
		}
	}

	if genErr != nil {
		// Fatal to the turn: no partial content is ever finalized.
		rec.Assistant = domain.Message{Role: domain.RoleAssistant}
		rec.ErrorKind = domain.ErrorKind(genErr)
		rec.ErrorMessage = genErr.Error()
		return o.finalize(ctx, rec, fn), nil
	}

	// POST_CLASSIFY
	if gating {
		rec.State = domain.TurnStatePostClassify
		verdict, err := o.classifier.ClassifyExchange(ctx, text, rec.Assistant.Content)
		if err != nil {
			log.Printf("WARN: post-generation classification failed, degrading to unknown: %v", err)
			verdict = domain.UnknownExchangeVerdict()
		}
		rec.PostVerdict = &verdict

		// REWRITE_DECISION
		rec.State = domain.TurnStateRewriteDecision
		if o.decide(ctx, policy.StagePost, verdict) == policy.DecisionRefuse {
			o.rewrite(ctx, rec, cfg)
		}
	}

	return o.finalize(ctx, rec, fn), nil
}

// generateStream accumulates streamed fragments into the provisional record
// and forwards a snapshot to the consumer after each fragment.
func (o *Orchestrator) generateStream(ctx context.Context, req *llm.ChatCompletionRequest, rec *domain.TurnRecord, fn TurnCallback) error {
	_, err := o.gen.CreateChatCompletionStream(ctx, req, func(chunk *llm.StreamChunk) error {
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			return nil
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			return nil
		}
		rec.Assistant.Content += delta
		if cbErr := fn(rec.Clone()); cbErr != nil {
			return &callbackAbort{err: cbErr}
		}
		return nil
	})
	return err
}

// decide consults the gate policy; evaluation failures degrade to pass since
// classification is advisory.
func (o *Orchestrator) decide(ctx context.Context, stage string, verdict domain.SafetyVerdict) string {
	if o.gate == nil {
		return policy.DecisionPass
	}
	decision, err := o.gate.Evaluate(ctx, policy.InputFromVerdict(stage, verdict))
	if err != nil {
		log.Printf("WARN: gate policy evaluation failed, passing turn through: %v", err)
		return policy.DecisionPass
	}
	return decision
}

// rewrite replaces the generated content. With model rewrite enabled it asks
// the generation backend to safen the response; otherwise (and on any
// failure) the canned refusal is used.
func (o *Orchestrator) rewrite(ctx context.Context, rec *domain.TurnRecord, cfg domain.SessionConfig) {
	if o.rewriteWithModel {
		instruction, err := o.catalog.RenderMakeSafe(rec.User.Content, rec.Assistant.Content)
		if err == nil {
			resp, genErr := o.gen.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
				Model:       cfg.Generation.Model,
				Messages:    []llm.ChatMessage{{Role: string(domain.RoleUser), Content: instruction}},
				Temperature: cfg.Sampling.Temperature,
				MaxTokens:   cfg.Sampling.MaxTokens,
			})
			if genErr == nil {
				rec.Assistant = domain.Message{
					Role:     domain.RoleAssistant,
					Content:  resp.Choices[0].Message.Content,
					Metadata: &domain.MessageMetadata{Rewritten: true},
				}
				rec.Rewritten = true
				return
			}
			log.Printf("WARN: model rewrite failed, substituting canned refusal: %v", genErr)
		}
	}
	o.substituteRefusal(rec)
}

func (o *Orchestrator) substituteRefusal(rec *domain.TurnRecord) {
	rec.Assistant = domain.Message{
		Role:     domain.RoleAssistant,
		Content:  prompts.RefusalMessage,
		Metadata: &domain.MessageMetadata{Rewritten: true},
	}
	rec.Rewritten = true
}

// finalize seals the record, appends the turn to the conversation (user
// message only on error-bearing records), emits to the sink and delivers the
// terminal record to the stream consumer.
func (o *Orchestrator) finalize(ctx context.Context, rec *domain.TurnRecord, fn TurnCallback) *domain.TurnRecord {
	now := time.Now()
	rec.FinalizedAt = &now
	rec.State = domain.TurnStateFinalized

	if rec.ErrorKind != "" || rec.ErrorMessage != "" {
		o.sess.Append(rec.User)
	} else {
		o.sess.Append(rec.User, rec.Assistant)
	}

	// Fire-and-forget: a sink failure never rolls back a delivered turn.
	if err := o.sink.AppendTurn(ctx, rec); err != nil {
		log.Printf("WARN: failed to append turn %s to sink: %v", rec.TurnID, err)
	}

	if fn != nil {
		if err := fn(rec); err != nil {
			log.Printf("WARN: consumer rejected finalized record for turn %s: %v", rec.TurnID, err)
		}
	}

	return rec
}

// buildRequest maps the session history plus the new user message and
// sampling parameters onto the wire request. The new message is not yet in
// history; it is appended to the conversation only at finalization.
func (o *Orchestrator) buildRequest(cfg domain.SessionConfig, text string) *llm.ChatCompletionRequest {
	history := o.sess.History()
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: string(domain.RoleUser), Content: text})
	return &llm.ChatCompletionRequest{
		Model:       cfg.Generation.Model,
		Messages:    messages,
		Temperature: cfg.Sampling.Temperature,
		TopP:        cfg.Sampling.TopP,
		MaxTokens:   cfg.Sampling.MaxTokens,
	}
}
