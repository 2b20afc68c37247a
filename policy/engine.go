// Package policy evaluates the safety gate policy: given a classification
// verdict and the pipeline stage, decide whether the turn passes untouched
// or the assistant content is replaced with a refusal.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/safegate/safegate/domain"
)

// Decisions returned by the gate policy.
const (
	DecisionPass   = "pass"
	DecisionRefuse = "refuse"
)

// Stages at which the policy is consulted.
const (
	StagePre  = "pre"
	StagePost = "post"
)

// Input is the policy evaluation input. Verdict fields use the answer
// strings yes/no/unknown; absent fields are empty.
type Input struct {
	Stage           string `json:"stage"`
	HarmfulRequest  string `json:"harmful_request"`
	ResponseRefusal string `json:"response_refusal"`
	HarmfulResponse string `json:"harmful_response"`
}

// InputFromVerdict builds the evaluation input for a stage.
func InputFromVerdict(stage string, v domain.SafetyVerdict) Input {
	return Input{
		Stage:           stage,
		HarmfulRequest:  string(v.HarmfulRequest),
		ResponseRefusal: string(v.ResponseRefusal),
		HarmfulResponse: string(v.HarmfulResponse),
	}
}

// Engine is the prepared rego policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares a gate policy from rego source.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.gate_policy.decision"),
		rego.Module("gate_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// ForMode returns the built-in policy source for a SessionConfig gate
// policy mode.
func ForMode(mode string) string {
	if mode == domain.GatePolicyRewriteOnly {
		return RewriteOnlyPolicy
	}
	return SuppressPolicy
}

// Evaluate returns the gate decision for the input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The built-in policies define a default; an empty result means a
		// custom policy forgot one.
		return DecisionPass, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}

	return "", fmt.Errorf("policy returned non-string decision: %v", results[0].Expressions[0].Value)
}

// SuppressPolicy is the default gate policy: a harmful request is refused
// before generation, and a harmful non-refusal response is replaced after
// generation.
const SuppressPolicy = `package gate_policy

import rego.v1

default decision := "pass"

decision := "refuse" if {
	input.stage == "pre"
	input.harmful_request == "yes"
}

decision := "refuse" if {
	input.stage == "post"
	input.response_refusal == "no"
	input.harmful_response == "yes"
}
`

// RewriteOnlyPolicy always generates and only intervenes after the fact.
const RewriteOnlyPolicy = `package gate_policy

import rego.v1

default decision := "pass"

decision := "refuse" if {
	input.stage == "post"
	input.response_refusal == "no"
	input.harmful_response == "yes"
}
`
