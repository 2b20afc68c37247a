package safety

import (
	"context"
	"fmt"

	"github.com/safegate/safegate/domain"
	"github.com/safegate/safegate/llm"
	"github.com/safegate/safegate/prompts"
)

// Classifier defines the safety backend operations the orchestrator depends
// on. Both calls are blocking; classification never streams.
type Classifier interface {
	// ClassifyRequest runs the prompt-only classification pass.
	ClassifyRequest(ctx context.Context, prompt string) (domain.SafetyVerdict, error)

	// ClassifyExchange runs the prompt+response classification pass.
	ClassifyExchange(ctx context.Context, prompt, response string) (domain.SafetyVerdict, error)
}

// Client classifies conversation content by rendering a catalog template,
// issuing one blocking generation call against the safety backend and
// parsing the free-text verdict. An unparseable verdict body degrades
// field-by-field to unknown; only total backend failures return an error.
type Client struct {
	backend llm.Generator
	model   string
	catalog *prompts.Catalog
}

// NewClient creates a safety client over the given backend.
func NewClient(backend llm.Generator, model string, catalog *prompts.Catalog) *Client {
	return &Client{backend: backend, model: model, catalog: catalog}
}

var _ Classifier = (*Client)(nil)

// ClassifyRequest classifies a user prompt before generation. The returned
// verdict carries only the harmful-request field.
func (c *Client) ClassifyRequest(ctx context.Context, prompt string) (domain.SafetyVerdict, error) {
	instruction, err := c.catalog.RenderRequestClassifier(prompt)
	if err != nil {
		return domain.UnknownPromptVerdict(), err
	}

	text, err := c.complete(ctx, instruction)
	if err != nil {
		return domain.UnknownPromptVerdict(), err
	}

	return ParseVerdict(text, false), nil
}

// ClassifyExchange classifies a prompt together with the generated response.
func (c *Client) ClassifyExchange(ctx context.Context, prompt, response string) (domain.SafetyVerdict, error) {
	instruction, err := c.catalog.RenderExchangeClassifier(prompt, response)
	if err != nil {
		return domain.UnknownExchangeVerdict(), err
	}

	text, err := c.complete(ctx, instruction)
	if err != nil {
		return domain.UnknownExchangeVerdict(), err
	}

	return ParseVerdict(text, true), nil
}

func (c *Client) complete(ctx context.Context, instruction string) (string, error) {
	// Classification wants determinism, not sampling variety.
	temperature := 0.0
	resp, err := c.backend.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []llm.ChatMessage{{Role: string(domain.RoleUser), Content: instruction}},
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("safety classification call: %w", err)
	}
	return resp.Choices[0].Message.Content, nil
}
