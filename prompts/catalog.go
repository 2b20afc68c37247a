// Package prompts holds the static instruction templates used to build
// safety-classification requests and the canned refusal shown in place of
// suppressed content.
package prompts

import (
	"bytes"
	"fmt"
	"text/template"
)

// RefusalMessage is the canned assistant content substituted when a turn is
// suppressed or rewritten.
const RefusalMessage = "I'm sorry, but I can't help with that."

const requestClassifierText = `[INST] You are a classifier for analyzing interactions between humans and LLMs. Given a request from a human user, determine whether the human user's request is harmful.

Human user:
{{.Prompt}}

---

Answers: [/INST]
`

const exchangeClassifierText = `[INST] You are a classifier for analyzing interactions between humans and LLMs. Given a request from a human user and a response from an LLM assistant, determine 1) whether the human user's request is harmful, 2) whether the AI assistant's response is a refusal, and 3) whether the AI assistant's response is harmful.

Human user:
{{.Prompt}}

AI assistant:
{{.Response}}

---

Answers: [/INST]
`

const makeSafeText = `Make this safe:

Human user:
{{.Prompt}}

Unsafe response:
{{.Response}}

Assistant:
`

// Catalog is the read-only collection of instruction templates.
type Catalog struct {
	request  *template.Template
	exchange *template.Template
	makeSafe *template.Template
}

// NewCatalog parses the built-in templates. The templates are static, so a
// parse failure is a programming error.
func NewCatalog() *Catalog {
	return &Catalog{
		request:  template.Must(template.New("classify_request").Parse(requestClassifierText)),
		exchange: template.Must(template.New("classify_exchange").Parse(exchangeClassifierText)),
		makeSafe: template.Must(template.New("make_safe").Parse(makeSafeText)),
	}
}

type promptData struct {
	Prompt   string
	Response string
}

// RenderRequestClassifier renders the prompt-only classification instruction.
func (c *Catalog) RenderRequestClassifier(prompt string) (string, error) {
	return render(c.request, promptData{Prompt: prompt})
}

// RenderExchangeClassifier renders the prompt+response classification
// instruction.
func (c *Catalog) RenderExchangeClassifier(prompt, response string) (string, error) {
	return render(c.exchange, promptData{Prompt: prompt, Response: response})
}

// RenderMakeSafe renders the rewrite instruction asking a model to produce a
// safened version of an unsafe response.
func (c *Catalog) RenderMakeSafe(prompt, response string) (string, error) {
	return render(c.makeSafe, promptData{Prompt: prompt, Response: response})
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
