// Package safety provides the safety-classification client and the parser
// for the classifier's line-oriented verdict protocol.
package safety

import (
	"regexp"
	"strings"

	"github.com/safegate/safegate/domain"
)

// The classifier answers in free text containing lines of the form
// "Harmful request: yes". Anything else is ignored; a missing or malformed
// line degrades that field to unknown rather than failing the call.
var verdictLine = regexp.MustCompile(`(?im)^\s*(harmful request|response refusal|harmful response)\s*:\s*(yes|no)\b`)

// ParseVerdict extracts a SafetyVerdict from raw classifier output. When
// withResponse is false the verdict is prompt-only and the response fields
// stay absent regardless of what the text contains.
func ParseVerdict(text string, withResponse bool) domain.SafetyVerdict {
	v := domain.UnknownPromptVerdict()
	if withResponse {
		v = domain.UnknownExchangeVerdict()
	}

	for _, m := range verdictLine.FindAllStringSubmatch(text, -1) {
		field := strings.ToLower(m[1])
		answer := domain.AnswerNo
		if strings.EqualFold(m[2], "yes") {
			answer = domain.AnswerYes
		}

		switch field {
		case "harmful request":
			v.HarmfulRequest = answer
		case "response refusal":
			if withResponse {
				v.ResponseRefusal = answer
			}
		case "harmful response":
			if withResponse {
				v.HarmfulResponse = answer
			}
		}
	}

	return v
}
