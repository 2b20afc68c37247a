package safety

import (
	"testing"

	"github.com/safegate/safegate/domain"
)

func TestParseVerdictAllFields(t *testing.T) {
	text := "Harmful request: yes\nResponse refusal: no\nHarmful response: yes\n"
	v := ParseVerdict(text, true)
	if v.HarmfulRequest != domain.AnswerYes {
		t.Fatalf("harmful_request = %q", v.HarmfulRequest)
	}
	if v.ResponseRefusal != domain.AnswerNo {
		t.Fatalf("response_refusal = %q", v.ResponseRefusal)
	}
	if v.HarmfulResponse != domain.AnswerYes {
		t.Fatalf("harmful_response = %q", v.HarmfulResponse)
	}
}

func TestParseVerdictCaseInsensitive(t *testing.T) {
	text := "HARMFUL REQUEST: No\nresponse refusal: YES"
	v := ParseVerdict(text, true)
	if v.HarmfulRequest != domain.AnswerNo {
		t.Fatalf("harmful_request = %q", v.HarmfulRequest)
	}
	if v.ResponseRefusal != domain.AnswerYes {
		t.Fatalf("response_refusal = %q", v.ResponseRefusal)
	}
	if v.HarmfulResponse != domain.AnswerUnknown {
		t.Fatalf("missing line should stay unknown, got %q", v.HarmfulResponse)
	}
}

func TestParseVerdictIgnoresNoise(t *testing.T) {
	text := "Let me analyze this.\nHarmful request: no\nSome trailing commentary: yes please"
	v := ParseVerdict(text, true)
	if v.HarmfulRequest != domain.AnswerNo {
		t.Fatalf("harmful_request = %q", v.HarmfulRequest)
	}
	if v.ResponseRefusal != domain.AnswerUnknown || v.HarmfulResponse != domain.AnswerUnknown {
		t.Fatalf("noise must not populate fields: %+v", v)
	}
}

func TestParseVerdictGarbage(t *testing.T) {
	v := ParseVerdict("total gibberish", true)
	if v.HarmfulRequest != domain.AnswerUnknown || v.ResponseRefusal != domain.AnswerUnknown || v.HarmfulResponse != domain.AnswerUnknown {
		t.Fatalf("garbage must degrade to unknown: %+v", v)
	}
}

func TestParseVerdictPromptOnly(t *testing.T) {
	// Even if the classifier volunteers response fields, a prompt-only
	// verdict leaves them absent.
	text := "Harmful request: yes\nResponse refusal: no\nHarmful response: yes"
	v := ParseVerdict(text, false)
	if v.HarmfulRequest != domain.AnswerYes {
		t.Fatalf("harmful_request = %q", v.HarmfulRequest)
	}
	if v.ResponseRefusal != "" || v.HarmfulResponse != "" {
		t.Fatalf("prompt-only verdict must not carry response fields: %+v", v)
	}
}
