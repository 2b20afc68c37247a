package domain

// Answer is a three-valued classification answer. An empty Answer means the
// field does not apply to the verdict (a prompt-only verdict carries no
// response fields).
type Answer string

const (
	AnswerYes     Answer = "yes"
	AnswerNo      Answer = "no"
	AnswerUnknown Answer = "unknown"
)

// SafetyVerdict is the structured result of one classification call. The
// response fields (ResponseRefusal, HarmfulResponse) are empty on a
// prompt-only verdict and only populated once a generation has occurred.
type SafetyVerdict struct {
	HarmfulRequest  Answer `json:"harmful_request"`
	ResponseRefusal Answer `json:"response_refusal,omitempty"`
	HarmfulResponse Answer `json:"harmful_response,omitempty"`
}

// UnknownPromptVerdict is the degraded prompt-only verdict used when the
// safety backend fails.
func UnknownPromptVerdict() SafetyVerdict {
	return SafetyVerdict{HarmfulRequest: AnswerUnknown}
}

// UnknownExchangeVerdict is the degraded prompt+response verdict used when
// the safety backend fails after generation.
func UnknownExchangeVerdict() SafetyVerdict {
	return SafetyVerdict{
		HarmfulRequest:  AnswerUnknown,
		ResponseRefusal: AnswerUnknown,
		HarmfulResponse: AnswerUnknown,
	}
}
