package llm

import "unicode/utf8"

const runesPerToken = 4

// EstimateTokens approximates the prompt tokens of messages before a call,
// in the unit providers report as Usage.InputTokens. It rounds up.
func EstimateTokens(messages []Message) int64 {
	runes := 0
	for _, m := range messages {
		runes += utf8.RuneCountInString(m.Content)
	}
	return int64((runes + runesPerToken - 1) / runesPerToken)
}
