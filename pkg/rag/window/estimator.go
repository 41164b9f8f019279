package window

import (
	"unicode/utf8"

	"biblestudy-be/pkg/llm"
)

// messageOverhead approximates role and framing tokens per chat entry.
const messageOverhead = 4

// EstimateText is a deterministic chars/4 estimate, rounded up.
func EstimateText(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

func EstimateMessage(m llm.Message) int {
	return EstimateText(m.Content) + messageOverhead
}

// EstimateTokens is monotonic in total text length and stable for equal input.
func EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessage(m)
	}
	return total
}
