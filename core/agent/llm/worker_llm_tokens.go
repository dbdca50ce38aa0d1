package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"jenn_worker/core/domain"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		// cl100k_base covers the gpt-4 / gpt-3.5 families; other providers are approximated.
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts tokens in text, falling back to a 4-chars-per-token estimate.
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		return (len(text) + 3) / 4
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// countMessageTokens adds the per-message framing overhead of the chat format.
func countMessageTokens(msgs []Message) int {
	total := 2
	for _, m := range msgs {
		total += 4 + CountTokens(m.Role) + CountTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += CountTokens(tc.Name) + CountTokens(tc.Arguments)
		}
	}
	return total
}

// EstimateUsage approximates usage for providers that report none.
func EstimateUsage(prompt []Message, completion string) domain.TokenUsage {
	p := countMessageTokens(prompt)
	c := CountTokens(completion)
	return domain.TokenUsage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}
