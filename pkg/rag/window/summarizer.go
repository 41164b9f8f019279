package window

import (
	"context"
	"fmt"
	"strings"
	"time"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/pkg/llm"
)

// Summarizer condenses older turns with one remote call.
type Summarizer struct {
	provider llm.LLMProvider
	model    string
	timeout  time.Duration
	logger   logger.ILogger
}

func NewSummarizer(provider llm.LLMProvider, model string, timeout time.Duration, log logger.ILogger) *Summarizer {
	return &Summarizer{provider: provider, model: model, timeout: timeout, logger: log}
}

// GenerateConversationSummary returns one paragraph plus the provider's token accounting.
func (s *Summarizer) GenerateConversationSummary(ctx context.Context, history []entity.Message) (*llm.Completion, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("nothing to summarize")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var transcript strings.Builder
	for _, m := range history {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	prompt := "<task>\nCondense the Bible study conversation below into a single paragraph.\n" +
		"Keep the passages discussed, the questions asked and any conclusions reached.\n" +
		"Write in third person. Do not add new interpretation.\n</task>\n\n" +
		"<conversation>\n" + transcript.String() + "</conversation>"

	opts := []llm.Option{llm.WithTemperature(0.2)}
	if s.model != "" {
		opts = append(opts, llm.WithModel(s.model))
	}

	completion, err := s.provider.Generate(ctx, prompt, opts...)
	if err != nil {
		return nil, fmt.Errorf("summarize conversation: %w", err)
	}
	completion.Content = strings.TrimSpace(completion.Content)
	if completion.Content == "" {
		return nil, fmt.Errorf("summarize conversation: empty summary")
	}

	s.logger.Info("WINDOW", "Conversation summary generated", map[string]interface{}{
		"messages":   len(history),
		"tokens_in":  completion.TokensIn,
		"tokens_out": completion.TokensOut,
	})
	return completion, nil
}
