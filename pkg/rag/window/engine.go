package window

import (
	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/pkg/llm"
)

const summaryPrefix = "Summary of the earlier conversation: "

type Config struct {
	SummaryThreshold  int
	MaxWindowMessages int
	TokenCeiling      int
}

// Window is the bounded context sent with one completion call.
type Window struct {
	// Messages holds the summary entry (if any) followed by the kept turns, oldest first.
	Messages        []llm.Message
	Summary         *entity.ConversationSummary
	Dropped         int
	EstimatedTokens int
}

type Engine struct {
	cfg    Config
	logger logger.ILogger
}

func NewEngine(cfg Config, log logger.ILogger) *Engine {
	if cfg.MaxWindowMessages <= 0 {
		cfg.MaxWindowMessages = 10
	}
	if cfg.TokenCeiling <= 0 {
		cfg.TokenCeiling = 3000
	}
	if cfg.TokenCeiling < 2*messageOverhead {
		cfg.TokenCeiling = 2 * messageOverhead
	}
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = 20
	}
	return &Engine{cfg: cfg, logger: log}
}

func (e *Engine) Config() Config { return e.cfg }

// NeedsSummarization is true on the first threshold crossing and again each
// time another threshold's worth of messages accumulates past the summary.
func (e *Engine) NeedsSummarization(messageCount int, summary *entity.ConversationSummary) bool {
	if summary == nil {
		return messageCount >= e.cfg.SummaryThreshold
	}
	return messageCount >= summary.MessageCount+e.cfg.SummaryThreshold
}

// SummarySource returns the turns that fall outside the window and should be
// condensed. It falls back to the whole history when everything fits.
func (e *Engine) SummarySource(history []entity.Message) []entity.Message {
	usable := contextMessages(history)
	if len(usable) > e.cfg.MaxWindowMessages {
		return usable[:len(usable)-e.cfg.MaxWindowMessages]
	}
	return usable
}

// WindowConversation keeps the most recent turns that fit under the token
// ceiling. The summary is always kept and is truncated only if it alone
// exceeds the ceiling.
func (e *Engine) WindowConversation(history []entity.Message, summary *entity.ConversationSummary) Window {
	w := Window{Summary: summary}
	budget := e.cfg.TokenCeiling

	var summaryEntry *llm.Message
	if summary != nil && summary.Text != "" {
		entry := llm.Message{Role: "system", Content: summaryPrefix + summary.Text}
		if EstimateMessage(entry) > budget {
			entry.Content = truncateToTokens(entry.Content, budget-messageOverhead)
			e.logger.Warn("WINDOW", "Summary exceeds token ceiling, truncated", map[string]interface{}{
				"ceiling": budget,
			})
		}
		budget -= EstimateMessage(entry)
		summaryEntry = &entry
	}

	usable := contextMessages(history)
	kept := make([]llm.Message, 0, e.cfg.MaxWindowMessages)
	used := 0
	for i := len(usable) - 1; i >= 0 && len(kept) < e.cfg.MaxWindowMessages; i-- {
		m := llm.Message{Role: string(usable[i].Role), Content: usable[i].Content}
		cost := EstimateMessage(m)
		if used+cost > budget {
			break
		}
		used += cost
		kept = append(kept, m)
	}
	w.Dropped = len(usable) - len(kept)

	if summaryEntry != nil {
		w.Messages = append(w.Messages, *summaryEntry)
	}
	for i := len(kept) - 1; i >= 0; i-- {
		w.Messages = append(w.Messages, kept[i])
	}
	w.EstimatedTokens = EstimateTokens(w.Messages)

	e.logger.Debug("WINDOW", "Conversation windowed", map[string]interface{}{
		"kept":        len(kept),
		"dropped":     w.Dropped,
		"has_summary": summaryEntry != nil,
		"tokens":      w.EstimatedTokens,
	})
	return w
}

// contextMessages drops failed user turns, which never received an answer.
func contextMessages(history []entity.Message) []entity.Message {
	out := make([]entity.Message, 0, len(history))
	for _, m := range history {
		if m.Status == entity.MessageStatusFailed {
			continue
		}
		out = append(out, m)
	}
	return out
}

func truncateToTokens(text string, tokens int) string {
	if tokens <= 0 {
		return ""
	}
	runes := []rune(text)
	max := tokens * 4
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
