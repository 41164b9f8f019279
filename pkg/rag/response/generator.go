package response

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/pkg/llm"
	"biblestudy-be/pkg/rag/prompt"
	"biblestudy-be/pkg/rag/window"
)

// ChatRequest is one completion call's input.
type ChatRequest struct {
	Question        string
	History         []llm.Message
	Mode            entity.ThreadMode
	AnchorReference *entity.PassageReference
	AnchorText      string
	Passages        []entity.RetrievedPassage
}

type ChatResult struct {
	entity.ModelResponse
	TokensIn  int
	TokensOut int
	ModelUsed string
}

// Generator is the completion provider adapter over an llm.LLMProvider.
type Generator struct {
	llmProvider llm.LLMProvider
	timeout     time.Duration
	logger      logger.ILogger
}

func NewGenerator(llmProvider llm.LLMProvider, timeout time.Duration, log logger.ILogger) *Generator {
	return &Generator{
		llmProvider: llmProvider,
		timeout:     timeout,
		logger:      log,
	}
}

// SendChatMessage makes exactly one provider call. Provider failures come back
// as *llm.ServiceError; malformed replies degrade instead of failing.
func (g *Generator) SendChatMessage(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	system := prompt.NewBuilder(prompt.Context{
		Mode:            req.Mode,
		AnchorReference: req.AnchorReference,
		AnchorText:      req.AnchorText,
		Passages:        req.Passages,
	}).Build()

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: "user", Content: req.Question})

	completion, err := g.llmProvider.Chat(ctx, messages, llm.WithJSON(), llm.WithTemperature(0.3))
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	parsed, ok := ParseReply(completion.Content)
	if !ok {
		g.logger.Warn("GENERATION", "Unstructured reply, using raw text", map[string]interface{}{
			"length": len(completion.Content),
		})
	}

	result := &ChatResult{
		ModelResponse: parsed,
		TokensIn:      completion.TokensIn,
		TokensOut:     completion.TokensOut,
		ModelUsed:     completion.Model,
	}
	if result.TokensIn == 0 {
		result.TokensIn = window.EstimateTokens(messages)
	}
	if result.TokensOut == 0 {
		result.TokensOut = window.EstimateText(completion.Content)
	}

	g.logger.Info("GENERATION", "Completion received", map[string]interface{}{
		"model":         result.ModelUsed,
		"response_type": string(result.ResponseType),
		"citations":     len(result.Citations),
		"tokens_in":     result.TokensIn,
		"tokens_out":    result.TokensOut,
	})
	return result, nil
}

type replyCitation struct {
	BookId     int  `json:"book_id"`
	Chapter    int  `json:"chapter"`
	VerseStart int  `json:"verse_start"`
	VerseEnd   *int `json:"verse_end"`
}

type reply struct {
	Content            string          `json:"content"`
	ResponseType       string          `json:"response_type"`
	Citations          []replyCitation `json:"citations"`
	UncertaintyLevel   string          `json:"uncertainty_level"`
	SuggestedFollowUps []string        `json:"suggested_follow_ups"`
}

// ParseReply decodes the JSON contract. A reply that is not a JSON object with
// content degrades to an answer of medium uncertainty carrying the raw text.
func ParseReply(raw string) (entity.ModelResponse, bool) {
	body := extractObject(raw)

	var r reply
	if body == "" || json.Unmarshal([]byte(body), &r) != nil || strings.TrimSpace(r.Content) == "" {
		return entity.ModelResponse{
			Content:          strings.TrimSpace(raw),
			ResponseType:     entity.ResponseTypeAnswer,
			UncertaintyLevel: entity.UncertaintyMedium,
		}, false
	}

	resp := entity.ModelResponse{
		Content:          strings.TrimSpace(r.Content),
		ResponseType:     entity.ParseResponseType(r.ResponseType),
		UncertaintyLevel: entity.ParseUncertaintyLevel(r.UncertaintyLevel),
	}
	for _, c := range r.Citations {
		resp.Citations = append(resp.Citations, entity.Citation{PassageReference: entity.PassageReference{
			BookId:     c.BookId,
			Chapter:    c.Chapter,
			VerseStart: c.VerseStart,
			VerseEnd:   c.VerseEnd,
		}})
	}
	for _, f := range r.SuggestedFollowUps {
		if f = strings.TrimSpace(f); f != "" {
			resp.SuggestedFollowUps = append(resp.SuggestedFollowUps, f)
		}
	}
	return resp, true
}

// extractObject strips code fences and surrounding prose around a JSON object.
func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
