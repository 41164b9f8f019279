package events

import (
	"context"
	"time"

	"biblestudy-be/internal/pkg/logger"

	"github.com/google/uuid"
)

const (
	TypeConversationAnswered       = "CONVERSATION_ANSWERED"
	TypeConversationRefused        = "CONVERSATION_REFUSED"
	TypeConversationCrisisSupport  = "CONVERSATION_CRISIS_SUPPORT"
	TypeConversationUserBlocked    = "CONVERSATION_USER_BLOCKED"
	TypeConversationBudgetExceeded = "CONVERSATION_BUDGET_EXCEEDED"
)

// ConversationPublisher emits pipeline outcomes. Publishing is best-effort:
// failures are logged and never reach the caller.
type ConversationPublisher interface {
	PublishAnswered(ctx context.Context, userId, threadId uuid.UUID, responseType string, citations, tokensIn, tokensOut int, model string)
	PublishRefused(ctx context.Context, userId, threadId uuid.UUID, categories []string, violations int)
	PublishCrisisSupport(ctx context.Context, userId, threadId uuid.UUID)
	PublishUserBlocked(ctx context.Context, userId uuid.UUID, blockedUntil time.Time)
	PublishBudgetExceeded(ctx context.Context, userId uuid.UUID, used, requested, ceiling int64)
}

type BusConversationPublisher struct {
	sink   Sink
	logger logger.ILogger
	now    func() time.Time
}

// NewConversationPublisher returns a no-op publisher when sink is nil.
func NewConversationPublisher(sink Sink, log logger.ILogger) ConversationPublisher {
	if sink == nil {
		return NoopConversationPublisher{}
	}
	return &BusConversationPublisher{sink: sink, logger: log, now: time.Now}
}

func (p *BusConversationPublisher) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	now := p.now()
	data["occurred_at"] = now
	evt := BaseEvent{Type: eventType, Data: data, OccurredAt: now}
	if err := p.sink.Publish(ctx, evt); err != nil {
		p.logger.Error("EVENTS", "Failed to publish "+eventType+" event", map[string]interface{}{"error": err})
	}
}

func (p *BusConversationPublisher) PublishAnswered(ctx context.Context, userId, threadId uuid.UUID, responseType string, citations, tokensIn, tokensOut int, model string) {
	p.publish(ctx, TypeConversationAnswered, map[string]interface{}{
		"user_id":       userId,
		"thread_id":     threadId,
		"response_type": responseType,
		"citations":     citations,
		"tokens_in":     tokensIn,
		"tokens_out":    tokensOut,
		"model":         model,
	})
}

func (p *BusConversationPublisher) PublishRefused(ctx context.Context, userId, threadId uuid.UUID, categories []string, violations int) {
	p.publish(ctx, TypeConversationRefused, map[string]interface{}{
		"user_id":    userId,
		"thread_id":  threadId,
		"categories": categories,
		"violations": violations,
	})
}

func (p *BusConversationPublisher) PublishCrisisSupport(ctx context.Context, userId, threadId uuid.UUID) {
	p.publish(ctx, TypeConversationCrisisSupport, map[string]interface{}{
		"user_id":   userId,
		"thread_id": threadId,
	})
}

func (p *BusConversationPublisher) PublishUserBlocked(ctx context.Context, userId uuid.UUID, blockedUntil time.Time) {
	p.publish(ctx, TypeConversationUserBlocked, map[string]interface{}{
		"user_id":       userId,
		"blocked_until": blockedUntil,
	})
}

func (p *BusConversationPublisher) PublishBudgetExceeded(ctx context.Context, userId uuid.UUID, used, requested, ceiling int64) {
	p.publish(ctx, TypeConversationBudgetExceeded, map[string]interface{}{
		"user_id":   userId,
		"used":      used,
		"requested": requested,
		"ceiling":   ceiling,
	})
}

type NoopConversationPublisher struct{}

func (NoopConversationPublisher) PublishAnswered(context.Context, uuid.UUID, uuid.UUID, string, int, int, int, string) {
}
func (NoopConversationPublisher) PublishRefused(context.Context, uuid.UUID, uuid.UUID, []string, int) {}
func (NoopConversationPublisher) PublishCrisisSupport(context.Context, uuid.UUID, uuid.UUID)         {}
func (NoopConversationPublisher) PublishUserBlocked(context.Context, uuid.UUID, time.Time)           {}
func (NoopConversationPublisher) PublishBudgetExceeded(context.Context, uuid.UUID, int64, int64, int64) {
}
