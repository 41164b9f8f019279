package handler

import (
	"context"
	"strings"

	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/pkg/events"
	pktNats "biblestudy-be/pkg/nats"
)

const auditDurableName = "conversation-audit"

// ConversationAuditHandler writes conversation outcomes from the event bus to
// the audit log. Safety outcomes are logged at WARN.
type ConversationAuditHandler struct {
	logger logger.ILogger
}

func NewConversationAuditHandler(log logger.ILogger) *ConversationAuditHandler {
	return &ConversationAuditHandler{logger: log}
}

// Register subscribes the handler on the shared events stream.
func (h *ConversationAuditHandler) Register(ctx context.Context, sub *pktNats.Subscriber) error {
	return sub.Subscribe(ctx, pktNats.Subject(">"), auditDurableName, h.Handle)
}

func (h *ConversationAuditHandler) Handle(ctx context.Context, event events.Event) error {
	eventType := event.EventType()
	if !strings.HasPrefix(eventType, "CONVERSATION_") {
		return nil
	}

	details := make(map[string]interface{}, len(event.Payload())+1)
	for k, v := range event.Payload() {
		details[k] = v
	}
	details["event"] = eventType

	switch eventType {
	case events.TypeConversationCrisisSupport, events.TypeConversationUserBlocked, events.TypeConversationRefused:
		h.logger.Warn("AUDIT", "Safety outcome", details)
	case events.TypeConversationBudgetExceeded:
		h.logger.Info("AUDIT", "Budget exceeded", details)
	default:
		h.logger.Debug("AUDIT", "Conversation event", details)
	}
	return nil
}
