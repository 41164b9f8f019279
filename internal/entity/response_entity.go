package entity

import (
	"time"

	"github.com/google/uuid"
)

// ModelResponse is the structured part of an assistant reply as it moves
// through citation validation and output screening.
type ModelResponse struct {
	Content            string
	ResponseType       ResponseType
	Citations          []Citation
	UncertaintyLevel   UncertaintyLevel
	SuggestedFollowUps []string
}

func NewAssistantMessage(r ModelResponse, now time.Time) Message {
	msg := Message{
		Id:                 uuid.New(),
		Role:               MessageRoleAssistant,
		Content:            r.Content,
		ResponseType:       ResponseTypePtr(r.ResponseType),
		Citations:          r.Citations,
		SuggestedFollowUps: r.SuggestedFollowUps,
		CreatedAt:          now,
	}
	if r.UncertaintyLevel != "" {
		msg.UncertaintyLevel = UncertaintyPtr(r.UncertaintyLevel)
	}
	return msg
}
