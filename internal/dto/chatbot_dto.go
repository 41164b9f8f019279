package dto

import (
	"time"

	"github.com/google/uuid"
)

type PassageReferenceDTO struct {
	BookId     int  `json:"book_id" validate:"required,min=1,max=66"`
	Chapter    int  `json:"chapter" validate:"required,min=1,max=150"`
	VerseStart int  `json:"verse_start" validate:"required,min=1,max=200"`
	VerseEnd   *int `json:"verse_end,omitempty" validate:"omitempty,min=1,max=200"`
}

type SendMessageRequest struct {
	ThreadId *uuid.UUID           `json:"thread_id,omitempty"`
	Message  string               `json:"message"`
	Anchor   *PassageReferenceDTO `json:"anchor,omitempty"`
}

type CitationDTO struct {
	BookId     int    `json:"book_id"`
	Chapter    int    `json:"chapter"`
	VerseStart int    `json:"verse_start"`
	VerseEnd   *int   `json:"verse_end,omitempty"`
	Reference  string `json:"reference"`
}

type MessageDTO struct {
	Id                 uuid.UUID     `json:"id"`
	Role               string        `json:"role"`
	Content            string        `json:"content"`
	ResponseType       *string       `json:"response_type,omitempty"`
	Citations          []CitationDTO `json:"citations,omitempty"`
	UncertaintyLevel   *string       `json:"uncertainty_level,omitempty"`
	SuggestedFollowUps []string      `json:"suggested_follow_ups,omitempty"`
	Failed             bool          `json:"failed,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

type ThreadResponse struct {
	Id         uuid.UUID            `json:"id"`
	Mode       string               `json:"mode"`
	Anchor     *PassageReferenceDTO `json:"anchor,omitempty"`
	Messages   []MessageDTO         `json:"messages"`
	HasSummary bool                 `json:"has_summary"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

type ThreadListItem struct {
	Id           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Mode         string    `json:"mode"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CancelThreadResponse struct {
	Cancelled bool `json:"cancelled"`
}

type GuardStatusResponse struct {
	Violations   int        `json:"violations"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	TokensUsed   int64      `json:"tokens_used"`
	TokenCeiling int64      `json:"token_ceiling"`
	ResetsAt     time.Time  `json:"resets_at"`
}
