package entity

import (
	"time"

	"github.com/google/uuid"
)

type ThreadMode string

const (
	ThreadModeGeneral ThreadMode = "general"
	ThreadModePassage ThreadMode = "passage"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MessageStatus marks a user message whose request did not complete.
type MessageStatus string

const (
	MessageStatusOk     MessageStatus = ""
	MessageStatusFailed MessageStatus = "failed"
)

type Thread struct {
	Id              uuid.UUID
	UserId          uuid.UUID
	Mode            ThreadMode
	AnchorReference *PassageReference
	Messages        []Message
	Summary         *ConversationSummary
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Message struct {
	Id                 uuid.UUID
	Role               MessageRole
	Content            string
	ResponseType       *ResponseType
	Citations          []Citation
	UncertaintyLevel   *UncertaintyLevel
	SuggestedFollowUps []string
	Status             MessageStatus
	CreatedAt          time.Time
}

// ConversationSummary condenses the first MessageCount messages of a thread.
type ConversationSummary struct {
	Text         string
	MessageCount int
	CreatedAt    time.Time
}

// NewThread returns an empty thread. Mode defaults to general when no anchor is given.
func NewThread(userId uuid.UUID, anchor *PassageReference, now time.Time) *Thread {
	mode := ThreadModeGeneral
	if anchor != nil {
		mode = ThreadModePassage
	}
	return &Thread{
		Id:              uuid.New(),
		UserId:          userId,
		Mode:            mode,
		AnchorReference: anchor,
		Messages:        []Message{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (t *Thread) Append(msg Message) {
	t.Messages = append(t.Messages, msg)
	if msg.CreatedAt.After(t.UpdatedAt) {
		t.UpdatedAt = msg.CreatedAt
	}
}

// LastUserIndex returns the index of the most recent user message, or -1.
func (t *Thread) LastUserIndex() int {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == MessageRoleUser {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy used to restore a thread after an aborted request.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	c := *t
	c.Messages = make([]Message, len(t.Messages))
	for i, m := range t.Messages {
		c.Messages[i] = m.clone()
	}
	if t.AnchorReference != nil {
		ref := *t.AnchorReference
		c.AnchorReference = &ref
	}
	if t.Summary != nil {
		s := *t.Summary
		c.Summary = &s
	}
	return &c
}

func (m Message) clone() Message {
	c := m
	if m.ResponseType != nil {
		rt := *m.ResponseType
		c.ResponseType = &rt
	}
	if m.UncertaintyLevel != nil {
		ul := *m.UncertaintyLevel
		c.UncertaintyLevel = &ul
	}
	if m.Citations != nil {
		c.Citations = append([]Citation(nil), m.Citations...)
	}
	if m.SuggestedFollowUps != nil {
		c.SuggestedFollowUps = append([]string(nil), m.SuggestedFollowUps...)
	}
	return c
}

func NewUserMessage(content string, now time.Time) Message {
	return Message{
		Id:        uuid.New(),
		Role:      MessageRoleUser,
		Content:   content,
		CreatedAt: now,
	}
}
