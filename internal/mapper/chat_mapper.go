package mapper

import (
	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/model"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Thread Mappers

func (m *ChatMapper) ThreadToEntity(t *model.Thread) *entity.Thread {
	if t == nil {
		return nil
	}

	var anchor *entity.PassageReference
	if t.AnchorBookId != nil && t.AnchorChapter != nil && t.AnchorVerseStart != nil {
		anchor = &entity.PassageReference{
			BookId:     *t.AnchorBookId,
			Chapter:    *t.AnchorChapter,
			VerseStart: *t.AnchorVerseStart,
			VerseEnd:   t.AnchorVerseEnd,
		}
	}

	var summary *entity.ConversationSummary
	if t.SummaryText != nil {
		summary = &entity.ConversationSummary{
			Text:         *t.SummaryText,
			MessageCount: t.SummaryMessageCount,
		}
		if t.SummaryCreatedAt != nil {
			summary.CreatedAt = *t.SummaryCreatedAt
		}
	}

	messages := make([]entity.Message, 0, len(t.Messages))
	for _, md := range t.Messages {
		messages = append(messages, m.MessageToEntity(md))
	}

	return &entity.Thread{
		Id:              t.Id,
		UserId:          t.UserId,
		Mode:            entity.ThreadMode(t.Mode),
		AnchorReference: anchor,
		Messages:        messages,
		Summary:         summary,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (m *ChatMapper) ThreadToModel(t *entity.Thread) *model.Thread {
	if t == nil {
		return nil
	}

	out := &model.Thread{
		Id:        t.Id,
		UserId:    t.UserId,
		Mode:      string(t.Mode),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}

	if a := t.AnchorReference; a != nil {
		book, chapter, verse := a.BookId, a.Chapter, a.VerseStart
		out.AnchorBookId = &book
		out.AnchorChapter = &chapter
		out.AnchorVerseStart = &verse
		out.AnchorVerseEnd = a.VerseEnd
	}

	if s := t.Summary; s != nil {
		text, created := s.Text, s.CreatedAt
		out.SummaryText = &text
		out.SummaryMessageCount = s.MessageCount
		out.SummaryCreatedAt = &created
	}

	out.Messages = make([]model.MessageData, 0, len(t.Messages))
	for _, msg := range t.Messages {
		out.Messages = append(out.Messages, m.MessageToModel(msg))
	}
	return out
}

// Message Mappers

func (m *ChatMapper) MessageToEntity(md model.MessageData) entity.Message {
	msg := entity.Message{
		Id:                 md.Id,
		Role:               entity.MessageRole(md.Role),
		Content:            md.Content,
		SuggestedFollowUps: md.SuggestedFollowUps,
		Status:             entity.MessageStatus(md.Status),
		CreatedAt:          md.CreatedAt,
	}
	if md.ResponseType != "" {
		msg.ResponseType = entity.ResponseTypePtr(entity.ParseResponseType(md.ResponseType))
	}
	if md.UncertaintyLevel != "" {
		msg.UncertaintyLevel = entity.UncertaintyPtr(entity.ParseUncertaintyLevel(md.UncertaintyLevel))
	}
	for _, c := range md.Citations {
		msg.Citations = append(msg.Citations, entity.Citation{PassageReference: entity.PassageReference{
			BookId:     c.BookId,
			Chapter:    c.Chapter,
			VerseStart: c.VerseStart,
			VerseEnd:   c.VerseEnd,
		}})
	}
	return msg
}

func (m *ChatMapper) MessageToModel(msg entity.Message) model.MessageData {
	md := model.MessageData{
		Id:                 msg.Id,
		Role:               string(msg.Role),
		Content:            msg.Content,
		SuggestedFollowUps: msg.SuggestedFollowUps,
		Status:             string(msg.Status),
		CreatedAt:          msg.CreatedAt,
	}
	if msg.ResponseType != nil {
		md.ResponseType = string(*msg.ResponseType)
	}
	if msg.UncertaintyLevel != nil {
		md.UncertaintyLevel = string(*msg.UncertaintyLevel)
	}
	for _, c := range msg.Citations {
		md.Citations = append(md.Citations, model.CitationData{
			BookId:     c.BookId,
			Chapter:    c.Chapter,
			VerseStart: c.VerseStart,
			VerseEnd:   c.VerseEnd,
		})
	}
	return md
}
