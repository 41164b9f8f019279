package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"biblestudy-be/internal/dto"
	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/internal/repository/contract"
	"biblestudy-be/pkg/rag/executor"

	"github.com/google/uuid"
)

const threadTitleLength = 60

type IChatbotService interface {
	// SendMessage and RetryLastMessage may return a thread together with an
	// error when the failed request still changed the thread.
	SendMessage(ctx context.Context, userId uuid.UUID, request *dto.SendMessageRequest) (*dto.ThreadResponse, error)
	RetryLastMessage(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*dto.ThreadResponse, error)
	FetchAllThreads(ctx context.Context, userId uuid.UUID) ([]*dto.ThreadListItem, error)
	GetThread(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*dto.ThreadResponse, error)
	DeleteThread(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) error
	CancelThread(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*dto.CancelThreadResponse, error)
	GetStatus(ctx context.Context, userId uuid.UUID) (*dto.GuardStatusResponse, error)
}

type chatbotService struct {
	pipeline *executor.PipelineExecutor
	threads  contract.ThreadRepository
	logger   logger.ILogger
}

func NewChatbotService(pipeline *executor.PipelineExecutor, threads contract.ThreadRepository, log logger.ILogger) IChatbotService {
	return &chatbotService{
		pipeline: pipeline,
		threads:  threads,
		logger:   log,
	}
}

func (cs *chatbotService) SendMessage(ctx context.Context, userId uuid.UUID, request *dto.SendMessageRequest) (*dto.ThreadResponse, error) {
	var anchor *entity.PassageReference
	if request.Anchor != nil && request.ThreadId == nil {
		anchor = &entity.PassageReference{
			BookId:     request.Anchor.BookId,
			Chapter:    request.Anchor.Chapter,
			VerseStart: request.Anchor.VerseStart,
			VerseEnd:   request.Anchor.VerseEnd,
		}
	}

	thread, err := cs.pipeline.SendMessage(ctx, userId, request.ThreadId, request.Message, anchor)
	return toThreadResponse(thread), err
}

func (cs *chatbotService) RetryLastMessage(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*dto.ThreadResponse, error) {
	thread, err := cs.pipeline.RetryLastMessage(ctx, userId, threadId)
	return toThreadResponse(thread), err
}

func (cs *chatbotService) GetStatus(ctx context.Context, userId uuid.UUID) (*dto.GuardStatusResponse, error) {
	status, err := cs.pipeline.UserStatus(ctx, userId)
	if err != nil {
		return nil, err
	}
	return &dto.GuardStatusResponse{
		Violations:   status.Violations,
		BlockedUntil: status.BlockedUntil,
		TokensUsed:   status.Budget.Used,
		TokenCeiling: status.Budget.Ceiling,
		ResetsAt:     status.Budget.ResetAfter,
	}, nil
}

func (cs *chatbotService) FetchAllThreads(ctx context.Context, userId uuid.UUID) ([]*dto.ThreadListItem, error) {
	threads, err := cs.threads.FetchAll(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch threads: %w", err)
	}

	res := make([]*dto.ThreadListItem, 0, len(threads))
	for _, t := range threads {
		res = append(res, &dto.ThreadListItem{
			Id:           t.Id,
			Title:        threadTitle(t),
			Mode:         string(t.Mode),
			MessageCount: len(t.Messages),
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
		})
	}
	return res, nil
}

func (cs *chatbotService) GetThread(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*dto.ThreadResponse, error) {
	thread, err := cs.threads.FindByID(ctx, threadId, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	if thread == nil {
		return nil, executor.ErrThreadNotFound
	}
	return toThreadResponse(thread), nil
}

func (cs *chatbotService) DeleteThread(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) error {
	thread, err := cs.threads.FindByID(ctx, threadId, userId)
	if err != nil {
		return fmt.Errorf("failed to load thread: %w", err)
	}
	if thread == nil {
		return executor.ErrThreadNotFound
	}

	cs.pipeline.CancelThread(threadId)
	if err := cs.threads.Delete(ctx, threadId, userId); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	cs.logger.Info("CHATBOT", "Thread deleted", map[string]interface{}{
		"thread_id": threadId.String(),
		"user_id":   userId.String(),
	})
	return nil
}

func (cs *chatbotService) CancelThread(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*dto.CancelThreadResponse, error) {
	thread, err := cs.threads.FindByID(ctx, threadId, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	if thread == nil {
		return nil, executor.ErrThreadNotFound
	}
	return &dto.CancelThreadResponse{Cancelled: cs.pipeline.CancelThread(threadId)}, nil
}

func threadTitle(t *entity.Thread) string {
	for _, m := range t.Messages {
		if m.Role != entity.MessageRoleUser {
			continue
		}
		title := strings.TrimSpace(m.Content)
		if utf8.RuneCountInString(title) > threadTitleLength {
			title = string([]rune(title)[:threadTitleLength]) + "..."
		}
		return title
	}
	if t.AnchorReference != nil {
		return "Passage " + t.AnchorReference.String()
	}
	return "New conversation"
}

func toThreadResponse(t *entity.Thread) *dto.ThreadResponse {
	if t == nil {
		return nil
	}
	res := &dto.ThreadResponse{
		Id:         t.Id,
		Mode:       string(t.Mode),
		Messages:   make([]dto.MessageDTO, 0, len(t.Messages)),
		HasSummary: t.Summary != nil,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
	if t.AnchorReference != nil {
		res.Anchor = &dto.PassageReferenceDTO{
			BookId:     t.AnchorReference.BookId,
			Chapter:    t.AnchorReference.Chapter,
			VerseStart: t.AnchorReference.VerseStart,
			VerseEnd:   t.AnchorReference.VerseEnd,
		}
	}
	for _, m := range t.Messages {
		res.Messages = append(res.Messages, toMessageDTO(m))
	}
	return res
}

func toMessageDTO(m entity.Message) dto.MessageDTO {
	out := dto.MessageDTO{
		Id:                 m.Id,
		Role:               string(m.Role),
		Content:            m.Content,
		SuggestedFollowUps: m.SuggestedFollowUps,
		Failed:             m.Status == entity.MessageStatusFailed,
		CreatedAt:          m.CreatedAt,
	}
	if m.ResponseType != nil {
		rt := string(*m.ResponseType)
		out.ResponseType = &rt
	}
	if m.UncertaintyLevel != nil {
		ul := string(*m.UncertaintyLevel)
		out.UncertaintyLevel = &ul
	}
	for _, c := range m.Citations {
		out.Citations = append(out.Citations, dto.CitationDTO{
			BookId:     c.BookId,
			Chapter:    c.Chapter,
			VerseStart: c.VerseStart,
			VerseEnd:   c.VerseEnd,
			Reference:  c.String(),
		})
	}
	return out
}
