package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/internal/repository/contract"
	"biblestudy-be/pkg/events"
	"biblestudy-be/pkg/llm"
	"biblestudy-be/pkg/rag/budget"
	"biblestudy-be/pkg/rag/citation"
	"biblestudy-be/pkg/rag/grounding"
	"biblestudy-be/pkg/rag/response"
	"biblestudy-be/pkg/rag/safety"
	"biblestudy-be/pkg/rag/window"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const persistTimeout = 10 * time.Second

// CompletionProvider makes the single model call of a request.
type CompletionProvider interface {
	SendChatMessage(ctx context.Context, req response.ChatRequest) (*response.ChatResult, error)
}

type Summarizer interface {
	GenerateConversationSummary(ctx context.Context, history []entity.Message) (*llm.Completion, error)
}

type Dependencies struct {
	Gate       *safety.Gate
	Window     *window.Engine
	Summarizer Summarizer
	Budget     *budget.Tracker
	Retriever  *grounding.Retriever
	Validator  *citation.Validator
	Completion CompletionProvider
	Threads    contract.ThreadRepository
	Events     events.ConversationPublisher
}

// PipelineExecutor runs one guarded request per thread at a time:
// validate -> moderate -> build context + retrieve -> complete -> validate
// citations -> moderate output -> persist.
type PipelineExecutor struct {
	deps   Dependencies
	locks  *threadLocks
	tracer trace.Tracer
	now    func() time.Time
	logger logger.ILogger
}

func NewPipelineExecutor(deps Dependencies, log logger.ILogger) *PipelineExecutor {
	if deps.Events == nil {
		deps.Events = events.NoopConversationPublisher{}
	}
	return &PipelineExecutor{
		deps:   deps,
		locks:  newThreadLocks(),
		tracer: otel.Tracer("biblestudy-be/pipeline"),
		now:    time.Now,
		logger: log,
	}
}

// SendMessage submits text to an existing thread, or starts a new one when
// threadId is nil. anchor is only used for new threads.
//
// On error the returned thread is the caller's view to keep showing: nil when
// nothing changed, or the updated thread when the user message was recorded.
func (p *PipelineExecutor) SendMessage(ctx context.Context, userId uuid.UUID, threadId *uuid.UUID, text string, anchor *entity.PassageReference) (*entity.Thread, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &PipelineError{Kind: KindInputInvalid, Err: ErrEmptyInput}
	}

	if threadId == nil {
		thread := entity.NewThread(userId, anchor, p.now())
		release, err := p.locks.acquire(ctx, thread.Id)
		if err != nil {
			return nil, &PipelineError{Kind: KindThreadBusy, Input: text, Err: err}
		}
		defer release()
		return p.run(ctx, thread, nil, text)
	}

	release, err := p.locks.acquire(ctx, *threadId)
	if err != nil {
		return nil, &PipelineError{Kind: KindThreadBusy, Input: text, Err: err}
	}
	defer release()

	thread, err := p.deps.Threads.FindByID(ctx, *threadId, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}
	return p.run(ctx, thread, thread.Clone(), text)
}

// RetryLastMessage drops everything from the last user message on and sends
// that text again through every check.
func (p *PipelineExecutor) RetryLastMessage(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*entity.Thread, error) {
	release, err := p.locks.acquire(ctx, threadId)
	if err != nil {
		return nil, &PipelineError{Kind: KindThreadBusy, Err: err}
	}
	defer release()

	thread, err := p.deps.Threads.FindByID(ctx, threadId, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}

	idx := thread.LastUserIndex()
	if idx < 0 {
		return thread, &PipelineError{Kind: KindInputInvalid, Err: ErrNothingToRetry}
	}

	original := thread.Clone()
	text := thread.Messages[idx].Content
	thread.Messages = thread.Messages[:idx]

	p.logger.Info("PIPELINE", "Retrying last message", map[string]interface{}{
		"thread_id": threadId.String(),
		"dropped":   len(original.Messages) - idx,
	})
	return p.run(ctx, thread, original, text)
}

// CancelThread stops the run in flight on a thread at its next stage boundary.
func (p *PipelineExecutor) CancelThread(threadId uuid.UUID) bool {
	cancelled := p.locks.cancel(threadId)
	if cancelled {
		p.logger.Info("PIPELINE", "Cancellation requested", map[string]interface{}{
			"thread_id": threadId.String(),
		})
	}
	return cancelled
}

// run is entered with the thread lock held. original is the stored state to
// hand back when the request aborts without side effects.
func (p *PipelineExecutor) run(ctx context.Context, thread *entity.Thread, original *entity.Thread, text string) (*entity.Thread, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.locks.setCancel(thread.Id, cancel)

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("thread.id", thread.Id.String()),
		attribute.String("thread.mode", string(thread.Mode)),
	))
	defer span.End()

	userId := thread.UserId

	// Validating
	check := runStage(ctx, p.tracer, "pipeline.validate_input", func(ctx context.Context) safety.InputCheck {
		return p.deps.Gate.ValidateInput(ctx, userId, text)
	})
	if perr := inputError(check, text); perr != nil {
		span.SetAttributes(attribute.String("pipeline.outcome", string(perr.Kind)))
		return original, perr
	}

	// Moderating
	screening := runStage(ctx, p.tracer, "pipeline.screen_input", func(ctx context.Context) safety.Screening {
		return p.deps.Gate.ScreenInput(ctx, text)
	})
	now := p.now()
	if screening.SelfHarmFlagged {
		span.SetAttributes(attribute.String("pipeline.outcome", "crisis_support"))
		return p.crisisSupport(ctx, thread, text, now)
	}
	if screening.Flagged {
		span.SetAttributes(attribute.String("pipeline.outcome", "refused"))
		return p.refuse(ctx, thread, text, screening.Categories, now)
	}

	// BuildingContext
	prior := thread.Messages
	thread.Append(entity.NewUserMessage(text, now))
	userIdx := len(thread.Messages) - 1

	win := p.deps.Window.WindowConversation(prior, thread.Summary)
	needsSummary := p.deps.Summarizer != nil && p.deps.Window.NeedsSummarization(len(thread.Messages), thread.Summary)
	estimated := win.EstimatedTokens + window.EstimateMessage(llm.Message{Role: "user", Content: text})
	var summarySource []entity.Message
	if needsSummary {
		summarySource = p.deps.Window.SummarySource(prior)
		estimated += window.EstimateTokens(toLLMMessages(summarySource))
	}

	if err := p.deps.Budget.ValidateRequest(ctx, userId, estimated); err != nil {
		var exceeded *budget.ExceededError
		if errors.As(err, &exceeded) {
			p.deps.Events.PublishBudgetExceeded(ctx, userId, exceeded.Used, exceeded.Requested, exceeded.Ceiling)
		}
		span.SetAttributes(attribute.String("pipeline.outcome", string(KindBudgetExceeded)))
		return original, &PipelineError{Kind: KindBudgetExceeded, Input: text, Err: err}
	}

	// Retrieval runs alongside summarization; the request waits for both.
	var (
		passages   []entity.RetrievedPassage
		anchorText string
		summary    *llm.Completion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sctx, sspan := p.tracer.Start(gctx, "pipeline.retrieve")
		defer sspan.End()
		if thread.AnchorReference != nil {
			anchorText = p.deps.Retriever.AnchorText(sctx, thread.AnchorReference)
		}
		passages = p.deps.Retriever.Retrieve(sctx, text, p.scopeFor(thread))
		sspan.SetAttributes(attribute.Int("passages", len(passages)))
		return nil
	})
	if needsSummary {
		g.Go(func() error {
			sctx, sspan := p.tracer.Start(gctx, "pipeline.summarize")
			defer sspan.End()
			out, err := p.deps.Summarizer.GenerateConversationSummary(sctx, summarySource)
			if err != nil {
				sspan.RecordError(err)
				sspan.SetStatus(codes.Error, "summarization failed")
				return err
			}
			summary = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return p.fail(ctx, thread, userIdx, text, KindSummarizationFailure, err)
	}

	tokensIn, tokensOut := 0, 0
	if summary != nil {
		thread.Summary = &entity.ConversationSummary{
			Text:         summary.Content,
			MessageCount: len(thread.Messages),
			CreatedAt:    p.now(),
		}
		tokensIn, tokensOut = summary.TokensIn, summary.TokensOut
		win = p.deps.Window.WindowConversation(prior, thread.Summary)
	}

	if err := ctx.Err(); err != nil {
		return p.fail(ctx, thread, userIdx, text, KindCancelled, err)
	}

	// Calling
	cctx, cspan := p.tracer.Start(ctx, "pipeline.complete")
	result, err := p.deps.Completion.SendChatMessage(cctx, response.ChatRequest{
		Question:        text,
		History:         win.Messages,
		Mode:            thread.Mode,
		AnchorReference: thread.AnchorReference,
		AnchorText:      anchorText,
		Passages:        passages,
	})
	if err != nil {
		cspan.RecordError(err)
		cspan.SetStatus(codes.Error, "completion failed")
		cspan.End()
		return p.fail(ctx, thread, userIdx, text, KindCompletionFailure, err)
	}
	cspan.SetAttributes(
		attribute.String("llm.model", result.ModelUsed),
		attribute.Int("llm.tokens_in", result.TokensIn),
		attribute.Int("llm.tokens_out", result.TokensOut),
	)
	cspan.End()

	tokensIn += result.TokensIn
	tokensOut += result.TokensOut
	if err := p.deps.Budget.RecordUsage(context.WithoutCancel(ctx), userId, tokensIn, tokensOut); err != nil {
		p.logger.Warn("BUDGET", "Failed to record usage", map[string]interface{}{
			"user_id": userId.String(),
			"error":   err,
		})
	}

	// ValidatingOutput, ModeratingOutput. The answer is stored even after a
	// cancel, so output moderation ignores it and is bounded by its own timeout.
	resp, report := p.deps.Validator.ValidateOutput(result.ModelResponse)
	out := runStage(context.WithoutCancel(ctx), p.tracer, "pipeline.screen_output", func(ctx context.Context) outputStage {
		r, s := p.deps.Gate.ScreenOutput(ctx, resp)
		return outputStage{resp: r, screening: s}
	})
	resp, outScreening := out.resp, out.screening

	thread.Append(entity.NewAssistantMessage(resp, p.now()))

	p.logger.Info("PIPELINE", "Answer ready", map[string]interface{}{
		"thread_id":          thread.Id.String(),
		"response_type":      string(resp.ResponseType),
		"citations":          len(resp.Citations),
		"citations_removed":  report.Removed,
		"passages":           len(passages),
		"window_dropped":     win.Dropped,
		"output_replaced":    outScreening.Replaced,
		"moderation_skipped": outScreening.Degraded,
	})

	// Persisted
	if err := p.persist(ctx, thread); err != nil {
		span.SetAttributes(attribute.String("pipeline.outcome", string(KindPersistenceFailure)))
		return thread, &PipelineError{Kind: KindPersistenceFailure, Err: err}
	}

	p.deps.Events.PublishAnswered(ctx, userId, thread.Id, string(resp.ResponseType), len(resp.Citations), tokensIn, tokensOut, result.ModelUsed)
	span.SetAttributes(attribute.String("pipeline.outcome", "answered"))
	return thread, nil
}

type outputStage struct {
	resp      entity.ModelResponse
	screening safety.OutputScreening
}

// runStage wraps a synchronous step in its own span.
func runStage[T any](ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) T) T {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()
	return fn(ctx)
}

func inputError(check safety.InputCheck, text string) *PipelineError {
	switch check.Verdict {
	case safety.VerdictValid:
		return nil
	case safety.VerdictTooShort:
		return &PipelineError{Kind: KindInputInvalid, Input: text, Err: ErrTooShort}
	case safety.VerdictTooLong:
		return &PipelineError{Kind: KindInputInvalid, Input: text, Err: ErrTooLong}
	case safety.VerdictRateLimited:
		return &PipelineError{Kind: KindRateLimited, Input: text, Err: ErrRateLimited}
	case safety.VerdictBlocked:
		return &PipelineError{Kind: KindBlocked, Input: text, Until: check.BlockedUntil, Err: ErrBlocked}
	default:
		return &PipelineError{Kind: KindInputInvalid, Input: text, Err: fmt.Errorf("unknown verdict %q", check.Verdict)}
	}
}

// crisisSupport records the message and answers with the fixed support text.
// The completion provider is never involved.
func (p *PipelineExecutor) crisisSupport(ctx context.Context, thread *entity.Thread, text string, now time.Time) (*entity.Thread, error) {
	thread.Append(entity.NewUserMessage(text, now))
	thread.Append(entity.NewAssistantMessage(entity.ModelResponse{
		Content:            safety.CrisisSupportMessage,
		ResponseType:       entity.ResponseTypeCrisisSupport,
		SuggestedFollowUps: safety.CrisisFollowUps(),
	}, now))

	p.logger.Warn("PIPELINE", "Crisis support returned", map[string]interface{}{
		"thread_id": thread.Id.String(),
		"user_id":   thread.UserId.String(),
	})
	p.deps.Events.PublishCrisisSupport(ctx, thread.UserId, thread.Id)

	if err := p.persist(ctx, thread); err != nil {
		return thread, &PipelineError{Kind: KindPersistenceFailure, Err: err}
	}
	return thread, nil
}

// refuse counts a violation and answers with the fixed refusal text.
func (p *PipelineExecutor) refuse(ctx context.Context, thread *entity.Thread, text string, categories []string, now time.Time) (*entity.Thread, error) {
	violations := 0
	if tracker := p.deps.Gate.Tracker(); tracker != nil {
		state, err := tracker.RecordViolation(ctx, thread.UserId)
		if err != nil {
			p.logger.Warn("SAFETY", "Failed to record violation", map[string]interface{}{
				"user_id": thread.UserId.String(),
				"error":   err,
			})
		} else {
			violations = state.Count
			if state.BlockedUntil != nil {
				p.deps.Events.PublishUserBlocked(ctx, thread.UserId, *state.BlockedUntil)
			}
		}
	}

	thread.Append(entity.NewUserMessage(text, now))
	thread.Append(entity.NewAssistantMessage(entity.ModelResponse{
		Content:      safety.RefusalMessage,
		ResponseType: entity.ResponseTypeRefusal,
	}, now))
	p.deps.Events.PublishRefused(ctx, thread.UserId, thread.Id, categories, violations)

	if err := p.persist(ctx, thread); err != nil {
		return thread, &PipelineError{Kind: KindPersistenceFailure, Err: err}
	}
	return thread, nil
}

// fail marks the recorded user message failed and stores the thread so the
// failure stays visible. Cancellation wins over the stage's own kind.
func (p *PipelineExecutor) fail(ctx context.Context, thread *entity.Thread, userIdx int, text string, kind Kind, cause error) (*entity.Thread, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		kind = KindCancelled
	}
	thread.Messages[userIdx].Status = entity.MessageStatusFailed

	p.logger.Error("PIPELINE", "Request failed", map[string]interface{}{
		"thread_id": thread.Id.String(),
		"kind":      string(kind),
		"error":     cause,
	})
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(cause)
		span.SetStatus(codes.Error, string(kind))
	}

	if err := p.persist(ctx, thread); err != nil {
		p.logger.Warn("PIPELINE", "Failed to store failed request", map[string]interface{}{
			"thread_id": thread.Id.String(),
			"error":     err,
		})
	}
	return thread, &PipelineError{Kind: kind, Input: text, Err: cause}
}

// persist outlives cancellation of the request so a received answer or a
// failure mark is not lost.
func (p *PipelineExecutor) persist(ctx context.Context, thread *entity.Thread) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	if err := p.deps.Threads.Save(ctx, thread); err != nil {
		span.RecordError(err)
		p.logger.Error("PIPELINE", "Failed to persist thread", map[string]interface{}{
			"thread_id": thread.Id.String(),
			"error":     err,
		})
		return err
	}
	return nil
}

// scopeFor narrows passage-mode retrieval to the anchor's book.
func (p *PipelineExecutor) scopeFor(thread *entity.Thread) *grounding.Scope {
	if thread.Mode != entity.ThreadModePassage || thread.AnchorReference == nil {
		return nil
	}
	return &grounding.Scope{BookIds: []int{thread.AnchorReference.BookId}}
}

func toLLMMessages(msgs []entity.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
