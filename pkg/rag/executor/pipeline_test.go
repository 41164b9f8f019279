package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/internal/repository/contract"
	"biblestudy-be/internal/repository/memory"
	"biblestudy-be/pkg/llm"
	"biblestudy-be/pkg/moderation"
	"biblestudy-be/pkg/rag/budget"
	"biblestudy-be/pkg/rag/citation"
	"biblestudy-be/pkg/rag/grounding"
	"biblestudy-be/pkg/rag/response"
	"biblestudy-be/pkg/rag/safety"
	"biblestudy-be/pkg/rag/window"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModerator struct {
	calls atomic.Int32
	fn    func(text string) *moderation.Result
}

func (m *fakeModerator) Moderate(ctx context.Context, text string) (*moderation.Result, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.fn == nil {
		return &moderation.Result{}, nil
	}
	return m.fn(text), nil
}

type fakeCompletion struct {
	calls   atomic.Int32
	mu      sync.Mutex
	last    response.ChatRequest
	result  *response.ChatResult
	err     error
	started chan struct{}
	release chan struct{}
	// onReturn runs after the model has answered, before the result is handed back.
	onReturn func()
}

func (c *fakeCompletion) SendChatMessage(ctx context.Context, req response.ChatRequest) (*response.ChatResult, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.last = req
	result, err := c.result, c.err
	c.mu.Unlock()

	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, llm.NewServiceError("fake", 0, ctx.Err())
		}
	}
	if c.onReturn != nil {
		c.onReturn()
	}
	if err != nil {
		return nil, err
	}
	out := *result
	return &out, nil
}

func (c *fakeCompletion) set(result *response.ChatResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result, c.err = result, err
}

func (c *fakeCompletion) lastRequest() response.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type fakeBackend struct {
	passages []entity.RetrievedPassage
	scope    *grounding.Scope
	mu       sync.Mutex
}

func (b *fakeBackend) Search(ctx context.Context, query, corpusID string, scope *grounding.Scope, limit int) ([]entity.RetrievedPassage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scope = scope
	return b.passages, nil
}

func (b *fakeBackend) Lookup(ctx context.Context, corpusID string, ref entity.PassageReference) (string, error) {
	return "For God so loved the world", nil
}

type fakeSummarizer struct {
	calls atomic.Int32
	err   error
}

func (s *fakeSummarizer) GenerateConversationSummary(ctx context.Context, history []entity.Message) (*llm.Completion, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Content: "They discussed the Gospel of John.", TokensIn: 40, TokensOut: 10}, nil
}

type harness struct {
	exec       *PipelineExecutor
	moderator  *fakeModerator
	completion *fakeCompletion
	backend    *fakeBackend
	summarizer *fakeSummarizer
	threads    contract.ThreadRepository
	violations contract.ViolationStore
	budgets    contract.BudgetStore
	gate       *safety.Gate
}

type harnessConfig struct {
	ceiling          int64
	summaryThreshold int
	threads          contract.ThreadRepository
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	log := logger.NewNopLogger()

	h := &harness{
		moderator: &fakeModerator{},
		completion: &fakeCompletion{result: &response.ChatResult{
			ModelResponse: entity.ModelResponse{
				Content:          "It speaks of God's love.",
				ResponseType:     entity.ResponseTypeAnswer,
				UncertaintyLevel: entity.UncertaintyLow,
			},
			TokensIn:  120,
			TokensOut: 30,
			ModelUsed: "fake-model",
		}},
		backend:    &fakeBackend{},
		summarizer: &fakeSummarizer{},
		threads:    cfg.threads,
		violations: memory.NewViolationStore(),
		budgets:    memory.NewBudgetStore(),
	}

	if h.threads == nil {
		h.threads = memory.NewThreadRepository(0)
	}

	tracker := safety.NewViolationTracker(h.violations, 3, 30*time.Minute, log)
	h.gate = safety.NewGate(safety.Config{MinInputLength: 2, MaxInputLength: 2000}, h.moderator, tracker, log)

	threshold := cfg.summaryThreshold
	if threshold == 0 {
		threshold = 20
	}

	h.exec = NewPipelineExecutor(Dependencies{
		Gate:       h.gate,
		Window:     window.NewEngine(window.Config{SummaryThreshold: threshold, MaxWindowMessages: 10, TokenCeiling: 3000}, log),
		Summarizer: h.summarizer,
		Budget:     budget.NewTracker(h.budgets, cfg.ceiling, log),
		Retriever:  grounding.NewRetriever(h.backend, grounding.Config{Limit: 5, MinQueryLength: 3, CorpusID: "kjv"}, log),
		Validator:  citation.NewValidator(log),
		Completion: h.completion,
		Threads:    h.threads,
	}, log)
	return h
}

func (h *harness) seedThread(t *testing.T, user uuid.UUID, pairs int) *entity.Thread {
	t.Helper()
	thread := entity.NewThread(user, nil, time.Now().Add(-time.Hour))
	for i := 0; i < pairs; i++ {
		thread.Append(entity.NewUserMessage("Tell me about Genesis 1:1", time.Now()))
		thread.Append(entity.NewAssistantMessage(entity.ModelResponse{
			Content:          "In the beginning God created the heaven and the earth.",
			ResponseType:     entity.ResponseTypeAnswer,
			UncertaintyLevel: entity.UncertaintyLow,
		}, time.Now()))
	}
	require.NoError(t, h.threads.Save(context.Background(), thread))
	return thread
}

func dayStart() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func requireKind(t *testing.T, err error, kind Kind) *PipelineError {
	t.Helper()
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, kind, pe.Kind)
	return pe
}

func TestSendMessage_InvalidInputMakesNoRemoteCalls(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	user := uuid.New()

	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "   ", ErrEmptyInput},
		{"too short", "a", ErrTooShort},
		{"too long", strings.Repeat("x", 2001), ErrTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thread, err := h.exec.SendMessage(context.Background(), user, nil, tt.text, nil)
			pe := requireKind(t, err, KindInputInvalid)
			assert.ErrorIs(t, pe, tt.want)
			assert.Nil(t, thread)
		})
	}

	assert.Zero(t, h.moderator.calls.Load())
	assert.Zero(t, h.completion.calls.Load())
	threads, err := h.threads.FetchAll(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestSendMessage_CrisisSupportSkipsCompletion(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.moderator.fn = func(string) *moderation.Result {
		return &moderation.Result{Flagged: true, SelfHarmFlagged: true, Categories: []string{"self-harm"}}
	}
	user := uuid.New()
	text := "I don't want to be here anymore"

	thread, err := h.exec.SendMessage(context.Background(), user, nil, text, nil)
	require.NoError(t, err)

	require.Len(t, thread.Messages, 2)
	assert.Equal(t, entity.MessageRoleUser, thread.Messages[0].Role)
	assert.Equal(t, text, thread.Messages[0].Content)
	assert.Equal(t, entity.MessageRoleAssistant, thread.Messages[1].Role)
	assert.Equal(t, safety.CrisisSupportMessage, thread.Messages[1].Content)
	require.NotNil(t, thread.Messages[1].ResponseType)
	assert.Equal(t, entity.ResponseTypeCrisisSupport, *thread.Messages[1].ResponseType)
	assert.Zero(t, h.completion.calls.Load())

	state, err := h.violations.Get(context.Background(), user)
	require.NoError(t, err)
	assert.Zero(t, state.Count)

	stored, err := h.threads.FindByID(context.Background(), thread.Id, user)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Messages, 2)
}

func TestSendMessage_ViolationReachesBlock(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.moderator.fn = func(text string) *moderation.Result {
		if strings.Contains(text, "hateful") {
			return &moderation.Result{Flagged: true, Categories: []string{"hate"}}
		}
		return &moderation.Result{}
	}
	ctx := context.Background()
	user := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := h.gate.Tracker().RecordViolation(ctx, user)
		require.NoError(t, err)
	}

	before := time.Now()
	thread, err := h.exec.SendMessage(ctx, user, nil, "say something hateful", nil)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, safety.RefusalMessage, thread.Messages[1].Content)
	assert.Equal(t, entity.ResponseTypeRefusal, *thread.Messages[1].ResponseType)

	state, err := h.violations.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Count)
	require.NotNil(t, state.BlockedUntil)
	assert.WithinDuration(t, before.Add(30*time.Minute), *state.BlockedUntil, 5*time.Second)

	moderationCalls := h.moderator.calls.Load()
	next, err := h.exec.SendMessage(ctx, user, &thread.Id, "What does Psalm 23 say?", nil)
	pe := requireKind(t, err, KindBlocked)
	assert.Equal(t, "What does Psalm 23 say?", pe.Input)
	require.NotNil(t, pe.Until)
	require.NotNil(t, next)
	assert.Len(t, next.Messages, 2)
	assert.Equal(t, moderationCalls, h.moderator.calls.Load())
	assert.Zero(t, h.completion.calls.Load())

	category, _ := UserFacing(err)
	assert.Equal(t, CategoryRateLimited, category)
}

func TestSendMessage_GroundedAnswer(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.backend.passages = []entity.RetrievedPassage{
		{Reference: entity.PassageReference{BookId: 43, Chapter: 3, VerseStart: 16}, Text: "For God so loved the world"},
		{Reference: entity.PassageReference{BookId: 43, Chapter: 3, VerseStart: 17}, Text: "For God sent not his Son"},
		{Reference: entity.PassageReference{BookId: 62, Chapter: 4, VerseStart: 9}, Text: "In this was manifested the love of God"},
	}
	h.completion.set(&response.ChatResult{
		ModelResponse: entity.ModelResponse{
			Content:          "John 3:16 describes the depth of God's love for the world.",
			ResponseType:     entity.ResponseTypeAnswer,
			Citations:        []entity.Citation{{PassageReference: entity.PassageReference{BookId: 43, Chapter: 3, VerseStart: 16}}},
			UncertaintyLevel: entity.UncertaintyLow,
		},
		TokensIn:  200,
		TokensOut: 50,
		ModelUsed: "fake-model",
	}, nil)
	user := uuid.New()

	thread, err := h.exec.SendMessage(context.Background(), user, nil, "What does John 3:16 mean?", nil)
	require.NoError(t, err)

	require.Len(t, thread.Messages, 2)
	answer := thread.Messages[1]
	require.NotNil(t, answer.UncertaintyLevel)
	assert.Equal(t, entity.UncertaintyLow, *answer.UncertaintyLevel)
	assert.Len(t, answer.Citations, 1)
	assert.Equal(t, int32(1), h.completion.calls.Load())

	req := h.completion.lastRequest()
	assert.Len(t, req.Passages, 3)
	assert.Equal(t, "What does John 3:16 mean?", req.Question)
	assert.Empty(t, req.History)

	usage, err := h.budgets.Usage(context.Background(), user, dayStart())
	require.NoError(t, err)
	assert.Equal(t, int64(250), usage.Total())
}

func TestSendMessage_InvalidCitationDowngraded(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.completion.set(&response.ChatResult{
		ModelResponse: entity.ModelResponse{
			Content:          "See the cited verse.",
			ResponseType:     entity.ResponseTypeAnswer,
			Citations:        []entity.Citation{{PassageReference: entity.PassageReference{BookId: 999, Chapter: 1, VerseStart: 1}}},
			UncertaintyLevel: entity.UncertaintyLow,
		},
	}, nil)

	thread, err := h.exec.SendMessage(context.Background(), uuid.New(), nil, "Which verse talks about faith?", nil)
	require.NoError(t, err)

	answer := thread.Messages[1]
	assert.Empty(t, answer.Citations)
	assert.Equal(t, entity.UncertaintyMedium, *answer.UncertaintyLevel)
}

func TestSendMessage_PassageModeScopesRetrieval(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	anchor := &entity.PassageReference{BookId: 43, Chapter: 3, VerseStart: 16}

	thread, err := h.exec.SendMessage(context.Background(), uuid.New(), nil, "What is the context here?", anchor)
	require.NoError(t, err)
	assert.Equal(t, entity.ThreadModePassage, thread.Mode)

	req := h.completion.lastRequest()
	assert.Equal(t, entity.ThreadModePassage, req.Mode)
	assert.Equal(t, "For God so loved the world", req.AnchorText)
	require.NotNil(t, h.backend.scope)
	assert.Equal(t, []int{43}, h.backend.scope.BookIds)
}

func TestSendMessage_BudgetExceededRestoresThread(t *testing.T) {
	h := newHarness(t, harnessConfig{ceiling: 5})
	user := uuid.New()
	seeded := h.seedThread(t, user, 1)

	thread, err := h.exec.SendMessage(context.Background(), user, &seeded.Id, "What does John 3:16 mean?", nil)
	pe := requireKind(t, err, KindBudgetExceeded)
	assert.Equal(t, "What does John 3:16 mean?", pe.Input)

	var exceeded *budget.ExceededError
	assert.ErrorAs(t, err, &exceeded)

	require.NotNil(t, thread)
	assert.Len(t, thread.Messages, 2)
	assert.Zero(t, h.completion.calls.Load())

	stored, findErr := h.threads.FindByID(context.Background(), seeded.Id, user)
	require.NoError(t, findErr)
	assert.Len(t, stored.Messages, 2)

	category, _ := UserFacing(err)
	assert.Equal(t, CategoryBudgetExceeded, category)
}

func TestSendMessage_CompletionFailureThenRetry(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.completion.set(nil, llm.NewServiceError("fake", 0, errors.New("connection refused")))
	ctx := context.Background()
	user := uuid.New()

	thread, err := h.exec.SendMessage(ctx, user, nil, "Who wrote Hebrews?", nil)
	pe := requireKind(t, err, KindCompletionFailure)
	assert.Equal(t, "Who wrote Hebrews?", pe.Input)
	assert.True(t, pe.Retryable())

	category, msg := UserFacing(err)
	assert.Equal(t, CategoryConnection, category)
	assert.NotContains(t, msg, "connection refused")

	require.Len(t, thread.Messages, 1)
	assert.Equal(t, entity.MessageStatusFailed, thread.Messages[0].Status)

	stored, err := h.threads.FindByID(ctx, thread.Id, user)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, entity.MessageStatusFailed, stored.Messages[0].Status)

	usage, err := h.budgets.Usage(ctx, user, dayStart())
	require.NoError(t, err)
	assert.Zero(t, usage.Total())

	h.completion.set(&response.ChatResult{
		ModelResponse: entity.ModelResponse{
			Content:          "Its author is not named in the letter.",
			ResponseType:     entity.ResponseTypeAnswer,
			UncertaintyLevel: entity.UncertaintyHigh,
		},
		TokensIn:  10,
		TokensOut: 5,
	}, nil)

	retried, err := h.exec.RetryLastMessage(ctx, user, thread.Id)
	require.NoError(t, err)
	require.Len(t, retried.Messages, 2)
	assert.Equal(t, "Who wrote Hebrews?", retried.Messages[0].Content)
	assert.Equal(t, entity.MessageStatusOk, retried.Messages[0].Status)
	assert.Equal(t, entity.MessageRoleAssistant, retried.Messages[1].Role)
	assert.Equal(t, int32(2), h.completion.calls.Load())
}

func TestRetryLastMessage_ReplacesAnswer(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	user := uuid.New()
	seeded := h.seedThread(t, user, 2)

	retried, err := h.exec.RetryLastMessage(context.Background(), user, seeded.Id)
	require.NoError(t, err)
	require.Len(t, retried.Messages, 4)
	assert.Equal(t, "It speaks of God's love.", retried.Messages[3].Content)

	req := h.completion.lastRequest()
	assert.Len(t, req.History, 2)
}

func TestRetryLastMessage_Errors(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	user := uuid.New()

	_, err := h.exec.RetryLastMessage(context.Background(), user, uuid.New())
	assert.ErrorIs(t, err, ErrThreadNotFound)

	empty := h.seedThread(t, user, 0)
	_, err = h.exec.RetryLastMessage(context.Background(), user, empty.Id)
	pe := requireKind(t, err, KindInputInvalid)
	assert.ErrorIs(t, pe, ErrNothingToRetry)
}

func TestRetryLastMessage_BlockedUserMakesNoCalls(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	user := uuid.New()
	seeded := h.seedThread(t, user, 1)

	for i := 0; i < 3; i++ {
		_, err := h.gate.Tracker().RecordViolation(ctx, user)
		require.NoError(t, err)
	}

	thread, err := h.exec.RetryLastMessage(ctx, user, seeded.Id)
	pe := requireKind(t, err, KindBlocked)
	assert.Equal(t, "Tell me about Genesis 1:1", pe.Input)
	require.NotNil(t, pe.Until)
	assert.Zero(t, h.moderator.calls.Load())
	assert.Zero(t, h.completion.calls.Load())

	require.NotNil(t, thread)
	assert.Len(t, thread.Messages, 2)
	stored, err := h.threads.FindByID(ctx, seeded.Id, user)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
}

func TestRetryLastMessage_BudgetExhaustedKeepsStoredThread(t *testing.T) {
	h := newHarness(t, harnessConfig{ceiling: 100})
	ctx := context.Background()
	user := uuid.New()
	seeded := h.seedThread(t, user, 1)

	_, err := h.budgets.Add(ctx, user, dayStart(), 100, 0)
	require.NoError(t, err)

	thread, err := h.exec.RetryLastMessage(ctx, user, seeded.Id)
	pe := requireKind(t, err, KindBudgetExceeded)
	assert.Equal(t, "Tell me about Genesis 1:1", pe.Input)
	assert.Zero(t, h.completion.calls.Load())

	require.NotNil(t, thread)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, seeded.Messages[1].Id, thread.Messages[1].Id)

	stored, err := h.threads.FindByID(ctx, seeded.Id, user)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, seeded.Messages[1].Id, stored.Messages[1].Id)
	assert.Equal(t, entity.MessageStatusOk, stored.Messages[0].Status)
}

type failingSaveThreads struct {
	contract.ThreadRepository
	saves atomic.Int32
}

func (r *failingSaveThreads) Save(ctx context.Context, thread *entity.Thread) error {
	r.saves.Add(1)
	return errors.New("disk full")
}

func TestSendMessage_PersistenceFailureKeepsAnswer(t *testing.T) {
	threads := &failingSaveThreads{ThreadRepository: memory.NewThreadRepository(0)}
	h := newHarness(t, harnessConfig{threads: threads})
	ctx := context.Background()
	user := uuid.New()

	thread, err := h.exec.SendMessage(ctx, user, nil, "What does John 3:16 mean?", nil)
	requireKind(t, err, KindPersistenceFailure)

	require.NotNil(t, thread)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, entity.MessageRoleAssistant, thread.Messages[1].Role)
	assert.Equal(t, "It speaks of God's love.", thread.Messages[1].Content)
	assert.Equal(t, entity.MessageStatusOk, thread.Messages[0].Status)
	assert.Equal(t, int32(1), threads.saves.Load())

	usage, err := h.budgets.Usage(ctx, user, dayStart())
	require.NoError(t, err)
	assert.Equal(t, int64(150), usage.Total())

	category, _ := UserFacing(err)
	assert.Equal(t, CategoryGeneric, category)
}

func TestSendMessage_CancelAfterCompletionStillScreensOutput(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.moderator.fn = func(text string) *moderation.Result {
		if strings.Contains(text, "graphic violence") {
			return &moderation.Result{Flagged: true, Categories: []string{"violence"}}
		}
		return &moderation.Result{}
	}
	h.completion.set(&response.ChatResult{
		ModelResponse: entity.ModelResponse{
			Content:          "A retelling full of graphic violence.",
			ResponseType:     entity.ResponseTypeAnswer,
			UncertaintyLevel: entity.UncertaintyLow,
		},
		TokensIn:  10,
		TokensOut: 5,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.completion.onReturn = cancel
	user := uuid.New()

	thread, err := h.exec.SendMessage(ctx, user, nil, "Tell me about the flood", nil)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, safety.RephraseMessage, thread.Messages[1].Content)
	require.NotNil(t, thread.Messages[1].ResponseType)
	assert.Equal(t, entity.ResponseTypeClarification, *thread.Messages[1].ResponseType)
	assert.Equal(t, int32(2), h.moderator.calls.Load())

	stored, err := h.threads.FindByID(context.Background(), thread.Id, user)
	require.NoError(t, err)
	require.NotNil(t, stored)
	for _, m := range stored.Messages {
		assert.NotContains(t, m.Content, "graphic violence")
	}
}

func TestUserStatus(t *testing.T) {
	h := newHarness(t, harnessConfig{ceiling: 1000})
	ctx := context.Background()
	user := uuid.New()

	status, err := h.exec.UserStatus(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, status.Violations)
	assert.Nil(t, status.BlockedUntil)
	assert.Equal(t, int64(1000), status.Budget.Ceiling)
	assert.Equal(t, dayStart().Add(24*time.Hour), status.Budget.ResetAfter)

	_, err = h.exec.SendMessage(ctx, user, nil, "What does John 3:16 mean?", nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := h.gate.Tracker().RecordViolation(ctx, user)
		require.NoError(t, err)
	}

	status, err = h.exec.UserStatus(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Violations)
	require.NotNil(t, status.BlockedUntil)
	assert.Equal(t, int64(150), status.Budget.Used)
}

func TestSendMessage_UnknownThread(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := uuid.New()

	_, err := h.exec.SendMessage(context.Background(), uuid.New(), &id, "Hello there", nil)
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestCancelThread_MarksMessageFailed(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.completion.started = make(chan struct{}, 1)
	h.completion.release = make(chan struct{})
	user := uuid.New()
	seeded := h.seedThread(t, user, 0)

	type outcome struct {
		thread *entity.Thread
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		thread, err := h.exec.SendMessage(context.Background(), user, &seeded.Id, "Explain Romans 8:28", nil)
		done <- outcome{thread, err}
	}()

	select {
	case <-h.completion.started:
	case <-time.After(2 * time.Second):
		t.Fatal("completion was not called")
	}
	assert.True(t, h.exec.CancelThread(seeded.Id))

	var got outcome
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}

	pe := requireKind(t, got.err, KindCancelled)
	assert.Equal(t, "Explain Romans 8:28", pe.Input)
	require.Len(t, got.thread.Messages, 1)
	assert.Equal(t, entity.MessageStatusFailed, got.thread.Messages[0].Status)

	stored, err := h.threads.FindByID(context.Background(), seeded.Id, user)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, entity.MessageStatusFailed, stored.Messages[0].Status)

	assert.False(t, h.exec.CancelThread(seeded.Id))
}

func TestSendMessage_SerializesPerThread(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.completion.started = make(chan struct{}, 2)
	h.completion.release = make(chan struct{})
	user := uuid.New()
	seeded := h.seedThread(t, user, 0)

	var wg sync.WaitGroup
	for _, text := range []string{"First question here", "Second question here"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := h.exec.SendMessage(context.Background(), user, &seeded.Id, text, nil)
			assert.NoError(t, err)
		}(text)
	}

	<-h.completion.started
	select {
	case <-h.completion.started:
		t.Fatal("second request reached the provider while the first was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	close(h.completion.release)
	wg.Wait()

	stored, err := h.threads.FindByID(context.Background(), seeded.Id, user)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 4)
	for i, m := range stored.Messages {
		if i%2 == 0 {
			assert.Equal(t, entity.MessageRoleUser, m.Role)
		} else {
			assert.Equal(t, entity.MessageRoleAssistant, m.Role)
		}
	}
}

func TestSendMessage_WaitingCallerGivesUp(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.completion.started = make(chan struct{}, 1)
	h.completion.release = make(chan struct{})
	user := uuid.New()
	seeded := h.seedThread(t, user, 0)

	go func() {
		_, _ = h.exec.SendMessage(context.Background(), user, &seeded.Id, "First question here", nil)
	}()
	<-h.completion.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.exec.SendMessage(ctx, user, &seeded.Id, "Second question here", nil)
	pe := requireKind(t, err, KindThreadBusy)
	assert.Equal(t, "Second question here", pe.Input)

	close(h.completion.release)
}

func TestSendMessage_SummarizesOnThreshold(t *testing.T) {
	h := newHarness(t, harnessConfig{summaryThreshold: 4})
	ctx := context.Background()
	user := uuid.New()
	seeded := h.seedThread(t, user, 1)

	thread, err := h.exec.SendMessage(ctx, user, &seeded.Id, "And what about verse two?", nil)
	require.NoError(t, err)
	assert.Nil(t, thread.Summary)
	assert.Zero(t, h.summarizer.calls.Load())

	thread, err = h.exec.SendMessage(ctx, user, &seeded.Id, "And what about verse three?", nil)
	require.NoError(t, err)
	require.NotNil(t, thread.Summary)
	assert.Equal(t, 5, thread.Summary.MessageCount)
	assert.Equal(t, int32(1), h.summarizer.calls.Load())

	req := h.completion.lastRequest()
	require.NotEmpty(t, req.History)
	assert.Equal(t, "system", req.History[0].Role)
	assert.Contains(t, req.History[0].Content, "They discussed the Gospel of John.")

	_, err = h.exec.SendMessage(ctx, user, &seeded.Id, "One more question please", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.summarizer.calls.Load())
}

func TestSendMessage_SummarizationFailure(t *testing.T) {
	h := newHarness(t, harnessConfig{summaryThreshold: 2})
	h.summarizer.err = llm.NewServiceError("fake", 503, errors.New("unavailable"))
	user := uuid.New()
	seeded := h.seedThread(t, user, 1)

	thread, err := h.exec.SendMessage(context.Background(), user, &seeded.Id, "Tell me more please", nil)
	pe := requireKind(t, err, KindSummarizationFailure)
	assert.Equal(t, "Tell me more please", pe.Input)
	require.Len(t, thread.Messages, 3)
	assert.Equal(t, entity.MessageStatusFailed, thread.Messages[2].Status)
	assert.Zero(t, h.completion.calls.Load())
}

func TestUserFacing(t *testing.T) {
	until := time.Now().Add(20 * time.Minute)
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"rate limited", &PipelineError{Kind: KindRateLimited, Err: ErrRateLimited}, CategoryRateLimited},
		{"blocked", &PipelineError{Kind: KindBlocked, Until: &until, Err: ErrBlocked}, CategoryRateLimited},
		{"budget", &PipelineError{Kind: KindBudgetExceeded, Err: &budget.ExceededError{ResetAfter: until}}, CategoryBudgetExceeded},
		{"timeout", &PipelineError{Kind: KindCompletionFailure, Err: llm.NewServiceError("x", 0, context.DeadlineExceeded)}, CategoryConnection},
		{"bad request", &PipelineError{Kind: KindCompletionFailure, Err: llm.NewServiceError("x", 400, errors.New("bad"))}, CategoryGeneric},
		{"persistence", &PipelineError{Kind: KindPersistenceFailure, Err: errors.New("disk full")}, CategoryGeneric},
		{"plain error", errors.New("boom"), CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := UserFacing(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, msg)
		})
	}
}
