package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"biblestudy-be/internal/dto"
	"biblestudy-be/internal/pkg/serverutils"
	"biblestudy-be/pkg/llm"
	"biblestudy-be/pkg/rag/budget"
	"biblestudy-be/pkg/rag/executor"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChatbotService struct {
	userId   uuid.UUID
	request  *dto.SendMessageRequest
	response *dto.ThreadResponse
	err      error
}

func (s *stubChatbotService) SendMessage(ctx context.Context, userId uuid.UUID, request *dto.SendMessageRequest) (*dto.ThreadResponse, error) {
	s.userId = userId
	s.request = request
	return s.response, s.err
}

func (s *stubChatbotService) RetryLastMessage(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*dto.ThreadResponse, error) {
	s.userId = userId
	return s.response, s.err
}

func (s *stubChatbotService) FetchAllThreads(ctx context.Context, userId uuid.UUID) ([]*dto.ThreadListItem, error) {
	s.userId = userId
	return []*dto.ThreadListItem{{Id: uuid.New(), Title: "What does John 3:16 mean?"}}, s.err
}

func (s *stubChatbotService) GetThread(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*dto.ThreadResponse, error) {
	return s.response, s.err
}

func (s *stubChatbotService) DeleteThread(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) error {
	return s.err
}

func (s *stubChatbotService) CancelThread(ctx context.Context, userId uuid.UUID, threadId uuid.UUID) (*dto.CancelThreadResponse, error) {
	return &dto.CancelThreadResponse{Cancelled: true}, s.err
}

func (s *stubChatbotService) GetStatus(ctx context.Context, userId uuid.UUID) (*dto.GuardStatusResponse, error) {
	s.userId = userId
	if s.err != nil {
		return nil, s.err
	}
	return &dto.GuardStatusResponse{Violations: 1, TokensUsed: 250, TokenCeiling: 1000}, nil
}

type envelope struct {
	Success   bool            `json:"success"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func stubAuth(userId uuid.UUID) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		ctx.Locals("user_id", userId)
		return ctx.Next()
	}
}

func newChatApp(svc *stubChatbotService, userId uuid.UUID) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewChatbotController(svc, stubAuth(userId)).RegisterRoutes(app.Group("/api"))
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestChatbotController_SendMessage(t *testing.T) {
	userId := uuid.New()
	threadId := uuid.New()
	svc := &stubChatbotService{response: &dto.ThreadResponse{Id: threadId, Mode: "general"}}
	app := newChatApp(svc, userId)

	status, env := doJSON(t, app, http.MethodPost, "/api/chat/v1/send", map[string]interface{}{
		"message": "What does John 3:16 mean?",
		"anchor":  map[string]int{"book_id": 43, "chapter": 3, "verse_start": 16},
	})

	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.Equal(t, userId, svc.userId)
	require.NotNil(t, svc.request.Anchor)
	assert.Equal(t, 43, svc.request.Anchor.BookId)

	var thread dto.ThreadResponse
	require.NoError(t, json.Unmarshal(env.Data, &thread))
	assert.Equal(t, threadId, thread.Id)
}

func TestChatbotController_SendMessage_InvalidAnchor(t *testing.T) {
	app := newChatApp(&stubChatbotService{}, uuid.New())

	status, env := doJSON(t, app, http.MethodPost, "/api/chat/v1/send", map[string]interface{}{
		"message": "hello there",
		"anchor":  map[string]int{"book_id": 99, "chapter": 1, "verse_start": 1},
	})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.Success)
	assert.Equal(t, "validation_error", env.ErrorType)
}

func TestChatbotController_PipelineErrors(t *testing.T) {
	threadId := uuid.New()
	tests := []struct {
		name       string
		err        error
		response   *dto.ThreadResponse
		wantStatus int
		wantType   string
		wantThread bool
	}{
		{
			name:       "budget exceeded",
			err:        &executor.PipelineError{Kind: executor.KindBudgetExceeded, Input: "Explain Job 1", Err: &budget.ExceededError{Ceiling: 10}},
			wantStatus: http.StatusTooManyRequests,
			wantType:   "budget_exceeded",
		},
		{
			name:       "rate limited",
			err:        &executor.PipelineError{Kind: executor.KindRateLimited, Input: "Explain Job 1", Err: executor.ErrRateLimited},
			wantStatus: http.StatusTooManyRequests,
			wantType:   "rate_limited",
		},
		{
			name:       "provider unreachable",
			err:        &executor.PipelineError{Kind: executor.KindCompletionFailure, Input: "Explain Job 1", Err: llm.NewServiceError("ollama", 0, errors.New("dial tcp: connection refused"))},
			response:   &dto.ThreadResponse{Id: threadId},
			wantStatus: http.StatusBadGateway,
			wantType:   "connection_error",
			wantThread: true,
		},
		{
			name:       "too short",
			err:        &executor.PipelineError{Kind: executor.KindInputInvalid, Input: "a", Err: executor.ErrTooShort},
			wantStatus: http.StatusBadRequest,
			wantType:   "generic_failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newChatApp(&stubChatbotService{err: tt.err, response: tt.response}, uuid.New())

			status, env := doJSON(t, app, http.MethodPost, "/api/chat/v1/send", map[string]interface{}{
				"message": "Explain Job 1",
			})

			assert.Equal(t, tt.wantStatus, status)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantType, env.ErrorType)
			assert.NotContains(t, env.Message, "connection refused")

			var data map[string]interface{}
			require.NoError(t, json.Unmarshal(env.Data, &data))
			assert.NotEmpty(t, data["input"])
			_, hasThread := data["thread"]
			assert.Equal(t, tt.wantThread, hasThread)
		})
	}
}

func TestChatbotController_ThreadRoutes(t *testing.T) {
	threadId := uuid.New()

	t.Run("get thread", func(t *testing.T) {
		app := newChatApp(&stubChatbotService{response: &dto.ThreadResponse{Id: threadId}}, uuid.New())
		status, env := doJSON(t, app, http.MethodGet, "/api/chat/v1/threads/"+threadId.String(), nil)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, env.Success)
	})

	t.Run("missing thread", func(t *testing.T) {
		app := newChatApp(&stubChatbotService{err: executor.ErrThreadNotFound}, uuid.New())
		status, env := doJSON(t, app, http.MethodGet, "/api/chat/v1/threads/"+threadId.String(), nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not_found", env.ErrorType)
	})

	t.Run("bad id", func(t *testing.T) {
		app := newChatApp(&stubChatbotService{}, uuid.New())
		status, _ := doJSON(t, app, http.MethodGet, "/api/chat/v1/threads/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("list", func(t *testing.T) {
		userId := uuid.New()
		svc := &stubChatbotService{}
		app := newChatApp(svc, userId)
		status, env := doJSON(t, app, http.MethodGet, "/api/chat/v1/threads", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, userId, svc.userId)

		var items []dto.ThreadListItem
		require.NoError(t, json.Unmarshal(env.Data, &items))
		assert.Len(t, items, 1)
	})

	t.Run("retry", func(t *testing.T) {
		app := newChatApp(&stubChatbotService{response: &dto.ThreadResponse{Id: threadId}}, uuid.New())
		status, env := doJSON(t, app, http.MethodPost, "/api/chat/v1/threads/"+threadId.String()+"/retry", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, env.Success)
	})

	t.Run("cancel", func(t *testing.T) {
		app := newChatApp(&stubChatbotService{}, uuid.New())
		status, env := doJSON(t, app, http.MethodPost, "/api/chat/v1/threads/"+threadId.String()+"/cancel", nil)
		assert.Equal(t, http.StatusOK, status)

		var res dto.CancelThreadResponse
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.True(t, res.Cancelled)
	})

	t.Run("delete", func(t *testing.T) {
		app := newChatApp(&stubChatbotService{}, uuid.New())
		status, env := doJSON(t, app, http.MethodDelete, "/api/chat/v1/threads/"+threadId.String(), nil)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, env.Success)
	})
}

func TestChatbotController_GetStatus(t *testing.T) {
	userId := uuid.New()
	svc := &stubChatbotService{}
	app := newChatApp(svc, userId)

	status, env := doJSON(t, app, http.MethodGet, "/api/chat/v1/status", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, userId, svc.userId)

	var res dto.GuardStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Violations)
	assert.Equal(t, int64(250), res.TokensUsed)
	assert.Equal(t, int64(1000), res.TokenCeiling)
	assert.Nil(t, res.BlockedUntil)
}

func TestChatbotController_RequiresToken(t *testing.T) {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewChatbotController(&stubChatbotService{}, nil).RegisterRoutes(app.Group("/api"))

	req := httptest.NewRequest(http.MethodGet, "/api/chat/v1/threads", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
