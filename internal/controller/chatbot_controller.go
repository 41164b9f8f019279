package controller

import (
	"biblestudy-be/internal/dto"
	"biblestudy-be/internal/pkg/serverutils"
	"biblestudy-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IChatbotController interface {
	RegisterRoutes(r fiber.Router)
	SendMessage(ctx *fiber.Ctx) error
	RetryLastMessage(ctx *fiber.Ctx) error
	CancelThread(ctx *fiber.Ctx) error
	FetchAllThreads(ctx *fiber.Ctx) error
	GetThread(ctx *fiber.Ctx) error
	DeleteThread(ctx *fiber.Ctx) error
	GetStatus(ctx *fiber.Ctx) error
}

type chatbotController struct {
	chatbotService service.IChatbotService
	middleware     fiber.Handler
}

// NewChatbotController protects every route with auth. Tests may pass a stub middleware.
func NewChatbotController(chatbotService service.IChatbotService, auth fiber.Handler) IChatbotController {
	if auth == nil {
		auth = serverutils.JwtMiddleware
	}
	return &chatbotController{
		chatbotService: chatbotService,
		middleware:     auth,
	}
}

func (c *chatbotController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat/v1")
	h.Use(c.middleware)
	h.Post("send", c.SendMessage)
	h.Get("status", c.GetStatus)
	h.Get("threads", c.FetchAllThreads)
	h.Get("threads/:id", c.GetThread)
	h.Delete("threads/:id", c.DeleteThread)
	h.Post("threads/:id/retry", c.RetryLastMessage)
	h.Post("threads/:id/cancel", c.CancelThread)
}

func (c *chatbotController) SendMessage(ctx *fiber.Ctx) error {
	userId := serverutils.UserID(ctx)

	var req dto.SendMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.chatbotService.SendMessage(ctx.UserContext(), userId, &req)
	if err != nil {
		return withThread(err, res)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success send message", res))
}

func (c *chatbotController) RetryLastMessage(ctx *fiber.Ctx) error {
	userId := serverutils.UserID(ctx)
	id, err := threadIdParam(ctx)
	if err != nil {
		return err
	}

	res, err := c.chatbotService.RetryLastMessage(ctx.UserContext(), userId, id)
	if err != nil {
		return withThread(err, res)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success retry message", res))
}

func (c *chatbotController) CancelThread(ctx *fiber.Ctx) error {
	userId := serverutils.UserID(ctx)
	id, err := threadIdParam(ctx)
	if err != nil {
		return err
	}

	res, err := c.chatbotService.CancelThread(ctx.UserContext(), userId, id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success cancel thread", res))
}

func (c *chatbotController) FetchAllThreads(ctx *fiber.Ctx) error {
	userId := serverutils.UserID(ctx)

	res, err := c.chatbotService.FetchAllThreads(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get all threads", res))
}

func (c *chatbotController) GetThread(ctx *fiber.Ctx) error {
	userId := serverutils.UserID(ctx)
	id, err := threadIdParam(ctx)
	if err != nil {
		return err
	}

	res, err := c.chatbotService.GetThread(ctx.UserContext(), userId, id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get thread", res))
}

func (c *chatbotController) DeleteThread(ctx *fiber.Ctx) error {
	userId := serverutils.UserID(ctx)
	id, err := threadIdParam(ctx)
	if err != nil {
		return err
	}

	if err := c.chatbotService.DeleteThread(ctx.UserContext(), userId, id); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete thread", nil))
}

func (c *chatbotController) GetStatus(ctx *fiber.Ctx) error {
	userId := serverutils.UserID(ctx)

	res, err := c.chatbotService.GetStatus(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get status", res))
}

func threadIdParam(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid thread id")
	}
	return id, nil
}

// withThread attaches the thread a failed request left behind, if any.
func withThread(err error, res *dto.ThreadResponse) error {
	if res == nil {
		return err
	}
	return serverutils.WithData(err, res)
}
