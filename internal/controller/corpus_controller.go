package controller

import (
	"biblestudy-be/internal/dto"
	"biblestudy-be/internal/pkg/serverutils"
	"biblestudy-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type ICorpusController interface {
	RegisterRoutes(r fiber.Router)
	IndexPassages(ctx *fiber.Ctx) error
	Stats(ctx *fiber.Ctx) error
}

type corpusController struct {
	corpusService service.ICorpusService
	middleware    fiber.Handler
}

func NewCorpusController(corpusService service.ICorpusService, auth fiber.Handler) ICorpusController {
	if auth == nil {
		auth = serverutils.JwtMiddleware
	}
	return &corpusController{
		corpusService: corpusService,
		middleware:    auth,
	}
}

func (c *corpusController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/corpus/v1")
	h.Use(c.middleware)
	h.Post("passages", c.IndexPassages)
	h.Get("stats", c.Stats)
}

func (c *corpusController) IndexPassages(ctx *fiber.Ctx) error {
	var req dto.IndexPassagesRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.corpusService.IndexPassages(ctx.UserContext(), &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Passages queued for indexing", res))
}

func (c *corpusController) Stats(ctx *fiber.Ctx) error {
	res, err := c.corpusService.Stats(ctx.UserContext(), ctx.Query("corpus_id"))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get corpus stats", res))
}
