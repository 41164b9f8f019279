package serverutils

import (
	"errors"
	"time"

	"biblestudy-be/pkg/rag/executor"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware renders handler errors as the JSON envelope. Pipeline
// errors expose only their user-facing category and message.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var data interface{}
		var de *dataError
		if errors.As(err, &de) {
			data = de.data
		}

		status, resp := renderError(err, data)
		return ctx.Status(status).JSON(resp)
	}
}

func renderError(err error, data interface{}) (int, BaseResponse[any]) {
	var pe *executor.PipelineError
	var ve *ValidationError
	var fe *fiber.Error

	switch {
	case errors.As(err, &pe):
		category, message := executor.UserFacing(err)
		status := pipelineStatus(pe, category)
		payload := fiber.Map{
			"kind":      pe.Kind,
			"retryable": pe.Retryable(),
		}
		if pe.Input != "" {
			payload["input"] = pe.Input
		}
		if pe.Until != nil {
			payload["blocked_until"] = pe.Until.UTC().Format(time.RFC3339)
		}
		if data != nil {
			payload["thread"] = data
		}
		resp := ErrorResponse(status, message)
		resp.ErrorType = string(category)
		resp.Data = payload
		return status, resp

	case errors.Is(err, executor.ErrThreadNotFound):
		resp := ErrorResponse(fiber.StatusNotFound, "Thread not found")
		resp.ErrorType = "not_found"
		return fiber.StatusNotFound, resp

	case errors.As(err, &ve):
		resp := ErrorResponse(fiber.StatusBadRequest, "Invalid request")
		resp.ErrorType = "validation_error"
		resp.Data = ve.Fields
		return fiber.StatusBadRequest, resp

	case errors.As(err, &fe):
		return fe.Code, ErrorResponse(fe.Code, fe.Message)

	default:
		resp := ErrorResponse(fiber.StatusInternalServerError, "Internal server error")
		resp.ErrorType = string(executor.CategoryGeneric)
		return fiber.StatusInternalServerError, resp
	}
}

func pipelineStatus(pe *executor.PipelineError, category executor.Category) int {
	switch pe.Kind {
	case executor.KindRateLimited, executor.KindBlocked, executor.KindBudgetExceeded:
		return fiber.StatusTooManyRequests
	case executor.KindInputInvalid:
		return fiber.StatusBadRequest
	case executor.KindThreadBusy:
		return fiber.StatusConflict
	}
	if category == executor.CategoryConnection {
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}
