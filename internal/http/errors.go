package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/http/dto"
	"github.com/skill-market/backend/internal/middleware"
)

// ErrorHandler renders any error returned by a handler or middleware in the
// response envelope.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		reqID := middleware.GetRequestID(c)

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(dto.Envelope{
				Success: false,
				Error:   &dto.ErrorBody{Code: fiberCode(fe.Code), Message: fe.Message, RequestID: reqID},
			})
		}

		e := apperr.From(err)
		if e.Kind == apperr.KindInternal {
			log.Error("internal error",
				zap.String("request_id", reqID),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}
		return dto.Fail(c, e, reqID)
	}
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return string(apperr.KindNotFound)
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return string(apperr.KindValidation)
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusUpgradeRequired:
		return "upgrade_required"
	case fiber.StatusRequestEntityTooLarge:
		return "payload_too_large"
	default:
		if status >= fiber.StatusInternalServerError {
			return string(apperr.KindInternal)
		}
		return "request_error"
	}
}
