package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/logger"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/ratecache"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/service"
)

var validate = validator.New()

var httpLog = logger.With("http")

// respondError maps service errors onto HTTP statuses. Every handler
// funnels unrecognized errors through here so the mapping lives once.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "resource not found"})
	case errors.Is(err, service.ErrEditWindowExpired):
		return c.Status(403).JSON(fiber.Map{"error": "edit window expired", "code": "EDIT_WINDOW_EXPIRED"})
	case errors.Is(err, service.ErrForbidden):
		return c.Status(403).JSON(fiber.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrAlreadyMember):
		return c.Status(409).JSON(fiber.Map{"error": "user is already a member"})
	case errors.Is(err, service.ErrBadTarget):
		return c.Status(400).JSON(fiber.Map{"error": "exactly one of recipientId or groupId must be set"})
	case errors.Is(err, service.ErrAttachmentLimit):
		return c.Status(400).JSON(fiber.Map{"error": "too many attachments"})
	case errors.Is(err, service.ErrNoAttachmentStore):
		return c.Status(503).JSON(fiber.Map{"error": "attachment storage is not configured"})
	case errors.Is(err, ratecache.ErrUnknownCurrency):
		return c.Status(404).JSON(fiber.Map{"error": "unknown currency code", "code": "UNKNOWN_CURRENCY"})
	default:
		// Handle PostgreSQL unique constraint violations
		errStr := err.Error()
		if strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "unique constraint") {
			return c.Status(409).JSON(fiber.Map{"error": "duplicate entry"})
		}
		httpLog.WithError(err).Error("request failed")
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}
}

// validationError renders a validator failure as a field-level 400.
func validationError(c *fiber.Ctx, err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return c.Status(400).JSON(fiber.Map{
			"error": "validation failed",
			"field": fe.Field(),
			"rule":  fe.Tag(),
		})
	}
	return c.Status(400).JSON(fiber.Map{"error": "validation failed"})
}

func userLocals(c *fiber.Ctx) (userID, companyID, role string) {
	userID, _ = c.Locals("user_id").(string)
	companyID, _ = c.Locals("company_id").(string)
	role, _ = c.Locals("role").(string)
	return
}
