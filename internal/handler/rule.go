package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/service"
)

type RuleHandler struct {
	rules *service.RuleService
}

func NewRuleHandler(rules *service.RuleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// Create adds an assignment rule, managers and admins only.
// POST /api/assignment-rules
func (h *RuleHandler) Create(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)

	var req model.CreateRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	rule, err := h.rules.Create(c.Context(), companyID, userID, rbac.Role(role), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(rule)
}

// GET /api/assignment-rules
func (h *RuleHandler) List(c *fiber.Ctx) error {
	_, companyID, _ := userLocals(c)

	rules, err := h.rules.List(c.Context(), companyID)
	if err != nil {
		return respondError(c, err)
	}
	if rules == nil {
		rules = []*model.AssignmentRule{}
	}
	return c.JSON(fiber.Map{"rules": rules})
}

// Update edits a rule; its creator or an admin.
// PATCH /api/assignment-rules/:id
func (h *RuleHandler) Update(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)
	ruleID := c.Params("id")

	var req model.UpdateRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	rule, err := h.rules.Update(c.Context(), companyID, userID, rbac.Role(role), ruleID, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rule)
}

// Delete removes a rule; its creator or an admin.
// DELETE /api/assignment-rules/:id
func (h *RuleHandler) Delete(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)
	ruleID := c.Params("id")

	if err := h.rules.Delete(c.Context(), companyID, userID, rbac.Role(role), ruleID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}
