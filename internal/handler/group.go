package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/service"
)

type GroupHandler struct {
	groups *service.GroupService
}

func NewGroupHandler(groups *service.GroupService) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// Create makes a group with the caller as its first admin.
// POST /api/groups
func (h *GroupHandler) Create(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)

	var req model.CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	g, err := h.groups.Create(c.Context(), companyID, userID, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(g)
}

// ListMine returns the caller's groups.
// GET /api/groups
func (h *GroupHandler) ListMine(c *fiber.Ctx) error {
	userID, _, _ := userLocals(c)

	groups, err := h.groups.ListMine(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	if groups == nil {
		groups = []*model.Group{}
	}
	return c.JSON(fiber.Map{"groups": groups})
}

// Members lists a group's roster with live online flags, members only.
// GET /api/groups/:id/members
func (h *GroupHandler) Members(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)
	groupID := c.Params("id")

	members, err := h.groups.Members(c.Context(), companyID, userID, groupID)
	if err != nil {
		return respondError(c, err)
	}
	if members == nil {
		members = []*model.GroupMember{}
	}
	return c.JSON(fiber.Map{"members": members})
}

// Update renames or re-describes a group, group admins only.
// PATCH /api/groups/:id
func (h *GroupHandler) Update(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)
	groupID := c.Params("id")

	var req model.UpdateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	g, err := h.groups.Update(c.Context(), companyID, userID, rbac.Role(role), groupID, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(g)
}

// AddMember admits a same-company user. 409 when already a member.
// POST /api/groups/:id/members
func (h *GroupHandler) AddMember(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)
	groupID := c.Params("id")

	var req model.AddGroupMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	if err := h.groups.AddMember(c.Context(), companyID, userID, rbac.Role(role), groupID, &req); err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"ok": true})
}

// RemoveMember evicts a member, or lets a member leave on their own.
// DELETE /api/groups/:id/members/:userId
func (h *GroupHandler) RemoveMember(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)
	groupID := c.Params("id")
	targetID := c.Params("userId")

	if err := h.groups.RemoveMember(c.Context(), companyID, userID, rbac.Role(role), groupID, targetID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}
