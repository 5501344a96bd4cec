package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/service"
)

type NoteHandler struct {
	notes *service.NoteService
}

func NewNoteHandler(notes *service.NoteService) *NoteHandler {
	return &NoteHandler{notes: notes}
}

// POST /api/notes
func (h *NoteHandler) Create(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)

	var req model.CreateNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	n, err := h.notes.Create(c.Context(), companyID, userID, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(n)
}

// GET /api/notes/:id
func (h *NoteHandler) Get(c *fiber.Ctx) error {
	_, companyID, _ := userLocals(c)

	n, err := h.notes.Get(c.Context(), companyID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(n)
}

// List returns the caller's notes, pinned first.
// GET /api/notes?limit=&offset=
func (h *NoteHandler) List(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	notes, err := h.notes.List(c.Context(), companyID, userID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	if notes == nil {
		notes = []*model.Note{}
	}
	return c.JSON(fiber.Map{"notes": notes})
}

// Update edits a note; its author or an admin.
// PATCH /api/notes/:id
func (h *NoteHandler) Update(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)
	noteID := c.Params("id")

	var req model.UpdateNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	n, err := h.notes.Update(c.Context(), companyID, userID, rbac.Role(role), noteID, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(n)
}

// Delete removes a note; its author or an admin.
// DELETE /api/notes/:id
func (h *NoteHandler) Delete(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)
	noteID := c.Params("id")

	if err := h.notes.Delete(c.Context(), companyID, userID, rbac.Role(role), noteID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}
