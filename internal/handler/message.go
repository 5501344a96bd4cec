package handler

import (
	"mime/multipart"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/service"
)

type MessageHandler struct {
	messages *service.MessageService
}

func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// Send creates a direct message.
// POST /api/messages
func (h *MessageHandler) Send(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)

	var req model.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	msg, err := h.messages.Send(c.Context(), companyID, userID, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(msg)
}

// SendEnhanced creates a direct or group message from a multipart form,
// carrying up to five attachments. A `type` form field is accepted for
// older clients but ignored; the attachment MIME types are what count.
// POST /api/messages/enhanced
func (h *MessageHandler) SendEnhanced(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)

	var req model.EnhancedSendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	var files []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil && form != nil {
		files = form.File["attachments"]
	}

	uploads := make([]service.Upload, 0, len(files))
	opened := make([]multipart.File, 0, len(files))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "unreadable attachment: " + fh.Filename})
		}
		opened = append(opened, f)
		uploads = append(uploads, service.Upload{
			FileName: fh.Filename,
			Size:     fh.Size,
			MimeType: fh.Header.Get("Content-Type"),
			Reader:   f,
		})
	}

	msg, err := h.messages.SendEnhanced(c.Context(), companyID, userID, &req, uploads)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(msg)
}

// Thread returns the direct conversation with another user, oldest
// first. Fetching marks undelivered inbound messages delivered.
// GET /api/messages/thread/:userId?limit=&before=
func (h *MessageHandler) Thread(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)
	peerID := c.Params("userId")

	limit, before, err := pageParams(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid before timestamp, want RFC3339"})
	}

	msgs, err := h.messages.Thread(c.Context(), companyID, userID, peerID, limit, before)
	if err != nil {
		return respondError(c, err)
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// GroupThread returns a group's history, members only.
// GET /api/messages/group/:groupId?limit=&before=
func (h *MessageHandler) GroupThread(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)
	groupID := c.Params("groupId")

	limit, before, err := pageParams(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid before timestamp, want RFC3339"})
	}

	msgs, err := h.messages.GroupThread(c.Context(), companyID, userID, groupID, limit, before)
	if err != nil {
		return respondError(c, err)
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// Search matches message content within the requester's visibility.
// GET /api/messages/search?q=&type=&userId=&groupId=&limit=&offset=
func (h *MessageHandler) Search(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)

	q := model.SearchQuery{
		Term:    c.Query("q"),
		Scope:   model.SearchScope(c.Query("type", string(model.SearchAll))),
		UserID:  c.Query("userId"),
		GroupID: c.Query("groupId"),
	}
	q.Limit, _ = strconv.Atoi(c.Query("limit", "25"))
	q.Offset, _ = strconv.Atoi(c.Query("offset", "0"))

	if q.Term == "" {
		return c.Status(400).JSON(fiber.Map{"error": "q is required"})
	}
	switch q.Scope {
	case model.SearchDirect, model.SearchGroup, model.SearchAll:
	default:
		return c.Status(400).JSON(fiber.Map{"error": "type must be direct, group or all"})
	}

	msgs, err := h.messages.Search(c.Context(), companyID, userID, q)
	if err != nil {
		return respondError(c, err)
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// React toggles the requester's emoji reaction on a message.
// POST /api/messages/:id/react
func (h *MessageHandler) React(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)
	messageID := c.Params("id")

	var req model.ReactRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	reactions, err := h.messages.React(c.Context(), companyID, userID, messageID, req.Emoji)
	if err != nil {
		return respondError(c, err)
	}
	if reactions == nil {
		reactions = []model.Reaction{}
	}
	return c.JSON(fiber.Map{"reactions": reactions})
}

// Edit amends a message's content, sender only, within 24h of sending.
// PATCH /api/messages/:id/edit
func (h *MessageHandler) Edit(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)
	messageID := c.Params("id")

	var req model.EditMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	msg, err := h.messages.Edit(c.Context(), companyID, userID, messageID, req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

// Delete soft-deletes a message; the row survives as a tombstone.
// DELETE /api/messages/:id
func (h *MessageHandler) Delete(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)
	messageID := c.Params("id")

	msg, err := h.messages.Delete(c.Context(), companyID, userID, rbac.Role(role), messageID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

// MarkRead advances the delivery ledger to read, recipient only.
// PATCH /api/messages/:id/read
func (h *MessageHandler) MarkRead(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)
	messageID := c.Params("id")

	msg, err := h.messages.MarkRead(c.Context(), companyID, userID, messageID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

func pageParams(c *fiber.Ctx) (int, time.Time, error) {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return 0, time.Time{}, err
		}
		before = parsed
	}
	return limit, before, nil
}
