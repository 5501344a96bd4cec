package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/service"
)

type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// List returns the company directory with presence decoration.
// GET /api/users
func (h *UserHandler) List(c *fiber.Ctx) error {
	_, companyID, _ := userLocals(c)

	users, err := h.users.List(c.Context(), companyID)
	if err != nil {
		return respondError(c, err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return c.JSON(fiber.Map{"users": users})
}

// GET /api/users/:id
func (h *UserHandler) Get(c *fiber.Ctx) error {
	_, companyID, _ := userLocals(c)

	u, err := h.users.Get(c.Context(), companyID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(u)
}
