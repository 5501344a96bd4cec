package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/repository"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/service"
)

type TaskHandler struct {
	tasks *service.TaskService
}

func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// Create persists a task and runs the assignment engine. The response
// carries the assignee the engine picked, or none.
// POST /api/tasks
func (h *TaskHandler) Create(c *fiber.Ctx) error {
	userID, companyID, _ := userLocals(c)

	var req model.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	t, err := h.tasks.Create(c.Context(), companyID, userID, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(t)
}

// GET /api/tasks/:id
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	_, companyID, _ := userLocals(c)

	t, err := h.tasks.Get(c.Context(), companyID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(t)
}

// List returns the company's tasks, filterable by status, assignee and
// department.
// GET /api/tasks?status=&assigneeId=&departmentId=&limit=&offset=
func (h *TaskHandler) List(c *fiber.Ctx) error {
	_, companyID, _ := userLocals(c)

	f := repository.TaskFilter{
		Status:       c.Query("status"),
		AssigneeID:   c.Query("assigneeId"),
		DepartmentID: c.Query("departmentId"),
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.Query("offset", "0"))

	tasks, err := h.tasks.List(c.Context(), companyID, f)
	if err != nil {
		return respondError(c, err)
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	return c.JSON(fiber.Map{"tasks": tasks})
}

// UpdateStatus moves a task through its lifecycle; creator, assignee or
// manager.
// PATCH /api/tasks/:id/status
func (h *TaskHandler) UpdateStatus(c *fiber.Ctx) error {
	userID, companyID, role := userLocals(c)
	taskID := c.Params("id")

	var req model.UpdateTaskStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return validationError(c, err)
	}

	t, err := h.tasks.UpdateStatus(c.Context(), companyID, userID, rbac.Role(role), taskID, req.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(t)
}
