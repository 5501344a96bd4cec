package model

import "time"

const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskCancelled  = "cancelled"
)

type Task struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"companyId"`
	DepartmentID *string   `json:"departmentId,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority"`
	Category     string    `json:"category"`
	Skills       []string  `json:"skills"`
	AssigneeID   *string   `json:"assigneeId,omitempty"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Request types

type CreateTaskRequest struct {
	Title        string   `json:"title" validate:"required,min=1,max=512"`
	Description  string   `json:"description" validate:"max=10000"`
	DepartmentID string   `json:"departmentId" validate:"omitempty,uuid"`
	Priority     string   `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Category     string   `json:"category" validate:"max=255"`
	Skills       []string `json:"skills" validate:"omitempty,dive,min=1,max=64"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress done cancelled"`
}
