package service

import (
	"context"
	"strings"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/logger"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type TaskStore interface {
	Insert(ctx context.Context, t *model.Task) error
	GetByID(ctx context.Context, id string) (*model.Task, error)
	List(ctx context.Context, companyID string, f repository.TaskFilter) ([]*model.Task, error)
	SetAssignee(ctx context.Context, taskID string, assigneeID *string) error
	UpdateStatus(ctx context.Context, taskID, status string) (*model.Task, error)
}

// Assigner chooses an assignee for a fresh task. *AssignmentService
// satisfies it.
type Assigner interface {
	Assign(ctx context.Context, task *model.Task) (assigneeID, strategy string)
}

// Alerter carries ops notifications. *notify.Webhook satisfies it.
type Alerter interface {
	TaskUnassigned(companyID, taskID, title string)
}

type TaskService struct {
	tasks  TaskStore
	engine Assigner
	alerts Alerter
	log    *logrus.Entry
}

func NewTaskService(tasks TaskStore, engine Assigner, alerts Alerter) *TaskService {
	return &TaskService{
		tasks:  tasks,
		engine: engine,
		alerts: alerts,
		log:    logger.With("tasks"),
	}
}

// Create persists the task and immediately runs it through the
// assignment engine. The response carries the chosen assignee, or none:
// an unassigned task is a valid outcome that only triggers an ops alert.
func (s *TaskService) Create(ctx context.Context, companyID, creatorID string, req *model.CreateTaskRequest) (*model.Task, error) {
	t := &model.Task{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		Title:       req.Title,
		Description: req.Description,
		Status:      model.TaskOpen,
		Priority:    req.Priority,
		Category:    req.Category,
		Skills:      req.Skills,
		CreatedBy:   creatorID,
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	if t.Skills == nil {
		t.Skills = []string{}
	}
	if req.DepartmentID != "" {
		t.DepartmentID = &req.DepartmentID
	}

	if err := s.tasks.Insert(ctx, t); err != nil {
		// An unknown department fails the FK, which is the requester
		// naming a resource that does not exist for them.
		if strings.Contains(err.Error(), "SQLSTATE 23503") {
			return nil, ErrNotFound
		}
		return nil, err
	}

	assignee, strategy := s.engine.Assign(ctx, t)
	if assignee == "" {
		s.log.WithField("task", t.ID).Info("task left unassigned")
		if s.alerts != nil {
			s.alerts.TaskUnassigned(companyID, t.ID, t.Title)
		}
		return t, nil
	}

	if err := s.tasks.SetAssignee(ctx, t.ID, &assignee); err != nil {
		s.log.WithError(err).Warnf("persist assignee for task %s", t.ID)
		return t, nil
	}
	t.AssigneeID = &assignee
	s.log.WithFields(logrus.Fields{
		"task":     t.ID,
		"assignee": assignee,
		"strategy": strategy,
	}).Info("task assigned")
	return t, nil
}

func (s *TaskService) Get(ctx context.Context, companyID, taskID string) (*model.Task, error) {
	t, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if t.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *TaskService) List(ctx context.Context, companyID string, f repository.TaskFilter) ([]*model.Task, error) {
	return s.tasks.List(ctx, companyID, f)
}

// UpdateStatus moves a task through its lifecycle. The assignee and the
// creator may update their own; managers and admins may update any.
func (s *TaskService) UpdateStatus(ctx context.Context, companyID, requesterID string, role rbac.Role, taskID, status string) (*model.Task, error) {
	t, err := s.Get(ctx, companyID, taskID)
	if err != nil {
		return nil, err
	}

	involved := t.CreatedBy == requesterID ||
		(t.AssigneeID != nil && *t.AssigneeID == requesterID)
	if !involved && !rbac.Can(role, rbac.ActionManageTasks) {
		return nil, ErrForbidden
	}

	return s.tasks.UpdateStatus(ctx, taskID, status)
}
