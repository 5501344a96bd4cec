package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskColumns = `id, company_id, department_id, title, description, status,
	priority, category, skills, assignee_id, created_by, created_at, updated_at`

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

func scanTask(row pgx.Row) (*model.Task, error) {
	t := &model.Task{}
	err := row.Scan(
		&t.ID, &t.CompanyID, &t.DepartmentID, &t.Title, &t.Description, &t.Status,
		&t.Priority, &t.Category, &t.Skills, &t.AssigneeID, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TaskRepository) Insert(ctx context.Context, t *model.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, company_id, department_id, title, description, status, priority, category, skills, assignee_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, t.ID, t.CompanyID, t.DepartmentID, t.Title, t.Description, t.Status,
		t.Priority, t.Category, t.Skills, t.AssigneeID, t.CreatedBy,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1
	`, id)
	return scanTask(row)
}

type TaskFilter struct {
	Status       string
	AssigneeID   string
	DepartmentID string
	Limit        int
	Offset       int
}

func (r *TaskRepository) List(ctx context.Context, companyID string, f TaskFilter) ([]*model.Task, error) {
	conditions := []string{"company_id = $1"}
	args := []interface{}{companyID}
	i := 2

	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", i))
		args = append(args, f.Status)
		i++
	}
	if f.AssigneeID != "" {
		conditions = append(conditions, fmt.Sprintf("assignee_id = $%d", i))
		args = append(args, f.AssigneeID)
		i++
	}
	if f.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", i))
		args = append(args, f.DepartmentID)
		i++
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), i, i+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) SetAssignee(ctx context.Context, taskID string, assigneeID *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET assignee_id = $2, updated_at = NOW() WHERE id = $1
	`, taskID, assigneeID)
	return err
}

func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID, status string) (*model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+taskColumns+`
	`, taskID, status)
	return scanTask(row)
}

// OpenCounts returns, per user, the number of assigned tasks not yet in
// a terminal status. Users with no open tasks are absent from the map.
func (r *TaskRepository) OpenCounts(ctx context.Context, userIDs []string) (map[string]int, error) {
	return r.countByAssignee(ctx, userIDs, `status IN ('open', 'in_progress')`)
}

// CompletedCounts returns, per user, the number of tasks they carried to
// done. Feeds the experience ranking.
func (r *TaskRepository) CompletedCounts(ctx context.Context, userIDs []string) (map[string]int, error) {
	return r.countByAssignee(ctx, userIDs, `status = 'done'`)
}

func (r *TaskRepository) countByAssignee(ctx context.Context, userIDs []string, statusCond string) (map[string]int, error) {
	counts := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT assignee_id, COUNT(*)
		FROM tasks
		WHERE assignee_id = ANY($1::uuid[]) AND `+statusCond+`
		GROUP BY assignee_id
	`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
