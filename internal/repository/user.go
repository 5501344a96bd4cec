package repository

import (
	"context"
	"fmt"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, company_id, department_id, email, name, role, skills, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.CompanyID, &u.DepartmentID, &u.Email, &u.Name, &u.Role, &u.Skills, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) ListByCompany(ctx context.Context, companyID string) ([]*model.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE company_id = $1
		ORDER BY created_at ASC, id ASC
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// Eligible returns the assignee pool for a rule: company members,
// optionally narrowed by department, role set and an exclusion list.
// Ordering is stable (creation order) so rotation strategies see a
// deterministic sequence.
func (r *UserRepository) Eligible(ctx context.Context, companyID string, params model.RuleParams) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE company_id = $1`
	args := []interface{}{companyID}
	i := 2

	if params.DepartmentID != "" {
		query += fmt.Sprintf(" AND department_id = $%d", i)
		args = append(args, params.DepartmentID)
		i++
	}
	if len(params.Roles) > 0 {
		query += fmt.Sprintf(" AND role = ANY($%d)", i)
		args = append(args, params.Roles)
		i++
	}
	if len(params.Exclude) > 0 {
		query += fmt.Sprintf(" AND NOT (id = ANY($%d::uuid[]))", i)
		args = append(args, params.Exclude)
		i++
	}

	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func scanUsers(rows pgx.Rows) ([]*model.User, error) {
	var users []*model.User
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(&u.ID, &u.CompanyID, &u.DepartmentID, &u.Email, &u.Name, &u.Role, &u.Skills, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
