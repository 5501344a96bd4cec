package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ruleColumns = `id, company_id, name, priority, enabled, conditions, strategy,
	params, rotation_cursor, created_by, created_at, updated_at`

type RuleRepository struct {
	pool *pgxpool.Pool
}

func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

func scanRule(row pgx.Row) (*model.AssignmentRule, error) {
	rule := &model.AssignmentRule{}
	var conditions, params []byte
	err := row.Scan(
		&rule.ID, &rule.CompanyID, &rule.Name, &rule.Priority, &rule.Enabled, &conditions, &rule.Strategy,
		&params, &rule.RotationCursor, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("decode rule %s conditions: %w", rule.ID, err)
	}
	if err := json.Unmarshal(params, &rule.Params); err != nil {
		return nil, fmt.Errorf("decode rule %s params: %w", rule.ID, err)
	}
	return rule, nil
}

func (r *RuleRepository) Insert(ctx context.Context, rule *model.AssignmentRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO assignment_rules (id, company_id, name, priority, enabled, conditions, strategy, params, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, rule.ID, rule.CompanyID, rule.Name, rule.Priority, rule.Enabled, conditions, rule.Strategy, params, rule.CreatedBy,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*model.AssignmentRule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+` FROM assignment_rules WHERE id = $1
	`, id)
	return scanRule(row)
}

// ListEnabled returns a company's active rules in evaluation order:
// higher priority first, creation order breaking ties so assignment
// stays deterministic.
func (r *RuleRepository) ListEnabled(ctx context.Context, companyID string) ([]*model.AssignmentRule, error) {
	return r.list(ctx, companyID, true)
}

func (r *RuleRepository) List(ctx context.Context, companyID string) ([]*model.AssignmentRule, error) {
	return r.list(ctx, companyID, false)
}

func (r *RuleRepository) list(ctx context.Context, companyID string, enabledOnly bool) ([]*model.AssignmentRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM assignment_rules WHERE company_id = $1`
	if enabledOnly {
		query += ` AND enabled`
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*model.AssignmentRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) Update(ctx context.Context, id string, req *model.UpdateRuleRequest) (*model.AssignmentRule, error) {
	query := "UPDATE assignment_rules SET updated_at = NOW()"
	args := []interface{}{id}
	i := 2

	if req.Name != nil {
		query += fmt.Sprintf(", name = $%d", i)
		args = append(args, *req.Name)
		i++
	}
	if req.Priority != nil {
		query += fmt.Sprintf(", priority = $%d", i)
		args = append(args, *req.Priority)
		i++
	}
	if req.Enabled != nil {
		query += fmt.Sprintf(", enabled = $%d", i)
		args = append(args, *req.Enabled)
		i++
	}
	if req.Conditions != nil {
		conditions, err := json.Marshal(*req.Conditions)
		if err != nil {
			return nil, err
		}
		query += fmt.Sprintf(", conditions = $%d", i)
		args = append(args, conditions)
		i++
	}
	if req.Strategy != nil {
		query += fmt.Sprintf(", strategy = $%d", i)
		args = append(args, *req.Strategy)
		i++
	}
	if req.Params != nil {
		params, err := json.Marshal(*req.Params)
		if err != nil {
			return nil, err
		}
		query += fmt.Sprintf(", params = $%d", i)
		args = append(args, params)
		i++
	}

	query += " WHERE id = $1 RETURNING " + ruleColumns
	return scanRule(r.pool.QueryRow(ctx, query, args...))
}

func (r *RuleRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM assignment_rules WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AdvanceCursor claims the next round-robin slot for a rule. The row
// lock serializes concurrent task creations against the same rule so no
// two of them land on one cursor value. The stored cursor is
// re-normalized modulo the current eligible count, which may have
// shrunk since the last call.
func (r *RuleRepository) AdvanceCursor(ctx context.Context, ruleID string, eligibleCount int) (int, error) {
	if eligibleCount <= 0 {
		return 0, fmt.Errorf("advance cursor: eligible count must be positive")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var cursor int
	err = tx.QueryRow(ctx, `
		SELECT rotation_cursor FROM assignment_rules WHERE id = $1 FOR UPDATE
	`, ruleID).Scan(&cursor)
	if err != nil {
		return 0, err
	}

	slot := cursor % eligibleCount
	_, err = tx.Exec(ctx, `
		UPDATE assignment_rules SET rotation_cursor = $2, updated_at = NOW() WHERE id = $1
	`, ruleID, slot+1)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return slot, nil
}
