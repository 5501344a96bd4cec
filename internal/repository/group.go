package repository

import (
	"context"
	"fmt"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// Create inserts the group and its initial member set in one
// transaction. The creator always ends up a group admin.
func (r *GroupRepository) Create(ctx context.Context, g *model.Group, memberIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO groups (id, company_id, name, description, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, g.ID, g.CompanyID, g.Name, g.Description, g.CreatedBy).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'admin')
	`, g.ID, g.CreatedBy)
	if err != nil {
		return err
	}

	for _, uid := range memberIDs {
		if uid == g.CreatedBy {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'member')
			ON CONFLICT DO NOTHING
		`, g.ID, uid)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *GroupRepository) GetByID(ctx context.Context, id string) (*model.Group, error) {
	g := &model.Group{}
	err := r.pool.QueryRow(ctx, `
		SELECT g.id, g.company_id, g.name, g.description, g.created_by, g.created_at, g.updated_at,
		       (SELECT COUNT(*) FROM group_members WHERE group_id = g.id)
		FROM groups g WHERE g.id = $1
	`, id).Scan(
		&g.ID, &g.CompanyID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt,
		&g.MemberCount,
	)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *GroupRepository) Update(ctx context.Context, id string, req *model.UpdateGroupRequest) error {
	// Build dynamic update — only set provided fields
	query := "UPDATE groups SET updated_at = NOW()"
	args := []interface{}{id}
	i := 2

	if req.Name != nil {
		query += fmt.Sprintf(", name = $%d", i)
		args = append(args, *req.Name)
		i++
	}
	if req.Description != nil {
		query += fmt.Sprintf(", description = $%d", i)
		args = append(args, *req.Description)
		i++
	}

	query += " WHERE id = $1"
	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

func (r *GroupRepository) ListForUser(ctx context.Context, userID string) ([]*model.Group, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.company_id, g.name, g.description, g.created_by, g.created_at, g.updated_at,
		       (SELECT COUNT(*) FROM group_members WHERE group_id = g.id)
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*model.Group
	for rows.Next() {
		g := &model.Group{}
		if err := rows.Scan(
			&g.ID, &g.CompanyID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt,
			&g.MemberCount,
		); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *GroupRepository) Members(ctx context.Context, groupID string) ([]*model.GroupMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT gm.group_id, gm.user_id, u.name, gm.role, gm.joined_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
		ORDER BY gm.joined_at ASC
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*model.GroupMember
	for rows.Next() {
		m := &model.GroupMember{}
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Name, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MemberIDs returns just the member ids, for event fan-out.
func (r *GroupRepository) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM group_members WHERE group_id = $1
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Membership reports whether the user belongs to the group and with
// which role. Non-members get ("", false, nil).
func (r *GroupRepository) Membership(ctx context.Context, groupID, userID string) (string, bool, error) {
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT role FROM group_members WHERE group_id = $1 AND user_id = $2
	`, groupID, userID).Scan(&role)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return role, true, nil
}

func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID, role string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, groupID, userID, role)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM group_members WHERE group_id = $1 AND user_id = $2
	`, groupID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
