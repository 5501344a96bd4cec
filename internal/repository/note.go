package repository

import (
	"context"
	"fmt"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const noteColumns = `id, company_id, author_id, title, body, pinned, created_at, updated_at`

type NoteRepository struct {
	pool *pgxpool.Pool
}

func NewNoteRepository(pool *pgxpool.Pool) *NoteRepository {
	return &NoteRepository{pool: pool}
}

func scanNote(row pgx.Row) (*model.Note, error) {
	n := &model.Note{}
	err := row.Scan(&n.ID, &n.CompanyID, &n.AuthorID, &n.Title, &n.Body, &n.Pinned, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *NoteRepository) Insert(ctx context.Context, n *model.Note) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO notes (id, company_id, author_id, title, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, n.ID, n.CompanyID, n.AuthorID, n.Title, n.Body).Scan(&n.CreatedAt, &n.UpdatedAt)
}

func (r *NoteRepository) GetByID(ctx context.Context, id string) (*model.Note, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = $1`, id)
	return scanNote(row)
}

// List returns company notes, pinned first then newest. authorID narrows
// to one author's notes when set.
func (r *NoteRepository) List(ctx context.Context, companyID, authorID string, limit, offset int) ([]*model.Note, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + noteColumns + ` FROM notes WHERE company_id = $1`
	args := []interface{}{companyID}
	i := 2
	if authorID != "" {
		query += fmt.Sprintf(" AND author_id = $%d", i)
		args = append(args, authorID)
		i++
	}
	query += fmt.Sprintf(" ORDER BY pinned DESC, created_at DESC LIMIT $%d OFFSET $%d", i, i+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (r *NoteRepository) Update(ctx context.Context, id string, req *model.UpdateNoteRequest) (*model.Note, error) {
	query := "UPDATE notes SET updated_at = NOW()"
	args := []interface{}{id}
	i := 2

	if req.Title != nil {
		query += fmt.Sprintf(", title = $%d", i)
		args = append(args, *req.Title)
		i++
	}
	if req.Body != nil {
		query += fmt.Sprintf(", body = $%d", i)
		args = append(args, *req.Body)
		i++
	}
	if req.Pinned != nil {
		query += fmt.Sprintf(", pinned = $%d", i)
		args = append(args, *req.Pinned)
		i++
	}

	query += " WHERE id = $1 RETURNING " + noteColumns
	return scanNote(r.pool.QueryRow(ctx, query, args...))
}

func (r *NoteRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
