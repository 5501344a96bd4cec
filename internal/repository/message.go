package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `id, company_id, sender_id, recipient_id, group_id, parent_id,
	content, created_at, edited_at, deleted_at, delivered_at, read_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	err := row.Scan(
		&m.ID, &m.CompanyID, &m.SenderID, &m.RecipientID, &m.GroupID, &m.ParentID,
		&m.Content, &m.CreatedAt, &m.EditedAt, &m.DeletedAt, &m.DeliveredAt, &m.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	m.DeriveStatus()
	return m, nil
}

// Insert stores a message and its attachments in one transaction so a
// failed attachment write never leaves a half-persisted send.
func (r *MessageRepository) Insert(ctx context.Context, m *model.Message, attachments []model.Attachment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, company_id, sender_id, recipient_id, group_id, parent_id, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, m.ID, m.CompanyID, m.SenderID, m.RecipientID, m.GroupID, m.ParentID, m.Content).Scan(&m.CreatedAt)
	if err != nil {
		return err
	}

	for i := range attachments {
		a := &attachments[i]
		a.MessageID = m.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO message_attachments (message_id, file_name, object_key, size_bytes, mime_type)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, a.MessageID, a.FileName, a.ObjectKey, a.SizeBytes, a.MimeType).Scan(&a.ID, &a.CreatedAt)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	m.Attachments = attachments
	m.DeriveStatus()
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE id = $1
	`, id)
	return scanMessage(row)
}

// Thread returns the direct conversation between two users, oldest
// first. The newest page is selected descending then reversed.
func (r *MessageRepository) Thread(ctx context.Context, userA, userB string, limit int, before time.Time) ([]*model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
	`
	args := []interface{}{userA, userB}
	if !before.IsZero() {
		query += " AND created_at < $3 ORDER BY created_at DESC LIMIT $4"
		args = append(args, before, limit)
	} else {
		query += " ORDER BY created_at DESC LIMIT $3"
		args = append(args, limit)
	}

	return r.queryPage(ctx, query, args)
}

func (r *MessageRepository) GroupThread(ctx context.Context, groupID string, limit int, before time.Time) ([]*model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE group_id = $1
	`
	args := []interface{}{groupID}
	if !before.IsZero() {
		query += " AND created_at < $2 ORDER BY created_at DESC LIMIT $3"
		args = append(args, before, limit)
	} else {
		query += " ORDER BY created_at DESC LIMIT $2"
		args = append(args, limit)
	}

	return r.queryPage(ctx, query, args)
}

func (r *MessageRepository) queryPage(ctx context.Context, query string, args []interface{}) ([]*model.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse for chronological order (oldest first)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	if err := r.hydrate(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// hydrate loads reactions and attachments for a page in two batch
// queries instead of per-row lookups.
func (r *MessageRepository) hydrate(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*model.Message, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = ANY($1::uuid[])
		ORDER BY created_at ASC
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var re model.Reaction
		if err := rows.Scan(&re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		if m := byID[re.MessageID]; m != nil {
			m.Reactions = append(m.Reactions, re)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT id, message_id, file_name, object_key, size_bytes, mime_type, created_at
		FROM message_attachments
		WHERE message_id = ANY($1::uuid[])
		ORDER BY created_at ASC
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.ObjectKey, &a.SizeBytes, &a.MimeType, &a.CreatedAt); err != nil {
			return err
		}
		if m := byID[a.MessageID]; m != nil {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return rows.Err()
}

// MarkDelivered advances a single message to delivered when the
// recipient's device acks it. Already-delivered rows are left alone.
func (r *MessageRepository) MarkDelivered(ctx context.Context, messageID, recipientID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages SET delivered_at = NOW()
		WHERE id = $1 AND recipient_id = $2 AND delivered_at IS NULL AND deleted_at IS NULL
	`, messageID, recipientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkManyDelivered is the pull fallback: fetching a thread page
// delivers the fetched messages addressed to the requester. Returns the
// ids that transitioned so senders can be notified.
func (r *MessageRepository) MarkManyDelivered(ctx context.Context, messageIDs []string, recipientID string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		UPDATE messages SET delivered_at = NOW()
		WHERE id = ANY($1::uuid[]) AND recipient_id = $2 AND delivered_at IS NULL AND deleted_at IS NULL
		RETURNING id
	`, messageIDs, recipientID)
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

// MarkRead stamps read_at exactly once. Reading implies delivery, so a
// still-pending delivered_at is filled with the same instant. The bool
// reports whether this call performed the transition.
func (r *MessageRepository) MarkRead(ctx context.Context, messageID, recipientID string) (*time.Time, bool, error) {
	var readAt time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE messages
		SET read_at = NOW(), delivered_at = COALESCE(delivered_at, NOW())
		WHERE id = $1 AND recipient_id = $2 AND read_at IS NULL AND deleted_at IS NULL
		RETURNING read_at
	`, messageID, recipientID).Scan(&readAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &readAt, true, nil
}

func (r *MessageRepository) Edit(ctx context.Context, messageID, content string) (*model.Message, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE messages SET content = $2, edited_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+messageColumns+`
	`, messageID, content)
	return scanMessage(row)
}

// SoftDelete writes the tombstone timestamp. Deleting an already
// deleted message reports changed=false so callers can treat it as a
// no-op success.
func (r *MessageRepository) SoftDelete(ctx context.Context, messageID string) (*time.Time, bool, error) {
	var deletedAt time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE messages SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING deleted_at
	`, messageID).Scan(&deletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &deletedAt, true, nil
}

// ToggleReaction removes the (message, user, emoji) row when present and
// inserts it otherwise. Returns true when the reaction now exists.
func (r *MessageRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3
	`, messageID, userID, emoji)
	if err != nil {
		return false, err
	}

	added := false
	if tag.RowsAffected() == 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO message_reactions (message_id, user_id, emoji)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, messageID, userID, emoji)
		if err != nil {
			return false, err
		}
		added = true
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return added, nil
}

func (r *MessageRepository) Reactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = $1
		ORDER BY created_at ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []model.Reaction
	for rows.Next() {
		var re model.Reaction
		if err := rows.Scan(&re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			return nil, err
		}
		reactions = append(reactions, re)
	}
	return reactions, rows.Err()
}

// ByIDs loads a set of messages newest first, hydrated, scoped to one
// tenant. Used to resolve search-accelerator hits against the
// authoritative rows.
func (r *MessageRepository) ByIDs(ctx context.Context, companyID string, ids []string) ([]*model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = ANY($1::uuid[]) AND company_id = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, ids, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Search runs the canonical Postgres substring search. Visibility is
// enforced in SQL: direct messages only for their two parties, group
// messages only for current members. Tombstones never match.
func (r *MessageRepository) Search(ctx context.Context, companyID, requesterID string, q model.SearchQuery) ([]*model.Message, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	conditions := []string{
		"company_id = $1",
		"deleted_at IS NULL",
		"content ILIKE '%' || $2 || '%'",
	}
	args := []interface{}{companyID, q.Term}
	argIdx := 3

	direct := fmt.Sprintf("(recipient_id IS NOT NULL AND (sender_id = $%d OR recipient_id = $%d))", argIdx, argIdx)
	grouped := fmt.Sprintf("(group_id IN (SELECT group_id FROM group_members WHERE user_id = $%d))", argIdx)
	args = append(args, requesterID)
	argIdx++

	switch q.Scope {
	case model.SearchDirect:
		conditions = append(conditions, direct)
	case model.SearchGroup:
		conditions = append(conditions, grouped)
	default:
		conditions = append(conditions, "("+direct+" OR "+grouped+")")
	}

	if q.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("(sender_id = $%d OR recipient_id = $%d)", argIdx, argIdx))
		args = append(args, q.UserID)
		argIdx++
	}
	if q.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("group_id = $%d", argIdx))
		args = append(args, q.GroupID)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
