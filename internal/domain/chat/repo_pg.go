package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalia/portal/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) CreateConversation(ctx context.Context, c *Conversation) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO conversation (id, user_id, title)
		VALUES ($1,$2,$3)
		RETURNING created_at, updated_at`,
		c.ID, c.UserID, c.Title).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *repoPG) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	var c Conversation
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversation WHERE id = $1`, id).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversation WHERE user_id = $1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) RenameConversation(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE conversation SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM conversation WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) CreateMessage(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO chat_message (id, conversation_id, role, content)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		m.ID, m.ConversationID, m.Role, m.Content).Scan(&m.CreatedAt)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx,
		`UPDATE conversation SET updated_at = now() WHERE id = $1`, m.ConversationID)
	return err
}

func (r *repoPG) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM chat_message WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM chat_message WHERE conversation_id = $1
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *repoPG) RecentMessages(ctx context.Context, conversationID uuid.UUID, n int) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM chat_message WHERE conversation_id = $1
			ORDER BY created_at DESC LIMIT $2
		) last ORDER BY created_at ASC`, conversationID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *repoPG) CountMessages(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_message WHERE conversation_id = $1`, conversationID).Scan(&n)
	return n, err
}

func collectMessages(rows pgx.Rows) ([]*Message, error) {
	var items []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}
