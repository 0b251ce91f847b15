package clinic

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

func (r *repoPG) Create(ctx context.Context, c *Clinic) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinic (id, name, city)
		VALUES ($1,$2,$3)
		RETURNING created_at`, c.ID, c.Name, c.City).Scan(&c.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	var c Clinic
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, city, created_at FROM clinic WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.City, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinic`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, name, city, created_at FROM clinic ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Clinic
	for rows.Next() {
		var c Clinic
		if err := rows.Scan(&c.ID, &c.Name, &c.City, &c.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) AddMember(ctx context.Context, m *Member) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinic_member (clinic_id, user_id, role, email)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (clinic_id, user_id) DO UPDATE
		SET role = EXCLUDED.role,
		    email = COALESCE(EXCLUDED.email, clinic_member.email)`,
		m.ClinicID, m.UserID, m.Role, m.Email)
	return err
}

func (r *repoPG) FindMemberByEmail(ctx context.Context, clinicID uuid.UUID, email string) (*Member, error) {
	var m Member
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT clinic_id, user_id, role, email, joined_at FROM clinic_member
		WHERE clinic_id = $1 AND email = $2`, clinicID, email).
		Scan(&m.ClinicID, &m.UserID, &m.Role, &m.Email, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) ListMembers(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Member, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinic_member WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT clinic_id, user_id, role, email, joined_at FROM clinic_member
		WHERE clinic_id = $1 ORDER BY joined_at LIMIT $2 OFFSET $3`, clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ClinicID, &m.UserID, &m.Role, &m.Email, &m.JoinedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &m)
	}
	return items, total, rows.Err()
}

func (r *repoPG) IsMember(ctx context.Context, clinicID uuid.UUID, userID string) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM clinic_member WHERE clinic_id = $1 AND user_id = $2)`,
		clinicID, userID).Scan(&ok)
	return ok, err
}

func (r *repoPG) RemoveMember(ctx context.Context, clinicID uuid.UUID, userID string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM clinic_member WHERE clinic_id = $1 AND user_id = $2`, clinicID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
