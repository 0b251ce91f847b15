package grant

import (
	"context"
	"errors"

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

const cols = `token, patient_id, created_at, expires_at, allow_download, allow_chat, allow_notebook, access_count, revoked`

func scanGrant(row pgx.Row) (*AccessGrant, error) {
	var g AccessGrant
	err := row.Scan(&g.Token, &g.PatientID, &g.CreatedAt, &g.ExpiresAt,
		&g.AllowDownload, &g.AllowChat, &g.AllowNotebook, &g.AccessCount, &g.Revoked)
	return &g, err
}

func (r *repoPG) Create(ctx context.Context, g *AccessGrant) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO access_grant (token, patient_id, created_at, expires_at, allow_download, allow_chat, allow_notebook, access_count, revoked)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,false)`,
		g.Token, g.PatientID, g.CreatedAt, g.ExpiresAt, g.AllowDownload, g.AllowChat, g.AllowNotebook)
	return err
}

func (r *repoPG) GetByToken(ctx context.Context, token string) (*AccessGrant, error) {
	g, err := scanGrant(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM access_grant WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string) ([]*AccessGrant, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM access_grant
		WHERE patient_id = $1 AND NOT revoked
		ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

func (r *repoPG) IncrementAccess(ctx context.Context, token string) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE access_grant SET access_count = access_count + 1
		WHERE token = $1
		RETURNING access_count`, token).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return count, err
}

func (r *repoPG) Revoke(ctx context.Context, token string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE access_grant SET revoked = true WHERE token = $1`, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
