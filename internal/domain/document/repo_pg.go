package document

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

const cols = `id, patient_id, title, category, status, storage_key, summary, content_text, uploaded_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.PatientID, &d.Title, &d.Category, &d.Status,
		&d.StorageKey, &d.Summary, &d.ContentText, &d.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) Create(ctx context.Context, d *Document) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_document (id, patient_id, title, category, status, storage_key, summary, content_text)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.PatientID, d.Title, d.Category, d.Status, d.StorageKey, d.Summary, d.ContentText)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanDocument(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM clinical_document WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Document, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_document WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM clinical_document
		WHERE patient_id = $1 ORDER BY uploaded_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListReady(ctx context.Context, patientID string) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM clinical_document
		WHERE patient_id = $1 AND status = $2 ORDER BY uploaded_at DESC`,
		patientID, StatusReady)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *repoPG) Recent(ctx context.Context, patientID string, n int) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM clinical_document
		WHERE patient_id = $1 AND status = $2 ORDER BY uploaded_at DESC LIMIT $3`,
		patientID, StatusReady, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE clinical_document SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinical_document WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collect(rows pgx.Rows) ([]*Document, error) {
	var items []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
