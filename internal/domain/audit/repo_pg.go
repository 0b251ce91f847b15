package audit

import (
	"context"

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

const cols = `id, actor_id, patient_id, clinic_id, access_type, detail, auditable_for_patient, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.ActorID, &e.PatientID, &e.ClinicID, &e.AccessType,
		&e.Detail, &e.AuditableForPatient, &e.CreatedAt)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO access_audit (id, actor_id, patient_id, clinic_id, access_type, detail, auditable_for_patient)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.ActorID, e.PatientID, e.ClinicID, e.AccessType, e.Detail, e.AuditableForPatient)
	return err
}

func (r *repoPG) ListForPatient(ctx context.Context, patientID string, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM access_audit WHERE patient_id = $1 AND auditable_for_patient`,
		patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM access_audit
		WHERE patient_id = $1 AND auditable_for_patient
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collect(rows, total)
}

func (r *repoPG) ListByActor(ctx context.Context, actorID string, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM access_audit WHERE actor_id = $1`, actorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM access_audit
		WHERE actor_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, actorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collect(rows, total)
}

func collect(rows pgx.Rows, total int) ([]*Entry, int, error) {
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}
