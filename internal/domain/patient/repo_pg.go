package patient

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

const cols = `user_id, document_type, document_number, full_name, age, insurer_code, phone,
	registry_payload, clinical_registry_payload, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.DocumentType, &p.DocumentNumber, &p.FullName, &p.Age,
		&p.InsurerCode, &p.Phone, &p.RegistryPayload, &p.ClinicalRegistryPayload,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM patient_profile WHERE user_id = $1`, userID))
}

func (r *repoPG) FindInProfessionalClinics(ctx context.Context, professionalID, documentNumber string) (*Profile, *uuid.UUID, error) {
	var clinicID uuid.UUID
	var p Profile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.user_id, p.document_type, p.document_number, p.full_name, p.age, p.insurer_code, p.phone,
			p.registry_payload, p.clinical_registry_payload, p.created_at, p.updated_at, pm.clinic_id
		FROM patient_profile p
		JOIN clinic_member pm ON pm.user_id = p.user_id
		JOIN clinic_member prof ON prof.clinic_id = pm.clinic_id
		WHERE prof.user_id = $1 AND p.document_number = $2
		LIMIT 1`, professionalID, documentNumber).Scan(
		&p.UserID, &p.DocumentType, &p.DocumentNumber, &p.FullName, &p.Age,
		&p.InsurerCode, &p.Phone, &p.RegistryPayload, &p.ClinicalRegistryPayload,
		&p.CreatedAt, &p.UpdatedAt, &clinicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &p, &clinicID, nil
}

func (r *repoPG) FindByDocumentNumber(ctx context.Context, documentNumber string) (*Profile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM patient_profile WHERE document_number = $1 LIMIT 1`, documentNumber))
}

func (r *repoPG) FindByDocument(ctx context.Context, documentType, documentNumber string) (*Profile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM patient_profile WHERE document_type = $1 AND document_number = $2`,
		documentType, documentNumber))
}

func (r *repoPG) CreateProfile(ctx context.Context, p *Profile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_profile (user_id, document_type, document_number, full_name, age, insurer_code, phone, registry_payload, clinical_registry_payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.UserID, p.DocumentType, p.DocumentNumber, p.FullName, p.Age,
		p.InsurerCode, p.Phone, p.RegistryPayload, p.ClinicalRegistryPayload)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateDocument
	}
	return err
}

func (r *repoPG) UpdateProfile(ctx context.Context, p *Profile) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_profile
		SET full_name = $2, age = $3, insurer_code = $4, phone = $5,
			registry_payload = $6, clinical_registry_payload = $7, updated_at = now()
		WHERE user_id = $1`,
		p.UserID, p.FullName, p.Age, p.InsurerCode, p.Phone,
		p.RegistryPayload, p.ClinicalRegistryPayload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SharedClinic(ctx context.Context, professionalID, patientID string) (*uuid.UUID, error) {
	var clinicID uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT a.clinic_id FROM clinic_member a
		JOIN clinic_member b ON b.clinic_id = a.clinic_id
		WHERE a.user_id = $1 AND b.user_id = $2
		LIMIT 1`, professionalID, patientID).Scan(&clinicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &clinicID, nil
}

func (r *repoPG) UpsertContext(ctx context.Context, c *ProfessionalContext) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO professional_patient_context (professional_id, patient_id, clinic_id, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (professional_id)
		DO UPDATE SET patient_id = EXCLUDED.patient_id, clinic_id = EXCLUDED.clinic_id, updated_at = now()`,
		c.ProfessionalID, c.PatientID, c.ClinicID)
	return err
}

func (r *repoPG) GetContext(ctx context.Context, professionalID string) (*ProfessionalContext, error) {
	var c ProfessionalContext
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT professional_id, patient_id, clinic_id, updated_at
		FROM professional_patient_context WHERE professional_id = $1`,
		professionalID).Scan(&c.ProfessionalID, &c.PatientID, &c.ClinicID, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
