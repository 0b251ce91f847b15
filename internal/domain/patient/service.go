package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vitalia/portal/internal/domain/audit"
	"github.com/vitalia/portal/internal/platform/registry"
)

// AuditLog appends access entries for cross-clinic visibility.
type AuditLog interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// TxRunner executes fn inside one database transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Service struct {
	repo     Repository
	identity registry.IdentityClient
	clinical registry.ClinicalClient
	audits   AuditLog
	inTx     TxRunner
}

func NewService(repo Repository, identity registry.IdentityClient, clinical registry.ClinicalClient, audits AuditLog, inTx TxRunner) *Service {
	if inTx == nil {
		inTx = passthroughTx
	}
	return &Service{repo: repo, identity: identity, clinical: clinical, audits: audits, inTx: inTx}
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}

// Resolve runs the cascade search for a professional. Levels are tried
// strictly in order; the narrowest match wins even when a broader one would
// also succeed, so cross-clinic audit exposure and external calls stay
// minimal. Registry failures are downgraded to a not-found outcome: the
// professional always gets a definitive answer.
func (s *Service) Resolve(ctx context.Context, professionalID, documentNumber, documentType string) (*Resolution, error) {
	documentNumber = strings.TrimSpace(documentNumber)
	if documentNumber == "" {
		return nil, fmt.Errorf("document number is required")
	}

	// Level 1: the professional's own clinics.
	p, _, err := s.repo.FindInProfessionalClinics(ctx, professionalID, documentNumber)
	if err == nil {
		return &Resolution{Level: LevelClinicLocal, Profile: p}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Level 2: platform-wide, number alone.
	p, err = s.repo.FindByDocumentNumber(ctx, documentNumber)
	if err == nil {
		return &Resolution{Level: LevelPlatformWide, Profile: p}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Level 3 needs a typed identity; ask for the type before touching the
	// registry.
	documentType = strings.ToUpper(strings.TrimSpace(documentType))
	if documentType == "" {
		return &Resolution{Level: LevelExternal, RequireDocumentType: true}, nil
	}
	if !registry.ValidDocumentType(documentType) {
		return nil, fmt.Errorf("unsupported document type: %s", documentType)
	}

	id, err := s.identity.Lookup(ctx, documentType, documentNumber)
	if err != nil || !id.Valid() {
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			log.Warn().Err(err).Str("document_type", documentType).
				Msg("identity registry lookup failed, treating as not found")
		}
		return &Resolution{Level: LevelNotFound}, nil
	}

	// The registry knows this person. Attach to an existing typed profile if
	// one exists, otherwise create one from the registry payload.
	if p, err = s.repo.FindByDocument(ctx, documentType, documentNumber); err == nil {
		return &Resolution{Level: LevelPlatformWide, Profile: p}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created := profileFromIdentity(documentType, documentNumber, id)
	if err := s.repo.CreateProfile(ctx, created); err != nil {
		if errors.Is(err, ErrDuplicateDocument) {
			// Lost a creation race; whoever won holds the profile now.
			if p, err = s.repo.FindByDocument(ctx, documentType, documentNumber); err == nil {
				return &Resolution{Level: LevelPlatformWide, Profile: p}, nil
			}
		}
		return nil, fmt.Errorf("create profile from registry: %w", err)
	}
	return &Resolution{Level: LevelExternal, Profile: created, IsNew: true}, nil
}

func profileFromIdentity(documentType, documentNumber string, id *registry.Identity) *Profile {
	p := &Profile{
		UserID:          uuid.NewString(),
		DocumentType:    documentType,
		DocumentNumber:  documentNumber,
		FullName:        id.FullName(),
		Age:             id.Age,
		InsurerCode:     id.InsurerCode,
		RegistryPayload: id.Raw,
	}
	return p
}

// Select makes patientID the professional's current patient. The context row
// is overwritten and an access entry is appended in the same transaction;
// whether the access counts as clinic-local is re-derived here rather than
// trusted from the caller.
func (s *Service) Select(ctx context.Context, professionalID, patientID string) (*ProfessionalContext, error) {
	if _, err := s.repo.GetProfile(ctx, patientID); err != nil {
		return nil, err
	}
	clinicID, err := s.repo.SharedClinic(ctx, professionalID, patientID)
	if err != nil {
		return nil, err
	}

	pc := &ProfessionalContext{
		ProfessionalID: professionalID,
		PatientID:      patientID,
		ClinicID:       clinicID,
	}
	accessType := audit.AccessClinicLocal
	auditable := false
	if clinicID == nil {
		accessType = audit.AccessGlobalOrExternal
		auditable = true
	}
	detail, _ := json.Marshal(map[string]string{"operation": "patient_select"})

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpsertContext(ctx, pc); err != nil {
			return err
		}
		return s.audits.Record(ctx, &audit.Entry{
			ActorID:             professionalID,
			PatientID:           patientID,
			ClinicID:            clinicID,
			AccessType:          accessType,
			Detail:              detail,
			AuditableForPatient: auditable,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("select patient: %w", err)
	}
	return pc, nil
}

// CurrentContext returns the professional's selected patient, if any.
func (s *Service) CurrentContext(ctx context.Context, professionalID string) (*ProfessionalContext, error) {
	return s.repo.GetContext(ctx, professionalID)
}

// EnrichClinical refreshes the profile's clinical registry payload from
// RETHUS. A registry failure leaves the profile unchanged.
func (s *Service) EnrichClinical(ctx context.Context, patientID string) (*Profile, error) {
	p, err := s.repo.GetProfile(ctx, patientID)
	if err != nil {
		return nil, err
	}
	rec, err := s.clinical.Fetch(ctx, p.DocumentType, p.DocumentNumber)
	if err != nil {
		return nil, fmt.Errorf("clinical registry: %w", err)
	}
	p.ClinicalRegistryPayload = rec.Raw
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateContact edits the patient-editable contact fields.
func (s *Service) UpdateContact(ctx context.Context, userID string, phone *string) (*Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Phone = phone
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
