package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("patient not found")

// ErrDuplicateDocument is returned by CreateProfile when another profile
// already holds the same document type+number pair.
var ErrDuplicateDocument = errors.New("document already registered")

type Repository interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	// FindInProfessionalClinics matches a document number against patients
	// linked to any clinic the professional belongs to. Returns the matched
	// profile and the shared clinic.
	FindInProfessionalClinics(ctx context.Context, professionalID, documentNumber string) (*Profile, *uuid.UUID, error)
	// FindByDocumentNumber matches platform-wide on number alone.
	FindByDocumentNumber(ctx context.Context, documentNumber string) (*Profile, error)
	// FindByDocument matches on the typed pair.
	FindByDocument(ctx context.Context, documentType, documentNumber string) (*Profile, error)
	// CreateProfile inserts a new profile; a unique-index collision on the
	// document pair surfaces as ErrDuplicateDocument.
	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfile(ctx context.Context, p *Profile) error
	// SharedClinic returns a clinic both users belong to, or nil.
	SharedClinic(ctx context.Context, professionalID, patientID string) (*uuid.UUID, error)
	UpsertContext(ctx context.Context, c *ProfessionalContext) error
	GetContext(ctx context.Context, professionalID string) (*ProfessionalContext, error)
}
