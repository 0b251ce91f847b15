package document

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("document not found")

type Repository interface {
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	// ListByPatient returns all of the patient's documents newest first,
	// rejected rows included so the owner can see what was discarded.
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Document, int, error)
	// ListReady returns only status=ready rows.
	ListReady(ctx context.Context, patientID string) ([]*Document, error)
	// Recent returns the n most recently uploaded ready documents.
	Recent(ctx context.Context, patientID string, n int) ([]*Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
}
