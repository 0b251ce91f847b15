package audit

import "context"

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	// ListForPatient returns only entries flagged auditable_for_patient.
	ListForPatient(ctx context.Context, patientID string, limit, offset int) ([]*Entry, int, error)
	ListByActor(ctx context.Context, actorID string, limit, offset int) ([]*Entry, int, error)
}
