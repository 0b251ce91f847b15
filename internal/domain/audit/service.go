package audit

import (
	"context"
	"fmt"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record appends one audit entry. Entries are immutable once written.
func (s *Service) Record(ctx context.Context, e *Entry) error {
	if e.ActorID == "" {
		return fmt.Errorf("actor_id is required")
	}
	if e.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if !validAccessTypes[e.AccessType] {
		return fmt.Errorf("invalid access_type: %s", e.AccessType)
	}
	return s.repo.Create(ctx, e)
}

// ListForPatient returns the accesses a patient is entitled to see: those
// flagged auditable_for_patient at write time.
func (s *Service) ListForPatient(ctx context.Context, patientID string, limit, offset int) ([]*Entry, int, error) {
	return s.repo.ListForPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByActor(ctx context.Context, actorID string, limit, offset int) ([]*Entry, int, error) {
	return s.repo.ListByActor(ctx, actorID, limit, offset)
}
