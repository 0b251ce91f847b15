package clinic

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Clinic) error
	GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	List(ctx context.Context, limit, offset int) ([]*Clinic, int, error)

	// AddMember is idempotent: re-adding an existing member updates the role.
	AddMember(ctx context.Context, m *Member) error
	// FindMemberByEmail matches roster-imported professionals on re-upload.
	FindMemberByEmail(ctx context.Context, clinicID uuid.UUID, email string) (*Member, error)
	ListMembers(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Member, int, error)
	IsMember(ctx context.Context, clinicID uuid.UUID, userID string) (bool, error)
	RemoveMember(ctx context.Context, clinicID uuid.UUID, userID string) error
}
