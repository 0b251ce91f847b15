package grant

import "context"

type Repository interface {
	Create(ctx context.Context, g *AccessGrant) error
	GetByToken(ctx context.Context, token string) (*AccessGrant, error)
	// ListByPatient returns the patient's grants newest first, revoked rows
	// excluded.
	ListByPatient(ctx context.Context, patientID string) ([]*AccessGrant, error)
	// IncrementAccess adds one to the access counter and returns the new
	// value. The increment happens in the database so concurrent validations
	// never lose updates.
	IncrementAccess(ctx context.Context, token string) (int, error)
	Revoke(ctx context.Context, token string) error
}
