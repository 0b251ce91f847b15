package clinic

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("clinic not found")

// Member roles inside a clinic roster.
const (
	MemberPatient      = "patient"
	MemberProfessional = "professional"
	MemberAdmin        = "clinic_admin"
)

var validMemberRoles = map[string]bool{
	MemberPatient:      true,
	MemberProfessional: true,
	MemberAdmin:        true,
}

type Clinic struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	City      *string   `db:"city" json:"city,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Member struct {
	ClinicID uuid.UUID `db:"clinic_id" json:"clinic_id"`
	UserID   string    `db:"user_id" json:"user_id"`
	Role     string    `db:"role" json:"role"`
	// Email is set for professionals imported from a roster; it is the
	// address their account invite goes to.
	Email    *string   `db:"email" json:"email,omitempty"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// RowResult is the outcome of one bulk-upload row. Rows are processed in
// order and fail independently of each other.
type RowResult struct {
	Line   int    `json:"line"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	UserID string `json:"user_id,omitempty"`
	IsNew  bool   `json:"is_new,omitempty"`
}

const (
	RowSuccess = "success"
	RowError   = "error"
)

// BulkResult summarizes one roster upload.
type BulkResult struct {
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Rows      []RowResult `json:"rows"`
}
