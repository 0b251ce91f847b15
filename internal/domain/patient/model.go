package patient

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Profile is a patient's identity record. One row per platform user with the
// patient role; document_type + document_number are unique across the platform.
type Profile struct {
	UserID                  string          `db:"user_id" json:"user_id"`
	DocumentType            string          `db:"document_type" json:"document_type"`
	DocumentNumber          string          `db:"document_number" json:"document_number"`
	FullName                string          `db:"full_name" json:"full_name"`
	Age                     *int            `db:"age" json:"age,omitempty"`
	InsurerCode             *string         `db:"insurer_code" json:"insurer_code,omitempty"`
	Phone                   *string         `db:"phone" json:"phone,omitempty"`
	RegistryPayload         json.RawMessage `db:"registry_payload" json:"registry_payload,omitempty"`
	ClinicalRegistryPayload json.RawMessage `db:"clinical_registry_payload" json:"clinical_registry_payload,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at" json:"updated_at"`
}

// ProfessionalContext is the single "currently selected patient" row kept per
// professional. Selecting a new patient overwrites it.
type ProfessionalContext struct {
	ProfessionalID string     `db:"professional_id" json:"professional_id"`
	PatientID      string     `db:"patient_id" json:"patient_id"`
	ClinicID       *uuid.UUID `db:"clinic_id" json:"clinic_id,omitempty"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Resolution levels of the cascade search.
const (
	LevelClinicLocal  = 1
	LevelPlatformWide = 2
	LevelExternal     = 3
	LevelNotFound     = 4
)

// Resolution is the outcome of a cascade search.
type Resolution struct {
	Level               int      `json:"level"`
	Profile             *Profile `json:"profile,omitempty"`
	IsNew               bool     `json:"is_new"`
	RequireDocumentType bool     `json:"require_document_type,omitempty"`
}
