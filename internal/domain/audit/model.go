package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Access types recorded by the portal. clinic_local covers a professional
// reaching a patient inside their own clinic; global_or_external covers
// cross-clinic and registry-backed resolutions and is what the patient-facing
// "who accessed my data" view is built from, together with the guest types.
const (
	AccessClinicLocal      = "clinic_local"
	AccessGlobalOrExternal = "global_or_external"
	AccessGuestView        = "guest_view"
	AccessGuestDownload    = "guest_download"
	AccessGuestChat        = "guest_chat"
)

// Entry maps to the access_audit table. Append-only; entries are never
// updated or deleted.
type Entry struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	ActorID             string          `db:"actor_id" json:"actor_id"`
	PatientID           string          `db:"patient_id" json:"patient_id"`
	ClinicID            *uuid.UUID      `db:"clinic_id" json:"clinic_id,omitempty"`
	AccessType          string          `db:"access_type" json:"access_type"`
	Detail              json.RawMessage `db:"detail" json:"detail,omitempty"`
	AuditableForPatient bool            `db:"auditable_for_patient" json:"auditable_for_patient"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

var validAccessTypes = map[string]bool{
	AccessClinicLocal:      true,
	AccessGlobalOrExternal: true,
	AccessGuestView:        true,
	AccessGuestDownload:    true,
	AccessGuestChat:        true,
}
