package document

import (
	"time"

	"github.com/google/uuid"
)

// Document lifecycle states. An upload starts in processing; identity
// verification either promotes it to ready or marks it rejected.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusRejected   = "rejected"
)

var validStatuses = map[string]bool{
	StatusProcessing: true,
	StatusReady:      true,
	StatusRejected:   true,
}

// Document is the metadata row for one clinical document. The binary payload
// lives in the blobstore under StorageKey.
type Document struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   string    `db:"patient_id" json:"patient_id"`
	Title       string    `db:"title" json:"title"`
	Category    string    `db:"category" json:"category,omitempty"`
	Status      string    `db:"status" json:"status"`
	StorageKey  string    `db:"storage_key" json:"-"`
	URL         string    `db:"-" json:"url,omitempty"`
	Summary     *string   `db:"summary" json:"summary,omitempty"`
	ContentText *string   `db:"content_text" json:"-"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploaded_at"`
}
