// Package registry holds the clients for the two external national lookup
// services: Topus, which resolves a document type+number to demographic and
// insurance identity data, and RETHUS/HiSmart, which returns the clinical
// practice registry payload used to enrich a profile.
//
// Both registries return loosely-specified JSON. Every payload field is a
// pointer so absent and empty values stay distinguishable, and accessors
// compose the fields with nil checks instead of deep-pathing into raw maps.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotFound is returned when a registry answered but holds no identity for
// the requested document.
var ErrNotFound = errors.New("registry: identity not found")

// ErrUnavailable wraps transport-level and non-2xx failures. Callers that
// treat "registry down" and "not found" the same (the resolver does) can
// match either error.
var ErrUnavailable = errors.New("registry: service unavailable")

// DocumentTypes is the closed set of identity document types accepted
// platform-wide.
var DocumentTypes = []string{"CC", "TI", "CE", "PA", "RC", "NU", "CD", "CN", "SC", "PE", "PT"}

// ValidDocumentType reports whether t is one of the accepted document types.
// Matching is case-insensitive; callers should store the upper-cased form.
func ValidDocumentType(t string) bool {
	t = strings.ToUpper(strings.TrimSpace(t))
	for _, d := range DocumentTypes {
		if d == t {
			return true
		}
	}
	return false
}

// Identity is the typed view over a Topus response. All fields are optional;
// the registry omits what it does not know.
type Identity struct {
	DocumentType   *string `json:"tipo_documento"`
	DocumentNumber *string `json:"documento"`
	FirstName      *string `json:"nombre"`
	SecondName     *string `json:"s_nombre"`
	FirstSurname   *string `json:"apellido"`
	SecondSurname  *string `json:"s_apellido"`
	Age            *int    `json:"edad"`
	InsurerCode    *string `json:"codigo_eps"`
	InsurerName    *string `json:"nombre_eps"`

	// Raw preserves the registry response verbatim for the profile's
	// open-ended payload blob.
	Raw json.RawMessage `json:"-"`
}

// FullName assembles the display name from whichever name parts are present.
func (id *Identity) FullName() string {
	parts := make([]string, 0, 4)
	for _, p := range []*string{id.FirstName, id.SecondName, id.FirstSurname, id.SecondSurname} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	return strings.Join(parts, " ")
}

// Valid reports whether the payload carries enough identity to create a
// profile: a document number and at least one name part.
func (id *Identity) Valid() bool {
	if id == nil || id.DocumentNumber == nil || strings.TrimSpace(*id.DocumentNumber) == "" {
		return false
	}
	return id.FullName() != ""
}

// IdentityClient resolves a typed document to demographic identity data.
type IdentityClient interface {
	Lookup(ctx context.Context, documentType, documentNumber string) (*Identity, error)
}

// ClinicalRecord is the typed view over a RETHUS/HiSmart response.
type ClinicalRecord struct {
	DocumentNumber *string  `json:"documento"`
	Professions    []string `json:"profesiones"`
	Status         *string  `json:"estado"`

	Raw json.RawMessage `json:"-"`
}

// ClinicalClient fetches the clinical registry payload for a document.
type ClinicalClient interface {
	Fetch(ctx context.Context, documentType, documentNumber string) (*ClinicalRecord, error)
}
