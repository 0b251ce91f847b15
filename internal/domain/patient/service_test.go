package patient

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/vitalia/portal/internal/domain/audit"
	"github.com/vitalia/portal/internal/platform/registry"
)

type mockRepo struct {
	profiles map[string]*Profile            // by user id
	clinics  map[string][]string            // clinic id -> member user ids
	contexts map[string]*ProfessionalContext
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		profiles: make(map[string]*Profile),
		clinics:  make(map[string][]string),
		contexts: make(map[string]*ProfessionalContext),
	}
}

func (m *mockRepo) addMember(clinicID, userID string) {
	m.clinics[clinicID] = append(m.clinics[clinicID], userID)
}

func (m *mockRepo) GetProfile(_ context.Context, userID string) (*Profile, error) {
	if p, ok := m.profiles[userID]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) FindInProfessionalClinics(_ context.Context, professionalID, documentNumber string) (*Profile, *uuid.UUID, error) {
	for clinicID, members := range m.clinics {
		if !contains(members, professionalID) {
			continue
		}
		for _, uid := range members {
			if p, ok := m.profiles[uid]; ok && p.DocumentNumber == documentNumber {
				cid := uuid.MustParse(clinicID)
				return p, &cid, nil
			}
		}
	}
	return nil, nil, ErrNotFound
}

func (m *mockRepo) FindByDocumentNumber(_ context.Context, documentNumber string) (*Profile, error) {
	for _, p := range m.profiles {
		if p.DocumentNumber == documentNumber {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) FindByDocument(_ context.Context, documentType, documentNumber string) (*Profile, error) {
	for _, p := range m.profiles {
		if p.DocumentType == documentType && p.DocumentNumber == documentNumber {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) CreateProfile(_ context.Context, p *Profile) error {
	for _, existing := range m.profiles {
		if existing.DocumentType == p.DocumentType && existing.DocumentNumber == p.DocumentNumber {
			return ErrDuplicateDocument
		}
	}
	m.profiles[p.UserID] = p
	return nil
}

func (m *mockRepo) UpdateProfile(_ context.Context, p *Profile) error {
	if _, ok := m.profiles[p.UserID]; !ok {
		return ErrNotFound
	}
	m.profiles[p.UserID] = p
	return nil
}

func (m *mockRepo) SharedClinic(_ context.Context, professionalID, patientID string) (*uuid.UUID, error) {
	for clinicID, members := range m.clinics {
		if contains(members, professionalID) && contains(members, patientID) {
			cid := uuid.MustParse(clinicID)
			return &cid, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) UpsertContext(_ context.Context, c *ProfessionalContext) error {
	m.contexts[c.ProfessionalID] = c
	return nil
}

func (m *mockRepo) GetContext(_ context.Context, professionalID string) (*ProfessionalContext, error) {
	if c, ok := m.contexts[professionalID]; ok {
		return c, nil
	}
	return nil, ErrNotFound
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeIdentity struct {
	identity *registry.Identity
	err      error
	called   bool
}

func (f *fakeIdentity) Lookup(_ context.Context, _, _ string) (*registry.Identity, error) {
	f.called = true
	return f.identity, f.err
}

type fakeClinical struct {
	record *registry.ClinicalRecord
	err    error
}

func (f *fakeClinical) Fetch(_ context.Context, _, _ string) (*registry.ClinicalRecord, error) {
	return f.record, f.err
}

type recordingAudit struct {
	entries []*audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, e *audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

func str(s string) *string { return &s }

func knownIdentity() *registry.Identity {
	return &registry.Identity{
		DocumentNumber: str("123"),
		FirstName:      str("Carlos"),
		FirstSurname:   str("Mendoza"),
	}
}

const (
	clinicC1 = "5e0fc83d-45c2-4a41-9d4e-0a63228f44b1"
	clinicC2 = "b1a4c9b4-20f5-41d9-a7c4-6a3f5f2de9c7"
)

func TestResolvePrefersClinicLocal(t *testing.T) {
	repo := newMockRepo()
	repo.profiles["pat-1"] = &Profile{UserID: "pat-1", DocumentType: "CC", DocumentNumber: "123"}
	repo.addMember(clinicC1, "prof-1")
	repo.addMember(clinicC1, "pat-1")

	ident := &fakeIdentity{}
	svc := NewService(repo, ident, &fakeClinical{}, &recordingAudit{}, nil)

	res, err := svc.Resolve(context.Background(), "prof-1", "123", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Level != LevelClinicLocal {
		t.Errorf("level = %d, want %d", res.Level, LevelClinicLocal)
	}
	if res.Profile == nil || res.Profile.UserID != "pat-1" {
		t.Errorf("profile = %+v", res.Profile)
	}
	if ident.called {
		t.Error("registry called for a local match")
	}
}

func TestResolvePlatformWideWhenNotLocal(t *testing.T) {
	// Professional in C1 only; the patient is linked to C2.
	repo := newMockRepo()
	repo.profiles["pat-1"] = &Profile{UserID: "pat-1", DocumentType: "CC", DocumentNumber: "123"}
	repo.addMember(clinicC1, "prof-1")
	repo.addMember(clinicC2, "pat-1")

	svc := NewService(repo, &fakeIdentity{}, &fakeClinical{}, &recordingAudit{}, nil)

	res, err := svc.Resolve(context.Background(), "prof-1", "123", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Level != LevelPlatformWide {
		t.Errorf("level = %d, want %d", res.Level, LevelPlatformWide)
	}
	if res.RequireDocumentType {
		t.Error("platform-wide match must not ask for a document type")
	}
}

func TestResolveRequiresDocumentTypeBeforeRegistry(t *testing.T) {
	repo := newMockRepo()
	ident := &fakeIdentity{identity: knownIdentity()}
	svc := NewService(repo, ident, &fakeClinical{}, &recordingAudit{}, nil)

	res, err := svc.Resolve(context.Background(), "prof-1", "999", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.RequireDocumentType {
		t.Error("expected require_document_type")
	}
	if ident.called {
		t.Error("registry must not be called without a document type")
	}
}

func TestResolveCreatesFromRegistry(t *testing.T) {
	repo := newMockRepo()
	ident := &fakeIdentity{identity: knownIdentity()}
	svc := NewService(repo, ident, &fakeClinical{}, &recordingAudit{}, nil)

	res, err := svc.Resolve(context.Background(), "prof-1", "123", "cc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Level != LevelExternal || !res.IsNew {
		t.Fatalf("level = %d, is_new = %v, want level 3 new", res.Level, res.IsNew)
	}
	if res.Profile.DocumentType != "CC" {
		t.Errorf("document type = %q, want upper-cased CC", res.Profile.DocumentType)
	}
	if res.Profile.FullName != "Carlos Mendoza" {
		t.Errorf("full name = %q", res.Profile.FullName)
	}
	if _, ok := repo.profiles[res.Profile.UserID]; !ok {
		t.Error("created profile not persisted")
	}
}

// racingRepo reports a duplicate on insert and plants the winner's row, the
// way a concurrent level-3 creation by another professional would.
type racingRepo struct {
	*mockRepo
	winner *Profile
}

func (r *racingRepo) CreateProfile(_ context.Context, _ *Profile) error {
	r.profiles[r.winner.UserID] = r.winner
	return ErrDuplicateDocument
}

func (r *racingRepo) FindByDocumentNumber(_ context.Context, _ string) (*Profile, error) {
	// Keep the cascade going past level 2 so the insert race is reached.
	return nil, ErrNotFound
}

func TestResolveCreationRaceFallsBackToFound(t *testing.T) {
	winner := &Profile{UserID: "winner", DocumentType: "CC", DocumentNumber: "123"}
	repo := &racingRepo{mockRepo: newMockRepo(), winner: winner}
	ident := &fakeIdentity{identity: knownIdentity()}
	svc := NewService(repo, ident, &fakeClinical{}, &recordingAudit{}, nil)

	res, err := svc.Resolve(context.Background(), "prof-1", "123", "CC")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Level != LevelPlatformWide || res.IsNew {
		t.Errorf("level = %d, is_new = %v, want found/level 2 semantics", res.Level, res.IsNew)
	}
	if res.Profile == nil || res.Profile.UserID != "winner" {
		t.Errorf("profile = %+v, want the race winner's row", res.Profile)
	}
}

func TestResolveUnsupportedDocumentType(t *testing.T) {
	svc := NewService(newMockRepo(), &fakeIdentity{}, &fakeClinical{}, &recordingAudit{}, nil)
	if _, err := svc.Resolve(context.Background(), "prof-1", "999", "XX"); err == nil {
		t.Error("expected error for unsupported document type")
	}
}

func TestResolveRegistryFailureIsNotFound(t *testing.T) {
	for _, regErr := range []error{registry.ErrNotFound, registry.ErrUnavailable, errors.New("timeout")} {
		svc := NewService(newMockRepo(), &fakeIdentity{err: regErr}, &fakeClinical{}, &recordingAudit{}, nil)
		res, err := svc.Resolve(context.Background(), "prof-1", "999", "CC")
		if err != nil {
			t.Fatalf("registry error %v propagated: %v", regErr, err)
		}
		if res.Level != LevelNotFound {
			t.Errorf("registry error %v: level = %d, want %d", regErr, res.Level, LevelNotFound)
		}
	}
}

func TestSelectWritesContextAndAudit(t *testing.T) {
	repo := newMockRepo()
	repo.profiles["pat-1"] = &Profile{UserID: "pat-1", DocumentType: "CC", DocumentNumber: "123"}
	repo.addMember(clinicC1, "prof-1")
	repo.addMember(clinicC2, "pat-1")
	audits := &recordingAudit{}
	svc := NewService(repo, &fakeIdentity{}, &fakeClinical{}, audits, nil)

	pc, err := svc.Select(context.Background(), "prof-1", "pat-1")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if pc.ClinicID != nil {
		t.Error("no shared clinic, clinic id must be nil")
	}
	if got := repo.contexts["prof-1"]; got == nil || got.PatientID != "pat-1" {
		t.Errorf("context = %+v", got)
	}
	if len(audits.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audits.entries))
	}
	e := audits.entries[0]
	if e.AccessType != audit.AccessGlobalOrExternal || !e.AuditableForPatient {
		t.Errorf("cross-clinic select: access_type = %q auditable = %v", e.AccessType, e.AuditableForPatient)
	}

	// Same clinic: local access, not patient-auditable.
	repo.addMember(clinicC1, "pat-1")
	if _, err := svc.Select(context.Background(), "prof-1", "pat-1"); err != nil {
		t.Fatalf("Select local: %v", err)
	}
	e = audits.entries[1]
	if e.AccessType != audit.AccessClinicLocal || e.AuditableForPatient {
		t.Errorf("local select: access_type = %q auditable = %v", e.AccessType, e.AuditableForPatient)
	}
}

func TestEnrichClinical(t *testing.T) {
	repo := newMockRepo()
	repo.profiles["pat-1"] = &Profile{UserID: "pat-1", DocumentType: "CC", DocumentNumber: "123"}
	clin := &fakeClinical{record: &registry.ClinicalRecord{Raw: []byte(`{"estado":"ACTIVO"}`)}}
	svc := NewService(repo, &fakeIdentity{}, clin, &recordingAudit{}, nil)

	p, err := svc.EnrichClinical(context.Background(), "pat-1")
	if err != nil {
		t.Fatalf("EnrichClinical: %v", err)
	}
	if string(p.ClinicalRegistryPayload) != `{"estado":"ACTIVO"}` {
		t.Errorf("payload = %s", p.ClinicalRegistryPayload)
	}

	clin.err = registry.ErrUnavailable
	if _, err := svc.EnrichClinical(context.Background(), "pat-1"); err == nil {
		t.Error("expected error when clinical registry is down")
	}
}
