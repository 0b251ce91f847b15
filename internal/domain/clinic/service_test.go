package clinic

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/vitalia/portal/internal/domain/patient"
)

type mockRepo struct {
	clinics map[uuid.UUID]*Clinic
	members map[uuid.UUID][]*Member
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		clinics: make(map[uuid.UUID]*Clinic),
		members: make(map[uuid.UUID][]*Member),
	}
}

func (m *mockRepo) Create(_ context.Context, c *Clinic) error {
	c.ID = uuid.New()
	m.clinics[c.ID] = c
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	if c, ok := m.clinics[id]; ok {
		return c, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) List(_ context.Context, _, _ int) ([]*Clinic, int, error) {
	var out []*Clinic
	for _, c := range m.clinics {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *mockRepo) AddMember(_ context.Context, mem *Member) error {
	for _, existing := range m.members[mem.ClinicID] {
		if existing.UserID == mem.UserID {
			existing.Role = mem.Role
			return nil
		}
	}
	m.members[mem.ClinicID] = append(m.members[mem.ClinicID], mem)
	return nil
}

func (m *mockRepo) FindMemberByEmail(_ context.Context, clinicID uuid.UUID, email string) (*Member, error) {
	for _, mem := range m.members[clinicID] {
		if mem.Email != nil && *mem.Email == email {
			return mem, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListMembers(_ context.Context, clinicID uuid.UUID, _, _ int) ([]*Member, int, error) {
	list := m.members[clinicID]
	return list, len(list), nil
}

func (m *mockRepo) IsMember(_ context.Context, clinicID uuid.UUID, userID string) (bool, error) {
	for _, mem := range m.members[clinicID] {
		if mem.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) RemoveMember(_ context.Context, clinicID uuid.UUID, userID string) error {
	list := m.members[clinicID]
	for i, mem := range list {
		if mem.UserID == userID {
			m.members[clinicID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

type mockDirectory struct {
	profiles map[string]*patient.Profile // by type+number
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{profiles: make(map[string]*patient.Profile)}
}

func (m *mockDirectory) FindByDocument(_ context.Context, documentType, documentNumber string) (*patient.Profile, error) {
	if p, ok := m.profiles[documentType+":"+documentNumber]; ok {
		return p, nil
	}
	return nil, patient.ErrNotFound
}

func (m *mockDirectory) CreateProfile(_ context.Context, p *patient.Profile) error {
	m.profiles[p.DocumentType+":"+p.DocumentNumber] = p
	return nil
}

func setup(t *testing.T) (*Service, *mockRepo, *mockDirectory, uuid.UUID) {
	t.Helper()
	repo := newMockRepo()
	dir := newMockDirectory()
	svc := NewService(repo, dir)
	cl, err := svc.Create(context.Background(), "Clínica del Norte", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return svc, repo, dir, cl.ID
}

func TestParseRosterLine(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
		email   string
		name    string
	}{
		{"CC 123456 Ana María Rojas", false, "", "Ana María Rojas"},
		{"TI,98765,Juan Pérez", false, "", "Juan Pérez"},
		{"cc 123 Nombre", false, "", "Nombre"},
		{"CC 555 maria@clinica.co María Gómez", false, "maria@clinica.co", "María Gómez"},
		{"CE,777,pedro@clinica.co", false, "pedro@clinica.co", ""},
		{"XX 123 Nombre", true, "", ""},
		{"CC 123", true, "", ""},
		{"", true, "", ""},
	}
	for _, tc := range cases {
		row, err := parseRosterLine(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}
		if row.email != tc.email {
			t.Errorf("%q: email = %q, want %q", tc.in, row.email, tc.email)
		}
		if row.fullName != tc.name {
			t.Errorf("%q: name = %q, want %q", tc.in, row.fullName, tc.name)
		}
	}
}

func TestBulkUploadRowIsolation(t *testing.T) {
	svc, repo, _, clinicID := setup(t)

	roster := strings.Join([]string{
		"CC 111 Primera Persona",
		"XX 222 Tipo Invalido",
		"TI 333 Tercera Persona",
		"",
		"# comentario",
		"PT 444 Cuarta Persona",
	}, "\n")

	res, err := svc.BulkUpload(context.Background(), clinicID, strings.NewReader(roster))
	if err != nil {
		t.Fatalf("BulkUpload: %v", err)
	}

	if res.Total != 4 || len(res.Rows) != 4 {
		t.Fatalf("total = %d rows = %d, want 4/4", res.Total, len(res.Rows))
	}
	if res.Succeeded != 3 || res.Failed != 1 {
		t.Errorf("succeeded = %d failed = %d, want 3/1", res.Succeeded, res.Failed)
	}
	if res.Rows[1].Status != RowError || !strings.Contains(res.Rows[1].Error, "XX") {
		t.Errorf("row 2 = %+v, want unsupported-type error", res.Rows[1])
	}
	// Rows after the bad one were still processed.
	if res.Rows[2].Status != RowSuccess || res.Rows[3].Status != RowSuccess {
		t.Errorf("rows after failure not processed: %+v", res.Rows)
	}

	members, _, _ := repo.ListMembers(context.Background(), clinicID, 100, 0)
	if len(members) != 3 {
		t.Errorf("members = %d, want 3", len(members))
	}
}

func TestBulkUploadReusesExistingProfile(t *testing.T) {
	svc, _, dir, clinicID := setup(t)
	existing := &patient.Profile{UserID: "known-user", DocumentType: "CC", DocumentNumber: "111"}
	dir.profiles["CC:111"] = existing

	res, err := svc.BulkUpload(context.Background(), clinicID, strings.NewReader("CC 111 Ana Rojas"))
	if err != nil {
		t.Fatalf("BulkUpload: %v", err)
	}
	row := res.Rows[0]
	if row.UserID != "known-user" || row.IsNew {
		t.Errorf("row = %+v, want existing profile reused", row)
	}
}

func TestBulkUploadProfessionalRows(t *testing.T) {
	svc, repo, dir, clinicID := setup(t)

	roster := strings.Join([]string{
		"CC 111 Paciente Uno",
		"CC 555 maria@clinica.co María Gómez",
		"XX 666 otro@clinica.co",
	}, "\n")

	res, err := svc.BulkUpload(context.Background(), clinicID, strings.NewReader(roster))
	if err != nil {
		t.Fatalf("BulkUpload: %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("succeeded = %d failed = %d, want 2/1", res.Succeeded, res.Failed)
	}

	members, _, _ := repo.ListMembers(context.Background(), clinicID, 100, 0)
	var pro *Member
	for _, m := range members {
		if m.Role == MemberProfessional {
			pro = m
		}
	}
	if pro == nil {
		t.Fatal("professional row did not produce a professional member")
	}
	if pro.Email == nil || *pro.Email != "maria@clinica.co" {
		t.Errorf("professional email = %v, want maria@clinica.co", pro.Email)
	}
	if pro.UserID == "" {
		t.Error("professional member has no user id")
	}
	// Professionals never enter the patient directory.
	if _, err := dir.FindByDocument(context.Background(), "CC", "555"); err == nil {
		t.Error("professional row created a patient profile")
	}
}

func TestBulkUploadProfessionalReuploadKeepsUserID(t *testing.T) {
	svc, _, _, clinicID := setup(t)
	line := "CC 555 maria@clinica.co María Gómez"

	first, err := svc.BulkUpload(context.Background(), clinicID, strings.NewReader(line))
	if err != nil {
		t.Fatalf("BulkUpload: %v", err)
	}
	second, err := svc.BulkUpload(context.Background(), clinicID, strings.NewReader(line))
	if err != nil {
		t.Fatalf("BulkUpload: %v", err)
	}

	if !first.Rows[0].IsNew || second.Rows[0].IsNew {
		t.Errorf("is_new = %v/%v, want true/false", first.Rows[0].IsNew, second.Rows[0].IsNew)
	}
	if first.Rows[0].UserID != second.Rows[0].UserID {
		t.Errorf("re-upload minted a new user id: %q vs %q",
			first.Rows[0].UserID, second.Rows[0].UserID)
	}
}

func TestBulkUploadUnknownClinic(t *testing.T) {
	svc, _, _, _ := setup(t)
	if _, err := svc.BulkUpload(context.Background(), uuid.New(), strings.NewReader("CC 1 N")); err == nil {
		t.Error("expected error for unknown clinic")
	}
}

func TestAddMemberValidatesRole(t *testing.T) {
	svc, _, _, clinicID := setup(t)
	if err := svc.AddMember(context.Background(), clinicID, "u1", "superuser"); err == nil {
		t.Error("expected error for invalid role")
	}
	if err := svc.AddMember(context.Background(), clinicID, "u1", MemberProfessional); err != nil {
		t.Errorf("AddMember: %v", err)
	}
}
