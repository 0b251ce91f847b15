package clinic

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vitalia/portal/internal/domain/patient"
	"github.com/vitalia/portal/internal/platform/registry"
)

// ProfileDirectory resolves and creates patient profiles during roster
// uploads.
type ProfileDirectory interface {
	FindByDocument(ctx context.Context, documentType, documentNumber string) (*patient.Profile, error)
	CreateProfile(ctx context.Context, p *patient.Profile) error
}

type Service struct {
	repo     Repository
	profiles ProfileDirectory
}

func NewService(repo Repository, profiles ProfileDirectory) *Service {
	return &Service{repo: repo, profiles: profiles}
}

func (s *Service) Create(ctx context.Context, name string, city *string) (*Clinic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("clinic name is required")
	}
	c := &Clinic{Name: name, City: city}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create clinic: %w", err)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) AddMember(ctx context.Context, clinicID uuid.UUID, userID, role string) error {
	if !validMemberRoles[role] {
		return fmt.Errorf("invalid member role: %s", role)
	}
	if _, err := s.repo.GetByID(ctx, clinicID); err != nil {
		return err
	}
	return s.repo.AddMember(ctx, &Member{ClinicID: clinicID, UserID: userID, Role: role})
}

func (s *Service) ListMembers(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Member, int, error) {
	return s.repo.ListMembers(ctx, clinicID, limit, offset)
}

func (s *Service) RemoveMember(ctx context.Context, clinicID uuid.UUID, userID string) error {
	return s.repo.RemoveMember(ctx, clinicID, userID)
}

// rosterRow is one parsed bulk-upload record. A non-empty email marks a
// professional record; everything else is a patient.
type rosterRow struct {
	documentType   string
	documentNumber string
	email          string
	fullName       string
}

// parseRosterLine accepts comma- or whitespace-delimited records. Patients
// carry type, number and name; professionals carry an email as the third
// field, then the optional name:
//
//	CC 123456 Ana María Rojas
//	TI,98765,Juan Pérez
//	CC 555 maria@clinica.co María Gómez
//
// The name is everything after the fixed fields.
func parseRosterLine(line string) (rosterRow, error) {
	var fields []string
	if strings.Contains(line, ",") {
		for _, f := range strings.Split(line, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	} else {
		fields = strings.Fields(line)
	}
	if len(fields) < 3 {
		return rosterRow{}, fmt.Errorf("expected document type, number and name or email")
	}
	row := rosterRow{
		documentType:   strings.ToUpper(fields[0]),
		documentNumber: fields[1],
	}
	if strings.Contains(fields[2], "@") {
		row.email = fields[2]
		row.fullName = strings.Join(fields[3:], " ")
	} else {
		row.fullName = strings.Join(fields[2:], " ")
	}
	if !registry.ValidDocumentType(row.documentType) {
		return rosterRow{}, fmt.Errorf("unsupported document type: %s", row.documentType)
	}
	return row, nil
}

// BulkUpload imports a roster of patients and professionals. Rows are
// processed strictly in order; a bad row is reported and skipped, never
// aborting the batch. The result always contains one entry per non-empty
// input line.
func (s *Service) BulkUpload(ctx context.Context, clinicID uuid.UUID, r io.Reader) (*BulkResult, error) {
	if _, err := s.repo.GetByID(ctx, clinicID); err != nil {
		return nil, err
	}

	result := &BulkResult{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result.Total++
		out := s.importRow(ctx, clinicID, lineNo, line)
		if out.Status == RowSuccess {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Rows = append(result.Rows, out)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	log.Info().Str("clinic_id", clinicID.String()).
		Int("succeeded", result.Succeeded).Int("failed", result.Failed).
		Msg("roster upload finished")
	return result, nil
}

func (s *Service) importRow(ctx context.Context, clinicID uuid.UUID, lineNo int, line string) RowResult {
	row, err := parseRosterLine(line)
	if err != nil {
		return RowResult{Line: lineNo, Status: RowError, Error: err.Error()}
	}
	if row.email != "" {
		return s.importProfessional(ctx, clinicID, lineNo, row)
	}

	isNew := false
	p, err := s.profiles.FindByDocument(ctx, row.documentType, row.documentNumber)
	if errors.Is(err, patient.ErrNotFound) {
		p = &patient.Profile{
			UserID:         uuid.NewString(),
			DocumentType:   row.documentType,
			DocumentNumber: row.documentNumber,
			FullName:       row.fullName,
		}
		if err = s.profiles.CreateProfile(ctx, p); err == nil {
			isNew = true
		}
	}
	if err != nil {
		return RowResult{Line: lineNo, Status: RowError, Error: err.Error()}
	}

	if err := s.repo.AddMember(ctx, &Member{ClinicID: clinicID, UserID: p.UserID, Role: MemberPatient}); err != nil {
		return RowResult{Line: lineNo, Status: RowError, Error: err.Error()}
	}
	return RowResult{Line: lineNo, Status: RowSuccess, UserID: p.UserID, IsNew: isNew}
}

// importProfessional matches an existing roster member by email, or mints a
// placeholder user id the auth provider links when the invite is accepted.
// Professionals never get a patient profile.
func (s *Service) importProfessional(ctx context.Context, clinicID uuid.UUID, lineNo int, row rosterRow) RowResult {
	existing, err := s.repo.FindMemberByEmail(ctx, clinicID, row.email)
	if err == nil {
		return RowResult{Line: lineNo, Status: RowSuccess, UserID: existing.UserID}
	}
	if !errors.Is(err, ErrNotFound) {
		return RowResult{Line: lineNo, Status: RowError, Error: err.Error()}
	}

	m := &Member{
		ClinicID: clinicID,
		UserID:   uuid.NewString(),
		Role:     MemberProfessional,
		Email:    &row.email,
	}
	if err := s.repo.AddMember(ctx, m); err != nil {
		return RowResult{Line: lineNo, Status: RowError, Error: err.Error()}
	}
	return RowResult{Line: lineNo, Status: RowSuccess, UserID: m.UserID, IsNew: true}
}
