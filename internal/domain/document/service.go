package document

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vitalia/portal/internal/domain/patient"
	"github.com/vitalia/portal/internal/platform/blobstore"
	"github.com/vitalia/portal/internal/platform/notification"
)

// ProfileSource supplies the uploader's identity record for verification.
type ProfileSource interface {
	GetProfile(ctx context.Context, patientID string) (*patient.Profile, error)
}

type Service struct {
	repo     Repository
	blobs    blobstore.Store
	profiles ProfileSource
	mailer   *notification.Mailer
}

func NewService(repo Repository, blobs blobstore.Store, profiles ProfileSource, mailer *notification.Mailer) *Service {
	return &Service{repo: repo, blobs: blobs, profiles: profiles, mailer: mailer}
}

// UploadRequest carries one document upload.
type UploadRequest struct {
	PatientID   string
	Title       string
	Category    string
	FileName    string
	ContentType string
	Content     io.Reader

	// DeclaredDocumentNumber is the identity-document number extracted from
	// the uploaded file. When present it must match the uploader's profile.
	DeclaredDocumentNumber string
	// ContentText is the extracted plain text used for assistant context.
	ContentText *string
	// NotifyEmail, when set, receives a warning if the upload is rejected.
	NotifyEmail string
}

// Upload stores the payload and registers the metadata row. An identity
// mismatch is not an error: the blob is discarded and the row is kept with
// status rejected so the owner sees what happened.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Document, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	meta, err := s.blobs.Put(ctx, req.FileName, req.ContentType, req.Content)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	d := &Document{
		PatientID:   req.PatientID,
		Title:       req.Title,
		Category:    req.Category,
		Status:      StatusReady,
		StorageKey:  meta.Key,
		ContentText: req.ContentText,
	}

	if req.DeclaredDocumentNumber != "" && !s.matchesIdentity(ctx, req.PatientID, req.DeclaredDocumentNumber) {
		if err := s.blobs.Delete(ctx, meta.Key); err != nil {
			log.Warn().Err(err).Str("key", meta.Key).Msg("rejected blob cleanup failed")
		}
		d.Status = StatusRejected
		d.StorageKey = ""
		d.ContentText = nil
		s.notifyRejected(ctx, req)
	}

	if err := s.repo.Create(ctx, d); err != nil {
		if d.StorageKey != "" {
			_ = s.blobs.Delete(ctx, d.StorageKey)
		}
		return nil, fmt.Errorf("register document: %w", err)
	}
	s.resolveURL(d)
	return d, nil
}

func (s *Service) matchesIdentity(ctx context.Context, patientID, declared string) bool {
	p, err := s.profiles.GetProfile(ctx, patientID)
	if err != nil {
		// No profile to check against; fail closed.
		return false
	}
	norm := func(v string) string { return strings.ReplaceAll(strings.TrimSpace(v), ".", "") }
	return norm(declared) == norm(p.DocumentNumber)
}

func (s *Service) notifyRejected(ctx context.Context, req UploadRequest) {
	if s.mailer == nil || req.NotifyEmail == "" {
		return
	}
	name := req.PatientID
	if p, err := s.profiles.GetProfile(ctx, req.PatientID); err == nil {
		name = p.FullName
	}
	err := s.mailer.SendTemplate(ctx, "document-rejected", map[string]string{
		"patient_name":   name,
		"document_title": req.Title,
	}, req.NotifyEmail)
	if err != nil {
		log.Warn().Err(err).Msg("document-rejected email failed")
	}
}

func (s *Service) resolveURL(d *Document) {
	if d.StorageKey != "" {
		d.URL = s.blobs.PublicURL(d.StorageKey)
	}
}

// Get returns one document, owner-checked.
func (s *Service) Get(ctx context.Context, patientID string, id uuid.UUID) (*Document, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.PatientID != patientID {
		return nil, ErrNotFound
	}
	s.resolveURL(d)
	return d, nil
}

// List returns the patient's documents, rejected rows included.
func (s *Service) List(ctx context.Context, patientID string, limit, offset int) ([]*Document, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, d := range items {
		s.resolveURL(d)
	}
	return items, total, nil
}

// ListReady returns the shareable documents with public URLs resolved at call
// time, never stored.
func (s *Service) ListReady(ctx context.Context, patientID string) ([]*Document, error) {
	items, err := s.repo.ListReady(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, d := range items {
		s.resolveURL(d)
	}
	return items, nil
}

// Recent returns the n most recent ready documents. Feeds assistant context.
func (s *Service) Recent(ctx context.Context, patientID string, n int) ([]*Document, error) {
	return s.repo.Recent(ctx, patientID, n)
}

// Open streams the payload of one of the patient's ready documents.
func (s *Service) Open(ctx context.Context, patientID string, id uuid.UUID) (io.ReadCloser, string, string, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", "", err
	}
	if d.PatientID != patientID || d.Status != StatusReady {
		return nil, "", "", ErrNotFound
	}
	rc, meta, err := s.blobs.Get(ctx, d.StorageKey)
	if err != nil {
		return nil, "", "", err
	}
	return rc, meta.FileName, meta.ContentType, nil
}

// Delete removes the metadata row and the stored payload. Owner-only.
func (s *Service) Delete(ctx context.Context, patientID string, id uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.PatientID != patientID {
		return ErrNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if d.StorageKey != "" {
		if err := s.blobs.Delete(ctx, d.StorageKey); err != nil {
			log.Warn().Err(err).Str("key", d.StorageKey).Msg("blob delete failed")
		}
	}
	return nil
}
