package grant

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vitalia/portal/internal/domain/audit"
	"github.com/vitalia/portal/internal/domain/document"
	"github.com/vitalia/portal/internal/domain/patient"
	"github.com/vitalia/portal/internal/platform/notification"
)

// ProfileSource supplies the shared patient's identity record.
type ProfileSource interface {
	GetProfile(ctx context.Context, patientID string) (*patient.Profile, error)
}

// DocumentSource supplies the shared patient's readable documents, public
// URLs resolved.
type DocumentSource interface {
	ListReady(ctx context.Context, patientID string) ([]*document.Document, error)
}

// AuditLog appends access entries; failures there must not block a guest.
type AuditLog interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// GuestView is what a validated guest sees: the patient's profile, document
// list, and the scope of what else the grant lets them do.
type GuestView struct {
	Profile     *patient.Profile     `json:"profile"`
	Documents   []*document.Document `json:"documents"`
	Permissions Permissions          `json:"permissions"`
	ExpiresAt   time.Time            `json:"expires_at"`
	AccessCount int                  `json:"access_count"`
}

type Service struct {
	repo      Repository
	profiles  ProfileSource
	documents DocumentSource
	audits    AuditLog
	mailer    *notification.Mailer
	baseURL   string
	now       func() time.Time
}

func NewService(repo Repository, profiles ProfileSource, documents DocumentSource, audits AuditLog, mailer *notification.Mailer, shareBaseURL string) *Service {
	return &Service{
		repo:      repo,
		profiles:  profiles,
		documents: documents,
		audits:    audits,
		mailer:    mailer,
		baseURL:   shareBaseURL,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ShareURL returns the guest URL embedding token.
func (s *Service) ShareURL(token string) string {
	return s.baseURL + "/guest/" + token
}

// Create issues a new grant for patientID. Duration must be one of
// AllowedDurations. If notifyEmail is non-empty the share link is mailed to
// it; a mail failure is logged and does not fail the create.
func (s *Service) Create(ctx context.Context, patientID string, durationMinutes int, perms Permissions, notifyEmail string) (*Share, error) {
	if !validDuration(durationMinutes) {
		return nil, fmt.Errorf("invalid duration: %d minutes", durationMinutes)
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	g := &AccessGrant{
		Token:         token,
		PatientID:     patientID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Duration(durationMinutes) * time.Minute),
		AllowDownload: perms.AllowDownload,
		AllowChat:     perms.AllowChat,
		AllowNotebook: perms.AllowNotebook,
	}
	if err := s.repo.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}

	share := &Share{
		Token:       token,
		ShareURL:    s.ShareURL(token),
		ExpiresAt:   g.ExpiresAt,
		Permissions: perms,
	}

	if notifyEmail != "" && s.mailer != nil {
		name := patientID
		if p, err := s.profiles.GetProfile(ctx, patientID); err == nil {
			name = p.FullName
		}
		err := s.mailer.SendTemplate(ctx, "share-link", map[string]string{
			"patient_name": name,
			"share_url":    share.ShareURL,
			"expires_at":   g.ExpiresAt.Format(time.RFC1123),
		}, notifyEmail)
		if err != nil {
			log.Warn().Err(err).Str("patient_id", patientID).Msg("share-link email failed")
		}
	}
	return share, nil
}

// Validate consumes the grant for one action. Every successful call increments
// the access counter and appends an audit entry; callers must expect the
// counter to grow on each validation, not only the first.
func (s *Service) Validate(ctx context.Context, token, action string) (*GuestView, error) {
	g, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if g.Revoked {
		return nil, ErrNotFound
	}
	if !s.now().Before(g.ExpiresAt) {
		return nil, ErrExpired
	}
	if !g.Permits(action) {
		return nil, ErrForbidden
	}

	count, err := s.repo.IncrementAccess(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("increment access count: %w", err)
	}

	s.recordAccess(ctx, g, action)

	profile, err := s.profiles.GetProfile(ctx, g.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load shared profile: %w", err)
	}
	docs, err := s.documents.ListReady(ctx, g.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load shared documents: %w", err)
	}

	return &GuestView{
		Profile:     profile,
		Documents:   docs,
		Permissions: g.Permissions(),
		ExpiresAt:   g.ExpiresAt,
		AccessCount: count,
	}, nil
}

func (s *Service) recordAccess(ctx context.Context, g *AccessGrant, action string) {
	accessType := audit.AccessGuestView
	switch action {
	case ActionDownload:
		accessType = audit.AccessGuestDownload
	case ActionChat:
		accessType = audit.AccessGuestChat
	}
	detail, _ := json.Marshal(map[string]string{"token": g.Token, "action": action})
	err := s.audits.Record(ctx, &audit.Entry{
		ActorID:             "guest:" + g.Token,
		PatientID:           g.PatientID,
		AccessType:          accessType,
		Detail:              detail,
		AuditableForPatient: true,
	})
	if err != nil {
		log.Error().Err(err).Str("patient_id", g.PatientID).Msg("guest access audit failed")
	}
}

// List returns the owner's non-revoked grants as share payloads.
func (s *Service) List(ctx context.Context, patientID string) ([]*Share, error) {
	grants, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	shares := make([]*Share, 0, len(grants))
	for _, g := range grants {
		shares = append(shares, &Share{
			Token:       g.Token,
			ShareURL:    s.ShareURL(g.Token),
			ExpiresAt:   g.ExpiresAt,
			Permissions: g.Permissions(),
			AccessCount: g.AccessCount,
		})
	}
	return shares, nil
}

// Revoke permanently invalidates the grant. Only the owning patient may
// revoke; anyone else gets ErrNotFound so the token's existence leaks nothing.
func (s *Service) Revoke(ctx context.Context, patientID, token string) error {
	g, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if g.PatientID != patientID {
		return ErrNotFound
	}
	return s.repo.Revoke(ctx, token)
}

// CheckChatAccess re-derives the chat permission for a guest message. Used by
// the chat handler instead of caller identity.
func (s *Service) CheckChatAccess(ctx context.Context, token string) (patientID string, err error) {
	view, err := s.Validate(ctx, token, ActionChat)
	if err != nil {
		return "", err
	}
	return view.Profile.UserID, nil
}
