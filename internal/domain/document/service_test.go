package document

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vitalia/portal/internal/domain/patient"
	"github.com/vitalia/portal/internal/platform/blobstore"
	"github.com/vitalia/portal/internal/platform/notification"
)

type mockRepo struct {
	docs map[uuid.UUID]*Document
}

func newMockRepo() *mockRepo {
	return &mockRepo{docs: make(map[uuid.UUID]*Document)}
}

func (m *mockRepo) Create(_ context.Context, d *Document) error {
	d.ID = uuid.New()
	d.UploadedAt = time.Now()
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Document, error) {
	if d, ok := m.docs[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) byPatient(patientID string, readyOnly bool) []*Document {
	var out []*Document
	for _, d := range m.docs {
		if d.PatientID != patientID {
			continue
		}
		if readyOnly && d.Status != StatusReady {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Document, int, error) {
	all := m.byPatient(patientID, false)
	return all, len(all), nil
}

func (m *mockRepo) ListReady(_ context.Context, patientID string) ([]*Document, error) {
	return m.byPatient(patientID, true), nil
}

func (m *mockRepo) Recent(_ context.Context, patientID string, n int) ([]*Document, error) {
	all := m.byPatient(patientID, true)
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	d, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

type stubProfiles struct{ number string }

func (s stubProfiles) GetProfile(_ context.Context, patientID string) (*patient.Profile, error) {
	return &patient.Profile{UserID: patientID, FullName: "Ana Rojas", DocumentNumber: s.number}, nil
}

func newTestService() (*Service, *mockRepo, *blobstore.InMemoryStore, *notification.MockEmailSender) {
	repo := newMockRepo()
	blobs := blobstore.NewInMemoryStore("https://cdn.example.com")
	sender := &notification.MockEmailSender{}
	mailer := notification.NewMailer(sender, notification.NewTemplateEngine())
	svc := NewService(repo, blobs, stubProfiles{number: "123456"}, mailer)
	return svc, repo, blobs, sender
}

func upload(t *testing.T, svc *Service, declared string) *Document {
	t.Helper()
	d, err := svc.Upload(context.Background(), UploadRequest{
		PatientID:              "p1",
		Title:                  "Resultados de laboratorio",
		Category:               "lab",
		FileName:               "labs.pdf",
		ContentType:            "application/pdf",
		Content:                strings.NewReader("%PDF-1.4 test"),
		DeclaredDocumentNumber: declared,
		NotifyEmail:            "ana@example.com",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return d
}

func TestUploadMatchingIdentity(t *testing.T) {
	svc, _, _, _ := newTestService()
	d := upload(t, svc, "123456")
	if d.Status != StatusReady {
		t.Errorf("status = %q, want ready", d.Status)
	}
	if d.URL == "" || !strings.HasPrefix(d.URL, "https://cdn.example.com/blobs/") {
		t.Errorf("url = %q", d.URL)
	}
}

func TestUploadWithoutDeclaredNumberSkipsVerification(t *testing.T) {
	svc, _, _, _ := newTestService()
	if d := upload(t, svc, ""); d.Status != StatusReady {
		t.Errorf("status = %q, want ready", d.Status)
	}
}

func TestUploadIdentityMismatchRejected(t *testing.T) {
	svc, repo, _, sender := newTestService()
	d := upload(t, svc, "999999")

	if d.Status != StatusRejected {
		t.Fatalf("status = %q, want rejected", d.Status)
	}
	if d.StorageKey != "" || d.URL != "" {
		t.Errorf("rejected document kept storage reference: key=%q url=%q", d.StorageKey, d.URL)
	}
	// The row survives for the owner's view; the blob does not.
	if _, err := repo.GetByID(context.Background(), d.ID); err != nil {
		t.Errorf("rejected row missing: %v", err)
	}
	ready, _ := svc.ListReady(context.Background(), "p1")
	if len(ready) != 0 {
		t.Errorf("rejected document listed as ready")
	}
	if calls := sender.Calls(); len(calls) != 1 || calls[0].To != "ana@example.com" {
		t.Errorf("rejection warning email calls = %+v", sender.Calls())
	}
}

func TestUploadDottedNumberStillMatches(t *testing.T) {
	svc, _, _, _ := newTestService()
	if d := upload(t, svc, "123.456"); d.Status != StatusReady {
		t.Errorf("status = %q, want ready for formatted number", d.Status)
	}
}

func TestGetIsOwnerChecked(t *testing.T) {
	svc, _, _, _ := newTestService()
	d := upload(t, svc, "")
	if _, err := svc.Get(context.Background(), "p1", d.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := svc.Get(context.Background(), "intruder", d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign get: %v, want ErrNotFound", err)
	}
}

func TestOpenStreamsPayload(t *testing.T) {
	svc, _, _, _ := newTestService()
	d := upload(t, svc, "")
	rc, fileName, contentType, err := svc.Open(context.Background(), "p1", d.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	if fileName != "labs.pdf" || contentType != "application/pdf" {
		t.Errorf("fileName = %q contentType = %q", fileName, contentType)
	}
}

func TestDeleteRemovesRowAndBlob(t *testing.T) {
	svc, repo, blobs, _ := newTestService()
	d := upload(t, svc, "")
	key := repo.docs[d.ID].StorageKey

	if err := svc.Delete(context.Background(), "p1", d.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(context.Background(), d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("row still present: %v", err)
	}
	if _, _, err := blobs.Get(context.Background(), key); err == nil {
		t.Error("blob still present after delete")
	}
}
