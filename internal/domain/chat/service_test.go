package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vitalia/portal/internal/domain/document"
	"github.com/vitalia/portal/internal/domain/patient"
	"github.com/vitalia/portal/internal/platform/aigateway"
)

type mockRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	messages      []*Message

	assistantSaved chan string
	renamed        chan string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		conversations:  make(map[uuid.UUID]*Conversation),
		assistantSaved: make(chan string, 1),
		renamed:        make(chan string, 1),
	}
}

func (m *mockRepo) CreateConversation(_ context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.conversations[c.ID] = &cp
	return nil
}

func (m *mockRepo) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListConversations(_ context.Context, userID string, _, _ int) ([]*Conversation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) RenameConversation(_ context.Context, id uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	select {
	case m.renamed <- title:
	default:
	}
	return nil
}

func (m *mockRepo) DeleteConversation(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m *mockRepo) CreateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	cp := *msg
	m.messages = append(m.messages, &cp)
	if msg.Role == RoleAssistant {
		select {
		case m.assistantSaved <- msg.Content:
		default:
		}
	}
	return nil
}

func (m *mockRepo) DeleteMessage(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages {
		if msg.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockRepo) ListMessages(_ context.Context, conversationID uuid.UUID) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) RecentMessages(ctx context.Context, conversationID uuid.UUID, n int) ([]*Message, error) {
	all, _ := m.ListMessages(ctx, conversationID)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *mockRepo) CountMessages(ctx context.Context, conversationID uuid.UUID) (int, error) {
	all, _ := m.ListMessages(ctx, conversationID)
	return len(all), nil
}

func (m *mockRepo) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// chunkReader replays predefined byte chunks, imitating arbitrary transport
// chunking of the gateway stream.
type chunkReader struct {
	chunks []string
	i      int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.i])
	r.i++
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

type fakeGateway struct {
	chunks    []string
	streamErr error

	completeOut string
	completeErr error
	completed   chan struct{}
}

func (f *fakeGateway) Stream(_ context.Context, _ []aigateway.Message) (io.ReadCloser, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &chunkReader{chunks: f.chunks}, nil
}

func (f *fakeGateway) Complete(_ context.Context, _ []aigateway.Message) (string, error) {
	if f.completed != nil {
		defer close(f.completed)
	}
	return f.completeOut, f.completeErr
}

type stubProfiles struct{}

func (stubProfiles) GetProfile(_ context.Context, patientID string) (*patient.Profile, error) {
	return &patient.Profile{UserID: patientID, FullName: "Ana Rojas"}, nil
}

type stubDocuments struct{}

func (stubDocuments) Recent(_ context.Context, _ string, _ int) ([]*document.Document, error) {
	sum := "Hemograma normal"
	return []*document.Document{{Title: "Laboratorio", Summary: &sum}}, nil
}

func deltaLine(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n"
}

func drain(t *testing.T, lines <-chan string) {
	t.Helper()
	for range lines {
	}
}

func waitSaved(t *testing.T, repo *mockRepo) string {
	t.Helper()
	select {
	case content := <-repo.assistantSaved:
		return content
	case <-time.After(2 * time.Second):
		t.Fatal("assistant message never persisted")
		return ""
	}
}

func TestSendMessagePersistsReassembledStream(t *testing.T) {
	repo := newMockRepo()
	// Payload lines deliberately split across chunk boundaries.
	full := deltaLine("Hola") + deltaLine(", ") + deltaLine("Ana") + "data: [DONE]\n"
	gw := &fakeGateway{
		chunks:      []string{full[:17], full[17:40], full[40:41], full[41:]},
		completeOut: "Saludo inicial",
		completed:   make(chan struct{}),
	}
	svc := NewService(repo, gw, stubProfiles{}, stubDocuments{})

	stream, err := svc.SendMessage(context.Background(), "p1", nil, "Hola")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	var displayed strings.Builder
	for line := range stream.Lines {
		if d, ok := parseForTest(line); ok {
			displayed.WriteString(d)
		}
	}

	persisted := waitSaved(t, repo)
	if persisted != "Hola, Ana" {
		t.Errorf("persisted = %q, want %q", persisted, "Hola, Ana")
	}
	if displayed.String() != persisted {
		t.Errorf("displayed %q differs from persisted %q", displayed.String(), persisted)
	}

	msgs, _ := repo.ListMessages(context.Background(), stream.ConversationID)
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("messages = %+v", msgs)
	}
}

func parseForTest(line string) (string, bool) {
	if line == "[DONE]" {
		return "", false
	}
	start := strings.Index(line, `"content":"`)
	if start < 0 {
		return "", false
	}
	rest := line[start+len(`"content":"`):]
	end := strings.Index(rest, `"`)
	return rest[:end], true
}

func TestSendMessageRollsBackOnGatewayFailure(t *testing.T) {
	for _, gwErr := range []error{aigateway.ErrRateLimited, aigateway.ErrPaymentRequired, aigateway.ErrUnauthenticated, aigateway.ErrGateway} {
		repo := newMockRepo()
		svc := NewService(repo, &fakeGateway{streamErr: gwErr}, stubProfiles{}, stubDocuments{})

		_, err := svc.SendMessage(context.Background(), "p1", nil, "Hola")
		if !errors.Is(err, gwErr) {
			t.Errorf("error = %v, want %v", err, gwErr)
		}
		if n := repo.messageCount(); n != 0 {
			t.Errorf("%v: %d messages persisted after failure, want 0", gwErr, n)
		}
		if len(repo.conversations) != 0 {
			t.Errorf("%v: lazily created conversation not rolled back", gwErr)
		}
	}
}

func TestSendMessageFailureKeepsExistingConversation(t *testing.T) {
	repo := newMockRepo()
	conv := &Conversation{UserID: "p1", Title: "Dolor de cabeza"}
	repo.CreateConversation(context.Background(), conv)
	repo.CreateMessage(context.Background(), &Message{ConversationID: conv.ID, Role: RoleUser, Content: "previo"})

	svc := NewService(repo, &fakeGateway{streamErr: aigateway.ErrGateway}, stubProfiles{}, stubDocuments{})
	if _, err := svc.SendMessage(context.Background(), "p1", &conv.ID, "Hola"); err == nil {
		t.Fatal("expected gateway error")
	}
	if n := repo.messageCount(); n != 1 {
		t.Errorf("messages = %d, want the pre-existing turn only", n)
	}
	if _, ok := repo.conversations[conv.ID]; !ok {
		t.Error("existing conversation deleted on rollback")
	}
}

func TestPersistenceSurvivesClientDisconnect(t *testing.T) {
	repo := newMockRepo()
	gw := &fakeGateway{
		chunks:      []string{deltaLine("Respuesta"), deltaLine(" completa"), "data: [DONE]\n"},
		completeOut: "Título",
		completed:   make(chan struct{}),
	}
	svc := NewService(repo, gw, stubProfiles{}, stubDocuments{})

	stream, err := svc.SendMessage(context.Background(), "p1", nil, "Hola")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	// The client walks away before reading anything.
	stream.Cancel()

	if persisted := waitSaved(t, repo); persisted != "Respuesta completa" {
		t.Errorf("persisted = %q", persisted)
	}
}

func TestTitleGeneratedAfterFirstExchange(t *testing.T) {
	repo := newMockRepo()
	gw := &fakeGateway{
		chunks:      []string{deltaLine("Hola"), "data: [DONE]\n"},
		completeOut: `"Consulta sobre laboratorio"`,
		completed:   make(chan struct{}),
	}
	svc := NewService(repo, gw, stubProfiles{}, stubDocuments{})

	stream, err := svc.SendMessage(context.Background(), "p1", nil, "Explícame mis resultados")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	drain(t, stream.Lines)
	waitSaved(t, repo)

	select {
	case title := <-repo.renamed:
		if title != "Consulta sobre laboratorio" {
			t.Errorf("title = %q, want quotes stripped", title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("title never generated")
	}
}

func TestTitleFailureKeepsFallback(t *testing.T) {
	repo := newMockRepo()
	gw := &fakeGateway{
		chunks:      []string{deltaLine("Hola"), "data: [DONE]\n"},
		completeErr: aigateway.ErrGateway,
		completed:   make(chan struct{}),
	}
	svc := NewService(repo, gw, stubProfiles{}, stubDocuments{})

	stream, err := svc.SendMessage(context.Background(), "p1", nil, "Hola")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	drain(t, stream.Lines)
	waitSaved(t, repo)

	select {
	case <-gw.completed:
	case <-time.After(2 * time.Second):
		t.Fatal("title generation never attempted")
	}
	conv, _ := repo.GetConversation(context.Background(), stream.ConversationID)
	if conv.Title != FallbackTitle {
		t.Errorf("title = %q, want fallback kept", conv.Title)
	}
}

func TestGuestStreamDoesNotPersist(t *testing.T) {
	repo := newMockRepo()
	gw := &fakeGateway{chunks: []string{deltaLine("Hola"), "data: [DONE]\n"}}
	svc := NewService(repo, gw, stubProfiles{}, stubDocuments{})

	body, err := svc.GuestStream(context.Background(), "p1", []aigateway.Message{
		{Role: RoleUser, Content: "pregunta previa"},
		{Role: RoleAssistant, Content: "respuesta previa"},
	}, "¿Y ahora?")
	if err != nil {
		t.Fatalf("GuestStream: %v", err)
	}
	defer body.Close()
	if _, err := io.ReadAll(body); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	if n := repo.messageCount(); n != 0 {
		t.Errorf("guest chat persisted %d messages, want 0", n)
	}
	if len(repo.conversations) != 0 {
		t.Errorf("guest chat created a conversation")
	}
}

func TestSuggestionsParsing(t *testing.T) {
	repo := newMockRepo()
	conv := &Conversation{UserID: "p1", Title: "t"}
	repo.CreateConversation(context.Background(), conv)
	gw := &fakeGateway{completeOut: "1. ¿Qué significa?\n- ¿Debo preocuparme?\n\n• ¿Cuándo repetir el examen?\nuna cuarta de más"}
	svc := NewService(repo, gw, stubProfiles{}, stubDocuments{})

	got, err := svc.Suggestions(context.Background(), "p1", conv.ID)
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("suggestions = %v, want 3", got)
	}
	if got[0] != "¿Qué significa?" || got[1] != "¿Debo preocuparme?" {
		t.Errorf("suggestions = %v", got)
	}

	if _, err := svc.Suggestions(context.Background(), "intruder", conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign suggestions: %v, want ErrNotFound", err)
	}
}
