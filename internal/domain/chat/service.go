package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vitalia/portal/internal/domain/document"
	"github.com/vitalia/portal/internal/domain/patient"
	"github.com/vitalia/portal/internal/platform/aigateway"
	"github.com/vitalia/portal/internal/platform/sse"
)

const (
	maxContextDocs  = 5
	maxContextTurns = 10
	docCharBudget   = 2000
	maxTitleLen     = 80
)

// Gateway is the AI completion backend.
type Gateway interface {
	Stream(ctx context.Context, messages []aigateway.Message) (io.ReadCloser, error)
	Complete(ctx context.Context, messages []aigateway.Message) (string, error)
}

type ProfileSource interface {
	GetProfile(ctx context.Context, patientID string) (*patient.Profile, error)
}

type DocumentSource interface {
	Recent(ctx context.Context, patientID string, n int) ([]*document.Document, error)
}

type Service struct {
	repo      Repository
	gateway   Gateway
	profiles  ProfileSource
	documents DocumentSource
}

func NewService(repo Repository, gateway Gateway, profiles ProfileSource, documents DocumentSource) *Service {
	return &Service{repo: repo, gateway: gateway, profiles: profiles, documents: documents}
}

// Stream is a live assistant response. Lines carries the raw SSE payloads,
// the [DONE] sentinel included; Cancel detaches the caller without stopping
// the server-side accumulation.
type Stream struct {
	ConversationID uuid.UUID
	Lines          <-chan string
	Cancel         func()
}

// SendMessage persists the user turn, opens the gateway stream and forks it:
// the returned Stream feeds the caller token by token while an internal
// consumer reassembles the full text and persists it as one assistant row
// when the stream ends. The internal consumer keeps running if the caller
// walks away mid-stream.
//
// If the gateway call fails before any streaming happened, the user row (and
// a conversation lazily created for it) is removed again: the transcript
// must end in its pre-send state.
func (s *Service) SendMessage(ctx context.Context, userID string, conversationID *uuid.UUID, text string) (*Stream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message is required")
	}

	var conv *Conversation
	created := false
	if conversationID != nil {
		c, err := s.repo.GetConversation(ctx, *conversationID)
		if err != nil {
			return nil, err
		}
		if c.UserID != userID {
			return nil, ErrNotFound
		}
		conv = c
	} else {
		conv = &Conversation{UserID: userID, Title: FallbackTitle}
		if err := s.repo.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		created = true
	}

	msgs, err := s.buildContext(ctx, userID, conv.ID)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, aigateway.Message{Role: RoleUser, Content: text})

	userMsg := &Message{ConversationID: conv.ID, Role: RoleUser, Content: text}
	if err := s.repo.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	firstExchange := false
	if n, err := s.repo.CountMessages(ctx, conv.ID); err == nil {
		firstExchange = n == 1
	}

	// The gateway stream must outlive the HTTP request: the assistant turn is
	// persisted even when the client disconnects mid-stream.
	body, err := s.gateway.Stream(context.WithoutCancel(ctx), msgs)
	if err != nil {
		s.rollback(ctx, conv, userMsg, created)
		return nil, err
	}

	b := sse.NewBroadcaster()
	clientCh, clientCancel := b.Subscribe()
	persistCh, _ := b.Subscribe()

	go s.pump(body, b)
	go s.persist(conv, userMsg, persistCh, firstExchange)

	return &Stream{ConversationID: conv.ID, Lines: clientCh, Cancel: clientCancel}, nil
}

func (s *Service) rollback(ctx context.Context, conv *Conversation, userMsg *Message, created bool) {
	if err := s.repo.DeleteMessage(ctx, userMsg.ID); err != nil {
		log.Error().Err(err).Str("message_id", userMsg.ID.String()).Msg("user message rollback failed")
	}
	if created {
		if err := s.repo.DeleteConversation(ctx, conv.ID); err != nil {
			log.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("conversation rollback failed")
		}
	}
}

// pump reads the gateway body and republishes each SSE payload to every
// subscriber. Payload boundaries do not depend on how the transport chunked
// the bytes.
func (s *Service) pump(body io.ReadCloser, b *sse.Broadcaster) {
	defer b.Close()
	defer body.Close()
	var parser sse.LineParser
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, payload := range parser.Push(buf[:n]) {
				b.Publish(payload)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Msg("gateway stream read failed")
			}
			return
		}
	}
}

// persist is the second stream consumer: it reassembles the deltas and writes
// the assistant row once the stream completes. It buffers independently of
// the client consumer and never blocks it.
func (s *Service) persist(conv *Conversation, userMsg *Message, lines <-chan string, firstExchange bool) {
	var sb strings.Builder
	for line := range lines {
		delta, ok := sse.ParseDelta(line)
		if !ok {
			continue
		}
		if delta.Done {
			break
		}
		sb.WriteString(delta.Content)
	}
	full := sb.String()
	if full == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := s.repo.CreateMessage(ctx, &Message{ConversationID: conv.ID, Role: RoleAssistant, Content: full})
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("assistant message persist failed")
		return
	}
	if firstExchange {
		s.generateTitle(conv.ID, userMsg.Content, full)
	}
}

// generateTitle runs after the first exchange with its own error boundary: a
// failure leaves the fallback title in place and is only logged.
func (s *Service) generateTitle(conversationID uuid.UUID, userText, assistantText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	title, err := s.gateway.Complete(ctx, []aigateway.Message{
		{Role: RoleSystem, Content: "Genera un título muy corto (máximo 6 palabras) para esta conversación médica. Responde solo con el título, sin comillas."},
		{Role: RoleUser, Content: userText},
		{Role: RoleAssistant, Content: truncate(assistantText, docCharBudget)},
	})
	title = strings.Trim(strings.TrimSpace(title), `"“”`)
	if err != nil || title == "" {
		log.Warn().Err(err).Str("conversation_id", conversationID.String()).Msg("title generation failed, keeping fallback")
		return
	}
	if err := s.repo.RenameConversation(ctx, conversationID, truncate(title, maxTitleLen)); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID.String()).Msg("title update failed")
	}
}

// GuestStream answers one guest message. Nothing is persisted: the history
// lives in the guest's tab and is replayed with each request.
func (s *Service) GuestStream(ctx context.Context, patientID string, history []aigateway.Message, text string) (io.ReadCloser, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message is required")
	}
	msgs := []aigateway.Message{{Role: RoleSystem, Content: s.systemPrompt(ctx, patientID)}}
	if len(history) > maxContextTurns {
		history = history[len(history)-maxContextTurns:]
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, aigateway.Message{Role: RoleUser, Content: text})
	return s.gateway.Stream(ctx, msgs)
}

// Suggestions proposes short follow-up questions for the conversation.
func (s *Service) Suggestions(ctx context.Context, userID string, conversationID uuid.UUID) ([]string, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrNotFound
	}
	history, err := s.repo.RecentMessages(ctx, conversationID, maxContextTurns)
	if err != nil {
		return nil, err
	}
	msgs := []aigateway.Message{{Role: RoleSystem, Content: "Propón tres preguntas de seguimiento cortas que el paciente podría hacer a continuación. Una por línea, sin numeración."}}
	for _, m := range history {
		msgs = append(msgs, aigateway.Message{Role: m.Role, Content: m.Content})
	}
	out, err := s.gateway.Complete(ctx, msgs)
	if err != nil {
		return nil, err
	}
	var suggestions []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-•*0123456789. "))
		if line != "" {
			suggestions = append(suggestions, line)
		}
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions, nil
}

func (s *Service) buildContext(ctx context.Context, patientID string, conversationID uuid.UUID) ([]aigateway.Message, error) {
	msgs := []aigateway.Message{{Role: RoleSystem, Content: s.systemPrompt(ctx, patientID)}}
	history, err := s.repo.RecentMessages(ctx, conversationID, maxContextTurns)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		msgs = append(msgs, aigateway.Message{Role: m.Role, Content: m.Content})
	}
	return msgs, nil
}

// systemPrompt assembles the bounded patient context: profile identity plus
// the most recent documents, each truncated to a fixed character budget.
func (s *Service) systemPrompt(ctx context.Context, patientID string) string {
	var sb strings.Builder
	sb.WriteString("Eres el asistente de salud del portal. Responde en español, con claridad y sin diagnosticar. ")
	sb.WriteString("Recomienda consultar a un profesional ante cualquier duda seria.\n")

	if p, err := s.profiles.GetProfile(ctx, patientID); err == nil {
		fmt.Fprintf(&sb, "\nPaciente: %s", p.FullName)
		if p.Age != nil {
			fmt.Fprintf(&sb, ", %d años", *p.Age)
		}
		sb.WriteString("\n")
	}

	docs, err := s.documents.Recent(ctx, patientID, maxContextDocs)
	if err != nil {
		log.Warn().Err(err).Str("patient_id", patientID).Msg("document context load failed")
		return sb.String()
	}
	for _, d := range docs {
		fmt.Fprintf(&sb, "\nDocumento: %s", d.Title)
		if d.Summary != nil && *d.Summary != "" {
			fmt.Fprintf(&sb, "\nResumen: %s", truncate(*d.Summary, docCharBudget))
		} else if d.ContentText != nil && *d.ContentText != "" {
			fmt.Fprintf(&sb, "\nContenido: %s", truncate(*d.ContentText, docCharBudget))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Conversation CRUD.

func (s *Service) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, int, error) {
	return s.repo.ListConversations(ctx, userID, limit, offset)
}

func (s *Service) GetConversation(ctx context.Context, userID string, id uuid.UUID) (*Conversation, []*Message, error) {
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if conv.UserID != userID {
		return nil, nil, ErrNotFound
	}
	msgs, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

func (s *Service) Rename(ctx context.Context, userID string, id uuid.UUID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv.UserID != userID {
		return ErrNotFound
	}
	return s.repo.RenameConversation(ctx, id, truncate(title, maxTitleLen))
}

func (s *Service) DeleteConversation(ctx context.Context, userID string, id uuid.UUID) error {
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv.UserID != userID {
		return ErrNotFound
	}
	return s.repo.DeleteConversation(ctx, id)
}
