// Package notification sends transactional email. Delivery is an external
// collaborator; the portal only renders templates and hands the message to a
// sender implementation.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// EmailSender delivers one rendered message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template is a subject/body pair with {{placeholder}} slots.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	e.RegisterTemplate(Template{
		ID:      "share-link",
		Subject: "{{patient_name}} compartió su historia clínica contigo",
		Body: "Hola,\n\n{{patient_name}} te dio acceso temporal a su historia clínica.\n" +
			"Abre el enlace antes de que expire ({{expires_at}}):\n\n{{share_url}}\n",
	})
	e.RegisterTemplate(Template{
		ID:      "document-rejected",
		Subject: "Un documento no pudo ser verificado",
		Body: "Hola {{patient_name}},\n\nEl documento \"{{document_title}}\" no coincide con tu " +
			"identidad registrada y fue descartado por seguridad.\n",
	})
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render fills a template's placeholders from data.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("unknown template: %s", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		subject = strings.ReplaceAll(subject, "{{"+k+"}}", v)
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return subject, body, nil
}

// Mailer renders and sends templated email.
type Mailer struct {
	sender EmailSender
	tpl    *TemplateEngine
}

func NewMailer(sender EmailSender, tpl *TemplateEngine) *Mailer {
	return &Mailer{sender: sender, tpl: tpl}
}

// SendTemplate renders templateID with data and sends it to recipient.
func (m *Mailer) SendTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) error {
	subject, body, err := m.tpl.Render(templateID, data)
	if err != nil {
		return err
	}
	if err := m.sender.SendEmail(ctx, recipient, subject, body); err != nil {
		return fmt.Errorf("send %s to %s: %w", templateID, recipient, err)
	}
	return nil
}

// LogEmailSender writes messages to the log instead of delivering them. Used
// until a real provider is wired in.
type LogEmailSender struct{}

func (LogEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	log.Info().Str("to", to).Str("subject", subject).Msg("email send (log only)")
	return nil
}

// EmailCall records one SendEmail invocation on the mock.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records messages instead of delivering them.
type MockEmailSender struct {
	mu    sync.Mutex
	calls []EmailCall
	Fail  bool
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	if m.Fail {
		return fmt.Errorf("mock sender failure")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	return nil
}

func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
