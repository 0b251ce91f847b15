// Package aigateway is the client for the hosted chat-completion gateway.
// The gateway speaks the common chat-completions contract: a JSON request,
// either a single JSON response or an SSE stream of delta frames terminated
// by a [DONE] sentinel.
package aigateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrUnauthenticated maps the gateway's 401.
	ErrUnauthenticated = errors.New("aigateway: unauthenticated")
	// ErrPaymentRequired maps the gateway's 402 (credits exhausted).
	ErrPaymentRequired = errors.New("aigateway: payment required")
	// ErrRateLimited maps the gateway's 429.
	ErrRateLimited = errors.New("aigateway: rate limited")
	// ErrGateway covers every other non-OK response.
	ErrGateway = errors.New("aigateway: request failed")
)

// Message is one turn of a chat-completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type gatewayError struct {
	Error string `json:"error"`
}

// Client issues completion requests against one gateway + model pair.
type Client struct {
	http   *resty.Client // single-shot completions, bounded end to end
	stream *resty.Client // SSE streams, no body deadline
	model  string
}

func New(baseURL, apiKey, model string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(2 * time.Minute).
		SetHeader("Content-Type", "application/json")
	// http.Client.Timeout keeps counting while the response body is read,
	// so the streaming client must not carry one: a healthy SSE stream can
	// legitimately run for minutes. Connect and first byte stay bounded via
	// the transport; the body read is governed by ctx.
	s := resty.New().
		SetBaseURL(baseURL).
		SetTransport(&http.Transport{ResponseHeaderTimeout: 30 * time.Second}).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
		s.SetAuthToken(apiKey)
	}
	return &Client{http: c, stream: s, model: model}
}

// Stream opens a streaming completion. The returned body is the raw SSE
// stream; the caller owns it and must Close it. The body read is governed
// by ctx, not a client-level timeout.
func (c *Client) Stream(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetBody(completionRequest{
			Model:    c.model,
			Messages: messages,
			Stream:   true,
		}).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	raw := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		defer raw.Close()
		return nil, statusError(resp.StatusCode(), raw)
	}
	return raw, nil
}

// Complete issues a non-streaming completion and returns the assistant text.
// Used by the title generator and the suggestions endpoint.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(completionRequest{
			Model:    c.model,
			Messages: messages,
		}).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", statusErrorBytes(resp.StatusCode(), resp.Body())
	}

	var out completionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrGateway, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrGateway)
	}
	return out.Choices[0].Message.Content, nil
}

func statusError(status int, body io.Reader) error {
	buf, _ := io.ReadAll(io.LimitReader(body, 4096))
	return statusErrorBytes(status, buf)
}

func statusErrorBytes(status int, body []byte) error {
	var base error
	switch status {
	case http.StatusUnauthorized:
		base = ErrUnauthenticated
	case http.StatusPaymentRequired:
		base = ErrPaymentRequired
	case http.StatusTooManyRequests:
		base = ErrRateLimited
	default:
		base = ErrGateway
	}

	var ge gatewayError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error != "" {
		return fmt.Errorf("%w: %s", base, ge.Error)
	}
	return fmt.Errorf("%w: status %d", base, status)
}
