package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// TopusClient queries the Topus national identity registry.
type TopusClient struct {
	http *resty.Client
}

// NewTopusClient builds a client for the given base URL. The API key is sent
// on every request; Topus rejects anonymous lookups.
func NewTopusClient(baseURL, apiKey string) *TopusClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetHeader("X-Api-Key", apiKey)
	}
	return &TopusClient{http: c}
}

// topusEnvelope is the wire shape of a Topus lookup response. The registry
// reports application-level failure through "ok"/"mensaje", not HTTP status.
type topusEnvelope struct {
	OK      *bool           `json:"ok"`
	Message *string         `json:"mensaje"`
	Result  json.RawMessage `json:"resultado"`
}

// Lookup resolves documentType+documentNumber to an identity.
// Returns ErrNotFound when the registry has no record and ErrUnavailable for
// transport or server failures.
func (c *TopusClient) Lookup(ctx context.Context, documentType, documentNumber string) (*Identity, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tipo_documento": documentType,
			"documento":      documentNumber,
		}).
		Get("/api/consulta")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf("%w: topus returned status %d", ErrUnavailable, resp.StatusCode())
	}

	var env topusEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if env.OK != nil && !*env.OK {
		return nil, ErrNotFound
	}
	if len(env.Result) == 0 {
		return nil, ErrNotFound
	}

	var id Identity
	if err := json.Unmarshal(env.Result, &id); err != nil {
		return nil, fmt.Errorf("%w: malformed identity payload: %v", ErrUnavailable, err)
	}
	id.Raw = env.Result

	if !id.Valid() {
		return nil, ErrNotFound
	}
	return &id, nil
}
