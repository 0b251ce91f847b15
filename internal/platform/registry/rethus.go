package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// RethusClient queries the RETHUS clinical registry through the HiSmart
// gateway. Its payload supplements an existing profile; the portal never
// creates identities from it.
type RethusClient struct {
	http *resty.Client
}

func NewRethusClient(baseURL, apiKey string) *RethusClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &RethusClient{http: c}
}

// Fetch returns the clinical registry record for the document, ErrNotFound
// when none exists, ErrUnavailable on transport or server failure.
func (c *RethusClient) Fetch(ctx context.Context, documentType, documentNumber string) (*ClinicalRecord, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tipo": documentType,
			"id":   documentNumber,
		}).
		Get("/rethus/consulta")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf("%w: rethus returned status %d", ErrUnavailable, resp.StatusCode())
	}

	body := resp.Body()
	var rec ClinicalRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	rec.Raw = json.RawMessage(body)
	return &rec, nil
}
