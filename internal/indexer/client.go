// Package indexer polls indexer-manager instances and caches a merged
// health view the dispatcher consults before sending searches.
package indexer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/engels74/comradarr-sub001/internal/apperr"
)

// DefaultTimeout bounds individual indexer-manager requests.
const DefaultTimeout = 15 * time.Second

// Indexer is one configured indexer as reported by the manager.
type Indexer struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Implementation string `json:"implementation"`
	Enable         bool   `json:"enable"`
	Protocol       string `json:"protocol"`
	Priority       int    `json:"priority"`
}

// IndexerStatus is the manager's failure bookkeeping for one indexer.
// DisabledTill is set while the manager has benched the indexer, which is
// how rate limiting surfaces.
type IndexerStatus struct {
	ID                int64      `json:"id"`
	IndexerID         int64      `json:"indexerId"`
	DisabledTill      *time.Time `json:"disabledTill,omitempty"`
	MostRecentFailure *time.Time `json:"mostRecentFailure,omitempty"`
	InitialFailure    *time.Time `json:"initialFailure,omitempty"`
}

// Client talks to one indexer-manager instance.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a Client. httpClient nil uses a default with
// DefaultTimeout.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpClient,
	}
}

// Indexers lists the manager's configured indexers.
func (c *Client) Indexers(ctx context.Context) ([]Indexer, error) {
	var out []Indexer
	if err := c.get(ctx, "/api/v1/indexer", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Statuses lists the manager's per-indexer failure state. Indexers with no
// recorded failures are absent.
func (c *Client) Statuses(ctx context.Context) ([]IndexerStatus, error) {
	var out []IndexerStatus
	if err := c.get(ctx, "/api/v1/indexerstatus", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperr.Wrap(apperr.CategoryConfiguration, "build indexer request", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.FromTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.CategoryNetwork, "read indexer response", err)
	}
	if e := apperr.FromHTTPStatus(resp.StatusCode, string(raw), 0); e != nil {
		return e
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return apperr.Wrap(apperr.CategoryServer, "decode indexer response", err)
	}
	return nil
}
