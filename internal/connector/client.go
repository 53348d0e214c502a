// Package connector is the outbound HTTP client for Sonarr, Radarr and
// Whisparr instances. All three speak the same command API; the client
// only varies in which search commands make sense for the content type.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/engels74/comradarr-sub001/internal/apperr"
	"github.com/engels74/comradarr-sub001/internal/model"
)

// DefaultTimeout bounds individual backend requests.
const DefaultTimeout = 15 * time.Second

// maxErrorBodyBytes caps how much of an error response is kept for the
// error message.
const maxErrorBodyBytes = 2048

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the backend (e.g. "http://sonarr:8989").
	BaseURL string

	// APIKey is the plaintext key sent as X-Api-Key.
	APIKey string

	Type model.ConnectorType

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with DefaultTimeout is used.
	HTTPClient *http.Client
}

// Client talks to one backend instance. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	ctype   model.ConnectorType
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apperr.New(apperr.CategoryConfiguration, "connector base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.CategoryConfiguration, "connector API key is required")
	}
	if !cfg.Type.Valid() {
		return nil, apperr.New(apperr.CategoryConfiguration, fmt.Sprintf("unknown connector type %q", cfg.Type))
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		ctype:   cfg.Type,
		client:  httpClient,
	}, nil
}

// CommandResult is the backend's acknowledgement of a queued command.
type CommandResult struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// SendEpisodeSearch asks the backend to search for individual episodes.
// Not valid for movie backends.
func (c *Client) SendEpisodeSearch(ctx context.Context, episodeIDs []int64) (CommandResult, error) {
	if c.ctype == model.ConnectorRadarr {
		return CommandResult{}, apperr.New(apperr.CategoryValidation, "EpisodeSearch is not supported by movie backends")
	}
	return c.command(ctx, map[string]any{
		"name":       "EpisodeSearch",
		"episodeIds": episodeIDs,
	})
}

// SendSeasonSearch asks the backend to search for a whole season.
func (c *Client) SendSeasonSearch(ctx context.Context, seriesID int64, seasonNumber int) (CommandResult, error) {
	if c.ctype == model.ConnectorRadarr {
		return CommandResult{}, apperr.New(apperr.CategoryValidation, "SeasonSearch is not supported by movie backends")
	}
	return c.command(ctx, map[string]any{
		"name":         "SeasonSearch",
		"seriesId":     seriesID,
		"seasonNumber": seasonNumber,
	})
}

// SendMoviesSearch asks the backend to search for movies. Only valid for
// movie backends.
func (c *Client) SendMoviesSearch(ctx context.Context, movieIDs []int64) (CommandResult, error) {
	if c.ctype != model.ConnectorRadarr {
		return CommandResult{}, apperr.New(apperr.CategoryValidation, "MoviesSearch is only supported by movie backends")
	}
	return c.command(ctx, map[string]any{
		"name":     "MoviesSearch",
		"movieIds": movieIDs,
	})
}

// Ping checks that the backend is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return apperr.Wrap(apperr.CategoryConfiguration, "build ping request", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.FromTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if e := apperr.FromHTTPStatus(resp.StatusCode, string(body), retryAfter(resp)); e != nil {
		return e
	}
	return nil
}

func (c *Client) command(ctx context.Context, body map[string]any) (CommandResult, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return CommandResult{}, apperr.Wrap(apperr.CategoryValidation, "marshal command body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v3/command", bytes.NewReader(encoded))
	if err != nil {
		return CommandResult{}, apperr.Wrap(apperr.CategoryConfiguration, "build command request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return CommandResult{}, apperr.FromTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CommandResult{}, apperr.Wrap(apperr.CategoryNetwork, "read command response", err)
	}

	if e := apperr.FromHTTPStatus(resp.StatusCode, truncateBody(raw), retryAfter(resp)); e != nil {
		return CommandResult{}, e
	}

	var result CommandResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return CommandResult{}, apperr.Wrap(apperr.CategoryServer, "decode command response", err)
	}
	return result, nil
}

// retryAfter parses a Retry-After header given in whole seconds. Malformed
// or absent headers yield zero.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncateBody(raw []byte) string {
	if len(raw) > maxErrorBodyBytes {
		raw = raw[:maxErrorBodyBytes]
	}
	return string(raw)
}
