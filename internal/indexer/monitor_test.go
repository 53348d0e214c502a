package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub001/internal/apperr"
)

func TestMergeHealthRateLimitFromDisabledTill(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * time.Minute)
	past := now.Add(-30 * time.Minute)
	failed := now.Add(-time.Hour)

	indexers := []Indexer{
		{ID: 1, Name: "alpha", Enable: true},
		{ID: 2, Name: "beta", Enable: true},
		{ID: 3, Name: "gamma", Enable: false},
	}
	statuses := []IndexerStatus{
		{IndexerID: 1, DisabledTill: &future, MostRecentFailure: &failed},
		{IndexerID: 2, DisabledTill: &past},
	}

	rows := mergeHealth(indexers, statuses, now)
	require.Len(t, rows, 3)

	assert.True(t, rows[0].IsRateLimited, "future disabledTill means rate limited")
	assert.Equal(t, &future, rows[0].RateLimitExpires)
	assert.Equal(t, &failed, rows[0].MostRecentFailure)

	assert.False(t, rows[1].IsRateLimited, "expired disabledTill is not rate limited")
	assert.Nil(t, rows[1].RateLimitExpires)

	assert.False(t, rows[2].IsRateLimited, "no status row means healthy")
	assert.False(t, rows[2].Enabled)
}

func TestMergeHealthNoStatuses(t *testing.T) {
	now := time.Now().UTC()
	rows := mergeHealth([]Indexer{{ID: 5, Name: "solo", Enable: true}}, nil, now)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsRateLimited)
	assert.Equal(t, now, rows[0].LastUpdated)
}

func TestClientFetchesIndexerEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		switch r.URL.Path {
		case "/api/v1/indexer":
			_ = json.NewEncoder(w).Encode([]Indexer{{ID: 1, Name: "alpha", Enable: true, Protocol: "torrent"}})
		case "/api/v1/indexerstatus":
			_ = json.NewEncoder(w).Encode([]IndexerStatus{{ID: 9, IndexerID: 1}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", nil)

	indexers, err := c.Indexers(context.Background())
	require.NoError(t, err)
	require.Len(t, indexers, 1)
	assert.Equal(t, "alpha", indexers[0].Name)

	statuses, err := c.Statuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, int64(1), statuses[0].IndexerID)
}

func TestClientClassifiesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-key", nil)
	_, err := c.Indexers(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryAuthentication, apperr.CategoryOf(err))
}
