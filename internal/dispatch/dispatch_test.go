package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub001/internal/apperr"
	"github.com/engels74/comradarr-sub001/internal/connector"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/throttle"
)

func TestThrottleDenialWindowExceeded(t *testing.T) {
	res := throttleDenial(throttle.Decision{Allowed: false, Reason: throttle.ReasonRateLimited})
	assert.False(t, res.Success)
	assert.True(t, res.RateLimited)
	assert.False(t, res.ConnectorPaused)
	assert.Empty(t, res.Category, "admission denials must not carry a failure category")
	assert.Contains(t, res.Error, throttle.ReasonRateLimited)
}

func TestThrottleDenialConnectorPaused(t *testing.T) {
	res := throttleDenial(throttle.Decision{Allowed: false, Reason: throttle.ReasonConnectorPaused})
	assert.False(t, res.Success)
	assert.True(t, res.RateLimited)
	assert.True(t, res.ConnectorPaused)
	assert.Empty(t, res.Category)
}

// fakeClient records which command verb was invoked.
type fakeClient struct {
	verb   string
	result connector.CommandResult
	err    error
}

func (f *fakeClient) SendEpisodeSearch(ctx context.Context, episodeIDs []int64) (connector.CommandResult, error) {
	f.verb = "episode"
	return f.result, f.err
}

func (f *fakeClient) SendSeasonSearch(ctx context.Context, seriesID int64, seasonNumber int) (connector.CommandResult, error) {
	f.verb = "season"
	return f.result, f.err
}

func (f *fakeClient) SendMoviesSearch(ctx context.Context, movieIDs []int64) (connector.CommandResult, error) {
	f.verb = "movies"
	return f.result, f.err
}

func TestSendSelectsCommandVerb(t *testing.T) {
	s := &Service{}
	seriesID := int64(42)
	season := 3

	cases := []struct {
		name string
		req  Request
		verb string
	}{
		{"movies", Request{MovieIDs: []int64{1, 2}}, "movies"},
		{"episodes", Request{EpisodeIDs: []int64{7}}, "episode"},
		{"season pack", Request{SeriesID: &seriesID, SeasonNumber: &season}, "season"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := &fakeClient{result: connector.CommandResult{ID: 9}}
			_, err := s.send(context.Background(), fc, tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.verb, fc.verb)
		})
	}
}

func TestSendRejectsEmptyRequest(t *testing.T) {
	s := &Service{}
	_, err := s.send(context.Background(), &fakeClient{}, Request{})
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
}

func TestFailureCategoryMapping(t *testing.T) {
	cases := []struct {
		in   apperr.Category
		want model.FailureCategory
	}{
		{apperr.CategoryNetwork, model.FailureNetwork},
		{apperr.CategoryTimeout, model.FailureTimeout},
		{apperr.CategoryRateLimit, model.FailureRateLimit},
		{apperr.CategoryAuthentication, model.FailureAuth},
		{apperr.CategoryServer, model.FailureServer},
		{apperr.CategoryValidation, model.FailureServer},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, failureCategory(tc.in), string(tc.in))
	}
}
