package registry_test

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub001/internal/backoff"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/registry"
	"github.com/engels74/comradarr-sub001/internal/storage"
	"github.com/engels74/comradarr-sub001/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		slog.Error("test db setup failed", "error", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// steadyPolicy keeps three attempts with a deterministic one-hour curve.
func steadyPolicy(maxAttempts int) backoff.Policy {
	return backoff.Policy{
		BaseDelay:   time.Hour,
		MaxDelay:    24 * time.Hour,
		Multiplier:  2,
		Jitter:      false,
		MaxAttempts: maxAttempts,
	}
}

func backlogOn() backoff.BacklogPolicy {
	return backoff.BacklogPolicy{
		Enabled:        true,
		TierDelaysDays: []int{7, 14, 30},
		MaxTier:        3,
	}
}

func newService(t *testing.T, policy backoff.Policy, backlog backoff.BacklogPolicy) *registry.Service {
	t.Helper()
	return registry.New(testDB, policy, backlog, testutil.TestLogger())
}

func createConnector(t *testing.T, name string) model.Connector {
	t.Helper()
	conn, err := testDB.CreateConnector(context.Background(), model.Connector{
		Name:            name,
		Type:            model.ConnectorSonarr,
		BaseURL:         "http://sonarr.local:8989",
		APIKeyEncrypted: "00:00:00",
		HealthStatus:    model.HealthHealthy,
	})
	require.NoError(t, err)
	return conn
}

func createEntry(t *testing.T, connectorID, contentID int64, searchType model.SearchType) model.SearchRegistryEntry {
	t.Helper()
	e, err := testDB.CreateRegistryEntry(context.Background(), model.SearchRegistryEntry{
		ConnectorID: connectorID,
		ContentType: model.ContentEpisode,
		ContentID:   contentID,
		SearchType:  searchType,
	})
	require.NoError(t, err)
	return e
}

// toSearching walks an entry through queued into the searching state.
func toSearching(t *testing.T, conn model.Connector, entry model.SearchRegistryEntry) {
	t.Helper()
	ctx := context.Background()
	err := testDB.EnqueueBatch(ctx, []storage.QueueInsert{
		{SearchRegistryID: entry.ID, ConnectorID: conn.ID, Priority: 1000},
	}, time.Now().UTC())
	require.NoError(t, err)
	ok, err := testDB.CASSetSearching(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func insertEpisode(t *testing.T, connectorID, id, seriesID int64, season int) {
	t.Helper()
	_, err := testDB.Pool().Exec(context.Background(),
		`INSERT INTO episodes (id, connector_id, series_id, season_number, episode_number)
		 VALUES ($1, $2, $3, $4, 1)`,
		id, connectorID, seriesID, season,
	)
	require.NoError(t, err)
}

func TestSetSearchingClaimsOnce(t *testing.T) {
	ctx := context.Background()
	conn := createConnector(t, "claim")
	entry := createEntry(t, conn.ID, 101, model.SearchGap)
	svc := newService(t, steadyPolicy(3), backoff.BacklogPolicy{})

	err := testDB.EnqueueBatch(ctx, []storage.QueueInsert{
		{SearchRegistryID: entry.ID, ConnectorID: conn.ID, Priority: 1000},
	}, time.Now().UTC())
	require.NoError(t, err)

	res, err := svc.SetSearching(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.StateSearching, res.NewState)

	res, err = svc.SetSearching(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "invalid_state", res.Error)
}

func TestMarkFailedCoolsDownBelowBudget(t *testing.T) {
	ctx := context.Background()
	conn := createConnector(t, "cooldown")
	entry := createEntry(t, conn.ID, 201, model.SearchGap)
	toSearching(t, conn, entry)
	svc := newService(t, steadyPolicy(3), backoff.BacklogPolicy{})

	before := time.Now().UTC()
	res, err := svc.MarkFailed(ctx, entry.ID, model.FailureNetwork, false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.StateCooldown, res.NewState)

	got, err := testDB.GetRegistryEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCooldown, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Zero(t, got.BacklogTier)
	require.NotNil(t, got.NextEligible)
	// First attempt waits the base delay with jitter off.
	assert.True(t, got.NextEligible.After(before.Add(59*time.Minute)))
	assert.True(t, got.NextEligible.Before(before.Add(61*time.Minute)))
}

func TestMarkFailedExhaustsWithoutBacklog(t *testing.T) {
	ctx := context.Background()
	conn := createConnector(t, "exhaust")
	entry := createEntry(t, conn.ID, 301, model.SearchGap)
	toSearching(t, conn, entry)
	svc := newService(t, steadyPolicy(1), backoff.BacklogPolicy{})

	res, err := svc.MarkFailed(ctx, entry.ID, model.FailureNoResults, false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.StateExhausted, res.NewState)

	got, err := testDB.GetRegistryEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExhausted, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.NextEligible)
}

func TestMarkFailedEntersBacklogTier(t *testing.T) {
	ctx := context.Background()
	conn := createConnector(t, "backlog")
	entry := createEntry(t, conn.ID, 401, model.SearchGap)
	toSearching(t, conn, entry)
	svc := newService(t, steadyPolicy(1), backlogOn())

	before := time.Now().UTC()
	res, err := svc.MarkFailed(ctx, entry.ID, model.FailureNoResults, false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.StateCooldown, res.NewState)

	got, err := testDB.GetRegistryEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCooldown, got.State)
	assert.Equal(t, 1, got.BacklogTier)
	assert.Zero(t, got.AttemptCount, "backlog entry restarts its attempt budget")
	require.NotNil(t, got.NextEligible)
	// Tier 1 waits seven days, jittered by up to half a day.
	assert.True(t, got.NextEligible.After(before.Add(6*24*time.Hour)))
	assert.True(t, got.NextEligible.Before(before.Add(8*24*time.Hour)))
}

func TestMarkFailedRequiresSearching(t *testing.T) {
	ctx := context.Background()
	conn := createConnector(t, "not-searching")
	entry := createEntry(t, conn.ID, 501, model.SearchGap)
	svc := newService(t, steadyPolicy(3), backoff.BacklogPolicy{})

	res, err := svc.MarkFailed(ctx, entry.ID, model.FailureNetwork, false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "invalid_state", res.Error)
	assert.Equal(t, model.StatePending, res.PreviousState)
}

func TestMarkFailedSeasonPackPropagates(t *testing.T) {
	ctx := context.Background()
	conn := createConnector(t, "season-pack")

	// Two episodes in season 2 and one in season 3 of the same series.
	insertEpisode(t, conn.ID, 601, 60, 2)
	insertEpisode(t, conn.ID, 602, 60, 2)
	insertEpisode(t, conn.ID, 603, 60, 3)

	failed := createEntry(t, conn.ID, 601, model.SearchGap)
	sibling := createEntry(t, conn.ID, 602, model.SearchGap)
	other := createEntry(t, conn.ID, 603, model.SearchGap)
	toSearching(t, conn, failed)
	svc := newService(t, steadyPolicy(3), backoff.BacklogPolicy{})

	res, err := svc.MarkFailed(ctx, failed.ID, model.FailureNoResults, true)
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := testDB.GetRegistryEntry(ctx, failed.ID)
	require.NoError(t, err)
	assert.True(t, got.SeasonPackFailed)

	got, err = testDB.GetRegistryEntry(ctx, sibling.ID)
	require.NoError(t, err)
	assert.True(t, got.SeasonPackFailed, "same-season sibling must fall back to individual searches")

	got, err = testDB.GetRegistryEntry(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, got.SeasonPackFailed, "other seasons are untouched")
}

func TestMarkFailedSeasonPackNeedsNoResults(t *testing.T) {
	ctx := context.Background()
	conn := createConnector(t, "season-pack-network")

	insertEpisode(t, conn.ID, 701, 70, 1)
	insertEpisode(t, conn.ID, 702, 70, 1)

	failed := createEntry(t, conn.ID, 701, model.SearchGap)
	sibling := createEntry(t, conn.ID, 702, model.SearchGap)
	toSearching(t, conn, failed)
	svc := newService(t, steadyPolicy(3), backoff.BacklogPolicy{})

	// A transport failure says nothing about pack availability.
	res, err := svc.MarkFailed(ctx, failed.ID, model.FailureNetwork, true)
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := testDB.GetRegistryEntry(ctx, sibling.ID)
	require.NoError(t, err)
	assert.False(t, got.SeasonPackFailed)
}

func TestMarkDispatchedUpgradeEntersBacklog(t *testing.T) {
	ctx := context.Background()
	conn := createConnector(t, "dispatched-upgrade")
	entry := createEntry(t, conn.ID, 801, model.SearchUpgrade)
	toSearching(t, conn, entry)
	svc := newService(t, steadyPolicy(3), backlogOn())

	res, err := svc.MarkDispatched(ctx, entry.ID, model.SearchUpgrade)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.StateCooldown, res.NewState)

	got, err := testDB.GetRegistryEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCooldown, got.State)
	assert.Equal(t, 1, got.BacklogTier)
	assert.Zero(t, got.AttemptCount)
	require.NotNil(t, got.NextEligible)
	require.NotNil(t, got.LastSearched)
}

func TestMarkDispatchedGapStaysSearching(t *testing.T) {
	ctx := context.Background()
	conn := createConnector(t, "dispatched-gap")
	entry := createEntry(t, conn.ID, 901, model.SearchGap)
	toSearching(t, conn, entry)
	svc := newService(t, steadyPolicy(3), backoff.BacklogPolicy{})

	res, err := svc.MarkDispatched(ctx, entry.ID, model.SearchGap)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.StateSearching, res.NewState)

	got, err := testDB.GetRegistryEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSearching, got.State)
	require.NotNil(t, got.LastSearched)
}
