package throttle_test

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/storage"
	"github.com/engels74/comradarr-sub001/internal/testutil"
	"github.com/engels74/comradarr-sub001/internal/throttle"
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

func createConnector(t *testing.T, name string, rpm, pauseSeconds int) model.Connector {
	t.Helper()
	conn, err := testDB.CreateConnector(context.Background(), model.Connector{
		Name:                 name,
		Type:                 model.ConnectorSonarr,
		BaseURL:              "http://sonarr.local:8989",
		APIKeyEncrypted:      "00:00:00",
		HealthStatus:         model.HealthHealthy,
		RequestsPerMinute:    rpm,
		RateLimitPauseSecond: pauseSeconds,
	})
	require.NoError(t, err)
	return conn
}

func TestCanDispatchUnlimitedConnector(t *testing.T) {
	ctx := context.Background()
	svc := throttle.New(testDB, testutil.TestLogger())
	conn := createConnector(t, "unlimited", 0, 0)

	d, err := svc.CanDispatch(ctx, conn, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCanDispatchDeniesOverBudget(t *testing.T) {
	ctx := context.Background()
	svc := throttle.New(testDB, testutil.TestLogger())
	conn := createConnector(t, "budget", 2, 0)

	now := time.Now().UTC()
	require.NoError(t, svc.RecordRequest(ctx, conn.ID, now))
	d, err := svc.CanDispatch(ctx, conn, now)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one of two budgeted requests used")

	require.NoError(t, svc.RecordRequest(ctx, conn.ID, now))
	d, err = svc.CanDispatch(ctx, conn, now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, throttle.ReasonRateLimited, d.Reason)
	assert.Positive(t, d.RetryAfter)

	// The next minute window opens the budget again.
	d, err = svc.CanDispatch(ctx, conn, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCanDispatchPauseWinsOverBudget(t *testing.T) {
	ctx := context.Background()
	svc := throttle.New(testDB, testutil.TestLogger())
	conn := createConnector(t, "paused", 100, 0)

	now := time.Now().UTC()
	require.NoError(t, testDB.SetPausedUntil(ctx, conn.ID, now.Add(5*time.Minute)))

	d, err := svc.CanDispatch(ctx, conn, now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, throttle.ReasonConnectorPaused, d.Reason)
	assert.Positive(t, d.RetryAfter)

	require.NoError(t, svc.ClearPause(ctx, conn.ID))
	d, err = svc.CanDispatch(ctx, conn, now)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestHandleRateLimitResponseTakesLongestPause(t *testing.T) {
	ctx := context.Background()
	svc := throttle.New(testDB, testutil.TestLogger())
	now := time.Now().UTC()

	// Server Retry-After beats the configured pause.
	conn := createConnector(t, "429-server", 60, 30)
	until, err := svc.HandleRateLimitResponse(ctx, conn, 2*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Minute), until)

	// The configured pause beats a shorter Retry-After.
	conn = createConnector(t, "429-config", 60, 90)
	until, err = svc.HandleRateLimitResponse(ctx, conn, 10*time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Second), until)

	// Never below the one-second floor.
	conn = createConnector(t, "429-floor", 60, 0)
	until, err = svc.HandleRateLimitResponse(ctx, conn, 0, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Second), until)

	state, err := testDB.GetRateState(ctx, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, state.PausedUntil)
}

func TestRecordRequestRollsWindow(t *testing.T) {
	ctx := context.Background()
	svc := throttle.New(testDB, testutil.TestLogger())
	conn := createConnector(t, "window-roll", 5, 0)

	now := time.Now().UTC()
	require.NoError(t, svc.RecordRequest(ctx, conn.ID, now))
	require.NoError(t, svc.RecordRequest(ctx, conn.ID, now.Add(time.Second)))

	state, err := testDB.GetRateState(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, state.RequestsThisMinute)

	// A request past the window restarts the counter.
	later := now.Add(2 * time.Minute)
	require.NoError(t, svc.RecordRequest(ctx, conn.ID, later))
	state, err = testDB.GetRateState(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.RequestsThisMinute)
	assert.WithinDuration(t, later, state.MinuteWindowStart, time.Second)
}
