package notify

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/engels74/comradarr-sub001/internal/model"
)

func entriesWithTitles(titles ...string) []model.NotificationHistoryEntry {
	out := make([]model.NotificationHistoryEntry, len(titles))
	for i, title := range titles {
		out[i] = model.NotificationHistoryEntry{
			EventType: model.EventSearchSuccess,
			EventData: map[string]any{"title": title},
		}
	}
	return out
}

func TestBuildDigestListsUpToFiveItems(t *testing.T) {
	entries := entriesWithTitles("One", "Two", "Three", "Four", "Five", "Six", "Seven")
	p := BuildDigest(model.EventSearchSuccess, entries, time.Now().UTC())

	assert.Equal(t, "7 searches dispatched", p.Title)
	assert.Contains(t, p.Message, "Five")
	assert.NotContains(t, p.Message, "Six")
	assert.Contains(t, p.Message, "and 2 more")
}

func TestBuildDigestNoSuffixWhenAllListed(t *testing.T) {
	p := BuildDigest(model.EventSearchSuccess, entriesWithTitles("A", "B", "C"), time.Now().UTC())
	assert.NotContains(t, p.Message, "more")
}

func TestBuildDigestTruncatesLongTitles(t *testing.T) {
	long := strings.Repeat("x", 60)
	p := BuildDigest(model.EventSearchSuccess, entriesWithTitles(long), time.Now().UTC())

	for _, line := range strings.Split(p.Message, "\n") {
		assert.LessOrEqual(t, len([]rune(line)), MaxTitleLength)
	}
	assert.Contains(t, p.Message, "…")
}

func TestBuildDigestHealthChanges(t *testing.T) {
	change := func(prev, next model.HealthStatus) model.NotificationHistoryEntry {
		return model.NotificationHistoryEntry{
			EventType: model.EventConnectorHealthChanged,
			EventData: map[string]any{
				"previous_status": string(prev),
				"new_status":      string(next),
			},
		}
	}
	entries := []model.NotificationHistoryEntry{
		change(model.HealthOffline, model.HealthHealthy),
		change(model.HealthHealthy, model.HealthDegraded),
		change(model.HealthDegraded, model.HealthUnhealthy),
		change(model.HealthUnhealthy, model.HealthUnhealthy),
	}

	p := BuildDigest(model.EventConnectorHealthChanged, entries, time.Now().UTC())
	assert.Equal(t, "4 connector health changes", p.Title)
	assert.Contains(t, p.Message, "1 improved")
	assert.Contains(t, p.Message, "2 degraded")
}

func TestBuildDigestSweepTotals(t *testing.T) {
	entries := []model.NotificationHistoryEntry{
		{EventType: model.EventSweepCompleted, EventData: map[string]any{"dispatched": float64(10), "failed": float64(1)}},
		{EventType: model.EventSweepCompleted, EventData: map[string]any{"dispatched": 5, "failed": 0}},
	}
	p := BuildDigest(model.EventSweepCompleted, entries, time.Now().UTC())
	assert.Contains(t, p.Message, "15 dispatched")
	assert.Contains(t, p.Message, "1 failed")
}

func TestBuildPayloadKnownEvents(t *testing.T) {
	now := time.Now().UTC()

	p := BuildPayload(model.EventSweepCompleted, map[string]any{"dispatched": 12, "failed": 2}, now)
	assert.Equal(t, "Search sweep completed", p.Title)
	assert.Contains(t, p.Message, "12")
	assert.Equal(t, model.EventColors[model.EventSweepCompleted], p.Color)

	p = BuildPayload(model.EventConnectorHealthChanged, map[string]any{
		"connector": "sonarr-main", "previous_status": "healthy", "new_status": "degraded",
	}, now)
	assert.Contains(t, p.Message, "sonarr-main")
	assert.Contains(t, p.Message, "degraded")
}

func TestBuildPayloadUnknownEventGetsGenericRendering(t *testing.T) {
	p := BuildPayload("something_new", map[string]any{"b": 2, "a": 1}, time.Now().UTC())
	assert.Equal(t, "something_new", p.Title)
	assert.Equal(t, model.DefaultEventColor, p.Color)
	// Fields sorted by key for a stable rendering.
	assert.Equal(t, []Field{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, p.Fields)
}

func TestColorToInt(t *testing.T) {
	assert.Equal(t, 0x2ecc71, ColorToInt("#2ecc71"))
	assert.Equal(t, 0x7289da, ColorToInt("not-a-color"), "invalid input falls back")
}

func TestTruncateTitleBoundary(t *testing.T) {
	exact := strings.Repeat("y", MaxTitleLength)
	assert.Equal(t, exact, truncateTitle(exact))

	over := exact + "z"
	got := truncateTitle(over)
	assert.Equal(t, MaxTitleLength, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"), fmt.Sprintf("got %q", got))
}
