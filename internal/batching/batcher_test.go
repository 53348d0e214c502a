package batching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/engels74/comradarr-sub001/internal/model"
)

func TestDecideNoMissingEpisodes(t *testing.T) {
	d := Decide(model.SeasonStatistics{TotalEpisodes: 10, DownloadedEpisodes: 10}, DefaultThresholds())
	assert.Equal(t, EpisodeSearch, d.Command)
	assert.Equal(t, ReasonNoMissing, d.Reason)
}

func TestDecideCurrentlyAiring(t *testing.T) {
	next := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	d := Decide(model.SeasonStatistics{
		TotalEpisodes:      10,
		DownloadedEpisodes: 2,
		NextAiring:         &next,
	}, DefaultThresholds())
	assert.Equal(t, EpisodeSearch, d.Command)
	assert.Equal(t, ReasonCurrentlyAiring, d.Reason)
}

func TestDecideBelowMissingCount(t *testing.T) {
	// 2 of 3 missing clears the percent bar but not the count bar.
	d := Decide(model.SeasonStatistics{TotalEpisodes: 3, DownloadedEpisodes: 1}, DefaultThresholds())
	assert.Equal(t, EpisodeSearch, d.Command)
	assert.Equal(t, ReasonBelowThreshold, d.Reason)
}

func TestDecideBelowMissingPercent(t *testing.T) {
	// 4 of 20 missing clears the count bar but not the percent bar.
	d := Decide(model.SeasonStatistics{TotalEpisodes: 20, DownloadedEpisodes: 16}, DefaultThresholds())
	assert.Equal(t, EpisodeSearch, d.Command)
	assert.Equal(t, ReasonBelowThreshold, d.Reason)
}

func TestDecideSeasonPack(t *testing.T) {
	d := Decide(model.SeasonStatistics{TotalEpisodes: 10, DownloadedEpisodes: 3}, DefaultThresholds())
	assert.Equal(t, SeasonSearch, d.Command)
	assert.Equal(t, ReasonHighMissing, d.Reason)
}

func TestDecideExactlyAtThresholds(t *testing.T) {
	// 3 of 6 missing: exactly 50 percent and exactly 3 episodes.
	d := Decide(model.SeasonStatistics{TotalEpisodes: 6, DownloadedEpisodes: 3}, DefaultThresholds())
	assert.Equal(t, SeasonSearch, d.Command)
}

func TestDecideCustomThresholds(t *testing.T) {
	stats := model.SeasonStatistics{TotalEpisodes: 10, DownloadedEpisodes: 5}
	strict := Thresholds{MinMissingPercent: 80, MinMissingCount: 3}
	assert.Equal(t, EpisodeSearch, Decide(stats, strict).Command)
	lax := Thresholds{MinMissingPercent: 10, MinMissingCount: 1}
	assert.Equal(t, SeasonSearch, Decide(stats, lax).Command)
}
