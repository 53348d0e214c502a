package model

import "time"

// IndexerInstance is a configured indexer-manager (Prowlarr-style)
// deployment the monitor polls.
type IndexerInstance struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	BaseURL         string `json:"base_url"`
	APIKeyEncrypted string `json:"-"`
	Enabled         bool   `json:"enabled"`
}

// IndexerHealth is one cached row from the indexer-manager health poll.
// A row is stale when now - LastUpdated exceeds the monitor's stale
// threshold; staleness is computed at read time, not stored.
type IndexerHealth struct {
	InstanceID        int64      `json:"instance_id"`
	IndexerID         int64      `json:"indexer_id"`
	Name              string     `json:"name"`
	Enabled           bool       `json:"enabled"`
	IsRateLimited     bool       `json:"is_rate_limited"`
	RateLimitExpires  *time.Time `json:"rate_limit_expires_at,omitempty"`
	MostRecentFailure *time.Time `json:"most_recent_failure,omitempty"`
	LastUpdated       time.Time  `json:"last_updated"`
}

// IndexerHealthSnapshot is a read-time view of a cache row with the
// staleness flag resolved against the monitor's threshold.
type IndexerHealthSnapshot struct {
	IndexerHealth
	IsStale bool `json:"is_stale"`
}

// SeasonStatistics summarizes one season of a series for the episode
// batcher: how many episodes exist, how many are downloaded, and whether
// the season is still airing.
type SeasonStatistics struct {
	SeasonNumber       int        `json:"season_number"`
	TotalEpisodes      int        `json:"total_episodes"`
	DownloadedEpisodes int        `json:"downloaded_episodes"`
	NextAiring         *time.Time `json:"next_airing,omitempty"`
}
