// Package batching decides whether a season's missing episodes should be
// searched as one season pack or as individual episodes.
package batching

import "github.com/engels74/comradarr-sub001/internal/model"

// Command is the search command the batcher recommends.
type Command string

const (
	SeasonSearch  Command = "SeasonSearch"
	EpisodeSearch Command = "EpisodeSearch"
)

// Reason explains a batching decision.
type Reason string

const (
	ReasonNoMissing       Reason = "no_missing_episodes"
	ReasonCurrentlyAiring Reason = "season_currently_airing"
	ReasonBelowThreshold  Reason = "below_missing_threshold"
	ReasonHighMissing     Reason = "season_fully_aired_high_missing"
)

// Thresholds gate the season-pack decision.
type Thresholds struct {
	MinMissingPercent float64
	MinMissingCount   int
}

// DefaultThresholds returns the production thresholds: at least half the
// season missing and at least 3 episodes.
func DefaultThresholds() Thresholds {
	return Thresholds{MinMissingPercent: 50, MinMissingCount: 3}
}

// Decision is the batcher's output.
type Decision struct {
	Command Command `json:"command"`
	Reason  Reason  `json:"reason"`
}

// Decide picks SeasonSearch only for fully-aired seasons with enough
// missing episodes; everything else falls back to per-episode searches.
// Pure function, no I/O. Rules are evaluated in order:
//
//  1. nothing missing           -> EpisodeSearch / no_missing_episodes
//  2. season still airing       -> EpisodeSearch / season_currently_airing
//  3. below either threshold    -> EpisodeSearch / below_missing_threshold
//  4. otherwise                 -> SeasonSearch / season_fully_aired_high_missing
func Decide(stats model.SeasonStatistics, t Thresholds) Decision {
	missing := stats.TotalEpisodes - stats.DownloadedEpisodes
	if missing <= 0 {
		return Decision{Command: EpisodeSearch, Reason: ReasonNoMissing}
	}

	if stats.NextAiring != nil {
		return Decision{Command: EpisodeSearch, Reason: ReasonCurrentlyAiring}
	}

	missingPercent := 0.0
	if stats.TotalEpisodes > 0 {
		missingPercent = float64(missing) / float64(stats.TotalEpisodes) * 100
	}
	if missing < t.MinMissingCount || missingPercent < t.MinMissingPercent {
		return Decision{Command: EpisodeSearch, Reason: ReasonBelowThreshold}
	}

	return Decision{Command: SeasonSearch, Reason: ReasonHighMissing}
}
