// Package priority scores search registry entries for queue ordering.
//
// Calculate is a pure function of its inputs: the same input, weights, and
// clock always produce the same integer score. The breakdown of per-factor
// contributions is returned alongside the score for observability.
package priority

import (
	"math"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// BaseScore is the starting point every entry scores from.
const BaseScore = 1000

// Weights are percentage-style multipliers applied to each scoring factor.
type Weights struct {
	ContentAge      float64 // weight on how recently the content was released
	MissingDuration float64 // weight on how long the entry has been missing
	UserPriority    float64 // weight on the user's manual override
	FailurePenalty  float64 // points subtracted per failed attempt
	GapBonus        float64 // flat bonus for gap (vs upgrade) searches
	SpecialsPenalty float64 // flat penalty for season-0 specials
	FileLostBonus   float64 // max bonus for recently lost files
}

// DefaultWeights are the production defaults.
func DefaultWeights() Weights {
	return Weights{
		ContentAge:      50,
		MissingDuration: 50,
		UserPriority:    100,
		FailurePenalty:  10,
		GapBonus:        50,
		SpecialsPenalty: 25,
		FileLostBonus:   100,
	}
}

// Constants bound the scoring curves.
type Constants struct {
	MaxContentAgeDays      float64
	MaxMissingDurationDays float64
	FileLostDecayDays      float64
}

// DefaultConstants returns the production curve bounds.
func DefaultConstants() Constants {
	return Constants{
		MaxContentAgeDays:      3650,
		MaxMissingDurationDays: 365,
		FileLostDecayDays:      30,
	}
}

// Input carries everything known about an entry that affects its score.
type Input struct {
	SearchType    model.SearchType
	ContentDate   *time.Time // air date (episode) or Jan 1 of release year (movie)
	DiscoveredAt  time.Time  // when the gap/upgrade was first registered
	UserPriority  int        // manual override in [-100, 100]
	AttemptCount  int
	SeasonNumber  *int // season 0 marks specials
	WasDownloaded bool
	FileLostAt    *time.Time
}

// Breakdown is the per-factor contribution to a score.
type Breakdown struct {
	Base            float64 `json:"base"`
	ContentAge      float64 `json:"content_age"`
	MissingDuration float64 `json:"missing_duration"`
	UserPriority    float64 `json:"user_priority"`
	FailurePenalty  float64 `json:"failure_penalty"`
	GapBonus        float64 `json:"gap_bonus"`
	SpecialsPenalty float64 `json:"specials_penalty"`
	FileLostBonus   float64 `json:"file_lost_bonus"`
}

// Result is a computed score with its breakdown.
type Result struct {
	Score     int       `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

// Calculate scores an entry. Deterministic: no randomness, no I/O.
func Calculate(in Input, w Weights, c Constants, now time.Time) Result {
	b := Breakdown{
		Base:            BaseScore,
		ContentAge:      w.ContentAge / 100 * ageScore(in.ContentDate, c, now),
		MissingDuration: w.MissingDuration / 100 * durationScore(in.DiscoveredAt, c, now),
		UserPriority:    w.UserPriority / 100 * clampUserPriority(in.UserPriority),
		FailurePenalty:  -w.FailurePenalty * float64(in.AttemptCount),
		FileLostBonus:   fileLostBonus(in.WasDownloaded, in.FileLostAt, w.FileLostBonus, c, now),
	}
	if in.SearchType == model.SearchGap {
		b.GapBonus = w.GapBonus
	}
	if in.SeasonNumber != nil && *in.SeasonNumber == 0 {
		b.SpecialsPenalty = -w.SpecialsPenalty
	}

	total := b.Base + b.ContentAge + b.MissingDuration + b.UserPriority +
		b.FailurePenalty + b.GapBonus + b.SpecialsPenalty + b.FileLostBonus

	return Result{Score: int(math.Round(total)), Breakdown: b}
}

// Compare orders results descending by score: negative when a ranks
// before b. Ties are broken by scheduled time at the queue layer.
func Compare(a, b Result) int {
	return b.Score - a.Score
}

// ageScore rewards newer content: 100 for brand-new, linearly down to 0 at
// MaxContentAgeDays. Unknown dates score the midpoint; future dates count
// as age zero.
func ageScore(contentDate *time.Time, c Constants, now time.Time) float64 {
	if contentDate == nil {
		return 50
	}
	ageDays := now.Sub(*contentDate).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 100 * (1 - math.Min(ageDays/c.MaxContentAgeDays, 1))
}

// durationScore rewards entries that have waited longer: 0 when just
// discovered, linearly up to 100 at MaxMissingDurationDays.
func durationScore(discoveredAt time.Time, c Constants, now time.Time) float64 {
	days := now.Sub(discoveredAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 100 * math.Min(days/c.MaxMissingDurationDays, 1)
}

// fileLostBonus boosts content that was downloaded and then lost, decaying
// linearly to zero over FileLostDecayDays.
func fileLostBonus(wasDownloaded bool, lostAt *time.Time, weight float64, c Constants, now time.Time) float64 {
	if !wasDownloaded || lostAt == nil || weight == 0 || c.FileLostDecayDays <= 0 {
		return 0
	}
	daysSince := now.Sub(*lostAt).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}
	remaining := 1 - daysSince/c.FileLostDecayDays
	if remaining <= 0 {
		return 0
	}
	return weight * remaining
}

func clampUserPriority(p int) float64 {
	if p > 100 {
		return 100
	}
	if p < -100 {
		return -100
	}
	return float64(p)
}
