package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/engels74/comradarr-sub001/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func baseInput() Input {
	return Input{
		SearchType:   model.SearchGap,
		DiscoveredAt: testNow,
	}
}

func score(t *testing.T, in Input) int {
	t.Helper()
	return Calculate(in, DefaultWeights(), DefaultConstants(), testNow).Score
}

func TestCalculateDeterministic(t *testing.T) {
	in := baseInput()
	d := testNow.AddDate(-1, 0, 0)
	in.ContentDate = &d
	a := Calculate(in, DefaultWeights(), DefaultConstants(), testNow)
	b := Calculate(in, DefaultWeights(), DefaultConstants(), testNow)
	assert.Equal(t, a, b)
}

func TestNewerContentScoresHigher(t *testing.T) {
	recent := baseInput()
	d1 := testNow.AddDate(0, -1, 0)
	recent.ContentDate = &d1

	old := baseInput()
	d2 := testNow.AddDate(-8, 0, 0)
	old.ContentDate = &d2

	assert.Greater(t, score(t, recent), score(t, old))
}

func TestUnknownContentDateScoresMidpoint(t *testing.T) {
	in := baseInput()
	res := Calculate(in, DefaultWeights(), DefaultConstants(), testNow)
	// 50% age score times the 50-point weight.
	assert.InDelta(t, 25, res.Breakdown.ContentAge, 0.001)
}

func TestLongerMissingScoresHigher(t *testing.T) {
	fresh := baseInput()

	waiting := baseInput()
	waiting.DiscoveredAt = testNow.AddDate(0, -6, 0)

	assert.Greater(t, score(t, waiting), score(t, fresh))
}

func TestUserPriorityMovesScore(t *testing.T) {
	neutral := baseInput()

	boosted := baseInput()
	boosted.UserPriority = 100

	buried := baseInput()
	buried.UserPriority = -100

	assert.Greater(t, score(t, boosted), score(t, neutral))
	assert.Less(t, score(t, buried), score(t, neutral))
}

func TestUserPriorityClamped(t *testing.T) {
	at := baseInput()
	at.UserPriority = 100
	over := baseInput()
	over.UserPriority = 5000
	assert.Equal(t, score(t, at), score(t, over))
}

func TestFailuresLowerScore(t *testing.T) {
	clean := baseInput()
	failed := baseInput()
	failed.AttemptCount = 3
	assert.Equal(t, score(t, clean)-30, score(t, failed))
}

func TestGapOutranksUpgrade(t *testing.T) {
	gap := baseInput()
	upgrade := baseInput()
	upgrade.SearchType = model.SearchUpgrade
	assert.Greater(t, score(t, gap), score(t, upgrade))
}

func TestSpecialsPenalized(t *testing.T) {
	regular := baseInput()
	s1 := 1
	regular.SeasonNumber = &s1

	special := baseInput()
	s0 := 0
	special.SeasonNumber = &s0

	assert.Equal(t, score(t, regular)-25, score(t, special))
}

func TestFileLostBonusDecays(t *testing.T) {
	justLost := baseInput()
	justLost.WasDownloaded = true
	l1 := testNow
	justLost.FileLostAt = &l1

	halfway := baseInput()
	halfway.WasDownloaded = true
	l2 := testNow.AddDate(0, 0, -15)
	halfway.FileLostAt = &l2

	expired := baseInput()
	expired.WasDownloaded = true
	l3 := testNow.AddDate(0, 0, -45)
	expired.FileLostAt = &l3

	never := baseInput()
	never.FileLostAt = &l1 // lost timestamp without the downloaded flag

	assert.Greater(t, score(t, justLost), score(t, halfway))
	assert.Greater(t, score(t, halfway), score(t, expired))
	assert.Equal(t, score(t, baseInput()), score(t, expired))
	assert.Equal(t, score(t, baseInput()), score(t, never))
}

func TestFutureDatesClampToZeroAge(t *testing.T) {
	in := baseInput()
	future := testNow.AddDate(0, 1, 0)
	in.ContentDate = &future
	res := Calculate(in, DefaultWeights(), DefaultConstants(), testNow)
	assert.InDelta(t, 50, res.Breakdown.ContentAge, 0.001)
}

func TestCompareOrdersDescending(t *testing.T) {
	hi := Result{Score: 1200}
	lo := Result{Score: 900}
	assert.Negative(t, Compare(hi, lo))
	assert.Positive(t, Compare(lo, hi))
	assert.Zero(t, Compare(hi, hi))
}
