package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/engels74/comradarr-sub001/internal/model"
)

func TestStatusForFailures(t *testing.T) {
	cases := []struct {
		failures int
		want     model.HealthStatus
	}{
		{0, model.HealthHealthy},
		{1, model.HealthDegraded},
		{2, model.HealthDegraded},
		{3, model.HealthUnhealthy},
		{5, model.HealthUnhealthy},
		{6, model.HealthOffline},
		{100, model.HealthOffline},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForFailures(tc.failures), "failures=%d", tc.failures)
	}
}

func TestProbeBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, time.Minute, probeBackoff(1))
	assert.Equal(t, 2*time.Minute, probeBackoff(2))
	assert.Equal(t, 4*time.Minute, probeBackoff(3))
	assert.Equal(t, 16*time.Minute, probeBackoff(5))
	assert.Equal(t, DefaultProbeMax, probeBackoff(6))
	assert.Equal(t, DefaultProbeMax, probeBackoff(20))
}
