package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/engels74/comradarr-sub001/internal/model"
)

func TestRemainingAfter(t *testing.T) {
	items := []model.QueuedItem{
		{SearchRegistryID: 10},
		{SearchRegistryID: 11},
		{SearchRegistryID: 12},
		{SearchRegistryID: 13},
	}
	assert.Equal(t, 3, remainingAfter(items, 10))
	assert.Equal(t, 1, remainingAfter(items, 12))
	assert.Equal(t, 0, remainingAfter(items, 13))
	assert.Equal(t, 0, remainingAfter(items, 99))
	assert.Equal(t, 0, remainingAfter(nil, 10))
}
