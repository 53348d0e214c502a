package queue

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/engels74/comradarr-sub001/internal/priority"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAppliesDefaultSizing(t *testing.T) {
	s := New(nil, priority.DefaultWeights(), priority.DefaultConstants(), Options{}, discardLogger())
	assert.Equal(t, DefaultEnqueueBatchSize, s.batchSize)
	assert.Equal(t, DefaultMaxDequeueLimit, s.maxDequeue)
}

func TestNewHonorsOptions(t *testing.T) {
	s := New(nil, priority.DefaultWeights(), priority.DefaultConstants(), Options{
		EnqueueBatchSize: 250,
		MaxDequeueLimit:  40,
	}, discardLogger())
	assert.Equal(t, 250, s.batchSize)
	assert.Equal(t, 40, s.maxDequeue)
}

func TestNewRejectsNegativeSizing(t *testing.T) {
	s := New(nil, priority.DefaultWeights(), priority.DefaultConstants(), Options{
		EnqueueBatchSize: -1,
		MaxDequeueLimit:  -1,
	}, discardLogger())
	assert.Equal(t, DefaultEnqueueBatchSize, s.batchSize)
	assert.Equal(t, DefaultMaxDequeueLimit, s.maxDequeue)
}
