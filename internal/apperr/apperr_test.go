package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryRetryable(t *testing.T) {
	retryable := []Category{CategoryNetwork, CategoryTimeout, CategoryRateLimit, CategoryServer}
	for _, c := range retryable {
		assert.True(t, c.Retryable(), string(c))
	}
	terminal := []Category{CategoryAuthentication, CategoryConfiguration, CategoryValidation, CategoryDecryption, CategoryUnknown}
	for _, c := range terminal {
		assert.False(t, c.Retryable(), string(c))
	}
}

func TestFromHTTPStatus(t *testing.T) {
	assert.Nil(t, FromHTTPStatus(http.StatusOK, "", 0))
	assert.Nil(t, FromHTTPStatus(http.StatusNoContent, "", 0))

	e := FromHTTPStatus(http.StatusTooManyRequests, "slow down", 30*time.Second)
	require.NotNil(t, e)
	assert.Equal(t, CategoryRateLimit, e.Category)
	assert.Equal(t, 30*time.Second, e.RetryAfter)
	assert.True(t, e.Retryable())

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		e := FromHTTPStatus(status, "", 0)
		require.NotNil(t, e)
		assert.Equal(t, CategoryAuthentication, e.Category)
		assert.False(t, e.Retryable())
	}

	e = FromHTTPStatus(http.StatusBadGateway, "upstream died", 0)
	require.NotNil(t, e)
	assert.Equal(t, CategoryServer, e.Category)
	assert.Equal(t, http.StatusBadGateway, e.StatusCode)

	e = FromHTTPStatus(http.StatusBadRequest, "nope", 0)
	require.NotNil(t, e)
	assert.Equal(t, CategoryValidation, e.Category)
}

func TestFromTransport(t *testing.T) {
	assert.Nil(t, FromTransport(nil))

	e := FromTransport(fmt.Errorf("dial: %w", context.DeadlineExceeded))
	require.NotNil(t, e)
	assert.Equal(t, CategoryTimeout, e.Category)

	e = FromTransport(errors.New("connection refused"))
	require.NotNil(t, e)
	assert.Equal(t, CategoryNetwork, e.Category)
}

func TestCategoryOfUnwrapsChains(t *testing.T) {
	inner := New(CategoryDecryption, "bad tag")
	wrapped := fmt.Errorf("dispatch: %w", inner)
	assert.Equal(t, CategoryDecryption, CategoryOf(wrapped))
	assert.False(t, IsRetryable(wrapped))

	assert.Equal(t, CategoryUnknown, CategoryOf(errors.New("plain")))
}

func TestRetryAfterOf(t *testing.T) {
	e := RateLimited("429", 10*time.Second)
	assert.Equal(t, 10*time.Second, RetryAfterOf(fmt.Errorf("send: %w", e)))
	assert.Zero(t, RetryAfterOf(New(CategoryServer, "boom")))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestErrorFormatting(t *testing.T) {
	e := Wrap(CategoryNetwork, "request failed", errors.New("refused"))
	assert.Contains(t, e.Error(), "network")
	assert.Contains(t, e.Error(), "refused")
	assert.Equal(t, "refused", errors.Unwrap(e).Error())
}
