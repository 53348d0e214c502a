package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	encoded, err := HashAPIKey("cmr_test_key")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$")

	ok, err := VerifyAPIKey("cmr_test_key", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyAPIKey("cmr_wrong_key", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashAPIKeySaltsEachCall(t *testing.T) {
	a, err := HashAPIKey("same key")
	require.NoError(t, err)
	b, err := HashAPIKey("same key")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyAPIKeyRejectsMalformedHashes(t *testing.T) {
	for _, bad := range []string{"", "no-separator", "!!!$" + strings.Repeat("A", 8)} {
		_, err := VerifyAPIKey("key", bad)
		assert.Error(t, err, bad)
	}
}
