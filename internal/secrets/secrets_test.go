package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub001/internal/apperr"
)

const testSecret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New(testSecret)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadSecrets(t *testing.T) {
	_, err := New("too-short")
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryConfiguration, apperr.CategoryOf(err))

	_, err = New(strings.Repeat("z", 64))
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryConfiguration, apperr.CategoryOf(err))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	for _, plaintext := range []string{"", "api-key-123", "unicode: héllo wörld", strings.Repeat("x", 4096)} {
		encoded, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		got, err := c.Decrypt(encoded)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptedFormat(t *testing.T) {
	c := newTestCipher(t)
	encoded, err := c.Encrypt("secret")
	require.NoError(t, err)

	parts := strings.Split(encoded, ":")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 32) // 16-byte iv in hex
	assert.Len(t, parts[1], 32) // 16-byte tag in hex
	assert.Equal(t, strings.ToLower(encoded), encoded)
}

func TestEncryptUsesFreshIV(t *testing.T) {
	c := newTestCipher(t)
	a, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c := newTestCipher(t)
	encoded, err := c.Encrypt("payload")
	require.NoError(t, err)

	parts := strings.Split(encoded, ":")
	flip := func(s string) string {
		b := []byte(s)
		if b[0] == 'a' {
			b[0] = 'b'
		} else {
			b[0] = 'a'
		}
		return string(b)
	}

	for i := range parts {
		tampered := make([]string, 3)
		copy(tampered, parts)
		tampered[i] = flip(tampered[i])
		_, err := c.Decrypt(strings.Join(tampered, ":"))
		require.Error(t, err, "component %d", i)
		assert.Equal(t, apperr.CategoryDecryption, apperr.CategoryOf(err))
	}
}

func TestDecryptRejectsMalformedInputs(t *testing.T) {
	c := newTestCipher(t)
	for _, bad := range []string{
		"",
		"onlyonepart",
		"two:parts",
		"zz:zz:zz",
		"abcd:" + strings.Repeat("00", 16) + ":" + strings.Repeat("00", 4), // short iv
	} {
		_, err := c.Decrypt(bad)
		require.Error(t, err, bad)
		assert.Equal(t, apperr.CategoryDecryption, apperr.CategoryOf(err))
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	c := newTestCipher(t)
	encoded, err := c.Encrypt("payload")
	require.NoError(t, err)

	other, err := New(strings.Repeat("ab", 32))
	require.NoError(t, err)
	_, err = other.Decrypt(encoded)
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryDecryption, apperr.CategoryOf(err))
}

func TestUpdateSecretSwapsKey(t *testing.T) {
	c := newTestCipher(t)
	encoded, err := c.Encrypt("payload")
	require.NoError(t, err)

	newSecret := strings.Repeat("cd", 32)
	require.NoError(t, c.UpdateSecret(newSecret))

	// Old ciphertext no longer opens.
	_, err = c.Decrypt(encoded)
	require.Error(t, err)

	// New ciphertext round-trips under the new key.
	encoded2, err := c.Encrypt("payload")
	require.NoError(t, err)
	got, err := c.Decrypt(encoded2)
	require.NoError(t, err)
	assert.Equal(t, "payload", got)

	// A bad replacement secret leaves the current key active.
	require.Error(t, c.UpdateSecret("invalid"))
	got, err = c.Decrypt(encoded2)
	require.NoError(t, err)
	assert.Equal(t, "payload", got)
}
