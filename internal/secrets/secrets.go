// Package secrets provides authenticated encryption for credentials at
// rest (connector API keys, channel tokens).
//
// The scheme is AES-256-GCM with a 16-byte random IV and a 16-byte auth
// tag. Ciphertexts are stored as "iv:tag:ciphertext", each component
// lowercase hex. The 32-byte key is derived from a 64-hex-character
// secret; any structural or authenticity mismatch on decrypt fails with a
// decryption-category error.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/engels74/comradarr-sub001/internal/apperr"
)

const (
	ivLen  = 16
	tagLen = 16
	keyLen = 32
)

// Cipher encrypts and decrypts secrets with a cached key. Safe for
// concurrent use. The key can be swapped at runtime via UpdateSecret
// (config reload); the new secret is validated before replacing the old.
type Cipher struct {
	mu        sync.RWMutex
	secretHex string
	aead      cipher.AEAD
}

// New derives the AES-256 key from a 64-hex-character secret.
func New(secretHex string) (*Cipher, error) {
	aead, err := buildAEAD(secretHex)
	if err != nil {
		return nil, err
	}
	return &Cipher{secretHex: secretHex, aead: aead}, nil
}

func buildAEAD(secretHex string) (cipher.AEAD, error) {
	if len(secretHex) != keyLen*2 {
		return nil, apperr.New(apperr.CategoryConfiguration,
			fmt.Sprintf("secret key must be %d hex characters, got %d", keyLen*2, len(secretHex)))
	}
	key, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, apperr.Wrap(apperr.CategoryConfiguration, "secret key is not valid hex", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.CategoryConfiguration, "build cipher", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, apperr.Wrap(apperr.CategoryConfiguration, "build gcm", err)
	}
	return aead, nil
}

// UpdateSecret swaps the key if secretHex differs from the cached one.
// The new secret is validated first; on error the old key stays active.
func (c *Cipher) UpdateSecret(secretHex string) error {
	c.mu.RLock()
	same := secretHex == c.secretHex
	c.mu.RUnlock()
	if same {
		return nil
	}
	aead, err := buildAEAD(secretHex)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.secretHex = secretHex
	c.aead = aead
	c.mu.Unlock()
	return nil
}

// Encrypt seals plaintext and returns "iv:tag:ciphertext" in lowercase
// hex. Every call uses a fresh random IV, so encrypting the same
// plaintext twice yields distinct outputs.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	c.mu.RLock()
	aead := c.aead
	c.mu.RUnlock()

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secrets: generate iv: %w", err)
	}

	// Seal appends the tag to the ciphertext; split it back out so the
	// stored layout is iv:tag:ciphertext.
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	), nil
}

// Decrypt opens an "iv:tag:ciphertext" value produced by Encrypt. Any
// malformed structure, bad hex, wrong component length, or authenticity
// failure yields a decryption-category error.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", apperr.New(apperr.CategoryDecryption, "ciphertext must have 3 colon-separated parts")
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", apperr.Wrap(apperr.CategoryDecryption, "iv is not valid hex", err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", apperr.Wrap(apperr.CategoryDecryption, "auth tag is not valid hex", err)
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", apperr.Wrap(apperr.CategoryDecryption, "ciphertext is not valid hex", err)
	}
	if len(iv) != ivLen {
		return "", apperr.New(apperr.CategoryDecryption, fmt.Sprintf("iv must be %d bytes, got %d", ivLen, len(iv)))
	}
	if len(tag) != tagLen {
		return "", apperr.New(apperr.CategoryDecryption, fmt.Sprintf("auth tag must be %d bytes, got %d", tagLen, len(tag)))
	}

	c.mu.RLock()
	aead := c.aead
	c.mu.RUnlock()

	plaintext, err := aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", apperr.Wrap(apperr.CategoryDecryption, "authentication failed", err)
	}
	return string(plaintext), nil
}
