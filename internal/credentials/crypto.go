package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Encrypt seals plaintext with AES-GCM. The nonce is prepended to the
// ciphertext so the blob is self-contained. Used by seeding tooling and tests.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(key, blob []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, errors.New("credentials: ciphertext shorter than nonce")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("credentials: decrypt: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// ParseKey decodes the configured secrets key. Base64 and hex encodings are
// accepted; the decoded key must be a valid AES key length.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("credentials: secrets key is empty")
	}
	// A hex key can also be valid base64, so accept whichever decoding yields
	// a usable AES key length.
	decodedAny := false
	var lastLen int
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		decodedAny = true
		lastLen = len(decoded)
		if validKeyLength(len(decoded)) {
			return decoded, nil
		}
	}
	if decoded, err := hex.DecodeString(raw); err == nil {
		decodedAny = true
		lastLen = len(decoded)
		if validKeyLength(len(decoded)) {
			return decoded, nil
		}
	}
	if !decodedAny {
		return nil, errors.New("credentials: secrets key is neither base64 nor hex")
	}
	return nil, fmt.Errorf("credentials: secrets key must be 16, 24 or 32 bytes, got %d", lastLen)
}

func validKeyLength(n int) bool {
	switch n {
	case 16, 24, 32:
		return true
	}
	return false
}
