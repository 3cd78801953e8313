package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// hashPrefix marks the encoding produced by HashAPIKey:
// argon2id$<base64 salt>$<base64 key>.
const hashPrefix = "argon2id$"

// HashAPIKey hashes an API key with Argon2id and a random salt.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hashPrefix +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(key), nil
}

// VerifyAPIKey checks apiKey against a hash produced by HashAPIKey.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	rest, ok := strings.CutPrefix(encoded, hashPrefix)
	if !ok {
		return false, fmt.Errorf("auth: unsupported hash format")
	}
	saltB64, keyB64, ok := strings.Cut(rest, "$")
	if !ok {
		return false, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(keyB64)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}
	computed := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, uint32(len(expected))) //nolint:gosec // key length is small
	return subtle.ConstantTimeCompare(expected, computed) == 1, nil
}

// dummyVerify spends the same work as a real verification so failed
// handshakes take the same time whether or not a key is configured.
func dummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}

// KeyVerifier checks handshake API keys against one configured hash.
type KeyVerifier struct {
	hash string
}

// NewKeyVerifier builds a verifier from an encoded hash. An empty hash
// rejects every key.
func NewKeyVerifier(hash string) (*KeyVerifier, error) {
	if hash != "" {
		if _, err := VerifyAPIKey("", hash); err != nil {
			return nil, err
		}
	}
	return &KeyVerifier{hash: hash}, nil
}

// Verify reports whether apiKey matches.
func (v *KeyVerifier) Verify(apiKey string) bool {
	if v.hash == "" || apiKey == "" {
		dummyVerify()
		return false
	}
	ok, err := VerifyAPIKey(apiKey, v.hash)
	return err == nil && ok
}
