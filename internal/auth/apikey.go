// Package auth provides the authentication primitives of the register service:
// JWTs for interactive callers and bcrypt-hashed service keys for machine clients.
// Both resolve to an Actor; see internal/middleware/identity.go for the request-time logic.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks service keys so they can be told apart from JWTs
	APIKeyPrefix = "ork"

	// APIKeyLength is the length of the random part of the key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of leading characters used to look a key up
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// ServiceKey is a configured machine credential. Only the hash is stored.
type ServiceKey struct {
	Name          string   `mapstructure:"name"`
	DisplayPrefix string   `mapstructure:"prefix"`
	Hash          string   `mapstructure:"hash"`
	UserID        string   `mapstructure:"user_id"`
	Groups        []string `mapstructure:"groups"`
	Elevated      bool     `mapstructure:"elevated"`
}

// KeyRing authenticates service keys against a fixed set of configured keys
type KeyRing struct {
	byPrefix map[string][]ServiceKey
}

// NewKeyRing indexes keys by display prefix
func NewKeyRing(keys []ServiceKey) *KeyRing {
	r := &KeyRing{byPrefix: make(map[string][]ServiceKey, len(keys))}
	for _, k := range keys {
		r.byPrefix[k.DisplayPrefix] = append(r.byPrefix[k.DisplayPrefix], k)
	}
	return r
}

// Authenticate returns the actor bound to key, or false when no configured key matches
func (r *KeyRing) Authenticate(key string) (Actor, bool) {
	if r == nil || len(key) < DisplayPrefixLength {
		return Actor{}, false
	}
	for _, candidate := range r.byPrefix[key[:DisplayPrefixLength]] {
		if ValidateAPIKey(key, candidate.Hash) {
			return Actor{
				UserID:   candidate.UserID,
				UserName: candidate.Name,
				Groups:   candidate.Groups,
				Elevated: candidate.Elevated,
			}, true
		}
	}
	return Actor{}, false
}

// IsAPIKey reports whether a bearer credential looks like a service key
func IsAPIKey(credential string) bool {
	return strings.HasPrefix(credential, APIKeyPrefix+"_")
}

// GenerateAPIKey creates a new random service key.
// Returns: full key (to show once), bcrypt hash (to store), display prefix
func GenerateAPIKey() (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := APIKeyPrefix + "_" + base64.RawURLEncoding.EncodeToString(randomBytes)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return fullKey, string(hashBytes), fullKey[:DisplayPrefixLength], nil
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// ExtractBearer extracts the credential from an Authorization header.
// Expected format: "Bearer <token>"
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("credential is empty after Bearer prefix")
	}
	return token, nil
}
