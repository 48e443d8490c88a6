// Package auth validates the bearer API keys accepted by the filter host.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-time-awareness/internal/config"
)

// Caller identifies which configured key authenticated a request.
type Caller struct {
	KeyHash     string
	Description string
}

// Authenticator validates API keys against configured SHA-256 hashes.
type Authenticator struct {
	keys []Caller
}

// NewAuthenticator returns nil when no keys are configured, meaning
// authentication is disabled.
func NewAuthenticator(keys []config.APIKeyConfig) *Authenticator {
	if len(keys) == 0 {
		return nil
	}
	a := &Authenticator{}
	for _, k := range keys {
		a.keys = append(a.keys, Caller{
			KeyHash:     strings.ToLower(strings.TrimSpace(k.KeyHash)),
			Description: k.Description,
		})
	}
	return a
}

// ValidateAPIKey returns the caller owning apiKey.
func (a *Authenticator) ValidateAPIKey(apiKey string) (*Caller, error) {
	keyHash := HashAPIKey(apiKey)

	// Compare against every key so timing does not reveal which one matched.
	var found *Caller
	for i := range a.keys {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(a.keys[i].KeyHash)) == 1 {
			found = &a.keys[i]
		}
	}
	if found == nil {
		return nil, fmt.Errorf("invalid API key")
	}
	return found, nil
}

// ExtractAPIKey extracts the API key from the Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return strings.TrimSpace(parts[1]), nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
