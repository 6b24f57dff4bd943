// Package auth maps API keys to the caller identity recorded in audit
// events.
package auth

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/straja-ai/straja-dlp/internal/config"
)

// Anonymous is the user id recorded when authentication is disabled and
// the caller supplied none.
const Anonymous = "anonymous"

// Identity is the authenticated caller.
type Identity struct {
	UserID string
}

// Auth holds mappings from API key digests to identities.
type Auth struct {
	byDigest map[[sha256.Size]byte]Identity
}

// NewFromConfig builds an Auth from api_keys. No keys means open access.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	m := make(map[[sha256.Size]byte]Identity, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		key := strings.TrimSpace(k.Key)
		if key == "" {
			return nil, fmt.Errorf("api_keys[%d]: empty key", i)
		}
		d := sha256.Sum256([]byte(key))
		if _, exists := m[d]; exists {
			return nil, fmt.Errorf("api_keys[%d]: key assigned twice", i)
		}
		user := strings.TrimSpace(k.UserID)
		if user == "" {
			user = fmt.Sprintf("key-%d", i)
		}
		m[d] = Identity{UserID: user}
	}
	return &Auth{byDigest: m}, nil
}

// Required reports whether requests must present a key.
func (a *Auth) Required() bool {
	return a != nil && len(a.byDigest) > 0
}

// Lookup returns the identity for apiKey, if any.
func (a *Auth) Lookup(apiKey string) (Identity, bool) {
	if a == nil || apiKey == "" {
		return Identity{}, false
	}
	id, ok := a.byDigest[sha256.Sum256([]byte(apiKey))]
	return id, ok
}

// ParseBearerToken extracts the token from an Authorization: Bearer header.
func ParseBearerToken(h string) (string, bool) {
	if h == "" {
		return "", false
	}
	parts := strings.Fields(h)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
