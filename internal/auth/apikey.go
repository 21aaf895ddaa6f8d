package auth

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyVerifier checks presented keys of the form "project.secret" against
// configured "project:bcrypt-hash" entries. A key identifies a project, not
// an agent: agent and user ids travel in request bodies.
type APIKeyVerifier struct {
	hashes map[string]string

	// verified caches sha256 digests of keys that already passed a bcrypt
	// comparison, so the cost is paid once per key, not per request.
	verified sync.Map
}

// NewAPIKeyVerifier parses configured entries. Malformed entries are
// rejected at startup rather than silently ignored.
func NewAPIKeyVerifier(entries []string) (*APIKeyVerifier, error) {
	hashes := make(map[string]string, len(entries))
	for _, e := range entries {
		project, hash, ok := strings.Cut(e, ":")
		if !ok || project == "" || hash == "" {
			return nil, fmt.Errorf("malformed api key entry %q, want project:bcrypt-hash", e)
		}
		hashes[project] = hash
	}
	return &APIKeyVerifier{hashes: hashes}, nil
}

// Verify returns the project id for a valid key.
func (v *APIKeyVerifier) Verify(key string) (string, bool) {
	project, secret, ok := strings.Cut(key, ".")
	if !ok || project == "" || secret == "" {
		return "", false
	}
	hash, ok := v.hashes[project]
	if !ok {
		return "", false
	}

	digest := sha256.Sum256([]byte(key))
	if cached, ok := v.verified.Load(digest); ok {
		return cached.(string), true
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		return "", false
	}
	v.verified.Store(digest, project)
	return project, true
}

// HashSecret produces a bcrypt hash for provisioning key entries.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key secret: %w", err)
	}
	return string(hash), nil
}
