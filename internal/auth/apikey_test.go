package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T, project, secret string) *APIKeyVerifier {
	t.Helper()
	hash, err := HashSecret(secret)
	require.NoError(t, err)
	v, err := NewAPIKeyVerifier([]string{project + ":" + hash})
	require.NoError(t, err)
	return v
}

func TestAPIKeyVerify(t *testing.T) {
	v := newVerifier(t, "proj-a", "s3cret")

	project, ok := v.Verify("proj-a.s3cret")
	require.True(t, ok)
	assert.Equal(t, "proj-a", project)

	// Cached second verification takes the fast path.
	project, ok = v.Verify("proj-a.s3cret")
	require.True(t, ok)
	assert.Equal(t, "proj-a", project)
}

func TestAPIKeyRejects(t *testing.T) {
	v := newVerifier(t, "proj-a", "s3cret")

	for _, key := range []string{
		"proj-a.wrong",
		"proj-b.s3cret",
		"proj-a",
		"",
		".s3cret",
		"proj-a.",
	} {
		_, ok := v.Verify(key)
		assert.False(t, ok, "key %q", key)
	}
}

func TestAPIKeyMalformedConfig(t *testing.T) {
	_, err := NewAPIKeyVerifier([]string{"no-colon-here"})
	assert.Error(t, err)

	_, err = NewAPIKeyVerifier([]string{":hash-without-project"})
	assert.Error(t, err)
}
