package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authedHandler(t *testing.T, captured *Identity) http.Handler {
	t.Helper()
	jwtMgr := NewJWTManager(testSecret, time.Hour)
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	keys, err := NewAPIKeyVerifier([]string{"proj-a:" + hash})
	require.NoError(t, err)

	return Middleware(jwtMgr, keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddleware_JWT(t *testing.T) {
	var got Identity
	handler := authedHandler(t, &got)

	token, err := NewJWTManager(testSecret, time.Hour).
		GenerateToken(Identity{ProjectID: "proj-a", AgentID: "agent-1"})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/memories", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proj-a", got.ProjectID)
	assert.Equal(t, "agent-1", got.AgentID)
}

func TestMiddleware_APIKey(t *testing.T) {
	var got Identity
	handler := authedHandler(t, &got)

	req := httptest.NewRequest("GET", "/api/v1/memories", nil)
	req.Header.Set("Authorization", "Bearer proj-a.s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proj-a", got.ProjectID)
	assert.Empty(t, got.AgentID)
}

func TestMiddleware_Rejections(t *testing.T) {
	var got Identity
	handler := authedHandler(t, &got)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"bad api key", "Bearer proj-a.wrong"},
		{"garbage jwt", "Bearer a.b.c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/memories", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
