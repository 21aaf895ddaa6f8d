package auth

import "context"

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated principal for a request. ProjectID is the
// tenant boundary and is always set; AgentID and UserID are set only when
// the credential carries them.
type Identity struct {
	ProjectID string
	AgentID   string
	UserID    string
}

// WithIdentity stores the identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the request identity, or a zero Identity when the
// request was not authenticated.
func GetIdentity(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}
