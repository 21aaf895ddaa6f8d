package auth

import (
	"net/http"
	"strings"

	"github.com/recallhq/recall/internal/api"
)

// Middleware authenticates every request with a Bearer credential: either a
// signed JWT (two dots) or a project API key "project.secret" (one dot).
// The resolved Identity is stored in the request context.
func Middleware(jwtMgr *JWTManager, keys *APIKeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}
			token := parts[1]

			var id Identity
			if strings.Count(token, ".") == 2 {
				claims, err := jwtMgr.ValidateToken(token)
				if err != nil {
					api.HandleError(w, api.ErrInvalidToken)
					return
				}
				id = Identity{ProjectID: claims.ProjectID, AgentID: claims.AgentID, UserID: claims.UserID}
			} else {
				project, ok := keys.Verify(token)
				if !ok {
					api.HandleError(w, api.ErrInvalidToken)
					return
				}
				id = Identity{ProjectID: project}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
