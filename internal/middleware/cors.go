package middleware

import (
	"github.com/go-chi/cors"
)

// CORS builds the cors.Options for the memory API. With no configured
// origins go-chi/cors falls back to allowing any origin, so credentials
// are only allowed when an explicit, non-wildcard origin list is set:
// browsers reject Access-Control-Allow-Credentials: true paired with "*".
func CORS(allowedOrigins []string) cors.Options {
	allowCreds := len(allowedOrigins) > 0
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCreds = false
			break
		}
	}

	return cors.Options{
		AllowedOrigins: allowedOrigins,
		// The API surface uses GET, POST and DELETE only.
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: allowCreds,
		MaxAge:           600,
	}
}
