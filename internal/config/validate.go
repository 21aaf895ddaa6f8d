package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// At least one credential mechanism must be configured.
	if c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, "AUTH_JWT_SECRET or AUTH_API_KEYS is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "AUTH_JWT_SECRET must be at least 32 characters")
	}
	for _, entry := range c.Auth.APIKeys {
		if !strings.Contains(entry, ":") {
			errs = append(errs, fmt.Sprintf("AUTH_API_KEYS entry %q must be project_id:bcrypt_hash", entry))
		}
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Embedding provider
	if c.Embedding.APIKey == "" {
		errs = append(errs, "EMBEDDING_API_KEY is required")
	}
	if c.Embedding.Dimension < 1 {
		errs = append(errs, fmt.Sprintf("EMBEDDING_DIMENSION must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Embedding.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("EMBEDDING_MAX_ATTEMPTS must be positive, got %d", c.Embedding.MaxAttempts))
	}

	// Rate limiter
	if c.RateLimit.Backend != "redis" && c.RateLimit.Backend != "local" {
		errs = append(errs, fmt.Sprintf("RATELIMIT_BACKEND must be redis or local, got %q", c.RateLimit.Backend))
	}
	if c.RateLimit.PerMinute < 1 || c.RateLimit.PerHour < c.RateLimit.PerMinute {
		errs = append(errs, "RATELIMIT_PER_HOUR must be >= RATELIMIT_PER_MINUTE >= 1")
	}

	// Curation priors
	if c.Curation.Alpha <= 0 || c.Curation.Beta <= 0 {
		errs = append(errs, "CURATION_ALPHA and CURATION_BETA must be positive")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
