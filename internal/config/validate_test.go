package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "recall",
			Password: "secret", Name: "recall", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth: AuthConfig{
			JWTSecret: "jwt-secret-that-is-at-least-32-chars-ok",
		},
		Embedding: EmbeddingConfig{
			APIKey: "sk-test", Model: "text-embedding-3-small", Dimension: 1536,
			MaxBatchSize: 64, MaxAttempts: 3, Timeout: 30 * time.Second,
			RetryBase: 500 * time.Millisecond, CacheMaxEntries: 10000,
		},
		RateLimit: RateLimitConfig{PerMinute: 120, PerHour: 2000, Backend: "redis"},
		Sweeper:   SweeperConfig{Interval: time.Minute, BatchSize: 500},
		Curation:  CurationConfig{Alpha: 1, Beta: 1, MinSamples: 5},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_MissingCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = ""
	cfg.Auth.APIKeys = nil
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AUTH_JWT_SECRET or AUTH_API_KEYS") {
		t.Fatalf("expected credential error, got: %v", err)
	}
}

func TestValidate_JWTSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AUTH_JWT_SECRET") {
		t.Fatalf("expected AUTH_JWT_SECRET error, got: %v", err)
	}
}

func TestValidate_MalformedAPIKeyEntry(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.APIKeys = []string{"no-separator"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AUTH_API_KEYS") {
		t.Fatalf("expected AUTH_API_KEYS error, got: %v", err)
	}
}

func TestValidate_MissingDBPassword(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_MissingEmbeddingKey(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.APIKey = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "EMBEDDING_API_KEY") {
		t.Fatalf("expected EMBEDDING_API_KEY error, got: %v", err)
	}
}

func TestValidate_BadRateLimitBackend(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.Backend = "memcached"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "RATELIMIT_BACKEND") {
		t.Fatalf("expected RATELIMIT_BACKEND error, got: %v", err)
	}
}

func TestValidate_WindowOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.PerMinute = 500
	cfg.RateLimit.PerHour = 100
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "RATELIMIT_PER_HOUR") {
		t.Fatalf("expected window ordering error, got: %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	cfg.Embedding.APIKey = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "DB_PASSWORD") || !strings.Contains(err.Error(), "EMBEDDING_API_KEY") {
		t.Fatalf("expected both errors collected, got: %v", err)
	}
}
