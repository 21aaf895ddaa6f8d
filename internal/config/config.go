package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Auth      AuthConfig
	Embedding EmbeddingConfig
	RateLimit RateLimitConfig
	Sweeper   SweeperConfig
	Curation  CurationConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig configures the event pipeline. An empty URL disables NATS and
// the recorder writes events straight to Postgres.
type NATSConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret string
	// APIKeys holds static tenant credentials as "project_id:bcrypt_hash"
	// entries, comma-separated in the environment.
	APIKeys []string
}

type EmbeddingConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Dimension    int
	MaxBatchSize int
	Timeout      time.Duration
	MaxAttempts  int
	RetryBase    time.Duration
	// CacheMaxEntries bounds the in-process cache tier.
	CacheMaxEntries int64
}

// RateLimitConfig holds the two sliding-window caps. A request is admitted
// only when both windows are under their caps.
type RateLimitConfig struct {
	PerMinute int
	PerHour   int
	// Backend selects "redis" (shared across instances) or "local".
	Backend string
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// CurationConfig carries the Bayesian smoothing priors and the minimum
// sample floor for the effectiveness report.
type CurationConfig struct {
	Alpha      float64
	Beta       float64
	MinSamples int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			CORSAllowedOrigins: splitList(k.String("server.cors.origins")),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		Auth: AuthConfig{
			JWTSecret: k.String("auth.jwt.secret"),
			APIKeys:   splitList(k.String("auth.api.keys")),
		},
		Embedding: EmbeddingConfig{
			APIKey:          k.String("embedding.api.key"),
			BaseURL:         k.String("embedding.base.url"),
			Model:           k.String("embedding.model"),
			Dimension:       k.Int("embedding.dimension"),
			MaxBatchSize:    k.Int("embedding.max.batch.size"),
			MaxAttempts:     k.Int("embedding.max.attempts"),
			CacheMaxEntries: int64(k.Int("embedding.cache.max.entries")),
		},
		RateLimit: RateLimitConfig{
			PerMinute: k.Int("ratelimit.per.minute"),
			PerHour:   k.Int("ratelimit.per.hour"),
			Backend:   k.String("ratelimit.backend"),
		},
		Sweeper: SweeperConfig{
			BatchSize: k.Int("sweeper.batch.size"),
		},
		Curation: CurationConfig{
			Alpha:      k.Float64("curation.alpha"),
			Beta:       k.Float64("curation.beta"),
			MinSamples: k.Int("curation.min.samples"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "recall"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "recall"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 1536
	}
	if cfg.Embedding.MaxBatchSize == 0 {
		cfg.Embedding.MaxBatchSize = 64
	}
	if cfg.Embedding.MaxAttempts == 0 {
		cfg.Embedding.MaxAttempts = 3
	}
	if cfg.Embedding.CacheMaxEntries == 0 {
		cfg.Embedding.CacheMaxEntries = 10000
	}
	if cfg.RateLimit.PerMinute == 0 {
		cfg.RateLimit.PerMinute = 120
	}
	if cfg.RateLimit.PerHour == 0 {
		cfg.RateLimit.PerHour = 2000
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "redis"
	}
	if cfg.Sweeper.BatchSize == 0 {
		cfg.Sweeper.BatchSize = 500
	}
	if cfg.Curation.Alpha == 0 {
		cfg.Curation.Alpha = 1
	}
	if cfg.Curation.Beta == 0 {
		cfg.Curation.Beta = 1
	}
	if cfg.Curation.MinSamples == 0 {
		cfg.Curation.MinSamples = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	cfg.Embedding.Timeout, err = parseDuration(k.String("embedding.timeout"), "30s")
	if err != nil {
		return nil, fmt.Errorf("parsing embedding timeout: %w", err)
	}
	cfg.Embedding.RetryBase, err = parseDuration(k.String("embedding.retry.base"), "500ms")
	if err != nil {
		return nil, fmt.Errorf("parsing embedding retry base: %w", err)
	}
	cfg.Sweeper.Interval, err = parseDuration(k.String("sweeper.interval"), "1m")
	if err != nil {
		return nil, fmt.Errorf("parsing sweeper interval: %w", err)
	}

	return cfg, nil
}

func parseDuration(s, fallback string) (time.Duration, error) {
	if s == "" {
		s = fallback
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
