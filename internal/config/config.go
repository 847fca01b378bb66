package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"llmrouter/internal/providers"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultServerName = "llmrouter"
)

var (
	ErrUnsupportedDriver  = errors.New("DB_DRIVER must be 'sqlite' or 'postgres'")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrMissingServerName  = errors.New("SERVER_NAME must not be empty")
)

type Config struct {
	ServerName string

	Providers ProvidersConfig
	DB        DBConfig
	Mirror    MirrorConfig
	HTTP      HTTPConfig
	Metrics   MetricsConfig
	Redis     RedisConfig
	Log       LogConfig
}

type ProvidersConfig struct {
	// Secrets and BaseURLs are keyed by provider id.
	Secrets           map[string]string
	BaseURLs          map[string]string
	OpenRouterSiteURL string
	OpenRouterAppName string
}

type DBConfig struct {
	Driver string
	DSN    string
}

type MirrorConfig struct {
	Path     string
	Disabled bool
}

type HTTPConfig struct {
	// ClientTimeout of zero leaves backend calls unbounded.
	ClientTimeout time.Duration
}

type MetricsConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	FeedStream string
	FeedMaxLen int64
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		ServerName: mustEnv("SERVER_NAME", DefaultServerName),
		Providers: ProvidersConfig{
			Secrets: map[string]string{
				providers.OpenAI:     mustEnv("OPENAI_API_KEY", ""),
				providers.Anthropic:  mustEnv("ANTHROPIC_API_KEY", ""),
				providers.OpenRouter: mustEnv("OPENROUTER_API_KEY", ""),
			},
			BaseURLs: map[string]string{
				providers.OpenAI:     mustEnv("OPENAI_BASE_URL", ""),
				providers.Anthropic:  mustEnv("ANTHROPIC_BASE_URL", ""),
				providers.OpenRouter: mustEnv("OPENROUTER_BASE_URL", ""),
				providers.Ollama:     mustEnv("OLLAMA_URL", ""),
			},
			OpenRouterSiteURL: mustEnv("OPENROUTER_SITE_URL", ""),
			OpenRouterAppName: mustEnv("OPENROUTER_APP_NAME", DefaultServerName),
		},
		DB: DBConfig{
			Driver: strings.ToLower(mustEnv("DB_DRIVER", DriverSQLite)),
			DSN:    mustEnv("DB_DSN", defaultDSN()),
		},
		Mirror: MirrorConfig{
			Path:     mustEnv("MIRROR_PATH", defaultMirrorPath()),
			Disabled: mustBool("MIRROR_DISABLED", false),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 0),
		},
		Metrics: MetricsConfig{
			ListenAddr:  mustEnv("METRICS_ADDR", ""),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		Redis: RedisConfig{
			Addr:       mustEnv("REDIS_ADDR", ""),
			Password:   mustEnv("REDIS_PASSWORD", ""),
			DB:         mustInt("REDIS_DB", 0),
			FeedStream: mustEnv("FEED_STREAM", "llmrouter:exchanges"),
			FeedMaxLen: mustInt64("FEED_MAXLEN", 10000),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.DB.Driver != DriverSQLite && cfg.DB.Driver != DriverPostgres {
		return nil, fmt.Errorf("%w: got %q", ErrUnsupportedDriver, cfg.DB.Driver)
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.ServerName == "" {
		return nil, ErrMissingServerName
	}
	if cfg.HTTP.ClientTimeout < 0 {
		cfg.HTTP.ClientTimeout = 0
	}
	return cfg, nil
}

func defaultDSN() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".llmrouter", "memory.db")
	}
	return filepath.Join(home, ".llmrouter", "memory.db")
}

// defaultMirrorPath is the desktop host's config file. Empty when the user
// config dir cannot be resolved, which disables the mirror.
func defaultMirrorPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ""
	}
	return filepath.Join(dir, "Claude", "claude_desktop_config.json")
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
