package webull

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL      = "https://api.webull.com"
	DefaultPaperBaseURL = "https://paper-api.webull.com"

	envPrefix = "WEBULL_"
)

// TokenStoreKind selects the TokenStore implementation built by NewClient.
type TokenStoreKind string

const (
	TokenStoreMemory TokenStoreKind = "memory"
	TokenStoreFile   TokenStoreKind = "file"
	TokenStoreRedis  TokenStoreKind = "redis"
)

// Valid reports whether k is a known token store kind.
func (k TokenStoreKind) Valid() bool {
	switch k {
	case TokenStoreMemory, TokenStoreFile, TokenStoreRedis:
		return true
	}
	return false
}

// Config is the complete client configuration. It is read from a YAML file
// and then overridden by WEBULL_* environment variables.
type Config struct {
	BaseURL      string `yaml:"base_url"       env:"BASE_URL"`
	PaperBaseURL string `yaml:"paper_base_url" env:"PAPER_BASE_URL"`
	PaperTrading bool   `yaml:"paper_trading"  env:"PAPER_TRADING"`

	Auth       AuthConfig       `yaml:"auth"        envPrefix:"AUTH_"`
	HTTP       HTTPConfig       `yaml:"http"        envPrefix:"HTTP_"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"  envPrefix:"RATE_LIMIT_"`
	Cache      CacheConfig      `yaml:"cache"       envPrefix:"CACHE_"`
	Streaming  StreamingConfig  `yaml:"streaming"   envPrefix:"STREAMING_"`
	TokenStore TokenStoreConfig `yaml:"token_store" envPrefix:"TOKEN_STORE_"`
	Logging    LoggingConfig    `yaml:"logging"     envPrefix:"LOGGING_"`
}

// AuthConfig holds API credentials and device identity.
type AuthConfig struct {
	APIKey     string `yaml:"api_key"     env:"API_KEY"`
	APISecret  string `yaml:"api_secret"  env:"API_SECRET"`
	DeviceID   string `yaml:"device_id"   env:"DEVICE_ID"`
	DeviceName string `yaml:"device_name" env:"DEVICE_NAME"`
	Username   string `yaml:"username"    env:"USERNAME"`
	Password   string `yaml:"-"           env:"PASSWORD"`
}

// HTTPConfig configures the REST transport.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RateLimitConfig configures the sliding window limiter and the backoff
// calculator exposed to callers.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

// CacheConfig configures the dispatcher's response caches.
type CacheConfig struct {
	Enabled           bool          `yaml:"enabled"            env:"ENABLED"`
	TTL               time.Duration `yaml:"ttl"                env:"TTL"`
	MaxEntries        int           `yaml:"max_entries"        env:"MAX_ENTRIES"`
	InvalidationDepth int           `yaml:"invalidation_depth" env:"INVALIDATION_DEPTH"`
}

// StreamingConfig configures the websocket supervisor.
type StreamingConfig struct {
	URL                  string        `yaml:"url"                    env:"URL"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"     env:"HEARTBEAT_INTERVAL"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"        env:"RECONNECT_DELAY"`
	EventBuffer          int           `yaml:"event_buffer"           env:"EVENT_BUFFER"`
}

// TokenStoreConfig selects and configures token persistence.
type TokenStoreConfig struct {
	Kind       TokenStoreKind `yaml:"kind"        env:"KIND"`
	Path       string         `yaml:"path"        env:"PATH"`
	Passphrase string         `yaml:"-"           env:"PASSPHRASE"`
	RedisAddr  string         `yaml:"redis_addr"  env:"REDIS_ADDR"`
	RedisDB    int            `yaml:"redis_db"    env:"REDIS_DB"`
	RedisKey   string         `yaml:"redis_key"   env:"REDIS_KEY"`
	Retention  time.Duration  `yaml:"retention"   env:"RETENTION"`
}

// LoggingConfig configures NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"  env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Defaults returns a Config with every field set to its default value.
func Defaults() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		PaperBaseURL: DefaultPaperBaseURL,
		Auth: AuthConfig{
			DeviceName: "Go API Client",
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Cache: CacheConfig{
			Enabled:           true,
			TTL:               60 * time.Second,
			MaxEntries:        1000,
			InvalidationDepth: 2,
		},
		Streaming: StreamingConfig{
			HeartbeatInterval:    30 * time.Second,
			MaxReconnectAttempts: 5,
			ReconnectDelay:       5 * time.Second,
			EventBuffer:          100,
		},
		TokenStore: TokenStoreConfig{
			Kind:      TokenStoreMemory,
			Path:      "data",
			RedisKey:  "webull:token",
			Retention: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file and the
// environment. A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the client cannot work with.
func (c Config) Validate() error {
	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.PaperTrading && c.PaperBaseURL == "" {
		errs = append(errs, errors.New("paper_base_url is required when paper_trading is set"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_minute must be positive"))
	}
	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			errs = append(errs, errors.New("cache.ttl must be positive"))
		}
		if c.Cache.MaxEntries <= 0 {
			errs = append(errs, errors.New("cache.max_entries must be positive"))
		}
	}
	if c.Streaming.MaxReconnectAttempts < 1 {
		errs = append(errs, errors.New("streaming.max_reconnect_attempts must be at least 1"))
	}
	if c.Streaming.EventBuffer < 0 {
		errs = append(errs, errors.New("streaming.event_buffer must not be negative"))
	}
	if !c.TokenStore.Kind.Valid() {
		errs = append(errs, fmt.Errorf("token_store.kind %q is not one of memory, file, redis", c.TokenStore.Kind))
	}
	if c.TokenStore.Kind == TokenStoreFile && c.TokenStore.Passphrase == "" {
		errs = append(errs, errors.New("token_store.passphrase is required for the file store"))
	}
	if c.TokenStore.Kind == TokenStoreRedis && c.TokenStore.RedisAddr == "" {
		errs = append(errs, errors.New("token_store.redis_addr is required for the redis store"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// EffectiveBaseURL returns the REST base URL, honoring PaperTrading.
func (c Config) EffectiveBaseURL() string {
	if c.PaperTrading {
		return strings.TrimRight(c.PaperBaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// StreamingURL returns the websocket endpoint. Unless configured explicitly it
// is derived from the REST base URL: http(s) becomes ws(s) and /ws is appended.
func (c Config) StreamingURL() string {
	if c.Streaming.URL != "" {
		return c.Streaming.URL
	}
	base := c.EffectiveBaseURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
