package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/clipdeck/server/internal/validation"
)

type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Storage     StorageConfig   `yaml:"storage"`
	Uploads     UploadConfig    `yaml:"uploads"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	AccessLog   AccessLogConfig `yaml:"access_log"`
	Retention   RetentionConfig `yaml:"retention"`
	Realtime    RealtimeConfig  `yaml:"realtime"`
	Jobs        JobsConfig      `yaml:"jobs"`
	Bootstrap   BootstrapConfig `yaml:"bootstrap"`
	Logging     LoggingConfig   `yaml:"logging"`
	Tracing     TracingConfig   `yaml:"tracing"`
	Environment string          `yaml:"environment" validate:"oneof=development test staging production"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
	// TrustedProxies limits which peers may supply X-Forwarded-For and
	// X-Real-IP. Empty trusts every peer.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections" validate:"min=1"`
}

// StorageConfig selects the backend for users, clipboard items and access logs.
type StorageConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=postgres memory"`
	RedisURL string `yaml:"redis_url"`
	BoltPath string `yaml:"bolt_path"`
}

type UploadConfig struct {
	Driver      string   `yaml:"driver" validate:"oneof=disk s3"`
	Dir         string   `yaml:"dir"`
	MaxFileSize int64    `yaml:"max_file_size" validate:"min=1"`
	S3          S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	JWTExpiry  time.Duration `yaml:"jwt_expiry"`
	BcryptCost int           `yaml:"bcrypt_cost" validate:"min=4,max=31"`
}

type RateLimitConfig struct {
	MaxRequests   int           `yaml:"max_requests" validate:"min=1"`
	Window        time.Duration `yaml:"window" validate:"min=1ms"`
	BlockDuration time.Duration `yaml:"block_duration" validate:"min=1ms"`
	// Store overrides the window backend; empty follows Storage.Driver.
	Store    string        `yaml:"store" validate:"omitempty,oneof=memory postgres redis bolt"`
	RedisTTL time.Duration `yaml:"redis_ttl"`
	Paths    []string      `yaml:"paths"`
}

type AccessLogConfig struct {
	Paths        []string      `yaml:"paths"`
	BufferSize   int           `yaml:"buffer_size" validate:"min=1"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type RetentionConfig struct {
	Days        int    `yaml:"days" validate:"min=1"`
	RunAt       string `yaml:"run_at"`
	Timezone    string `yaml:"timezone"`
	Concurrency int    `yaml:"concurrency" validate:"min=1"`
}

type RealtimeConfig struct {
	AllowedOrigins      []string      `yaml:"allowed_origins"`
	SendBuffer          int           `yaml:"send_buffer" validate:"min=1"`
	PingInterval        time.Duration `yaml:"ping_interval"`
	HandshakesPerMinute int           `yaml:"handshakes_per_minute"`
}

type JobsConfig struct {
	Backend             string        `yaml:"backend" validate:"oneof=cron river"`
	WindowPruneInterval time.Duration `yaml:"window_prune_interval"`
}

// BootstrapConfig seeds the admin and default users on first start.
type BootstrapConfig struct {
	AdminAPIKey     string `yaml:"admin_api_key" validate:"omitempty,min=8"`
	ClipboardAPIKey string `yaml:"clipboard_api_key" validate:"omitempty,min=8"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// DefaultRateLimitPaths are the endpoints governed by the rate limiter.
var DefaultRateLimitPaths = []string{
	"POST /api/clipboard/text",
	"POST /api/clipboard/file",
	"POST /api/users",
}

// DefaultAccessLogPaths are the endpoints recorded in the access log.
var DefaultAccessLogPaths = []string{
	"POST /api/clipboard/text",
	"POST /api/clipboard/file",
	"POST /api/users",
	"GET /api/clipboard/file/*",
}

// Defaults returns the configuration used when neither a file nor the
// environment supplies a value.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 3000},
		Database: DatabaseConfig{MaxConnections: 25},
		Storage:  StorageConfig{Driver: "postgres", BoltPath: "data/ratelimit.db"},
		Uploads: UploadConfig{
			Driver:      "disk",
			Dir:         "uploads",
			MaxFileSize: 10 << 20,
			S3:          S3Config{Region: "us-east-1", UsePathStyle: true},
		},
		Auth: AuthConfig{
			JWTExpiry:  24 * time.Hour,
			BcryptCost: 12,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   10,
			Window:        60 * time.Second,
			BlockDuration: 10 * time.Minute,
			RedisTTL:      24 * time.Hour,
			Paths:         append([]string(nil), DefaultRateLimitPaths...),
		},
		AccessLog: AccessLogConfig{
			Paths:        append([]string(nil), DefaultAccessLogPaths...),
			BufferSize:   1024,
			WriteTimeout: 5 * time.Second,
		},
		Retention: RetentionConfig{
			Days:        7,
			RunAt:       "02:00",
			Timezone:    "Local",
			Concurrency: 8,
		},
		Realtime: RealtimeConfig{
			SendBuffer:          32,
			PingInterval:        30 * time.Second,
			HandshakesPerMinute: 30,
		},
		Jobs: JobsConfig{
			Backend:             "cron",
			WindowPruneInterval: time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "clipdeck",
			SampleRate:  1.0,
		},
		Environment: "development",
	}
}

// Load builds the configuration from defaults and environment variables.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile layers an optional YAML file over the defaults, then applies
// environment variables, which always win. A .env file in the working
// directory fills variables that are not already set.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", getEnvInt("PORT", cfg.Server.Port))
	cfg.Server.TrustedProxies = getEnvList("TRUSTED_PROXY_CIDRS", cfg.Server.TrustedProxies)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConnections = getEnvInt("DATABASE_MAX_CONNECTIONS", cfg.Database.MaxConnections)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.RedisURL = getEnv("REDIS_URL", cfg.Storage.RedisURL)
	cfg.Storage.BoltPath = getEnv("BOLT_PATH", cfg.Storage.BoltPath)

	cfg.Uploads.Driver = getEnv("UPLOAD_DRIVER", cfg.Uploads.Driver)
	cfg.Uploads.Dir = getEnv("UPLOAD_DIR", cfg.Uploads.Dir)
	cfg.Uploads.MaxFileSize = getEnvInt64("UPLOAD_MAX_FILE_SIZE", cfg.Uploads.MaxFileSize)
	cfg.Uploads.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.Uploads.S3.Endpoint)
	cfg.Uploads.S3.Region = getEnv("S3_REGION", cfg.Uploads.S3.Region)
	cfg.Uploads.S3.Bucket = getEnv("S3_BUCKET", cfg.Uploads.S3.Bucket)
	cfg.Uploads.S3.Prefix = getEnv("S3_PREFIX", cfg.Uploads.S3.Prefix)
	cfg.Uploads.S3.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", cfg.Uploads.S3.AccessKeyID)
	cfg.Uploads.S3.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", cfg.Uploads.S3.SecretAccessKey)
	cfg.Uploads.S3.UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", cfg.Uploads.S3.UsePathStyle)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTExpiry = time.Duration(getEnvInt("JWT_EXPIRY_HOURS", int(cfg.Auth.JWTExpiry/time.Hour))) * time.Hour
	cfg.Auth.BcryptCost = getEnvInt("BCRYPT_COST", cfg.Auth.BcryptCost)

	cfg.RateLimit.MaxRequests = getEnvInt("RATE_LIMIT_REQUESTS", cfg.RateLimit.MaxRequests)
	cfg.RateLimit.Window = getEnvMillis("RATE_LIMIT_WINDOW_MS", cfg.RateLimit.Window)
	cfg.RateLimit.BlockDuration = getEnvMillis("RATE_LIMIT_BLOCK_DURATION_MS", cfg.RateLimit.BlockDuration)
	cfg.RateLimit.Store = getEnv("RATE_LIMIT_STORE", cfg.RateLimit.Store)
	cfg.RateLimit.Paths = getEnvList("RATE_LIMIT_PATHS", cfg.RateLimit.Paths)

	cfg.AccessLog.Paths = getEnvList("ACCESS_LOG_PATHS", cfg.AccessLog.Paths)
	cfg.AccessLog.BufferSize = getEnvInt("ACCESS_LOG_BUFFER", cfg.AccessLog.BufferSize)

	cfg.Retention.Days = getEnvInt("CLEANUP_DAYS", cfg.Retention.Days)
	cfg.Retention.RunAt = getEnv("CLEANUP_AT", cfg.Retention.RunAt)
	cfg.Retention.Timezone = getEnv("CLEANUP_TIMEZONE", cfg.Retention.Timezone)
	cfg.Retention.Concurrency = getEnvInt("CLEANUP_CONCURRENCY", cfg.Retention.Concurrency)

	cfg.Realtime.AllowedOrigins = getEnvList("WS_ALLOWED_ORIGINS", cfg.Realtime.AllowedOrigins)
	cfg.Realtime.SendBuffer = getEnvInt("WS_SEND_BUFFER", cfg.Realtime.SendBuffer)
	cfg.Realtime.PingInterval = time.Duration(getEnvInt("WS_PING_INTERVAL_SECONDS", int(cfg.Realtime.PingInterval/time.Second))) * time.Second
	cfg.Realtime.HandshakesPerMinute = getEnvInt("WS_HANDSHAKES_PER_MINUTE", cfg.Realtime.HandshakesPerMinute)

	cfg.Jobs.Backend = getEnv("JOBS_BACKEND", cfg.Jobs.Backend)

	cfg.Bootstrap.AdminAPIKey = getEnv("ADMIN_API_KEY", cfg.Bootstrap.AdminAPIKey)
	cfg.Bootstrap.ClipboardAPIKey = getEnv("CLIPBOARD_API_KEY", cfg.Bootstrap.ClipboardAPIKey)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = getEnv("TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.ServiceName = getEnv("TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.OTLPEndpoint = getEnv("TRACING_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Tracing.SampleRate = getEnvFloat("TRACING_SAMPLE_RATE", cfg.Tracing.SampleRate)

	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
}

// RateLimitStore resolves the backend used for rate-limit windows.
func (c Config) RateLimitStore() string {
	if c.RateLimit.Store != "" {
		return c.RateLimit.Store
	}
	return c.Storage.Driver
}

// Validate checks field constraints and cross-field requirements.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	needsPostgres := c.Storage.Driver == "postgres" || c.RateLimitStore() == "postgres" || c.Jobs.Backend == "river"
	if needsPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Jobs.Backend == "river" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("JOBS_BACKEND=river requires STORAGE_DRIVER=postgres")
	}
	if c.RateLimitStore() == "redis" && c.Storage.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_STORE=redis")
	}
	if c.RateLimitStore() == "redis" && c.RateLimit.RedisTTL < c.RateLimit.Window {
		return fmt.Errorf("redis_ttl (%s) must be at least RATE_LIMIT_WINDOW_MS (%s)", c.RateLimit.RedisTTL, c.RateLimit.Window)
	}
	if c.Uploads.Driver == "s3" && c.Uploads.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when UPLOAD_DRIVER=s3")
	}
	if err := validation.Endpoint(c.Uploads.S3.Endpoint, "S3_ENDPOINT", false); err != nil {
		return err
	}
	for _, origin := range c.Realtime.AllowedOrigins {
		if err := validation.Origin(origin, "WS_ALLOWED_ORIGINS"); err != nil {
			return err
		}
	}
	if _, err := time.Parse("15:04", c.Retention.RunAt); err != nil {
		return fmt.Errorf("CLEANUP_AT must be HH:MM: %w", err)
	}
	if _, err := time.LoadLocation(c.Retention.Timezone); err != nil {
		return fmt.Errorf("CLEANUP_TIMEZONE: %w", err)
	}
	if c.Environment == "production" && c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// getEnvList splits a comma-separated value, trimming blanks.
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
