package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server ServerConfig
	App    AppConfig
	Store  StoreConfig
	Cache  CacheConfig
	FTP    FTPConfig
	Sync   SyncConfig
	Slack  SlackConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string   `envconfig:"APP_NAME" default:"zipsea-sync-api"`
	Environment string   `envconfig:"APP_ENV" default:"development"`
	Debug       bool     `envconfig:"APP_DEBUG" default:"false"`
	Version     string   `envconfig:"APP_VERSION" default:"1.0.0"`
	APIKeys     []string `envconfig:"API_KEYS" default:""` // admin endpoint keys, comma-separated
}

// StoreConfig holds relational store settings. MySQL in production, SQLite
// for local development and tests.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite or mysql
	Path string `envconfig:"STORE_PATH" default:"./data/zipsea.db"`
	// MySQL settings
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	Name     string `envconfig:"DB_NAME" default:"zipsea"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASS" default:""`
}

// CacheConfig holds cache settings for the status endpoint.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"`
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"15s"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// FTPConfig holds Traveltek FTP feed settings.
type FTPConfig struct {
	Host           string        `envconfig:"TRAVELTEK_FTP_HOST" default:"ftpeu1prod.traveltek.net"`
	Port           int           `envconfig:"TRAVELTEK_FTP_PORT" default:"21"`
	User           string        `envconfig:"TRAVELTEK_FTP_USER" default:""`
	Password       string        `envconfig:"TRAVELTEK_FTP_PASSWORD" default:""`
	MaxConns       int           `envconfig:"TRAVELTEK_FTP_MAX_CONNS" default:"5"`
	DialTimeout    time.Duration `envconfig:"TRAVELTEK_FTP_DIAL_TIMEOUT" default:"15s"`
	AcquireTimeout time.Duration `envconfig:"TRAVELTEK_FTP_ACQUIRE_TIMEOUT" default:"30s"`
	RetryAttempts  int           `envconfig:"TRAVELTEK_FTP_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff   time.Duration `envconfig:"TRAVELTEK_FTP_RETRY_BACKOFF" default:"2s"`
}

// SyncConfig holds batch sync scheduler settings.
type SyncConfig struct {
	Interval       time.Duration `envconfig:"SYNC_INTERVAL" default:"5m"`
	BatchSize      int           `envconfig:"SYNC_BATCH_SIZE" default:"200"`
	RunCeiling     time.Duration `envconfig:"SYNC_RUN_CEILING" default:"10m"`
	LockStaleAfter time.Duration `envconfig:"SYNC_LOCK_STALE_AFTER" default:"30m"`
	FailThreshold  float64       `envconfig:"SYNC_FAIL_THRESHOLD" default:"0.5"`
	ReseedChunk    int           `envconfig:"SYNC_RESEED_CHUNK" default:"500"`
}

// SlackConfig holds outbound notification settings.
type SlackConfig struct {
	WebhookURL string        `envconfig:"SLACK_WEBHOOK_URL" default:""`
	Timeout    time.Duration `envconfig:"SLACK_TIMEOUT" default:"10s"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name.
func (s *StoreConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		s.User, s.Password, s.Host, s.Port, s.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
