// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ストレージドライバー
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// App
	AppEnv string `envconfig:"APP_ENV" default:"development"`

	// Storage
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	// Auth
	JWTSecret  string        `envconfig:"JWT_SECRET"`
	TokenTTL   time.Duration `envconfig:"TOKEN_TTL" default:"168h"`
	BcryptCost int           `envconfig:"BCRYPT_COST" default:"10"`

	// Server
	ServerPort        string `envconfig:"SERVER_PORT" default:"8080"`
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN" default:"http://localhost:5173"`

	// Rate Limit (req/min)
	RateLimitGeneral int `envconfig:"RATE_LIMIT_GENERAL" default:"120"`
	RateLimitAuth    int `envconfig:"RATE_LIMIT_AUTH" default:"10"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Messaging（AMQP_URLが空の場合はログ出力のみ）
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"lunore.events"`

	// Seed
	SeedFile      string `envconfig:"SEED_FILE"`
	AdminEmail    string `envconfig:"ADMIN_EMAIL"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
	AdminName     string `envconfig:"ADMIN_NAME" default:"Administrator"`

	// Worker
	CleanupInterval    time.Duration `envconfig:"CLEANUP_INTERVAL" default:"24h"`
	ImageCheckInterval time.Duration `envconfig:"IMAGE_CHECK_INTERVAL" default:"6h"`
	ImageCheckTimeout  time.Duration `envconfig:"IMAGE_CHECK_TIMEOUT" default:"10s"`
	// WorkerMetricsPort はworkerが/metricsを公開するポート。空の場合は公開しない。
	WorkerMetricsPort string `envconfig:"WORKER_METRICS_PORT" default:"9091"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	switch c.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER: %q (want %s or %s)", c.StorageDriver, StorageDriverPostgres, StorageDriverMemory)
	}

	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.StorageDriver == StorageDriverPostgres && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive: %s", c.TokenTTL)
	}
	if c.RateLimitGeneral < 1 || c.RateLimitAuth < 1 {
		return fmt.Errorf("rate limits must be positive: general=%d auth=%d", c.RateLimitGeneral, c.RateLimitAuth)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL: %q", c.LogLevel)
	}
	return nil
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// UsesMemoryStorage はインメモリストレージで動作するかどうかを返す。
func (c *Config) UsesMemoryStorage() bool {
	return c.StorageDriver == StorageDriverMemory
}

// SeedAdminConfigured はseedコマンドで管理者アカウントを作成するかどうかを返す。
func (c *Config) SeedAdminConfigured() bool {
	return c.AdminEmail != "" && c.AdminPassword != ""
}

// KeepAliveConfig はkeepaliveサブコマンドの設定。
// APIサーバーの設定を必要としないため、Configとは別に読み込む。
type KeepAliveConfig struct {
	// URL はpingするAPIのベースURL。空の場合はローカルのSERVER_PORTを使う。
	URL        string        `envconfig:"KEEPALIVE_URL"`
	Interval   time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"14m"`
	Timeout    time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"10s"`
	ServerPort string        `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel   string        `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadKeepAlive は環境変数からKeepAliveConfigを読み込む。
func LoadKeepAlive() (*KeepAliveConfig, error) {
	cfg := &KeepAliveConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("KEEPALIVE_INTERVAL must be positive: %s", cfg.Interval)
	}
	if cfg.URL == "" {
		cfg.URL = "http://localhost:" + cfg.ServerPort
	}
	return cfg, nil
}
