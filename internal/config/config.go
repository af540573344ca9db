// Package config provides application configuration loaded from the environment
// and, optionally, from a YAML or TOML file named by CONFIG_PATH.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" toml:"store"`
	Cache  CacheConfig  `yaml:"cache" toml:"cache"`
	Remote RemoteConfig `yaml:"remote" toml:"remote"`
	Auth   AuthConfig   `yaml:"auth" toml:"auth"`
	Sync   SyncConfig   `yaml:"sync" toml:"sync"`
	Log    LogConfig    `yaml:"log" toml:"log"`
	App    AppConfig    `yaml:"app" toml:"app"`
}

// StoreConfig holds the durable store settings.
type StoreConfig struct {
	Path    string `yaml:"path" toml:"path" env:"STORE_PATH" env-default:"invoicedesk.db"`
	Debug   bool   `yaml:"debug" toml:"debug" env:"STORE_DEBUG" env-default:"false"`
	Tracing bool   `yaml:"tracing" toml:"tracing" env:"STORE_TRACING" env-default:"false"`
}

// CacheConfig selects the fast cache backend.
type CacheConfig struct {
	Driver        string `yaml:"driver" toml:"driver" env:"CACHE_DRIVER" env-default:"memory"`
	QuotaBytes    int    `yaml:"quota_bytes" toml:"quota_bytes" env:"CACHE_QUOTA_BYTES" env-default:"5242880"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db" env:"REDIS_DB" env-default:"0"`
	Prefix        string `yaml:"prefix" toml:"prefix" env:"CACHE_PREFIX" env-default:"invoicedesk:"`
	MigrationLock bool   `yaml:"migration_lock" toml:"migration_lock" env:"CACHE_MIGRATION_LOCK" env-default:"false"`
}

// RemoteConfig selects the remote document store.
type RemoteConfig struct {
	Driver          string `yaml:"driver" toml:"driver" env:"REMOTE_DRIVER" env-default:"none"`
	DatabaseDSN     string `yaml:"database_dsn" toml:"database_dsn" env:"REMOTE_DATABASE_DSN"`
	Migrations      bool   `yaml:"migrations" toml:"migrations" env:"REMOTE_MIGRATIONS" env-default:"true"`
	ProjectID       string `yaml:"project_id" toml:"project_id" env:"FIRESTORE_PROJECT_ID"`
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	AssetBucket     string `yaml:"asset_bucket" toml:"asset_bucket" env:"REMOTE_ASSET_BUCKET"`
}

// AuthConfig holds the anonymous session settings.
type AuthConfig struct {
	Secret string        `yaml:"secret" toml:"secret" env:"SESSION_SECRET" env-default:"devsessionsecret"`
	TTL    time.Duration `yaml:"ttl" toml:"ttl" env:"SESSION_TTL" env-default:"8760h"`
	Issuer string        `yaml:"issuer" toml:"issuer" env:"SESSION_ISSUER" env-default:"invoicedesk"`
}

// SyncConfig holds debounce windows and batching of local and remote writes.
type SyncConfig struct {
	InvoiceDebounce time.Duration `yaml:"invoice_debounce" toml:"invoice_debounce" env:"SYNC_INVOICE_DEBOUNCE" env-default:"2s"`
	DraftSaveDelay  time.Duration `yaml:"draft_save_delay" toml:"draft_save_delay" env:"DRAFT_SAVE_DELAY" env-default:"1s"`
	BatchSize       int           `yaml:"batch_size" toml:"batch_size" env:"SYNC_BATCH_SIZE" env-default:"400"`
	Origin          string        `yaml:"origin" toml:"origin" env:"SYNC_ORIGIN" env-default:"web-client"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" toml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev             bool   `yaml:"dev" toml:"dev" env:"DEV" env-default:"false"`
	Currency        string `yaml:"currency" toml:"currency" env:"CURRENCY" env-default:"DZD"`
	DisplayLanguage string `yaml:"display_language" toml:"display_language" env:"DISPLAY_LANGUAGE" env-default:"ar"`
}

// Load reads configuration. When CONFIG_PATH is set the file is read first and
// environment variables override it; otherwise only the environment is used.
func Load() (*Config, error) {
	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}
