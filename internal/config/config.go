package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"matchpicks/internal/logging"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Fixture snapshot sources.
const (
	FixtureSourceStore = "store"
	FixtureSourceRedis = "redis"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Fixtures  FixturesConfig  `mapstructure:"fixtures"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	File     FileConfig     `mapstructure:"file"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

// FileConfig holds the local JSON store directory.
type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

// PostgresConfig encapsulates PostgreSQL connectivity.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DynamoDBConfig names the table and optional local endpoint.
type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// QuotaConfig defines the rolling call budget.
type QuotaConfig struct {
	SoftLimit      int           `mapstructure:"soft_limit"`
	HardLimit      int           `mapstructure:"hard_limit"`
	Window         time.Duration `mapstructure:"window"`
	NearLimitRatio float64       `mapstructure:"near_limit_ratio"`
}

// FixturesConfig selects where fixture snapshots live.
type FixturesConfig struct {
	Source string      `mapstructure:"source"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig accepts either a redis:// URL or host:port.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ProviderConfig captures football data provider connectivity.
type ProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Host          string        `mapstructure:"host"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	Season        int           `mapstructure:"season"`
	Leagues       []int         `mapstructure:"leagues"`
	DateRangeDays int           `mapstructure:"date_range_days"`
	RequestDelay  time.Duration `mapstructure:"request_delay"`
}

// SchedulerConfig governs the background loops.
type SchedulerConfig struct {
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SyncInterval    time.Duration `mapstructure:"sync_interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AlertingConfig defines quota alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("MATCHPICKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv populates the process environment from .env without
// overriding variables that are already set.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "matchpicks")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.file.dir", "data")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.postgres.auto_migrate", true)
	v.SetDefault("storage.dynamodb.table", "matchpicks")
	v.SetDefault("storage.dynamodb.region", "us-east-1")

	v.SetDefault("quota.soft_limit", 75)
	v.SetDefault("quota.hard_limit", 100)
	v.SetDefault("quota.window", "168h")
	v.SetDefault("quota.near_limit_ratio", 0.9)

	v.SetDefault("fixtures.source", FixtureSourceStore)
	v.SetDefault("fixtures.redis.key_prefix", "fixture:")

	v.SetDefault("provider.base_url", "https://v3.football.api-sports.io")
	v.SetDefault("provider.host", "v3.football.api-sports.io")
	v.SetDefault("provider.timeout", "15s")
	v.SetDefault("provider.user_agent", "matchpicks/1.0")
	v.SetDefault("provider.season", time.Now().Year())
	v.SetDefault("provider.leagues", []int{39, 140, 135, 78, 61})
	v.SetDefault("provider.date_range_days", 7)
	v.SetDefault("provider.request_delay", "1s")

	v.SetDefault("scheduler.sweep_interval", "15m")
	v.SetDefault("scheduler.sync_interval", "0s")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.dir", "exports")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.File.Dir == "" {
			return fmt.Errorf("storage.file.dir is required")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required")
		}
	case BackendDynamoDB:
		if c.Storage.DynamoDB.Table == "" {
			return fmt.Errorf("storage.dynamodb.table is required")
		}
	default:
		return fmt.Errorf("storage.backend must be one of %s, %s, %s", BackendFile, BackendPostgres, BackendDynamoDB)
	}

	if c.Quota.SoftLimit <= 0 {
		return fmt.Errorf("quota.soft_limit must be greater than zero")
	}
	if c.Quota.HardLimit < c.Quota.SoftLimit {
		return fmt.Errorf("quota.hard_limit must be at least quota.soft_limit")
	}
	if c.Quota.Window <= 0 {
		return fmt.Errorf("quota.window must be greater than zero")
	}
	if c.Quota.NearLimitRatio <= 0 || c.Quota.NearLimitRatio > 1 {
		return fmt.Errorf("quota.near_limit_ratio must be in (0, 1]")
	}

	switch c.Fixtures.Source {
	case FixtureSourceStore:
	case FixtureSourceRedis:
		if c.Fixtures.Redis.URL == "" {
			return fmt.Errorf("fixtures.redis.url is required")
		}
	default:
		return fmt.Errorf("fixtures.source must be %s or %s", FixtureSourceStore, FixtureSourceRedis)
	}

	if c.Provider.DateRangeDays < 0 {
		return fmt.Errorf("provider.date_range_days cannot be negative")
	}
	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("scheduler.sweep_interval must be greater than zero")
	}
	if c.Scheduler.SyncInterval < 0 {
		return fmt.Errorf("scheduler.sync_interval cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveExportDir returns either the CLI override or config default.
func (c *Config) ResolveExportDir(override string) string {
	if override != "" {
		return override
	}
	return c.Export.Dir
}
