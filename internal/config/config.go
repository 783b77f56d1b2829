package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"finsign-bi/internal/logging"
)

// Write policies understood by the raw loaders.
const (
	PolicyReplace = "replace"
	PolicyAppend  = "append"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ozon      OzonConfig      `mapstructure:"ozon"`
	WB        WBConfig        `mapstructure:"wb"`
	Mart      MartConfig      `mapstructure:"mart"`
	ETL       ETLConfig       `mapstructure:"etl"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// OzonConfig covers the Ozon Seller API.
type OzonConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ClientID       string        `mapstructure:"client_id"`
	APIKey         string        `mapstructure:"api_key"`
	PageLimit      int           `mapstructure:"page_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	WritePolicy    string        `mapstructure:"write_policy"`
}

// WBConfig covers the Wildberries statistics API.
type WBConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	PageLimit      int           `mapstructure:"page_limit"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	WritePolicy    string        `mapstructure:"write_policy"`
	Lookback       time.Duration `mapstructure:"lookback"`
}

// MartConfig defines the cost basis used when rebuilding fact_sales.
type MartConfig struct {
	DefaultCostRatio float64            `mapstructure:"default_cost_ratio"`
	CostRatios       map[string]float64 `mapstructure:"cost_ratios"`
}

// ETLConfig holds run bookkeeping settings.
type ETLConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// SchedulerConfig governs the periodic ETL cycle.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// ServerConfig configures the admin panel.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// AlertingConfig defines failure notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for alerts.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	DefaultDays int `mapstructure:"default_days"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("FINSIGN")
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

// loadDotEnv reads .env (or the given files) into the environment. A missing
// file is fine; one that exists but cannot be parsed is not.
func loadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
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
	v.SetDefault("app.name", "finsign")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("ozon.base_url", "https://api-seller.ozon.ru")
	v.SetDefault("ozon.client_id", "")
	v.SetDefault("ozon.api_key", "")
	v.SetDefault("ozon.page_limit", 1000)
	v.SetDefault("ozon.request_timeout", "60s")
	v.SetDefault("ozon.max_retries", 5)
	v.SetDefault("ozon.retry_backoff", "1s")
	v.SetDefault("ozon.write_policy", PolicyReplace)

	v.SetDefault("wb.base_url", "https://statistics-api.wildberries.ru")
	v.SetDefault("wb.token", "")
	v.SetDefault("wb.page_limit", 100000)
	v.SetDefault("wb.page_delay", "200ms")
	v.SetDefault("wb.request_timeout", "60s")
	v.SetDefault("wb.max_retries", 3)
	v.SetDefault("wb.retry_backoff", "1s")
	v.SetDefault("wb.write_policy", PolicyAppend)
	v.SetDefault("wb.lookback", "168h")

	v.SetDefault("mart.default_cost_ratio", 0.0)

	v.SetDefault("etl.stale_after", "2h")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x46534249))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "10m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.default_days", 30)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := validatePolicy("ozon.write_policy", c.Ozon.WritePolicy); err != nil {
		return err
	}
	if err := validatePolicy("wb.write_policy", c.WB.WritePolicy); err != nil {
		return err
	}
	if c.Ozon.PageLimit <= 0 || c.Ozon.PageLimit > 1000 {
		return fmt.Errorf("ozon.page_limit must be within 1..1000")
	}
	if c.WB.PageLimit <= 0 {
		return fmt.Errorf("wb.page_limit must be greater than zero")
	}
	if c.Ozon.MaxRetries < 0 || c.WB.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.WB.Lookback <= 0 {
		return fmt.Errorf("wb.lookback must be greater than zero")
	}
	if c.Mart.DefaultCostRatio < 0 {
		return fmt.Errorf("mart.default_cost_ratio cannot be negative")
	}
	for marketplace, ratio := range c.Mart.CostRatios {
		if ratio < 0 {
			return fmt.Errorf("mart.cost_ratios.%s cannot be negative", marketplace)
		}
	}
	if c.ETL.StaleAfter <= 0 {
		return fmt.Errorf("etl.stale_after must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.DefaultDays <= 0 {
		return fmt.Errorf("export.default_days must be greater than zero")
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

func validatePolicy(key, value string) error {
	switch value {
	case PolicyReplace, PolicyAppend:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", key, PolicyReplace, PolicyAppend, value)
	}
}
