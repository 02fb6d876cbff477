// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Tier selects the CoinGecko deployment tier. The pro tier assumes an API
// key and relaxes rate-limit driven settings.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Config holds all application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Game      GameConfig      `mapstructure:"game"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// OracleConfig holds CoinGecko price oracle configuration.
type OracleConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	CacheDuration  time.Duration `mapstructure:"cache_duration"`
	MinAPIInterval time.Duration `mapstructure:"min_api_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retries        int           `mapstructure:"retries"`
	MaxRetryWait   time.Duration `mapstructure:"max_retry_wait"`
}

// GameConfig holds prediction game configuration.
type GameConfig struct {
	WindowSeconds      int     `mapstructure:"window_seconds"`
	CooldownSeconds    int     `mapstructure:"cooldown_seconds"`
	FUDProbability     float64 `mapstructure:"fud_probability"`
	PriceDisplayDigits int     `mapstructure:"price_display_digits"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "postgres"
}

// DatabaseConfig holds PostgreSQL connection configuration, used when
// storage.driver is "postgres".
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Tier returns the deployment tier implied by the API key.
func (c *Config) Tier() Tier {
	if c.Oracle.APIKey != "" {
		return TierPro
	}
	return TierFree
}

// Window returns the prediction window duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Game.WindowSeconds) * time.Second
}

// Cooldown returns the post-resolution cooldown. Zero in the config means
// "use the tier default": 45s on the free tier, 30s on pro.
func (c *Config) Cooldown() time.Duration {
	if c.Game.CooldownSeconds > 0 {
		return time.Duration(c.Game.CooldownSeconds) * time.Second
	}
	if c.Tier() == TierPro {
		return 30 * time.Second
	}
	return 45 * time.Second
}

// FUDProbability returns the FUD event probability. Zero in the config
// means "use the tier default": 0.10 free, 0.08 pro.
func (c *Config) FUDProbability() float64 {
	if c.Game.FUDProbability > 0 {
		return c.Game.FUDProbability
	}
	if c.Tier() == TierPro {
		return 0.08
	}
	return 0.10
}

// PriceDigits returns the price display precision: 4 decimals on the free
// tier, 6 on pro.
func (c *Config) PriceDigits() int {
	if c.Game.PriceDisplayDigits > 0 {
		return c.Game.PriceDisplayDigits
	}
	if c.Tier() == TierPro {
		return 6
	}
	return 4
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// e.g., BOT_TOKEN, ORACLE_API_KEY, DATABASE_HOST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Oracle defaults
	v.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.cache_duration", "30s")
	v.SetDefault("oracle.min_api_interval", "2s")
	v.SetDefault("oracle.request_timeout", "15s")
	v.SetDefault("oracle.retries", 2)
	v.SetDefault("oracle.max_retry_wait", "60s")

	// Game defaults (cooldown/fud/precision 0 = tier default)
	v.SetDefault("game.window_seconds", 60)
	v.SetDefault("game.cooldown_seconds", 0)
	v.SetDefault("game.fud_probability", 0.0)
	v.SetDefault("game.price_display_digits", 0)

	// Storage defaults
	v.SetDefault("storage.driver", "memory")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "cryptoclash")
	v.SetDefault("database.name", "cryptoclash")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
