// Package config loads application configuration from YAML files and
// environment variables (SENTINEL_ prefix).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents database connection configuration.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// RedisConfig selects the distributed rate limiter backend when enabled.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SecurityConfig holds the trust subsystem's tunables.
type SecurityConfig struct {
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`

	// TwoFAThreshold is the notional value at or above which an enrolled
	// user must supply a second factor. Parsed as a decimal string.
	TwoFAThreshold string `mapstructure:"two_fa_threshold"`
	Issuer         string `mapstructure:"issuer"`

	// MasterKey (base64, 32 bytes) wins over MasterPassphrase. With
	// neither set, an ephemeral key is generated at startup.
	MasterKey        string `mapstructure:"master_key"`
	MasterPassphrase string `mapstructure:"master_passphrase"`

	AuditLogPath  string `mapstructure:"audit_log_path"`
	AuditMaxBytes int64  `mapstructure:"audit_max_bytes"`
	AuditBackups  int    `mapstructure:"audit_backups"`
}

// TradingConfig holds trading gate and paper executor settings.
type TradingConfig struct {
	PaperBalance string `mapstructure:"paper_balance"`
}

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Security SecurityConfig `mapstructure:"security"`
	Trading  TradingConfig  `mapstructure:"trading"`
}

// LoadConfig reads configuration from the file at path plus environment
// variables. An empty path skips file loading; defaults and environment
// variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.rate_limit_max", 100)
	v.SetDefault("security.rate_limit_window", time.Minute)
	v.SetDefault("security.sweep_interval", 5*time.Minute)
	v.SetDefault("security.two_fa_threshold", "5000000.00")
	v.SetDefault("security.issuer", "Sentinel")
	v.SetDefault("security.audit_log_path", "logs/audit.log")
	v.SetDefault("security.audit_max_bytes", int64(10*1024*1024))
	v.SetDefault("security.audit_backups", 10)

	v.SetDefault("trading.paper_balance", "10000000.00")
}

func validate(cfg *Config) error {
	if cfg.Security.RateLimitMax <= 0 {
		return fmt.Errorf("security.rate_limit_max must be positive")
	}
	if cfg.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("security.rate_limit_window must be positive")
	}
	if cfg.Redis.Enabled && cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address required when redis is enabled")
	}
	return nil
}
