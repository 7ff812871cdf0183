package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/heavensprominence/credparity/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Parity    ParityConfig    `mapstructure:"parity"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	API       APIConfig       `mapstructure:"api"`
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
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToTick     bool          `mapstructure:"align_to_tick"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Workers         int           `mapstructure:"workers"`
}

// FeedConfig selects and tunes the market rate feed driver.
type FeedConfig struct {
	Driver         string            `mapstructure:"driver"`
	BaseURL        string            `mapstructure:"base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	Staleness      time.Duration     `mapstructure:"staleness"`
	RPCURL         string            `mapstructure:"rpc_url"`
	Vaults         map[string]string `mapstructure:"vaults"`
}

// ParityConfig sets the bounded proportional sizing for automatic actions:
// amount = base_unit * min(|deviation| / threshold, cap_multiplier).
type ParityConfig struct {
	BaseUnit      float64 `mapstructure:"base_unit"`
	CapMultiplier float64 `mapstructure:"cap_multiplier"`
}

// ApprovalConfig sets the amount thresholds that map a transaction to an
// approval level, in the reference currency unit.
type ApprovalConfig struct {
	AutoMax       float64 `mapstructure:"auto_max"`
	AdminMax      float64 `mapstructure:"admin_max"`
	SuperAdminMax float64 `mapstructure:"super_admin_max"`
}

// APIConfig tunes the admin HTTP server.
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ListenAddr   string        `mapstructure:"listen_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CREDPARITY")
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
	v.SetDefault("app.name", "credparity")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_tick", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x43524544))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.workers", 4)

	v.SetDefault("feed.driver", "http")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "credparity/1.0")
	v.SetDefault("feed.staleness", "5m")

	v.SetDefault("parity.base_unit", 100.0)
	v.SetDefault("parity.cap_multiplier", 5.0)

	v.SetDefault("approval.auto_max", 10.0)
	v.SetDefault("approval.admin_max", 100.0)
	v.SetDefault("approval.super_admin_max", 1000.0)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "30s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if c.Feed.Staleness <= 0 {
		return fmt.Errorf("feed.staleness must be greater than zero")
	}
	switch c.Feed.Driver {
	case "http", "onchain", "":
	default:
		return fmt.Errorf("feed.driver must be http or onchain")
	}
	if c.Parity.BaseUnit <= 0 {
		return fmt.Errorf("parity.base_unit must be greater than zero")
	}
	if c.Parity.CapMultiplier <= 0 {
		return fmt.Errorf("parity.cap_multiplier must be greater than zero")
	}
	if c.Approval.AutoMax <= 0 || c.Approval.AdminMax <= c.Approval.AutoMax || c.Approval.SuperAdminMax <= c.Approval.AdminMax {
		return fmt.Errorf("approval thresholds must be strictly increasing")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
