// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"venue-booking-bot/internal/tariff"
)

// Config holds all application configuration.
type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Venues     []VenueConfig    `mapstructure:"venues"`
	Tariffs    tariff.Settings  `mapstructure:"tariffs"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Rollover   RolloverConfig   `mapstructure:"rollover"`
	Report     ReportConfig     `mapstructure:"report"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
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

// AdminConfig holds global admin configuration.
// ChatAdmins makes Telegram administrators of a venue chat venue admins too.
type AdminConfig struct {
	IDs        []int64 `mapstructure:"ids"`
	ChatAdmins bool    `mapstructure:"chat_admins"`
}

// VenueConfig describes one venue. ID is the venue's group chat id.
type VenueConfig struct {
	ID                  int64   `mapstructure:"id"`
	Title               string  `mapstructure:"title"`
	SalaryOption        int     `mapstructure:"salary_option"`
	DistributionVariant string  `mapstructure:"distribution_variant"`
	TargetUser          int64   `mapstructure:"target_user"`
	Admins              []int64 `mapstructure:"admins"`
}

// SettlementConfig holds settlement session settings.
type SettlementConfig struct {
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RolloverConfig holds the day boundary schedule.
type RolloverConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	TimeZone      string        `mapstructure:"time_zone"`
	At            string        `mapstructure:"at"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// ReportConfig holds the reporting destination.
type ReportConfig struct {
	ChatID int64 `mapstructure:"chat_id"`
}

// MetricsConfig holds the Prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location resolves the rollover time zone.
func (r *RolloverConfig) Location() (*time.Location, error) {
	if r.TimeZone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(r.TimeZone)
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

	// Environment variables use underscore separator and uppercase
	// e.g., BOT_TOKEN, DATABASE_HOST, DATABASE_PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can provide all config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "booking")
	v.SetDefault("database.name", "booking")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("admin.chat_admins", true)

	// Settlement defaults
	v.SetDefault("settlement.session_ttl", "30m")
	v.SetDefault("settlement.sweep_interval", "1m")

	// Rollover defaults
	v.SetDefault("rollover.enabled", true)
	v.SetDefault("rollover.time_zone", "UTC")
	v.SetDefault("rollover.at", "06:00")
	v.SetDefault("rollover.check_interval", "20s")

	v.SetDefault("metrics.addr", ":9090")

	// Tariff defaults
	v.SetDefault("tariffs.salary", map[string]any{
		"1": tiers(600, 1000, 1400, 1800),
		"2": tiers(700, 1100, 1500, 1900),
		"3": tiers(800, 1200, 1600, 2000),
		"4": tiers(900, 1300, 1700, 2100),
	})
	v.SetDefault("tariffs.deduction", tiers(1500, 2200, 3000, 3800))
	v.SetDefault("tariffs.special_bonus", tiers(40, 60, 80, 100))
	v.SetDefault("tariffs.distribution", map[string]any{
		"a": tiers(100, 150, 200, 250),
		"b": tiers(150, 200, 250, 300),
		"c": tiers(200, 250, 300, 350),
		"d": tiers(250, 300, 350, 400),
	})
}

func tiers(t0, t1, t2, t3 int64) map[string]any {
	return map[string]any{"tier0": t0, "tier1": t1, "tier2": t2, "tier3": t3}
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	seen := make(map[int64]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.ID == 0 {
			return fmt.Errorf("venue %q has no id", v.Title)
		}
		if seen[v.ID] {
			return fmt.Errorf("venue %d configured twice", v.ID)
		}
		seen[v.ID] = true
		if v.SalaryOption < 1 || v.SalaryOption > tariff.SalaryOptions {
			return fmt.Errorf("venue %d: salary_option must be 1..%d", v.ID, tariff.SalaryOptions)
		}
	}
	if _, err := time.Parse("15:04", c.Rollover.At); err != nil {
		return fmt.Errorf("rollover.at must be HH:MM: %w", err)
	}
	if _, err := c.Rollover.Location(); err != nil {
		return fmt.Errorf("rollover.time_zone: %w", err)
	}
	return nil
}

// IsAdmin checks if a user ID is in the global admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsVenueAdmin checks the global list and the venue's own admin list.
func (c *Config) IsVenueAdmin(venueID, userID int64) bool {
	if c.IsAdmin(userID) {
		return true
	}
	if v, ok := c.Venue(venueID); ok {
		for _, id := range v.Admins {
			if id == userID {
				return true
			}
		}
	}
	return false
}

// Venue returns the configuration of a venue.
func (c *Config) Venue(venueID int64) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if v.ID == venueID {
			return v, true
		}
	}
	return VenueConfig{}, false
}

// IsVenue checks if a chat ID belongs to a configured venue.
func (c *Config) IsVenue(chatID int64) bool {
	_, ok := c.Venue(chatID)
	return ok
}
