package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "WEATHERCAL_"
	envConfigFile = "WEATHERCAL_CONFIG"

	DefaultWeatherURL = "https://api.openweathermap.org/data/3.0/onecall"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel     string         `koanf:"log_level"`
	TimezoneName string         `koanf:"timezone"`
	Timezone     *time.Location `koanf:"-"`

	WeatherAPIKey     string  `koanf:"weather_api_key"`
	WeatherBaseURL    string  `koanf:"weather_base_url"`
	Latitude          float64 `koanf:"latitude"`
	Longitude         float64 `koanf:"longitude"`
	WeatherDailyQuota int     `koanf:"weather_daily_quota"`
	Granularity       string  `koanf:"granularity"`
	HourlyStep        int     `koanf:"hourly_step"`

	CalDAVURL      string `koanf:"caldav_url"`
	CalDAVUsername string `koanf:"caldav_username"`
	CalDAVPassword string `koanf:"caldav_password"`
	CalendarPath   string `koanf:"calendar_path"`
	CalendarName   string `koanf:"calendar_name"`

	UIDNamespace          string        `koanf:"uid_namespace"`
	SummaryTemplate       string        `koanf:"summary_template"`
	BodyTemplate          string        `koanf:"body_template"`
	SuppressDefaultAlarms bool          `koanf:"suppress_default_alarms"`
	KeepPastDays          int           `koanf:"keep_past_days"`
	UpsertConcurrency     int           `koanf:"upsert_concurrency"`
	RequestTimeout        time.Duration `koanf:"request_timeout"`
	RunTimeout            time.Duration `koanf:"run_timeout"`

	PollInterval time.Duration `koanf:"poll_interval"`
	RunOnStart   bool          `koanf:"run_on_start"`
	RunOnce      bool          `koanf:"run_once"`

	DatabasePath         string `koanf:"database_path"`
	JournalRetentionDays int    `koanf:"journal_retention_days"`

	ServerAddr  string `koanf:"server_addr"`
	APIUsername string `koanf:"api_username"`
	APIPassword string `koanf:"api_password"`

	TelegramToken   string `koanf:"telegram_token"`
	TelegramChatID  int64  `koanf:"telegram_chat_id"`
	NotifyOnSuccess bool   `koanf:"notify_on_success"`
}

// New returns a Config populated with defaults only.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		WeatherBaseURL:        DefaultWeatherURL,
		WeatherDailyQuota:     1000,
		Granularity:           "daily",
		HourlyStep:            3,
		CalendarName:          "Weather",
		UIDNamespace:          "weather",
		SuppressDefaultAlarms: true,
		KeepPastDays:          7,
		UpsertConcurrency:     1,
		RequestTimeout:        30 * time.Second,
		RunTimeout:            5 * time.Minute,
		PollInterval:          30 * time.Minute,
		RunOnStart:            true,
		DatabasePath:          "./data/weathercal.db",
		JournalRetentionDays:  30,
		ServerAddr:            ":8080",
	}
}

// Load builds a Config by layering defaults, an optional YAML file named by
// WEATHERCAL_CONFIG, and WEATHERCAL_* environment variables (highest).
func Load(_ context.Context) (*Config, error) {
	cfg := New()
	k := koanf.New(".")

	if path := os.Getenv(envConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// WEATHERCAL_CALDAV_URL -> caldav_url
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	// the file path itself is not a setting
	k.Delete("config")

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if !k.Exists("latitude") || !k.Exists("longitude") {
		return nil, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.WeatherAPIKey == "" {
		return fmt.Errorf("%w: weather_api_key is required", ErrInvalidConfig)
	}
	if c.CalDAVURL == "" {
		return fmt.Errorf("%w: caldav_url is required", ErrInvalidConfig)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidConfig, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidConfig, c.Longitude)
	}
	switch c.Granularity {
	case "daily", "hourly":
	default:
		return fmt.Errorf("%w: granularity must be daily or hourly, got %q", ErrInvalidConfig, c.Granularity)
	}
	if c.HourlyStep < 1 || c.HourlyStep > 24 {
		return fmt.Errorf("%w: hourly_step must be within 1..24", ErrInvalidConfig)
	}
	if c.PollInterval < time.Minute {
		return fmt.Errorf("%w: poll_interval must be at least 1m", ErrInvalidConfig)
	}
	if c.WeatherDailyQuota < 1 {
		return fmt.Errorf("%w: weather_daily_quota must be positive", ErrInvalidConfig)
	}
	if c.UpsertConcurrency < 1 {
		c.UpsertConcurrency = 1
	}
	if c.CalendarPath == "" && c.CalendarName == "" {
		return fmt.Errorf("%w: calendar_path or calendar_name is required", ErrInvalidConfig)
	}

	c.Timezone = nil
	if c.TimezoneName != "" {
		tz, err := time.LoadLocation(c.TimezoneName)
		if err != nil {
			return fmt.Errorf("%w: invalid timezone: %v", ErrInvalidConfig, err)
		}
		c.Timezone = tz
	}
	return nil
}

// SchedulerLocation returns the zone cron jobs run in.
func (c *Config) SchedulerLocation() *time.Location {
	if c.Timezone != nil {
		return c.Timezone
	}
	return time.Local
}

// RunsPerDay is how many fetches the poll interval implies.
func (c *Config) RunsPerDay() int {
	return int((24 * time.Hour) / c.PollInterval)
}

// ExceedsQuota reports whether polling alone would exhaust the provider quota.
func (c *Config) ExceedsQuota() bool {
	return c.RunsPerDay() > c.WeatherDailyQuota
}

// NotifierEnabled returns true when Telegram reports are configured.
func (c *Config) NotifierEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}
