package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SourcesConfig holds per-source client configuration.
type SourcesConfig struct {
	IMDb  IMDbConfig  `mapstructure:"imdb"`
	Trakt TraktConfig `mapstructure:"trakt"`
}

// IMDbConfig configures the IMDb rating source.
type IMDbConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Weight  float64 `mapstructure:"weight"`
	BaseURL string  `mapstructure:"base_url"`
	Timeout int     `mapstructure:"timeout"` // seconds
	// RequestsPerSecond caps the fetch rate against imdb.com.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// TraktConfig configures the Trakt rating source.
type TraktConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Weight  float64 `mapstructure:"weight"`
	APIKey  string  `mapstructure:"api_key"`
	BaseURL string  `mapstructure:"base_url"`
	Timeout int     `mapstructure:"timeout"` // seconds
	// RequestsPerSecond caps the fetch rate against api.trakt.tv.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// RefreshConfig controls candidate selection and cycle scheduling.
type RefreshConfig struct {
	// ContentTypes lists the library content types to refresh:
	// movie, tvshow, season, episode.
	ContentTypes []string `mapstructure:"content_types"`

	// DateRangeMin/Max bound the release or air date of eligible items.
	// Either may be empty (RFC 3339 date, e.g. "2020-01-01").
	DateRangeMin string `mapstructure:"date_range_min"`
	DateRangeMax string `mapstructure:"date_range_max"`

	// MinRefreshInterval is how long an item stays ineligible after a
	// successful refresh.
	MinRefreshInterval time.Duration `mapstructure:"min_refresh_interval"`

	// CycleInterval is how often a refresh cycle runs.
	CycleInterval time.Duration `mapstructure:"cycle_interval"`

	// RunOnStart triggers a cycle at startup when the service has never
	// completed one.
	RunOnStart bool `mapstructure:"run_on_start"`

	// RetryAttempts bounds retries of a transient source failure.
	RetryAttempts int `mapstructure:"retry_attempts"`

	// RetryBackoff is the initial backoff between retries; it doubles
	// per attempt.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// Default returns a Config with default values.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.ratesync")
	}

	// Environment variable settings
	v.SetEnvPrefix("RATESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the parts of the configuration the refresh pipeline
// depends on.
func (c *Config) Validate() error {
	if !c.Sources.IMDb.Enabled && !c.Sources.Trakt.Enabled {
		return fmt.Errorf("config: at least one rating source must be enabled")
	}
	if c.Sources.IMDb.Weight < 0 || c.Sources.Trakt.Weight < 0 {
		return fmt.Errorf("config: source weights must be non-negative")
	}
	if c.Refresh.CycleInterval <= 0 {
		return fmt.Errorf("config: refresh.cycle_interval must be positive")
	}
	if c.Refresh.MinRefreshInterval < 0 {
		return fmt.Errorf("config: refresh.min_refresh_interval must not be negative")
	}
	if c.Refresh.RetryAttempts < 1 {
		return fmt.Errorf("config: refresh.retry_attempts must be at least 1")
	}
	for _, ct := range c.Refresh.ContentTypes {
		switch ct {
		case "movie", "tvshow", "season", "episode":
		default:
			return fmt.Errorf("config: unknown content type %q", ct)
		}
	}
	if _, _, err := c.Refresh.DateRange(); err != nil {
		return err
	}
	return nil
}

// DateRange parses the configured date bounds. Either bound may be nil.
func (r *RefreshConfig) DateRange() (min, max *time.Time, err error) {
	parse := func(value, key string) (*time.Time, error) {
		if value == "" {
			return nil, nil
		}
		t, err := time.Parse("2006-01-02", value)
		if err != nil {
			return nil, fmt.Errorf("config: invalid %s %q: %w", key, value, err)
		}
		return &t, nil
	}

	if min, err = parse(r.DateRangeMin, "refresh.date_range_min"); err != nil {
		return nil, nil, err
	}
	if max, err = parse(r.DateRangeMax, "refresh.date_range_max"); err != nil {
		return nil, nil, err
	}
	return min, max, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8484)

	// Database defaults
	v.SetDefault("database.path", "./data/ratesync.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	// Source defaults mirror the upstream services' public limits.
	v.SetDefault("sources.imdb.enabled", true)
	v.SetDefault("sources.imdb.weight", 1.0)
	v.SetDefault("sources.imdb.base_url", "https://www.imdb.com")
	v.SetDefault("sources.imdb.timeout", 15)
	v.SetDefault("sources.imdb.requests_per_second", 2.0)

	v.SetDefault("sources.trakt.enabled", true)
	v.SetDefault("sources.trakt.weight", 1.0)
	v.SetDefault("sources.trakt.api_key", "")
	v.SetDefault("sources.trakt.base_url", "https://api.trakt.tv")
	v.SetDefault("sources.trakt.timeout", 15)
	v.SetDefault("sources.trakt.requests_per_second", 2.0)

	// Refresh defaults
	v.SetDefault("refresh.content_types", []string{"movie", "episode"})
	v.SetDefault("refresh.date_range_min", "")
	v.SetDefault("refresh.date_range_max", "")
	v.SetDefault("refresh.min_refresh_interval", 24*time.Hour)
	v.SetDefault("refresh.cycle_interval", 24*time.Hour)
	v.SetDefault("refresh.run_on_start", true)
	v.SetDefault("refresh.retry_attempts", 3)
	v.SetDefault("refresh.retry_backoff", 2*time.Second)
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
