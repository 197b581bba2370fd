package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the marketpulse services.
type Config struct {
	Upstream  Upstream          `yaml:"upstream"`
	Alpaca    Alpaca            `yaml:"alpaca"`
	Storage   Storage           `yaml:"storage"`
	Server    Server            `yaml:"server"`
	Chart     Chart             `yaml:"chart"`
	Palette   map[string]string `yaml:"palette"`
	Watchlist Watchlist         `yaml:"watchlist"`
	Schedule  Schedule          `yaml:"schedule"`
	Logging   Logging           `yaml:"logging"`
}

// Record source kinds accepted by Upstream.Source.
const (
	SourceHTTP    = "http"
	SourceSQLite  = "sqlite"
	SourceParquet = "parquet"
	SourceAlpaca  = "alpaca"
)

// Upstream selects where chart records come from.
type Upstream struct {
	Source          string        `yaml:"source"`
	BaseURL         string        `yaml:"base_url"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	BaseURL     string `yaml:"base_url"`
	DataURL     string `yaml:"data_url"`
	Feed        string `yaml:"feed"`
	MacroSymbol string `yaml:"macro_symbol"`
}

// Enabled reports whether credentials are configured.
func (a Alpaca) Enabled() bool { return a.APIKey != "" && a.APISecret != "" }

// Storage holds paths for local record snapshots.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ParquetDir string `yaml:"parquet_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Addr returns host:port.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Chart controls event ranking and styling.
type Chart struct {
	TopEvents     int      `yaml:"top_events"`
	EventWeight   *float64 `yaml:"event_weight"`
	DefaultWeight *float64 `yaml:"default_weight"`
	Window        string   `yaml:"window"`
	ScoreField    string   `yaml:"score_field"`
}

// Watchlist selects the instruments preloaded by the warm job. File is a
// company,ticker[,window] CSV; Alpaca keeps the list in the account's
// named watchlist instead.
type Watchlist struct {
	File   string `yaml:"file"`
	Alpaca bool   `yaml:"alpaca"`
	Name   string `yaml:"name"`
}

// Schedule holds cron specs for background jobs. Specs include a seconds
// field.
type Schedule struct {
	MacroCron string `yaml:"macro_cron"`
	WarmCron  string `yaml:"warm_cron"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

// LoadOptional is Load for a config file that may not exist: a missing
// file yields the defaults with environment overrides applied.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	cfg = &Config{}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Upstream.Source == "" {
		cfg.Upstream.Source = SourceHTTP
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "http://localhost:8000"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Alpaca.MacroSymbol == "" {
		cfg.Alpaca.MacroSymbol = "SPY"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/marketpulse.db"
	}
	if cfg.Storage.ParquetDir == "" {
		cfg.Storage.ParquetDir = "data/records"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.CacheTTL == 0 {
		cfg.Server.CacheTTL = 5 * time.Minute
	}
	if cfg.Chart.TopEvents <= 0 {
		cfg.Chart.TopEvents = 8
	}
	if cfg.Chart.Window == "" {
		cfg.Chart.Window = "month"
	}
	if cfg.Schedule.MacroCron == "" {
		cfg.Schedule.MacroCron = "0 */15 * * * *"
	}
	if cfg.Schedule.WarmCron == "" {
		cfg.Schedule.WarmCron = "30 */5 * * * *"
	}
	if cfg.Watchlist.Name == "" {
		cfg.Watchlist.Name = "marketpulse"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("MARKETPULSE_SOURCE"); v != "" {
		cfg.Upstream.Source = v
	}
	if v := os.Getenv("MARKETPULSE_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("PARQUET_DIR"); v != "" {
		cfg.Storage.ParquetDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MARKETPULSE_TOP_EVENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MARKETPULSE_TOP_EVENTS: %w", err)
		}
		cfg.Chart.TopEvents = n
	}
	if v := os.Getenv("MACRO_REFRESH_CRON"); v != "" {
		cfg.Schedule.MacroCron = v
	}

	// Standard Alpaca env vars used by the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("APCA_API_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	return nil
}
