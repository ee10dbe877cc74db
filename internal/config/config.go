package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the forge platform.
type Config struct {
	Storage Storage     `yaml:"storage"`
	Server  Server      `yaml:"server"`
	Alpaca  Alpaca      `yaml:"alpaca"`
	Logging Logging     `yaml:"logging"`
	Fetch   FetchConfig `yaml:"fetch"`
	Forge   ForgeConfig `yaml:"forge"`
}

// Storage holds paths for data persistence.
type Storage struct {
	PriceDir   string `yaml:"price_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API,
// used by the price fetcher.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FetchConfig holds parameters for the daily price download job.
type FetchConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// ForgeConfig holds engine defaults applied when a job config omits them.
type ForgeConfig struct {
	NumWorkers     int `yaml:"num_workers"`
	PriceCacheSize int `yaml:"price_cache_size"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{
			PriceDir:   "data/prices",
			SQLitePath: "data/forge.db",
		},
		Server: Server{Host: "127.0.0.1", Port: 8090},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Fetch: FetchConfig{
			StartDate:       "2000-01-01",
			BatchSize:       200,
			MaxWorkers:      4,
			RateLimitPerMin: 200,
		},
		Forge: ForgeConfig{
			NumWorkers:     4,
			PriceCacheSize: 128,
		},
	}
}

// Load reads the YAML configuration file at the given path, parses it into
// a Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORGE_PRICE_DIR"); v != "" {
		cfg.Storage.PriceDir = v
	}
	if v := os.Getenv("FORGE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("FORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
