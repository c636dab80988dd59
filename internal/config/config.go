// Package config loads the stockbt configuration: a YAML file, struct
// defaults, environment overrides and validation, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"stockbt/internal/domain"
	"stockbt/internal/ranking"
	"stockbt/internal/regime"
	"stockbt/internal/strategy"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for stockbt.
type Config struct {
	Storage  Storage  `yaml:"storage" json:"storage"`
	Logging  Logging  `yaml:"logging" json:"logging"`
	Alpaca   Alpaca   `yaml:"alpaca" json:"-"`
	FRED     FRED     `yaml:"fred" json:"-"`
	Redis    Redis    `yaml:"redis" json:"-"`
	Metrics  Metrics  `yaml:"metrics" json:"-"`
	Server   Server   `yaml:"server" json:"-"`
	Gather   Gather   `yaml:"gather" json:"-"`
	Backtest Backtest `yaml:"backtest" json:"backtest"`
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Costs    Costs    `yaml:"costs" json:"costs"`
	Regime   Regime   `yaml:"regime" json:"regime"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir" json:"data_dir" default:"data"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path" default:"data/stockbt.db"`
	ResultsDir string `yaml:"results_dir" json:"results_dir" default:"results"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" json:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" json:"format" default:"json" validate:"oneof=json text"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed" default:"iex" validate:"oneof=iex sip"`
}

// FRED configures the macro series fetcher.
type FRED struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url" default:"https://api.stlouisfed.org/fred" validate:"url"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min" default:"100" validate:"gte=0"`
	Timeout         time.Duration `yaml:"timeout" default:"30s"`
	MaxRetries      int           `yaml:"max_retries" default:"3" validate:"gte=1"`
}

// Redis configures the fundamentals cache. An empty Addr disables it.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" default:"24h"`
}

// Metrics configures the Prometheus endpoint served by the HTTP listener.
type Metrics struct {
	Enabled *bool  `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics" validate:"startswith=/"`
}

// Server holds the results service listener configuration.
type Server struct {
	Host     string `yaml:"host" default:"127.0.0.1"`
	HTTPPort int    `yaml:"http_port" default:"8080" validate:"gte=1,lte=65535"`
	GRPCPort int    `yaml:"grpc_port" default:"9090" validate:"gte=1,lte=65535"`
}

// Gather controls data gathering jobs.
type Gather struct {
	USDaily GatherJob `yaml:"us_daily"`
}

// GatherJob holds parameters for a single data gathering job.
type GatherJob struct {
	StartDate       string `yaml:"start_date" default:"2015-01-01" validate:"datetime=2006-01-02"`
	BatchSize       int    `yaml:"batch_size" default:"100" validate:"gte=1"`
	MaxWorkers      int    `yaml:"max_workers" default:"4" validate:"gte=1"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min" default:"200" validate:"gte=0"`
}

// Backtest describes the simulated period and portfolio shape.
type Backtest struct {
	Start          string  `yaml:"start" json:"start" validate:"omitempty,datetime=2006-01-02"`
	End            string  `yaml:"end" json:"end" validate:"omitempty,datetime=2006-01-02"`
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" default:"100000" validate:"gt=0"`
	Cadence        string  `yaml:"cadence" json:"cadence" default:"quarterly" validate:"oneof=monthly quarterly semiannual annual"`
	TopN           int     `yaml:"top_n" json:"top_n" default:"10" validate:"gte=1"`
	HoldBuffer     int     `yaml:"hold_buffer" json:"hold_buffer" validate:"gte=0"`
	Benchmark      string  `yaml:"benchmark" json:"benchmark" default:"SPY"`
	UniverseFile   string  `yaml:"universe_file" json:"universe_file"`
	LookbackDays   int     `yaml:"lookback_days" json:"lookback_days" default:"200" validate:"gte=0"`
	RiskFreeRate   float64 `yaml:"risk_free_rate" json:"risk_free_rate" default:"0.02"`
	Workers        int     `yaml:"workers" json:"workers" default:"8" validate:"gte=1"`
}

// Strategy selects the ranking variant and its parameters.
type Strategy struct {
	Mode         string                `yaml:"mode" json:"mode" default:"momentum" validate:"oneof=momentum hybrid lowvol"`
	Weights      domain.PillarWeights  `yaml:"weights" json:"weights"`
	Thresholds   ranking.Thresholds    `yaml:"thresholds" json:"thresholds"`
	Filters      ranking.Filters       `yaml:"filters" json:"filters"`
	LowVol       strategy.LowVolParams `yaml:"lowvol" json:"lowvol"`
	Fundamentals FundamentalsFetch     `yaml:"fundamentals" json:"fundamentals"`
}

// FundamentalsFetch bounds fundamentals lookups during ranking.
type FundamentalsFetch struct {
	TopK        int           `yaml:"top_k" json:"top_k" default:"50" validate:"gte=0"`
	Concurrency int           `yaml:"concurrency" json:"concurrency" default:"4" validate:"gte=1"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" default:"5s"`
	// BreakerFailures opens the provider circuit after this many
	// consecutive failures.
	BreakerFailures uint32 `yaml:"breaker_failures" json:"breaker_failures" default:"5"`
}

// Costs selects the execution cost model.
type Costs struct {
	Slippage       string  `yaml:"slippage" json:"slippage" default:"none" validate:"oneof=none fixed tiered"`
	FixedBps       float64 `yaml:"fixed_bps" json:"fixed_bps" validate:"gte=0"`
	Tier           string  `yaml:"tier" json:"tier" default:"normal" validate:"oneof=passive normal aggressive"`
	TransactionBps float64 `yaml:"transaction_bps" json:"transaction_bps" validate:"gte=0"`
	FeePerTrade    float64 `yaml:"fee_per_trade" json:"fee_per_trade" validate:"gte=0"`
}

// Regime configures the regime overlay. Policies override the built-in
// table per label.
type Regime struct {
	OverlayEnabled *bool                                `yaml:"overlay" json:"overlay" default:"true"`
	Policies       map[domain.RegimeLabel]regime.Policy `yaml:"policies" json:"policies,omitempty" validate:"dive"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

var validate = validator.New()

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}
	applyEnvOverrides(cfg)
	cfg.Strategy.Mode = string(strategy.ParseMode(cfg.Strategy.Mode))
	cfg.Strategy.Thresholds = mergeThresholds(cfg.Strategy.Thresholds)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("RESULTS_DIR"); v != "" {
		cfg.Storage.ResultsDir = v
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
	// Standard Alpaca env vars (highest priority, canonical SDK names).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("FRED_API_KEY"); v != "" {
		cfg.FRED.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BACKTEST_START"); v != "" {
		cfg.Backtest.Start = v
	}
	if v := os.Getenv("BACKTEST_END"); v != "" {
		cfg.Backtest.End = v
	}
}

// mergeThresholds fills unset bands from the built-in thresholds.
func mergeThresholds(t ranking.Thresholds) ranking.Thresholds {
	def := ranking.DefaultThresholds()
	fill := func(b *ranking.Band, d ranking.Band) {
		if *b == (ranking.Band{}) {
			*b = d
		}
	}
	fill(&t.PE, def.PE)
	fill(&t.PB, def.PB)
	fill(&t.PS, def.PS)
	fill(&t.ROE, def.ROE)
	fill(&t.DebtToEquity, def.DebtToEquity)
	return t
}
