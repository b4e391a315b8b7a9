package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"arbwatch/internal/logging"
	"arbwatch/internal/market"
)

// Config materialises application configuration. It is read-only after Load.
type Config struct {
	Logging         logging.Config   `mapstructure:"logging"`
	MarketPairs     []PairConfig     `mapstructure:"market_pairs"`
	Monitoring      MonitoringConfig `mapstructure:"monitoring"`
	CostAssumptions CostConfig       `mapstructure:"cost_assumptions"`
	Venues          VenuesConfig     `mapstructure:"venues"`
	Database        DatabaseConfig   `mapstructure:"database"`
	Checkpoint      CheckpointConfig `mapstructure:"checkpoint"`

	// Alerting is opaque to the core and handed verbatim to the alerting
	// collaborator.
	Alerting map[string]any `mapstructure:"alerting"`
}

// PairConfig describes one monitored market pairing.
type PairConfig struct {
	ID                 string `mapstructure:"id"`
	MarketName         string `mapstructure:"market_name"`
	KalshiTicker       string `mapstructure:"kalshi_ticker"`
	PolymarketMarketID string `mapstructure:"polymarket_market_id"`
	ManuallyVerified   bool   `mapstructure:"manually_verified"`
	ContractSize       int    `mapstructure:"contract_size"`
	Notes              string `mapstructure:"notes"`
}

// MonitoringConfig governs sampling cadence and run duration.
type MonitoringConfig struct {
	PollingIntervalSeconds  int     `mapstructure:"polling_interval_seconds"`
	MonitoringDurationHours float64 `mapstructure:"monitoring_duration_hours"`
}

// CostConfig captures the frictional-cost assumptions.
type CostConfig struct {
	GasFeePerTradeUSD float64 `mapstructure:"gas_fee_per_trade_usd"`
}

// VenuesConfig covers venue API connectivity.
type VenuesConfig struct {
	KalshiBaseURL     string `mapstructure:"kalshi_base_url"`
	KalshiAPIKey      string `mapstructure:"kalshi_api_key"`
	PolymarketBaseURL string `mapstructure:"polymarket_base_url"`
	UserAgent         string `mapstructure:"user_agent"`
}

// DatabaseConfig enables the optional PostgreSQL mirror of the CSV logs.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CheckpointConfig governs window-state persistence.
type CheckpointConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load builds configuration from the JSON file, environment, and defaults.
// Unrecognised keys fail the load rather than being silently ignored.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
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
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitoring.polling_interval_seconds", 2)
	v.SetDefault("monitoring.monitoring_duration_hours", 0)

	v.SetDefault("cost_assumptions.gas_fee_per_trade_usd", 0.0)

	v.SetDefault("venues.kalshi_base_url", "https://api.elections.kalshi.com/trade-api/v2")
	v.SetDefault("venues.polymarket_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("venues.user_agent", "arbwatch/1.0")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("checkpoint.interval", "5m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.ErrorUnused = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.MarketPairs) == 0 {
		return fmt.Errorf("market_pairs must not be empty")
	}
	seen := make(map[string]struct{}, len(c.MarketPairs))
	for i, p := range c.MarketPairs {
		if p.ID == "" {
			return fmt.Errorf("market_pairs[%d]: id is required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("market_pairs: duplicate id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.KalshiTicker == "" {
			return fmt.Errorf("market_pairs[%s]: kalshi_ticker is required", p.ID)
		}
		if p.PolymarketMarketID == "" {
			return fmt.Errorf("market_pairs[%s]: polymarket_market_id is required", p.ID)
		}
		if p.ContractSize < 0 {
			return fmt.Errorf("market_pairs[%s]: contract_size cannot be negative", p.ID)
		}
	}
	if c.Monitoring.PollingIntervalSeconds <= 0 {
		return fmt.Errorf("monitoring.polling_interval_seconds must be greater than zero")
	}
	if c.Monitoring.MonitoringDurationHours < 0 {
		return fmt.Errorf("monitoring.monitoring_duration_hours cannot be negative")
	}
	if c.CostAssumptions.GasFeePerTradeUSD < 0 {
		return fmt.Errorf("cost_assumptions.gas_fee_per_trade_usd cannot be negative")
	}
	if c.Checkpoint.Interval < 0 {
		return fmt.Errorf("checkpoint.interval cannot be negative")
	}
	return nil
}

// Pairs converts the configured entries into immutable market pairs.
func (c *Config) Pairs() []market.Pair {
	pairs := make([]market.Pair, 0, len(c.MarketPairs))
	for _, p := range c.MarketPairs {
		size := p.ContractSize
		if size == 0 {
			size = 1
		}
		name := p.MarketName
		if name == "" {
			name = p.ID
		}
		pairs = append(pairs, market.Pair{
			ID:                 p.ID,
			MarketName:         name,
			KalshiTicker:       p.KalshiTicker,
			PolymarketMarketID: p.PolymarketMarketID,
			ManuallyVerified:   p.ManuallyVerified,
			ContractSize:       size,
			Notes:              p.Notes,
		})
	}
	return pairs
}

// PollingInterval returns the base scheduler interval.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Monitoring.PollingIntervalSeconds) * time.Second
}

// Duration returns the graceful-shutdown deadline, zero meaning unbounded.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.Monitoring.MonitoringDurationHours * float64(time.Hour))
}
