// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/exchange"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/execution"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/guard"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/indicator"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/risk"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/strategy"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Feed selects the market data provider and the symbols it streams.
type Feed struct {
	Provider   string   `yaml:"provider"` // stub|binance
	Symbols    []string `yaml:"symbols"`
	BinanceURL string   `yaml:"binance_url"`
	Stub       Stub     `yaml:"stub"`
}

// Stub tunes the synthetic random-walk feed.
type Stub struct {
	IntervalMs int     `yaml:"interval_ms"`
	Seed       uint64  `yaml:"seed"`
	Start      float64 `yaml:"start"`
	Vol        float64 `yaml:"vol"`
}

// Candles configures tick aggregation.
type Candles struct {
	TimeframeSecs int `yaml:"timeframe_secs"`
	History       int `yaml:"history"`       // closed candles kept for indicators
	UpdateWindow  int `yaml:"update_window"` // closed candles late ticks may still amend
}

// Strategy lists the active rule sets along with their parameter bundle and indicator periods.
type Strategy struct {
	Names      []string          `yaml:"names"`
	Params     strategy.Params   `yaml:"params"`
	Indicators indicator.Periods `yaml:"indicators"`
	Warmup     int               `yaml:"warmup"`
}

// Risk encodes the stake cap and the loss throttle.
type Risk struct {
	MaxStakePerTrade  float64     `yaml:"max_stake_per_trade"`
	DailyLossLimitPct float64     `yaml:"daily_loss_limit_pct"`
	Capital           float64     `yaml:"capital"`
	Tiers             []risk.Tier `yaml:"tiers"`
}

// Trade sizes and brackets every contract.
type Trade struct {
	Stake          float64          `yaml:"stake"`
	Sizing         risk.SizerConfig `yaml:"sizing"`
	Multiplier     float64          `yaml:"multiplier"`
	Brackets       risk.Brackets    `yaml:",inline"`
	MaxHoldBars    int              `yaml:"max_hold_bars"`
	CooldownBars   int              `yaml:"cooldown_bars"`
	OrderTimeout   time.Duration    `yaml:"order_timeout"`
	TickExits      bool             `yaml:"tick_exits"`
	Precision      int32            `yaml:"precision"`
	PrecisionBy    map[string]int32 `yaml:"precision_by_symbol"`
	RateLimit      float64          `yaml:"rate_limit_per_sec"`
	RateBurst      int              `yaml:"rate_burst"`
	PaperLatency   time.Duration    `yaml:"paper_latency"`
	MaxSlippagePct float64          `yaml:"max_slippage_pct"`
	EventsPath     string           `yaml:"events_path"`
}

// Backtest configures offline replays.
type Backtest struct {
	CSV            string  `yaml:"csv"`
	Symbol         string  `yaml:"symbol"`
	InitialBalance float64 `yaml:"initial_balance"`
	Workers        int     `yaml:"workers"`
}

// Storage configures optional event persistence.
type Storage struct {
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	BatchSize     int    `yaml:"batch_size"`
	Migrate       bool   `yaml:"migrate"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App          `yaml:"app"`
	Feed     Feed         `yaml:"feed"`
	Candles  Candles      `yaml:"candles"`
	Strategy Strategy     `yaml:"strategy"`
	Risk     Risk         `yaml:"risk"`
	Guard    guard.Limits `yaml:"guard"`
	Trade    Trade        `yaml:"trade"`
	Backtest Backtest     `yaml:"backtest"`
	Storage  Storage      `yaml:"storage"`
}

// Default returns a configuration that runs the paper bot on the stub feed.
func Default() *Config {
	return &Config{
		App: App{Name: "multibot", Env: "dev", MetricsAddr: ":9102", LogLevel: "info"},
		Feed: Feed{
			Provider: exchange.ProviderStub,
			Symbols:  []string{"R_100"},
			Stub:     Stub{IntervalMs: 500, Seed: 1, Start: 100, Vol: 0.001},
		},
		Candles: Candles{TimeframeSecs: 60, History: 500, UpdateWindow: 3},
		Strategy: Strategy{
			Names:      []string{"pullback"},
			Indicators: indicator.DefaultPeriods(),
			Warmup:     50,
		},
		Risk: Risk{
			MaxStakePerTrade:  100,
			DailyLossLimitPct: 0.05,
			Capital:           1000,
			Tiers:             risk.DefaultTiers(),
		},
		Guard: guard.Limits{MaxPerAsset: 1, MaxTotal: 5},
		Trade: Trade{
			Stake:        10,
			Sizing:       risk.SizerConfig{Mode: risk.SizingFixed},
			Multiplier:   100,
			Brackets:     risk.Brackets{TakeProfitPct: 0.5, StopLossPct: 0.3},
			MaxHoldBars:  30,
			OrderTimeout: 10 * time.Second,
			Precision:    2,
			EventsPath:   "events.jsonl",
		},
		Backtest: Backtest{InitialBalance: 1000, Workers: 4},
		Storage:  Storage{BatchSize: 256},
	}
}

// Validate checks ranges and that every named strategy is registered.
func (c *Config) Validate() error {
	var errs []error
	switch c.Feed.Provider {
	case exchange.ProviderStub, exchange.ProviderBinance:
	default:
		errs = append(errs, fmt.Errorf("feed.provider %q: want stub or binance", c.Feed.Provider))
	}
	if c.Candles.TimeframeSecs <= 0 {
		errs = append(errs, errors.New("candles.timeframe_secs must be positive"))
	}
	if c.Candles.History < 0 || c.Candles.UpdateWindow < 0 {
		errs = append(errs, errors.New("candles.history and candles.update_window must not be negative"))
	}
	if len(c.Strategy.Names) == 0 {
		errs = append(errs, errors.New("strategy.names must list at least one strategy"))
	}
	if _, err := c.Rules(); err != nil {
		errs = append(errs, err)
	}
	if c.Strategy.Warmup < 0 {
		errs = append(errs, errors.New("strategy.warmup must not be negative"))
	}
	if c.Trade.Stake <= 0 || c.Trade.Multiplier <= 0 {
		errs = append(errs, fmt.Errorf("trade.stake %v and trade.multiplier %v must be positive", c.Trade.Stake, c.Trade.Multiplier))
	}
	if err := c.Trade.Sizing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("trade.sizing: %w", err))
	}
	if c.Trade.MaxSlippagePct < 0 {
		errs = append(errs, errors.New("trade.max_slippage_pct must not be negative"))
	}
	b := c.Trade.Brackets
	if b.TakeProfitPct < 0 || b.StopLossPct < 0 || b.TakeProfitATR < 0 || b.StopLossATR < 0 {
		errs = append(errs, errors.New("trade brackets must not be negative"))
	}
	if c.Trade.MaxHoldBars < 0 || c.Trade.CooldownBars < 0 {
		errs = append(errs, errors.New("trade.max_hold_bars and trade.cooldown_bars must not be negative"))
	}
	if c.Risk.DailyLossLimitPct < 0 || c.Risk.DailyLossLimitPct >= 1 {
		errs = append(errs, fmt.Errorf("risk.daily_loss_limit_pct %v must be in [0,1)", c.Risk.DailyLossLimitPct))
	}
	if c.Risk.DailyLossLimitPct > 0 && c.Risk.Capital <= 0 {
		errs = append(errs, errors.New("risk.capital required with a daily loss limit"))
	}
	if c.Guard.MaxPerAsset < 0 || c.Guard.MaxTotal < 0 {
		errs = append(errs, errors.New("guard limits must not be negative"))
	}
	return errors.Join(errs...)
}

// Rules builds every configured strategy.
func (c *Config) Rules() ([]strategy.Rules, error) {
	out := make([]strategy.Rules, 0, len(c.Strategy.Names))
	for _, name := range c.Strategy.Names {
		r, err := strategy.Build(name, c.Strategy.Params)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Throttle returns the loss throttle configuration.
func (c *Config) Throttle() risk.ThrottleConfig {
	return risk.ThrottleConfig{
		Tiers:             c.Risk.Tiers,
		DailyLossLimitPct: c.Risk.DailyLossLimitPct,
		Capital:           c.Risk.Capital,
	}
}

// Limits returns the per-trade stake cap.
func (c *Config) Limits() risk.Limits {
	return risk.Limits{MaxStakePerTrade: c.Risk.MaxStakePerTrade}
}

// Sizing returns the stake progression with its ceiling tightened to the
// per-trade cap, so a sized stake never trips the max stake check.
func (c *Config) Sizing() risk.SizerConfig {
	s := c.Trade.Sizing
	if limit := c.Risk.MaxStakePerTrade; limit > 0 && (s.MaxStake <= 0 || s.MaxStake > limit) {
		s.MaxStake = limit
	}
	return s
}

// ExecutionSettings sizes executor contracts.
func (c *Config) ExecutionSettings() execution.Settings {
	return execution.Settings{
		Stake:        c.Trade.Stake,
		Multiplier:   c.Trade.Multiplier,
		Brackets:     c.Trade.Brackets,
		MaxHoldBars:  c.Trade.MaxHoldBars,
		OrderTimeout: c.Trade.OrderTimeout,
	}
}

// Load reads a YAML file from disk on top of Default and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
