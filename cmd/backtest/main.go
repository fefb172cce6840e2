package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/backtest"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/candle"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/config"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/indicator"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/strategy"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/util"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flags shared by every subcommand.
type common struct {
	cfgPath   string
	csvPath   string
	symbol    string
	timeframe int
	logLevel  string
}

func newRootCmd() *cobra.Command {
	var c common
	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Replay candle history through the strategy machines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "YAML config; empty uses defaults")
	root.PersistentFlags().StringVar(&c.csvPath, "csv", "", "candle CSV (timestamp,open,high,low,close[,volume])")
	root.PersistentFlags().StringVar(&c.symbol, "symbol", "", "symbol label for the candles")
	root.PersistentFlags().IntVar(&c.timeframe, "timeframe", 0, "resample to this many seconds before replaying")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "overrides app.log_level")

	root.AddCommand(newRunCmd(&c), newSweepCmd(&c))
	return root
}

func (c *common) load() (*config.Config, zerolog.Logger, error) {
	cfg := config.Default()
	if c.cfgPath != "" {
		loaded, err := config.Load(c.cfgPath)
		if err != nil {
			return nil, zerolog.Nop(), err
		}
		cfg = loaded
	}
	if c.csvPath != "" {
		cfg.Backtest.CSV = c.csvPath
	}
	if c.symbol != "" {
		cfg.Backtest.Symbol = c.symbol
	}
	if cfg.Backtest.Symbol == "" && len(cfg.Feed.Symbols) > 0 {
		cfg.Backtest.Symbol = cfg.Feed.Symbols[0]
	}
	if c.logLevel != "" {
		cfg.App.LogLevel = c.logLevel
	}
	if cfg.Backtest.CSV == "" {
		return nil, zerolog.Nop(), fmt.Errorf("no candle CSV: pass --csv or set backtest.csv")
	}
	return cfg, util.NewLoggerTo(os.Stderr, cfg.App.LogLevel), nil
}

// history loads the CSV, optionally resamples it and precomputes indicator snapshots.
func (c *common) history(cfg *config.Config, log zerolog.Logger) ([]candle.Candle, []indicator.Snapshot, error) {
	candles, err := backtest.LoadCSVFile(cfg.Backtest.CSV, cfg.Backtest.Symbol)
	if err != nil {
		return nil, nil, err
	}
	if c.timeframe > 0 && len(candles) > 0 && c.timeframe != candles[0].Timeframe {
		candles, err = candle.ResampleTo(candles, c.timeframe)
		if err != nil {
			return nil, nil, err
		}
	}
	snaps := indicator.NewClassic(cfg.Strategy.Indicators).Series(candles)
	log.Info().
		Str("csv", cfg.Backtest.CSV).
		Str("symbol", cfg.Backtest.Symbol).
		Int("candles", len(candles)).
		Msg("history loaded")
	return candles, snaps, nil
}

func simConfig(cfg *config.Config, rules strategy.Rules) backtest.Config {
	return backtest.Config{
		Symbol:         cfg.Backtest.Symbol,
		Rules:          rules,
		Warmup:         cfg.Strategy.Warmup,
		Stake:          cfg.Trade.Stake,
		Sizing:         cfg.Sizing(),
		Multiplier:     cfg.Trade.Multiplier,
		Brackets:       cfg.Trade.Brackets,
		MaxHoldBars:    cfg.Trade.MaxHoldBars,
		CooldownBars:   cfg.Trade.CooldownBars,
		Throttle:       cfg.Throttle(),
		Guard:          cfg.Guard,
		InitialBalance: cfg.Backtest.InitialBalance,
		Precision:      precisionFor(cfg, cfg.Backtest.Symbol),
	}
}

func precisionFor(cfg *config.Config, symbol string) int32 {
	if p, ok := cfg.Trade.PrecisionBy[symbol]; ok {
		return p
	}
	return cfg.Trade.Precision
}
