// Package app assembles the live paper-trading bot from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/config"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/engine"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/exchange"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/execution"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/guard"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/indicator"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/ledger"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/risk"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/storage"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/util"
)

const (
	eventBuffer = 1024
	tickBuffer  = 1024
)

// Option customises Bot assembly.
type Option func(*options)

type options struct {
	sinks    []ledger.Sink
	feedOpts []exchange.Option
	record   bool
}

// WithSink adds an extra lifecycle event sink.
func WithSink(s ledger.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithFeedOptions appends feed options after the configured ones.
func WithFeedOptions(opts ...exchange.Option) Option {
	return func(o *options) { o.feedOpts = append(o.feedOpts, opts...) }
}

// WithRecording keeps every candle and snapshot the engine sees.
func WithRecording() Option {
	return func(o *options) { o.record = true }
}

// Bot is the wired live pipeline: feed → engine → executor → ledger → sinks.
type Bot struct {
	cfg      *config.Config
	log      zerolog.Logger
	Feed     *exchange.Feed
	Broker   *execution.PaperBroker
	Executor *execution.Executor
	Engine   *engine.Engine
	Ledger   *ledger.Ledger
	sinks    ledger.Fanout
	closers  []io.Closer
}

// New validates cfg and builds every component. Sinks that need a connection
// (JSONL file, ClickHouse) are opened here and released by Run.
func New(cfg *config.Config, log zerolog.Logger, opts ...Option) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}

	ledgerOpts := []ledger.Option{
		ledger.WithDefaultPrecision(cfg.Trade.Precision),
		ledger.WithLogger(util.Component(log, "ledger")),
	}
	for sym, places := range cfg.Trade.PrecisionBy {
		ledgerOpts = append(ledgerOpts, ledger.WithPrecision(sym, places))
	}
	l := ledger.New(ledgerOpts...)

	broker := execution.NewPaperBroker(
		execution.WithRateLimit(cfg.Trade.RateLimit, cfg.Trade.RateBurst),
		execution.WithLatency(cfg.Trade.PaperLatency),
		execution.WithMaxSlippage(cfg.Trade.MaxSlippagePct),
	)
	exec := execution.NewExecutor(
		broker,
		guard.New(cfg.Guard, l),
		risk.NewThrottle(cfg.Throttle(), util.Component(log, "risk")),
		l,
		cfg.ExecutionSettings(),
		execution.WithLogger(util.Component(log, "execution")),
		execution.WithLimits(cfg.Limits()),
		execution.WithSizer(risk.NewSizer(cfg.Trade.Stake, cfg.Sizing())),
	)
	eng, err := engine.New(engine.Config{
		Timeframe:    cfg.Candles.TimeframeSecs,
		History:      cfg.Candles.History,
		UpdateWindow: cfg.Candles.UpdateWindow,
		CooldownBars: cfg.Trade.CooldownBars,
		TickExits:    cfg.Trade.TickExits,
		Record:       o.record,
	}, rules, indicator.NewClassic(cfg.Strategy.Indicators), exec,
		engine.WithLogger(util.Component(log, "engine")),
		engine.WithMarker(broker),
	)
	if err != nil {
		return nil, err
	}

	feedOpts := []exchange.Option{
		exchange.WithBinanceURL(cfg.Feed.BinanceURL),
		exchange.WithStubInterval(time.Duration(cfg.Feed.Stub.IntervalMs) * time.Millisecond),
		exchange.WithStubWalk(cfg.Feed.Stub.Seed, cfg.Feed.Stub.Start, cfg.Feed.Stub.Vol),
	}
	feed := exchange.NewFeed(cfg.Feed.Provider, cfg.Feed.Symbols, util.Component(log, "feed"), append(feedOpts, o.feedOpts...)...)

	b := &Bot{
		cfg:      cfg,
		log:      log,
		Feed:     feed,
		Broker:   broker,
		Executor: exec,
		Engine:   eng,
		Ledger:   l,
	}
	if err := b.openSinks(o.sinks); err != nil {
		b.closeSinks()
		return nil, err
	}
	return b, nil
}

func (b *Bot) openSinks(extra []ledger.Sink) error {
	if path := b.cfg.Trade.EventsPath; path != "" {
		rec, err := ledger.NewJSONLRecorder(path)
		if err != nil {
			return fmt.Errorf("event recorder: %w", err)
		}
		b.sinks = append(b.sinks, rec)
		b.closers = append(b.closers, rec)
	}
	if dsn := b.cfg.Storage.ClickHouseDSN; dsn != "" {
		ch, err := storage.NewClickHouseSink(dsn,
			storage.WithBatchSize(b.cfg.Storage.BatchSize),
			storage.WithLogger(util.Component(b.log, "storage")),
		)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		b.closers = append(b.closers, ch)
		if b.cfg.Storage.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := ch.Migrate(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("clickhouse migrate: %w", err)
			}
		}
		b.sinks = append(b.sinks, ch)
	}
	b.sinks = append(b.sinks, extra...)
	return nil
}

func (b *Bot) closeSinks() {
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			b.log.Warn().Err(err).Msg("closing event sink")
		}
	}
	b.closers = nil
}

// Run streams the feed through the engine until ctx is cancelled, the feed
// ends or the feed fails. On return every event has been handed to the sinks
// and the sinks are closed. Cancellation is a clean shutdown.
func (b *Bot) Run(ctx context.Context) error {
	events := b.Ledger.Subscribe(eventBuffer)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		// drains until Shutdown closes the subscription
		ledger.Pump(context.Background(), events, b.sinks, b.log)
	}()

	b.log.Info().
		Str("provider", b.Feed.Provider()).
		Strs("symbols", b.Feed.Symbols()).
		Int("timeframe", b.cfg.Candles.TimeframeSecs).
		Strs("strategies", b.cfg.Strategy.Names).
		Msg("paper engine started")

	ticks := make(chan signal.Tick, tickBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ticks)
		return b.Feed.Run(gctx, ticks)
	})
	g.Go(func() error {
		return b.Engine.Run(gctx, ticks)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	for _, pos := range b.Ledger.OpenPositions() {
		b.log.Warn().
			Str("id", pos.ID).
			Str("key", pos.Key()).
			Float64("unrealized", pos.Unrealized).
			Msg("position still open at shutdown")
	}
	b.Ledger.Shutdown()
	<-pumpDone
	b.closeSinks()

	day := b.Ledger.DailyStats(time.Now())
	b.log.Info().
		Int("trades", day.TotalTrades).
		Int("wins", day.Wins).
		Int("losses", day.Losses).
		Float64("win_rate", day.WinRate).
		Float64("net_pnl", day.NetPnL).
		Msg("paper engine stopped")
	return err
}
