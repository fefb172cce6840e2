// Package backtest replays candle history through the same strategy machine,
// guard, throttle and ledger used live, producing a trade log and metrics.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/candle"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/guard"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/indicator"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/ledger"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/risk"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/stats"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/strategy"
)

var (
	// ErrNonMonotonic aborts a run whose candle timestamps do not strictly increase.
	ErrNonMonotonic = errors.New("backtest: non-monotonic candle timestamps")
	// ErrSnapshotMismatch aborts a run whose snapshots do not line up with the candles.
	ErrSnapshotMismatch = errors.New("backtest: snapshot count does not match candle count")
)

// Config describes one backtest run for a single symbol and strategy.
type Config struct {
	Symbol         string
	Rules          strategy.Rules
	Warmup         int
	Stake          float64
	Sizing         risk.SizerConfig
	Multiplier     float64
	Brackets       risk.Brackets
	MaxHoldBars    int
	CooldownBars   int
	Throttle       risk.ThrottleConfig
	Guard          guard.Limits
	InitialBalance float64
	Precision      int32
}

// Result is the outcome of a run.
type Result struct {
	Trades  []ledger.Trade
	Signals []signal.Signal
	Metrics stats.Metrics
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Simulator) { s.log = log }
}

// Simulator runs Config against candle history. Every Run starts from fresh state.
type Simulator struct {
	cfg Config
	log zerolog.Logger
}

// New validates cfg.
func New(cfg Config, opts ...Option) (*Simulator, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("backtest: symbol required")
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if cfg.Stake <= 0 || cfg.Multiplier <= 0 {
		return nil, fmt.Errorf("backtest: stake %v and multiplier %v must be positive", cfg.Stake, cfg.Multiplier)
	}
	if cfg.Warmup < 0 || cfg.CooldownBars < 0 || cfg.MaxHoldBars < 0 {
		return nil, errors.New("backtest: warmup, cooldown and max hold must not be negative")
	}
	if err := cfg.Sizing.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if cfg.Precision == 0 {
		cfg.Precision = 2
	}
	s := &Simulator{cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the run configuration.
func (s *Simulator) Config() Config { return s.cfg }

// Validate checks that candles are strictly increasing and line up with snaps.
func Validate(candles []candle.Candle, snaps []indicator.Snapshot) error {
	if len(candles) != len(snaps) {
		return fmt.Errorf("%w: %d candles, %d snapshots", ErrSnapshotMismatch, len(candles), len(snaps))
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp <= candles[i-1].Timestamp {
			return fmt.Errorf("%w: index %d (%d after %d)", ErrNonMonotonic, i, candles[i].Timestamp, candles[i-1].Timestamp)
		}
	}
	return nil
}

type run struct {
	cfg      Config
	key      string
	machine  *strategy.Machine
	ledger   *ledger.Ledger
	guard    *guard.Guard
	throttle *risk.Throttle
	sizer    *risk.Sizer
	signals  []signal.Signal
	barsHeld int
	lastExit int
}

// Run walks the candles once from the warm-up offset to the end. A position
// still open after the last candle is closed at its close with reason MANUAL.
func (s *Simulator) Run(candles []candle.Candle, snaps []indicator.Snapshot) (Result, error) {
	if err := Validate(candles, snaps); err != nil {
		return Result{}, err
	}
	machine, err := strategy.NewMachine(s.cfg.Symbol, s.cfg.Rules)
	if err != nil {
		return Result{}, err
	}
	l := ledger.New(ledger.WithDefaultPrecision(s.cfg.Precision), ledger.WithLogger(s.log))
	r := &run{
		cfg:      s.cfg,
		key:      signal.AssetKey(s.cfg.Symbol, s.cfg.Rules.Name),
		machine:  machine,
		ledger:   l,
		guard:    guard.New(s.cfg.Guard, l),
		throttle: risk.NewThrottle(s.cfg.Throttle, s.log),
		sizer:    risk.NewSizer(s.cfg.Stake, s.cfg.Sizing),
		lastExit: -1,
	}

	for i := s.cfg.Warmup; i < len(candles); i++ {
		if err := r.step(i, candles[i], snaps[i]); err != nil {
			return Result{}, err
		}
	}
	if n := len(candles); n > 0 {
		if pos, ok := l.OpenFor(s.cfg.Symbol, s.cfg.Rules.Name); ok {
			last := candles[n-1]
			x := ledger.Exit{Price: last.Close, Ts: last.End(), Reason: ledger.Manual, BarsHeld: r.barsHeld}
			if _, _, err := l.Close(pos.ID, x); err != nil {
				return Result{}, err
			}
		}
	}

	trades := l.Trades()
	res := Result{
		Trades:  trades,
		Signals: r.signals,
		Metrics: stats.Compute(trades, stats.Options{InitialBalance: s.cfg.InitialBalance}),
	}
	s.log.Debug().
		Str("symbol", s.cfg.Symbol).
		Str("strategy", s.cfg.Rules.Name).
		Int("candles", len(candles)).
		Int("signals", len(res.Signals)).
		Int("trades", len(trades)).
		Float64("net_pnl", res.Metrics.NetPnL).
		Msg("backtest finished")
	return res, nil
}

func (r *run) step(i int, c candle.Candle, snap indicator.Snapshot) error {
	now := time.UnixMilli(c.End()).UTC()
	if pos, ok := r.ledger.OpenFor(r.cfg.Symbol, r.cfg.Rules.Name); ok {
		r.barsHeld++
		_, strategyExit := r.machine.Monitor(c, snap, strategy.Holding{
			Direction:  pos.Direction,
			EntryPrice: pos.EntryPrice,
			EntryTs:    pos.EntryTs,
			BarsHeld:   r.barsHeld,
		})
		x, exit := ledger.CandleExit(pos, c, r.barsHeld, strategyExit)
		if !exit {
			return nil
		}
		trade, closed, err := r.ledger.Close(pos.ID, x)
		if err != nil {
			return err
		}
		if closed {
			win := trade.Outcome == ledger.Win
			r.throttle.Report(r.key, trade.PnL, win, now)
			r.sizer.Report(r.key, win)
			r.lastExit = i
		}
		return nil
	}

	if r.lastExit >= 0 && i-r.lastExit <= r.cfg.CooldownBars {
		return nil
	}
	if ok, _ := r.throttle.Check(r.key, now); !ok {
		return nil
	}
	if d := r.guard.CanOpen(r.key, r.cfg.Symbol); !d.Allowed {
		return nil
	}
	sig := r.machine.Step(c, snap)
	if sig == nil {
		return nil
	}
	sig.ATR, _ = snap.Get(indicator.ATR)
	r.signals = append(r.signals, *sig)

	return r.guard.Do(context.Background(), r.key, func(context.Context) error {
		tp, sl := r.cfg.Brackets.Levels(sig.Direction, sig.SuggestedEntry, sig.ATR)
		_, err := r.ledger.Open(ledger.Entry{
			ID:          fmt.Sprintf("bt-%s-%d", r.key, c.Timestamp),
			Symbol:      r.cfg.Symbol,
			Strategy:    r.cfg.Rules.Name,
			Direction:   sig.Direction,
			EntryPrice:  sig.SuggestedEntry,
			EntryTs:     c.End(),
			Stake:       r.sizer.Stake(r.key),
			Multiplier:  r.cfg.Multiplier,
			TakeProfit:  tp,
			StopLoss:    sl,
			MaxHoldBars: r.cfg.MaxHoldBars,
			Reason:      sig.Reason,
		})
		r.barsHeld = 0
		return err
	})
}
