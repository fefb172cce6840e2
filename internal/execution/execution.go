// Package execution runs the live trade path: throttle and guard checks, the
// broker round trip and the ledger update inside one critical section per asset.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/guard"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/ledger"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/metrics"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/risk"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

const defaultOrderTimeout = 10 * time.Second

// Rejection reasons added on top of the guard and throttle reasons.
const (
	ReasonMaxStake     = "max_stake"
	ReasonPositionOpen = "position_open"
	ReasonNotFilled    = "not_filled"
)

// Settings sizes and brackets every contract the executor opens.
type Settings struct {
	Stake        float64
	Multiplier   float64
	Brackets     risk.Brackets
	MaxHoldBars  int
	OrderTimeout time.Duration
}

// Option customises an Executor.
type Option func(*Executor)

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithClock overrides the time source used for throttle checks.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithSizer sizes each contract from the key's previous outcomes instead of Settings.Stake.
func WithSizer(s *risk.Sizer) Option {
	return func(e *Executor) { e.sizer = s }
}

// WithLimits applies a per-trade stake cap.
func WithLimits(limits risk.Limits) Option {
	return func(e *Executor) { e.limits = limits }
}

// Executor turns signals into positions. Each call is independent; signals are never retried.
type Executor struct {
	broker   Broker
	guard    *guard.Guard
	throttle *risk.Throttle
	ledger   *ledger.Ledger
	limits   risk.Limits
	sizer    *risk.Sizer
	settings Settings
	log      zerolog.Logger
	now      func() time.Time
}

// NewExecutor wires the broker, guard, throttle and ledger together.
func NewExecutor(broker Broker, g *guard.Guard, throttle *risk.Throttle, l *ledger.Ledger, settings Settings, opts ...Option) *Executor {
	if settings.OrderTimeout <= 0 {
		settings.OrderTimeout = defaultOrderTimeout
	}
	e := &Executor{
		broker:   broker,
		guard:    g,
		throttle: throttle,
		ledger:   l,
		settings: settings,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settings returns the executor's sizing configuration.
func (e *Executor) Settings() Settings { return e.settings }

// Ledger returns the ledger positions are recorded in.
func (e *Executor) Ledger() *ledger.Ledger { return e.ledger }

// Guard returns the per-asset guard.
func (e *Executor) Guard() *guard.Guard { return e.guard }

// Throttle returns the loss throttle, which may be nil.
func (e *Executor) Throttle() *risk.Throttle { return e.throttle }

// StakeFor returns the stake the next contract for key would use.
func (e *Executor) StakeFor(key string) float64 {
	if e.sizer == nil {
		return e.settings.Stake
	}
	return e.sizer.Stake(key)
}

func (e *Executor) reject(sig signal.Signal, reason string) error {
	metrics.SignalRejectionsTotal.WithLabelValues(sig.Symbol, reason).Inc()
	e.log.Info().
		Str("symbol", sig.Symbol).
		Str("strategy", sig.Strategy).
		Str("direction", string(sig.Direction)).
		Str("reason", reason).
		Msg("signal rejected")
	return &Rejection{Reason: reason}
}

// Execute opens a position for sig. Rejections come back as *Rejection and
// broker failures as *BrokerError; the asset lock is released on every path.
func (e *Executor) Execute(ctx context.Context, sig signal.Signal) (ledger.Position, error) {
	return e.ExecuteAt(ctx, sig, e.now())
}

// ExecuteAt is Execute with the throttle evaluated at now instead of the executor clock.
func (e *Executor) ExecuteAt(ctx context.Context, sig signal.Signal, now time.Time) (ledger.Position, error) {
	key := sig.Key()
	stake := e.StakeFor(key)
	if !e.limits.Allow(stake) {
		return ledger.Position{}, e.reject(sig, ReasonMaxStake)
	}
	if e.throttle != nil {
		if ok, reason := e.throttle.Check(key, now); !ok {
			return ledger.Position{}, e.reject(sig, reason)
		}
	}
	if d := e.guard.CanOpen(key, sig.Symbol); !d.Allowed {
		return ledger.Position{}, e.reject(sig, d.Reason)
	}

	var pos ledger.Position
	err := e.guard.Do(ctx, key, func(ctx context.Context) error {
		if d := e.guard.WithinLimits(sig.Symbol); !d.Allowed {
			return e.reject(sig, d.Reason)
		}
		if _, ok := e.ledger.OpenFor(sig.Symbol, sig.Strategy); ok {
			return e.reject(sig, ReasonPositionOpen)
		}
		var err error
		pos, err = e.open(ctx, sig, stake)
		return err
	})
	if errors.Is(err, guard.ErrLocked) {
		return ledger.Position{}, e.reject(sig, guard.ReasonLocked)
	}
	return pos, err
}

func (e *Executor) open(ctx context.Context, sig signal.Signal, stake float64) (ledger.Position, error) {
	tp, sl := e.settings.Brackets.Levels(sig.Direction, sig.SuggestedEntry, sig.ATR)
	req := OpenRequest{
		Symbol:     sig.Symbol,
		Strategy:   sig.Strategy,
		Direction:  sig.Direction,
		Stake:      stake,
		Multiplier: e.settings.Multiplier,
		Price:      sig.SuggestedEntry,
		TakeProfit: tp,
		StopLoss:   sl,
	}

	octx, cancel := context.WithTimeout(ctx, e.settings.OrderTimeout)
	fill, err := e.broker.Open(octx, req)
	cancel()
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(sig.Symbol, string(sig.Direction), "failed").Inc()
		berr := &BrokerError{Op: "open", Code: "rejected", Err: err}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			berr = &BrokerError{Op: "open", Code: "timeout", Err: ErrTimeout}
		}
		e.log.Error().Err(berr).Str("symbol", sig.Symbol).Str("strategy", sig.Strategy).Msg("open failed")
		return ledger.Position{}, berr
	}
	if !fill.Filled {
		metrics.OrdersTotal.WithLabelValues(sig.Symbol, string(sig.Direction), "not_filled").Inc()
		return ledger.Position{}, e.reject(sig, ReasonNotFilled)
	}
	metrics.OrdersTotal.WithLabelValues(sig.Symbol, string(sig.Direction), "filled").Inc()

	// Re-anchor brackets on the actual fill.
	if fill.Price != sig.SuggestedEntry {
		tp, sl = e.settings.Brackets.Levels(sig.Direction, fill.Price, sig.ATR)
	}
	pos, err := e.ledger.Open(ledger.Entry{
		ContractID:  fill.ContractID,
		Symbol:      sig.Symbol,
		Strategy:    sig.Strategy,
		Direction:   sig.Direction,
		EntryPrice:  fill.Price,
		EntryTs:     fill.Ts.UnixMilli(),
		Stake:       fill.Stake,
		Multiplier:  fill.Multiplier,
		TakeProfit:  tp,
		StopLoss:    sl,
		MaxHoldBars: e.settings.MaxHoldBars,
		Reason:      sig.Reason,
	})
	if err != nil {
		// The ledger refused the fill; unwind the contract so the venue matches the books.
		if _, cerr := e.broker.Close(ctx, fill.ContractID); cerr != nil {
			e.log.Error().Err(cerr).Str("contract", fill.ContractID).Msg("unwind after ledger rejection failed")
		}
		return ledger.Position{}, err
	}
	return pos, nil
}

// Exit closes the open position id through the broker, realizes it in the
// ledger exactly once and reports the outcome to the throttle. When x.Price
// is zero the broker's close price is used.
func (e *Executor) Exit(ctx context.Context, id string, x ledger.Exit) (ledger.Trade, bool, error) {
	pos, ok := e.ledger.Get(id)
	if !ok {
		return ledger.Trade{}, false, nil
	}
	if pos.ContractID != "" {
		octx, cancel := context.WithTimeout(ctx, e.settings.OrderTimeout)
		cf, err := e.broker.Close(octx, pos.ContractID)
		cancel()
		switch {
		case err == nil:
			if x.Price <= 0 {
				x.Price = cf.Price
			}
		case errors.Is(err, ErrUnknownContract):
			e.log.Warn().Str("contract", pos.ContractID).Msg("broker no longer knows contract, closing on books")
		default:
			return ledger.Trade{}, false, &BrokerError{Op: "close", Code: "rejected", Err: err}
		}
	}
	if x.Price <= 0 {
		x.Price = pos.LastPrice
	}
	if x.Ts == 0 {
		x.Ts = e.now().UnixMilli()
	}
	trade, closed, err := e.ledger.Close(pos.ID, x)
	if err != nil || !closed {
		return trade, closed, err
	}
	win := trade.Outcome == ledger.Win
	if e.throttle != nil {
		e.throttle.Report(trade.Key(), trade.PnL, win, time.UnixMilli(x.Ts))
	}
	if e.sizer != nil {
		e.sizer.Report(trade.Key(), win)
	}
	return trade, true, nil
}
