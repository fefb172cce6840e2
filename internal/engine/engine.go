// Package engine runs the live pipeline: ticks are fanned out to one worker
// per symbol which aggregates candles, computes indicators, steps the strategy
// machines and routes entries and exits through the executor.
package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/candle"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/execution"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/indicator"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/ledger"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/metrics"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/strategy"
)

const (
	defaultHistory = 500
	defaultBuffer  = 256
)

// Config tunes the engine.
type Config struct {
	Timeframe    int  // candle seconds
	History      int  // closed candles kept per symbol for indicators, see Engine
	UpdateWindow int  // closed candles late ticks may still amend, 0 keeps the aggregator default
	CooldownBars int  // bars after an exit before the next entry
	TickExits    bool // check TP/SL on every tick instead of only at candle close
	Record       bool // keep every observed candle and snapshot
	Buffer       int  // per-symbol tick queue
}

// Marker receives last traded prices, e.g. the paper broker.
type Marker interface {
	Mark(symbol string, price float64)
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMarker forwards every tick price to m.
func WithMarker(m Marker) Option {
	return func(e *Engine) { e.marker = m }
}

// Engine owns the per-symbol state registry. Each symbol's state is touched
// only by its worker goroutine.
//
// Snapshots are computed over the last Config.History closed candles. Once a
// symbol has seen more than that, recursive indicators such as EMA, RSI and ATR
// are seeded from the start of the window rather than the first candle, so they
// match a backtest over the full history only while the run fits in the window.
// Observed returns the snapshots the strategies actually saw.
type Engine struct {
	cfg      Config
	rules    []strategy.Rules
	provider indicator.Provider
	exec     *execution.Executor
	marker   Marker
	log      zerolog.Logger

	mu      sync.Mutex
	assets  map[string]*assetState
	signals []signal.Signal
}

type assetState struct {
	symbol   string
	ticks    chan signal.Tick
	agg      *candle.Aggregator
	history  []candle.Candle
	closed   int
	observed []candle.Candle
	snaps    []indicator.Snapshot
	slots    []*slot
}

type slot struct {
	machine  *strategy.Machine
	key      string
	posID    string
	barsHeld int
	held     bool // a position was open at some point during the candle in progress
	lastExit int
}

// New validates rules and builds an engine. Every symbol gets one machine per rule set.
func New(cfg Config, rules []strategy.Rules, provider indicator.Provider, exec *execution.Executor, opts ...Option) (*Engine, error) {
	if cfg.Timeframe <= 0 {
		return nil, errors.New("engine: timeframe must be positive")
	}
	if len(rules) == 0 {
		return nil, errors.New("engine: at least one strategy required")
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	if provider == nil || exec == nil {
		return nil, errors.New("engine: indicator provider and executor required")
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	e := &Engine{
		cfg:      cfg,
		rules:    rules,
		provider: provider,
		exec:     exec,
		log:      zerolog.Nop(),
		assets:   make(map[string]*assetState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run consumes ticks until the channel closes or ctx is done. When the
// channel closes, every in-progress candle is flushed and processed before
// Run returns.
func (e *Engine) Run(ctx context.Context, ticks <-chan signal.Tick) error {
	var wg sync.WaitGroup
	defer func() {
		e.mu.Lock()
		for _, a := range e.assets {
			close(a.ticks)
		}
		e.mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tk, ok := <-ticks:
			if !ok {
				return nil
			}
			if tk.Symbol == "" {
				continue
			}
			metrics.TicksTotal.WithLabelValues(tk.Symbol).Inc()
			a, err := e.asset(ctx, tk.Symbol, &wg)
			if err != nil {
				return err
			}
			select {
			case a.ticks <- tk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (e *Engine) asset(ctx context.Context, symbol string, wg *sync.WaitGroup) (*assetState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.assets[symbol]; ok {
		return a, nil
	}
	aggOpts := []candle.Option{candle.WithLogger(e.log)}
	if e.cfg.UpdateWindow > 0 {
		aggOpts = append(aggOpts, candle.WithHistory(e.cfg.UpdateWindow))
	}
	a := &assetState{
		symbol: symbol,
		ticks:  make(chan signal.Tick, e.cfg.Buffer),
		agg:    candle.NewAggregator(e.cfg.Timeframe, aggOpts...),
	}
	for _, r := range e.rules {
		m, err := strategy.NewMachine(symbol, r)
		if err != nil {
			return nil, err
		}
		a.slots = append(a.slots, &slot{machine: m, key: signal.AssetKey(symbol, r.Name), lastExit: -1})
	}
	e.assets[symbol] = a
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.work(ctx, a)
	}()
	e.log.Info().Str("symbol", symbol).Int("strategies", len(a.slots)).Msg("asset worker started")
	return a, nil
}

func (e *Engine) work(ctx context.Context, a *assetState) {
	for tk := range a.ticks {
		if ctx.Err() != nil {
			continue
		}
		e.onTick(ctx, a, tk)
	}
	if ctx.Err() != nil {
		return
	}
	if c, ok := a.agg.Flush(a.symbol); ok {
		e.onCandle(ctx, a, c)
	}
}

func (e *Engine) onTick(ctx context.Context, a *assetState, tk signal.Tick) {
	if !candle.ValidPrice(tk.Price) {
		metrics.DroppedTicksTotal.WithLabelValues(a.symbol).Inc()
		return
	}
	// The closed candle is handled before the tick is marked so fills at
	// candle close see the candle's last price.
	if c, ok := a.agg.OnTick(tk); ok {
		e.onCandle(ctx, a, c)
	}
	if e.marker != nil {
		e.marker.Mark(a.symbol, tk.Price)
	}
	e.exec.Ledger().Mark(a.symbol, tk.Price)
	if !e.cfg.TickExits {
		return
	}
	for _, s := range a.slots {
		if s.posID == "" {
			continue
		}
		pos, ok := e.exec.Ledger().Get(s.posID)
		if !ok {
			s.posID = ""
			continue
		}
		if x, ok := ledger.TickExit(pos, tk.Price, tk.TimestampMs()); ok {
			x.BarsHeld = s.barsHeld
			e.exit(ctx, s, x, a.closed)
		}
	}
}

func (e *Engine) onCandle(ctx context.Context, a *assetState, c candle.Candle) {
	metrics.CandlesTotal.WithLabelValues(a.symbol, strconv.Itoa(c.Timeframe)).Inc()
	idx := a.closed
	a.closed++
	a.history = append(a.history, c)
	if over := len(a.history) - e.cfg.History; over > 0 {
		a.history = append(a.history[:0], a.history[over:]...)
	}
	snap := e.provider.Snapshot(a.history, len(a.history)-1)
	if e.cfg.Record {
		a.observed = append(a.observed, c)
		a.snaps = append(a.snaps, snap)
	}
	now := time.UnixMilli(c.End()).UTC()
	for _, s := range a.slots {
		e.stepSlot(ctx, a, s, idx, c, snap, now)
	}
}

func (e *Engine) stepSlot(ctx context.Context, a *assetState, s *slot, idx int, c candle.Candle, snap indicator.Snapshot, now time.Time) {
	l := e.exec.Ledger()
	if s.posID != "" || s.held {
		pos, open := l.Get(s.posID)
		if !open {
			// closed by a tick exit during this candle; keep the machine's view consistent
			s.posID = ""
			s.machine.Monitor(c, snap, strategy.Holding{})
			s.held = false
			return
		}
		s.barsHeld++
		l.SetBarsHeld(pos.ID, s.barsHeld)
		reason, strategyExit := s.machine.Monitor(c, snap, strategy.Holding{
			Direction:  pos.Direction,
			EntryPrice: pos.EntryPrice,
			EntryTs:    pos.EntryTs,
			BarsHeld:   s.barsHeld,
		})
		if x, ok := ledger.CandleExit(pos, c, s.barsHeld, strategyExit); ok {
			if x.Reason == ledger.SignalExit {
				e.log.Info().Str("key", s.key).Str("reason", reason).Msg("strategy exit")
			}
			e.exit(ctx, s, x, idx)
		}
		s.held = s.posID != ""
		return
	}

	if s.lastExit >= 0 && idx-s.lastExit <= e.cfg.CooldownBars {
		return
	}
	if th := e.exec.Throttle(); th != nil {
		if ok, _ := th.Check(s.key, now); !ok {
			return
		}
	}
	if d := e.exec.Guard().CanOpen(s.key, a.symbol); !d.Allowed {
		return
	}
	sig := s.machine.Step(c, snap)
	if sig == nil {
		return
	}
	sig.ATR, _ = snap.Get(indicator.ATR)
	metrics.SignalsTotal.WithLabelValues(sig.Symbol, sig.Strategy, string(sig.Direction)).Inc()
	e.mu.Lock()
	e.signals = append(e.signals, *sig)
	e.mu.Unlock()
	e.log.Info().
		Str("symbol", sig.Symbol).
		Str("strategy", sig.Strategy).
		Str("direction", string(sig.Direction)).
		Float64("entry", sig.SuggestedEntry).
		Str("reason", sig.Reason).
		Msg("signal")

	pos, err := e.exec.ExecuteAt(ctx, *sig, now)
	if err != nil {
		if !errors.Is(err, execution.ErrRejected) {
			e.log.Warn().Err(err).Str("key", s.key).Msg("execution failed, signal dropped")
		}
		return
	}
	s.posID = pos.ID
	s.barsHeld = 0
	s.held = true
}

func (e *Engine) exit(ctx context.Context, s *slot, x ledger.Exit, idx int) {
	trade, closed, err := e.exec.Exit(ctx, s.posID, x)
	if err != nil {
		e.log.Error().Err(err).Str("key", s.key).Str("position", s.posID).Msg("exit failed, will retry")
		return
	}
	if closed {
		e.log.Info().
			Str("key", s.key).
			Str("reason", string(trade.Exit.Reason)).
			Float64("pnl", trade.PnL).
			Msg("exit")
	}
	s.posID = ""
	s.lastExit = idx
}

// Signals returns every signal emitted so far, in emission order per symbol.
func (e *Engine) Signals() []signal.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]signal.Signal, len(e.signals))
	copy(out, e.signals)
	return out
}

// Observed returns the candles and snapshots a symbol's strategies saw. It is
// only populated when Config.Record is set and is safe to call after Run returns.
func (e *Engine) Observed(symbol string) ([]candle.Candle, []indicator.Snapshot) {
	e.mu.Lock()
	a, ok := e.assets[symbol]
	e.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return append([]candle.Candle(nil), a.observed...), append([]indicator.Snapshot(nil), a.snaps...)
}

// Symbols lists the assets that have a worker.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.assets))
	for s := range e.assets {
		out = append(out, s)
	}
	return out
}
