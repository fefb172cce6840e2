// Package ledger tracks open multiplier positions, realizes closed trades and
// publishes their lifecycle to subscribers.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/metrics"
)

var (
	// ErrPositionExists is returned when an (asset, strategy) pair already holds an open position.
	ErrPositionExists = errors.New("ledger: position already open")
	// ErrInvalidEntry is returned for entries with non-positive prices, stakes or multipliers.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
	// ErrAmbiguousRef is returned when a symbol ref matches more than one open position.
	ErrAmbiguousRef = errors.New("ledger: ambiguous position reference")
)

const defaultPrecision int32 = 2

// Option customises a Ledger.
type Option func(*Ledger)

// WithPrecision sets the number of decimal places PnL is rounded to for symbol.
func WithPrecision(symbol string, places int32) Option {
	return func(l *Ledger) { l.precision[symbol] = places }
}

// WithDefaultPrecision sets the rounding used for symbols without an explicit precision.
func WithDefaultPrecision(places int32) Option {
	return func(l *Ledger) { l.defaultPrecision = places }
}

// WithStrict makes invariant violations panic instead of returning errors.
func WithStrict(strict bool) Option {
	return func(l *Ledger) { l.strict = strict }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// Ledger is the single source of truth for positions. It is safe for concurrent use.
type Ledger struct {
	mu               sync.Mutex
	open             map[string]*Position // by id
	byKey            map[string]string    // asset key -> id
	closed           []Trade
	closedRefs       map[string]struct{}
	precision        map[string]int32
	defaultPrecision int32
	strict           bool
	log              zerolog.Logger

	emitMu sync.Mutex
	seq    uint64
	outbox []Event
	subs   []chan Event
	done   bool
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		open:             make(map[string]*Position),
		byKey:            make(map[string]string),
		closedRefs:       make(map[string]struct{}),
		precision:        make(map[string]int32),
		defaultPrecision: defaultPrecision,
		log:              zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open records a new position. The entry ID is generated when empty.
func (l *Ledger) Open(e Entry) (Position, error) {
	if e.EntryPrice <= 0 || e.Stake <= 0 || e.Multiplier <= 0 || !e.Direction.Valid() || e.Symbol == "" {
		return Position{}, fmt.Errorf("%w: %s %s price=%v stake=%v mult=%v",
			ErrInvalidEntry, e.Symbol, e.Direction, e.EntryPrice, e.Stake, e.Multiplier)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	l.mu.Lock()
	if id, ok := l.byKey[e.Key()]; ok {
		l.mu.Unlock()
		err := fmt.Errorf("%w: %s held by %s", ErrPositionExists, e.Key(), id)
		if l.strict {
			panic(err)
		}
		l.log.Error().Err(err).Msg("duplicate open rejected")
		return Position{}, err
	}
	if _, ok := l.open[e.ID]; ok {
		l.mu.Unlock()
		return Position{}, fmt.Errorf("%w: id %s", ErrPositionExists, e.ID)
	}
	pos := &Position{Entry: e, LastPrice: e.EntryPrice}
	l.open[e.ID] = pos
	l.byKey[e.Key()] = e.ID
	metrics.OpenPositions.Set(float64(len(l.open)))
	l.publishLocked(Event{Type: EventOpened, Position: *pos})
	opened := *pos
	l.mu.Unlock()
	l.flush()

	l.log.Info().
		Str("id", e.ID).
		Str("symbol", e.Symbol).
		Str("strategy", e.Strategy).
		Str("direction", string(e.Direction)).
		Float64("entry", e.EntryPrice).
		Float64("stake", e.Stake).
		Msg("position opened")
	return opened, nil
}

// Close realizes the position referenced by id, contract id, asset key or
// symbol. Closing an already closed or unknown position is a no-op that
// reports closed=false.
func (l *Ledger) Close(ref string, x Exit) (Trade, bool, error) {
	if x.Price <= 0 {
		return Trade{}, false, fmt.Errorf("ledger: exit price must be positive, got %v", x.Price)
	}

	l.mu.Lock()
	pos, err := l.resolveLocked(ref)
	if err != nil {
		l.mu.Unlock()
		return Trade{}, false, err
	}
	if pos == nil {
		l.mu.Unlock()
		l.log.Debug().Str("ref", ref).Msg("close ignored: no open position")
		return Trade{}, false, nil
	}

	pnl := l.realize(pos.Entry, x.Price)
	outcome := Loss
	if pnl > 0 {
		outcome = Win
	}
	trade := Trade{Entry: pos.Entry, Exit: x, PnL: pnl, Outcome: outcome}

	delete(l.open, pos.ID)
	delete(l.byKey, pos.Key())
	l.closedRefs[pos.ID] = struct{}{}
	if pos.ContractID != "" {
		l.closedRefs[pos.ContractID] = struct{}{}
	}
	l.closed = append(l.closed, trade)
	metrics.OpenPositions.Set(float64(len(l.open)))
	metrics.PositionsClosedTotal.WithLabelValues(trade.Symbol, string(x.Reason), string(outcome)).Inc()

	final := *pos
	final.LastPrice = x.Price
	final.Unrealized = 0
	final.BarsHeld = x.BarsHeld
	l.publishLocked(Event{Type: EventClosed, Position: final, Trade: &trade})
	l.mu.Unlock()
	l.flush()

	l.log.Info().
		Str("id", trade.ID).
		Str("symbol", trade.Symbol).
		Str("reason", string(x.Reason)).
		Float64("exit", x.Price).
		Float64("pnl", pnl).
		Str("outcome", string(outcome)).
		Msg("position closed")
	return trade, true, nil
}

// resolveLocked finds an open position; nil with no error means nothing to close.
func (l *Ledger) resolveLocked(ref string) (*Position, error) {
	if pos, ok := l.open[ref]; ok {
		return pos, nil
	}
	if _, ok := l.closedRefs[ref]; ok {
		return nil, nil
	}
	if id, ok := l.byKey[ref]; ok {
		return l.open[id], nil
	}
	var match *Position
	for _, pos := range l.open {
		if pos.ContractID == ref && ref != "" {
			return pos, nil
		}
		if pos.Symbol == ref {
			if match != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguousRef, ref)
			}
			match = pos
		}
	}
	return match, nil
}

// PnL computes the realized profit of e exited at price, rounded to the
// symbol's precision. The loss is capped at the stake (stop-out).
func (l *Ledger) PnL(e Entry, price float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realize(e, price)
}

func (l *Ledger) realize(e Entry, price float64) float64 {
	places, ok := l.precision[e.Symbol]
	if !ok {
		places = l.defaultPrecision
	}
	return RoundedPnL(e, price, places)
}

// RoundedPnL is delta/entry*stake*multiplier with delta signed by direction.
func RoundedPnL(e Entry, price float64, places int32) float64 {
	entry := decimal.NewFromFloat(e.EntryPrice)
	stake := decimal.NewFromFloat(e.Stake)
	delta := decimal.NewFromFloat(price).Sub(entry).Mul(decimal.NewFromFloat(e.Direction.Sign()))
	pnl := delta.Div(entry).Mul(stake).Mul(decimal.NewFromFloat(e.Multiplier))
	if pnl.LessThan(stake.Neg()) {
		pnl = stake.Neg()
	}
	return pnl.Round(places).InexactFloat64()
}

// Mark updates unrealized PnL for every open position on symbol.
func (l *Ledger) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	for _, id := range l.sortedIDsLocked() {
		pos := l.open[id]
		if pos.Symbol != symbol {
			continue
		}
		pos.LastPrice = price
		pos.Unrealized = l.realize(pos.Entry, price)
		l.publishLocked(Event{Type: EventUpdated, Position: *pos})
	}
	l.mu.Unlock()
	l.flush()
}

// SetBarsHeld records how many closed candles a position has been held for.
func (l *Ledger) SetBarsHeld(id string, bars int) {
	l.mu.Lock()
	if pos, ok := l.open[id]; ok {
		pos.BarsHeld = bars
	}
	l.mu.Unlock()
}

// Get returns the open position with the given id.
func (l *Ledger) Get(id string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.open[id]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// OpenFor returns the open position held by the (symbol, strategy) pair.
func (l *Ledger) OpenFor(symbol, strategy string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byKey[Entry{Symbol: symbol, Strategy: strategy}.Key()]
	if !ok {
		return Position{}, false
	}
	return *l.open[id], true
}

// OpenPositions returns a copy of every open position ordered by entry time.
func (l *Ledger) OpenPositions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.open))
	for _, id := range l.sortedIDsLocked() {
		out = append(out, *l.open[id])
	}
	return out
}

func (l *Ledger) sortedIDsLocked() []string {
	ids := make([]string, 0, len(l.open))
	for id := range l.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := l.open[ids[i]], l.open[ids[j]]
		if a.EntryTs != b.EntryTs {
			return a.EntryTs < b.EntryTs
		}
		return a.ID < b.ID
	})
	return ids
}

// Trades returns a copy of all closed trades in close order.
func (l *Ledger) Trades() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trade, len(l.closed))
	copy(out, l.closed)
	return out
}

// ClosedForDay returns closed trades whose entry falls on the UTC date of day.
func (l *Ledger) ClosedForDay(day time.Time) []Trade {
	date := dayKey(day)
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Trade
	for _, t := range l.closed {
		if dayKey(t.EntryTime()) == date {
			out = append(out, t)
		}
	}
	return out
}

// DailyStats folds every position entered on the UTC date of day.
func (l *Ledger) DailyStats(day time.Time) DailyStats {
	date := dayKey(day)
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := DailyStats{Date: date}
	for _, t := range l.closed {
		if dayKey(t.EntryTime()) == date {
			stats.addTrade(t)
		}
	}
	for _, pos := range l.open {
		if dayKey(pos.EntryTime()) == date {
			stats.addPending(pos.Entry)
		}
	}
	stats.finish()
	return stats
}

// CountOpen returns the number of open positions on symbol.
func (l *Ledger) CountOpen(symbol string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, pos := range l.open {
		if pos.Symbol == symbol {
			n++
		}
	}
	return n
}

// CountAll returns the number of open positions.
func (l *Ledger) CountAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open)
}

// Reset drops every position and trade. Subscriptions stay open.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.open = make(map[string]*Position)
	l.byKey = make(map[string]string)
	l.closedRefs = make(map[string]struct{})
	l.closed = l.closed[:0]
	l.mu.Unlock()
}

func dayKey(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func (s *DailyStats) addTrade(t Trade) {
	s.TotalTrades++
	if t.Outcome == Win {
		s.Wins++
	} else {
		s.Losses++
	}
	s.TotalStake += t.Stake
	s.TotalPayout += t.Payout()
	s.NetPnL += t.PnL
}

func (s *DailyStats) addPending(e Entry) {
	s.TotalTrades++
	s.Pending++
	s.TotalStake += e.Stake
}

func (s *DailyStats) finish() {
	if settled := s.Wins + s.Losses; settled > 0 {
		s.WinRate = float64(s.Wins) / float64(settled) * 100
	}
	s.TotalStake = round2(s.TotalStake)
	s.TotalPayout = round2(s.TotalPayout)
	s.NetPnL = round2(s.NetPnL)
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
