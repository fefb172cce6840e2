package candle

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

const defaultHistory = 3

// Aggregator builds candles of one timeframe for any number of symbols.
type Aggregator struct {
	timeframe int
	history   int
	log       zerolog.Logger
	mu        sync.Mutex
	series    map[string]*series
	dropped   int
}

type series struct {
	current *building
	closed  []building
}

type building struct {
	candle Candle
	lastTs int64
}

// Option configures Aggregator construction.
type Option func(*Aggregator)

// WithHistory sets how many finalized candles per symbol stay open for late ticks.
func WithHistory(n int) Option {
	return func(a *Aggregator) {
		if n >= 0 {
			a.history = n
		}
	}
}

// WithLogger attaches a logger used for data-quality warnings.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

// NewAggregator builds an aggregator for timeframeSeconds-wide buckets.
func NewAggregator(timeframeSeconds int, opts ...Option) *Aggregator {
	if timeframeSeconds <= 0 {
		timeframeSeconds = 60
	}
	a := &Aggregator{
		timeframe: timeframeSeconds,
		history:   defaultHistory,
		log:       zerolog.Nop(),
		series:    make(map[string]*series),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Timeframe returns the bucket width in seconds.
func (a *Aggregator) Timeframe() int { return a.timeframe }

// OnTick folds a tick into the in-progress candle. When the tick opens a new bucket
// the previous candle is finalized and returned exactly once.
func (a *Aggregator) OnTick(t signal.Tick) (Candle, bool) {
	if t.Symbol == "" || !ValidPrice(t.Price) {
		a.log.Warn().Str("symbol", t.Symbol).Float64("price", t.Price).Msg("dropping invalid tick")
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		return Candle{}, false
	}
	ts := t.TimestampMs()
	bucket := BucketStart(ts, a.timeframe)

	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.series[t.Symbol]
	if s == nil {
		s = &series{}
		a.series[t.Symbol] = s
	}
	if s.current == nil {
		s.current = a.open(t.Symbol, bucket, ts, t.Price)
		return Candle{}, false
	}

	cur := &s.current.candle
	switch {
	case bucket == cur.Timestamp:
		s.current.apply(t.Price, ts)
		return Candle{}, false
	case bucket > cur.Timestamp:
		done := *s.current
		s.closed = append(s.closed, done)
		if over := len(s.closed) - a.history; over > 0 {
			s.closed = append(s.closed[:0], s.closed[over:]...)
		}
		s.current = a.open(t.Symbol, bucket, ts, t.Price)
		return done.candle, true
	default:
		for i := len(s.closed) - 1; i >= 0; i-- {
			if s.closed[i].candle.Timestamp == bucket {
				s.closed[i].apply(t.Price, ts)
				a.log.Debug().Str("symbol", t.Symbol).Int64("bucket", bucket).Msg("late tick amended closed candle")
				return Candle{}, false
			}
		}
		a.dropped++
		a.log.Warn().
			Str("symbol", t.Symbol).
			Int64("bucket", bucket).
			Int64("current", cur.Timestamp).
			Msg("out-of-order tick outside update window dropped")
		return Candle{}, false
	}
}

func (a *Aggregator) open(symbol string, bucket, ts int64, price float64) *building {
	return &building{
		candle: Candle{
			Symbol:    symbol,
			Timeframe: a.timeframe,
			Timestamp: bucket,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1,
		},
		lastTs: ts,
	}
}

func (b *building) apply(price float64, ts int64) {
	if price > b.candle.High {
		b.candle.High = price
	}
	if price < b.candle.Low {
		b.candle.Low = price
	}
	if ts >= b.lastTs {
		b.candle.Close = price
		b.lastTs = ts
	}
	b.candle.Volume++
}

// Current returns a copy of the in-progress candle for symbol.
func (a *Aggregator) Current(symbol string) (Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.series[symbol]
	if s == nil || s.current == nil {
		return Candle{}, false
	}
	return s.current.candle, true
}

// History returns the finalized candles still inside the late-tick window, oldest first.
// Amendments made by late ticks are visible here but are never re-emitted.
func (a *Aggregator) History(symbol string) []Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.series[symbol]
	if s == nil {
		return nil
	}
	out := make([]Candle, len(s.closed))
	for i, b := range s.closed {
		out[i] = b.candle
	}
	return out
}

// Flush finalizes and returns the in-progress candle for symbol, if any.
func (a *Aggregator) Flush(symbol string) (Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.series[symbol]
	if s == nil || s.current == nil {
		return Candle{}, false
	}
	done := *s.current
	s.current = nil
	s.closed = append(s.closed, done)
	if over := len(s.closed) - a.history; over > 0 {
		s.closed = append(s.closed[:0], s.closed[over:]...)
	}
	return done.candle, true
}

// Dropped reports how many ticks were discarded as invalid or too late.
func (a *Aggregator) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// MultiAggregator fans a single tick stream into several timeframes.
type MultiAggregator struct {
	aggs []*Aggregator
}

// NewMultiAggregator builds one Aggregator per timeframe, in the given order.
func NewMultiAggregator(timeframes []int, opts ...Option) *MultiAggregator {
	m := &MultiAggregator{}
	seen := make(map[int]struct{}, len(timeframes))
	for _, tf := range timeframes {
		if _, ok := seen[tf]; ok {
			continue
		}
		seen[tf] = struct{}{}
		m.aggs = append(m.aggs, NewAggregator(tf, opts...))
	}
	return m
}

// OnTick returns every candle finalized by the tick across timeframes.
func (m *MultiAggregator) OnTick(t signal.Tick) []Candle {
	var out []Candle
	for _, agg := range m.aggs {
		if c, ok := agg.OnTick(t); ok {
			out = append(out, c)
		}
	}
	return out
}

// Aggregator returns the aggregator for a timeframe, or nil.
func (m *MultiAggregator) Aggregator(timeframeSeconds int) *Aggregator {
	for _, agg := range m.aggs {
		if agg.timeframe == timeframeSeconds {
			return agg
		}
	}
	return nil
}
