// Package exchange hosts the market data sources that feed the engine.
package exchange

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

const (
	// ProviderStub emits a seeded synthetic random walk (tests and offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live trades from Binance public websockets.
	ProviderBinance = "binance"
)

const (
	defaultStubInterval = 500 * time.Millisecond
	defaultStubPrice    = 100.0
	defaultStubVol      = 0.001
	defaultBinanceURL   = "wss://stream.binance.com:9443/stream"
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	stubInterval time.Duration
	stubSeed     uint64
	stubPrice    float64
	stubVol      float64
	stubLimit    int
	replayStart  time.Time
	replayStep   time.Duration
	binanceURL   string
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithStubInterval sets the cadence of synthetic ticks.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithStubWalk seeds the random walk. vol is the per-tick relative standard deviation.
func WithStubWalk(seed uint64, start, vol float64) Option {
	return func(f *Feed) {
		f.stubSeed = seed
		if start > 0 {
			f.stubPrice = start
		}
		if vol > 0 {
			f.stubVol = vol
		}
	}
}

// WithStubLimit makes Run return nil after n ticks per symbol.
func WithStubLimit(n int) Option {
	return func(f *Feed) { f.stubLimit = n }
}

// WithStubReplay stamps stub ticks start, start+step, ... instead of the wall
// clock and emits them back to back. Combined with a seed and a limit the
// whole stream is reproducible.
func WithStubReplay(start time.Time, step time.Duration) Option {
	return func(f *Feed) {
		if step > 0 {
			f.replayStart = start.UTC()
			f.replayStep = step
		}
	}
}

// WithBinanceURL overrides the combined-stream endpoint.
func WithBinanceURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.binanceURL = strings.TrimSuffix(url, "/")
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		stubInterval: defaultStubInterval,
		stubSeed:     1,
		stubPrice:    defaultStubPrice,
		stubVol:      defaultStubVol,
		binanceURL:   defaultBinanceURL,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provider reports the configured provider name.
func (f *Feed) Provider() string { return f.provider }

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

// Symbols returns a copy of the tracked symbols.
func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

// stubWalk is a geometric random walk per symbol. Identical seeds give identical paths.
type stubWalk struct {
	rng    *rand.Rand
	prices map[string]float64
	start  float64
	vol    float64
}

func newStubWalk(seed uint64, start, vol float64) *stubWalk {
	return &stubWalk{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		prices: make(map[string]float64),
		start:  start,
		vol:    vol,
	}
}

func (w *stubWalk) next(symbol string) (price float64, side int) {
	px, ok := w.prices[symbol]
	if !ok {
		px = w.start
	}
	step := w.rng.NormFloat64() * w.vol
	px *= math.Exp(step)
	w.prices[symbol] = px
	side = 1
	if step < 0 {
		side = -1
	}
	return px, side
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	walk := newStubWalk(f.stubSeed, f.stubPrice, f.stubVol)
	emit := func(ts time.Time) error {
		for _, s := range f.Symbols() {
			px, side := walk.next(s)
			tick := signal.Tick{Symbol: s, Price: px, Size: 1, Side: side, Ts: ts}
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	if f.replayStep > 0 {
		for n := 0; f.stubLimit <= 0 || n < f.stubLimit; n++ {
			if err := emit(f.replayStart.Add(time.Duration(n) * f.replayStep)); err != nil {
				return err
			}
		}
		return nil
	}

	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			if f.stubLimit > 0 && sent >= f.stubLimit {
				return nil
			}
			sent++
			if err := emit(ts.UTC()); err != nil {
				return err
			}
		}
	}
}
