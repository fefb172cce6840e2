// Package guard serializes trade-opening decisions so at most one trade per asset key is in
// flight, and encodes position-count limits checked before a lock is taken.
package guard

import (
	"context"
	"errors"
	"sync"
)

// Rejection reasons reported by Acquire/CanOpen callers.
const (
	ReasonLocked      = "locked"
	ReasonMaxPerAsset = "max_per_asset"
	ReasonMaxTotal    = "max_total"
)

// ErrLocked is returned by Do when the key is already held.
var ErrLocked = errors.New("guard: asset locked")

// PositionCounter reports open positions; the ledger implements it.
type PositionCounter interface {
	CountOpen(symbol string) int
	CountAll() int
}

// Limits caps concurrent positions. Zero disables a limit.
type Limits struct {
	MaxPerAsset int `yaml:"max_per_asset"`
	MaxTotal    int `yaml:"max_total"`
}

// Decision is the outcome of CanOpen.
type Decision struct {
	Allowed bool
	Reason  string
}

// Guard holds one lock per asset key.
type Guard struct {
	mu      sync.Mutex
	held    map[string]struct{}
	limits  Limits
	counter PositionCounter
}

// New builds a guard. counter may be nil, in which case only locks are enforced.
func New(limits Limits, counter PositionCounter) *Guard {
	return &Guard{
		held:    make(map[string]struct{}),
		limits:  limits,
		counter: counter,
	}
}

// Acquire takes the lock for key without blocking; false means another trade is in flight.
func (g *Guard) Acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return false
	}
	g.held[key] = struct{}{}
	return true
}

// Release frees key. Releasing a key that is not held is a no-op.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
}

// Held reports whether key is currently locked.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

// CanOpen evaluates lock state and position limits for symbol under key.
func (g *Guard) CanOpen(key, symbol string) Decision {
	if g.Held(key) {
		return Decision{Reason: ReasonLocked}
	}
	return g.WithinLimits(symbol)
}

// WithinLimits checks only the position-count limits for symbol. Callers already
// holding the key use it to re-validate inside the critical section.
func (g *Guard) WithinLimits(symbol string) Decision {
	if g.counter != nil {
		if g.limits.MaxPerAsset > 0 && g.counter.CountOpen(symbol) >= g.limits.MaxPerAsset {
			return Decision{Reason: ReasonMaxPerAsset}
		}
		if g.limits.MaxTotal > 0 && g.counter.CountAll() >= g.limits.MaxTotal {
			return Decision{Reason: ReasonMaxTotal}
		}
	}
	return Decision{Allowed: true}
}

// Do runs fn while holding key. The lock is released on every path, including a panic in fn.
// It returns ErrLocked without calling fn when the key is already held.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !g.Acquire(key) {
		return ErrLocked
	}
	defer g.Release(key)
	return fn(ctx)
}
