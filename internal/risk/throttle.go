package risk

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Rejection reasons returned by Check.
const (
	ReasonCooldown       = "cooldown"
	ReasonDailyLossLimit = "daily_loss_limit"
)

// Tier applies Cooldown once the consecutive loss count reaches Losses.
type Tier struct {
	Losses   int           `yaml:"losses"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// ThrottleConfig configures cooldown escalation and the daily loss halt.
type ThrottleConfig struct {
	Tiers             []Tier  `yaml:"tiers"`
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"` // fraction of Capital, e.g. 0.05
	Capital           float64 `yaml:"capital"`
}

// DefaultTiers escalates 1m, 5m, 15m and 1h after 1, 2, 3 and 4+ losses.
func DefaultTiers() []Tier {
	return []Tier{
		{Losses: 1, Cooldown: time.Minute},
		{Losses: 2, Cooldown: 5 * time.Minute},
		{Losses: 3, Cooldown: 15 * time.Minute},
		{Losses: 4, Cooldown: time.Hour},
	}
}

// State is the risk bookkeeping of one asset key.
type State struct {
	ConsecutiveLosses int
	CooldownUntil     time.Time
	DailyPnL          float64
	TradingDay        string
	Halted            bool
}

// Throttle tracks State per key. Time is always passed in so live and replay share behaviour.
type Throttle struct {
	mu     sync.Mutex
	cfg    ThrottleConfig
	states map[string]*State
	log    zerolog.Logger
}

// NewThrottle sorts tiers ascending and builds an empty registry.
func NewThrottle(cfg ThrottleConfig, log zerolog.Logger) *Throttle {
	tiers := append([]Tier(nil), cfg.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Losses < tiers[j].Losses })
	cfg.Tiers = tiers
	return &Throttle{cfg: cfg, states: make(map[string]*State), log: log}
}

func tradingDay(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func (t *Throttle) state(key string, now time.Time) *State {
	st := t.states[key]
	if st == nil {
		st = &State{TradingDay: tradingDay(now)}
		t.states[key] = st
	}
	if day := tradingDay(now); day != st.TradingDay {
		st.TradingDay = day
		st.DailyPnL = 0
		st.Halted = false
	}
	return st
}

// CooldownFor returns the cooldown applied after losses consecutive losses.
func (t *Throttle) CooldownFor(losses int) time.Duration {
	var d time.Duration
	for _, tier := range t.cfg.Tiers {
		if losses >= tier.Losses {
			d = tier.Cooldown
		}
	}
	return d
}

// Report records a closed trade for key.
func (t *Throttle) Report(key string, pnl float64, win bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(key, now)
	if win {
		st.ConsecutiveLosses = 0
		st.CooldownUntil = time.Time{}
	} else {
		st.ConsecutiveLosses++
		if d := t.CooldownFor(st.ConsecutiveLosses); d > 0 {
			st.CooldownUntil = now.Add(d)
			t.log.Info().
				Str("key", key).
				Int("losses", st.ConsecutiveLosses).
				Time("until", st.CooldownUntil).
				Msg("cooldown engaged")
		}
	}
	st.DailyPnL += pnl
	if limit := t.cfg.DailyLossLimitPct * t.cfg.Capital; limit > 0 && !st.Halted && st.DailyPnL <= -limit {
		st.Halted = true
		t.log.Warn().
			Str("key", key).
			Float64("daily_pnl", st.DailyPnL).
			Float64("limit", -limit).
			Str("day", st.TradingDay).
			Msg("daily loss limit reached, halting until next trading day")
	}
}

// Check reports whether key may take a new signal at now.
func (t *Throttle) Check(key string, now time.Time) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(key, now)
	if st.Halted {
		return false, ReasonDailyLossLimit
	}
	if now.Before(st.CooldownUntil) {
		return false, ReasonCooldown
	}
	return true, ""
}

// State returns a copy of the state for key as of now.
func (t *Throttle) State(key string, now time.Time) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.state(key, now)
}
