package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"
)

// Sizing modes.
const (
	SizingFixed          = "fixed"
	SizingMartingale     = "martingale"
	SizingAntiMartingale = "anti_martingale"
)

// SizerConfig scales the base stake after wins or losses.
// The step multiplier never exceeds Factor^MaxSteps.
type SizerConfig struct {
	Mode     string  `yaml:"mode"`
	Factor   float64 `yaml:"factor"`
	MaxSteps int     `yaml:"max_steps"`
	MinStake float64 `yaml:"min_stake"`
	MaxStake float64 `yaml:"max_stake"`
}

// Validate checks the mode and the progression knobs.
func (c SizerConfig) Validate() error {
	switch c.Mode {
	case "", SizingFixed, SizingMartingale, SizingAntiMartingale:
	default:
		return fmt.Errorf("unknown sizing mode %q", c.Mode)
	}
	if c.Factor < 0 || c.MaxSteps < 0 || c.MinStake < 0 || c.MaxStake < 0 {
		return errors.New("sizing factor, max_steps and stake bounds must not be negative")
	}
	if c.MaxStake > 0 && c.MinStake > c.MaxStake {
		return fmt.Errorf("sizing min_stake %v above max_stake %v", c.MinStake, c.MaxStake)
	}
	return nil
}

// Sizer picks the stake of the next trade per asset key from the outcomes of
// the previous ones. It is safe for concurrent use.
type Sizer struct {
	mu    sync.Mutex
	cfg   SizerConfig
	base  float64
	limit float64
	steps map[string]float64
}

// NewSizer sizes around base. An empty mode is fixed and a zero factor is 2.
// A zero MaxSteps allows 5 steps for martingale and 3 for anti-martingale.
func NewSizer(base float64, cfg SizerConfig) *Sizer {
	if cfg.Mode == "" {
		cfg.Mode = SizingFixed
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2
	}
	if cfg.MaxSteps == 0 {
		switch cfg.Mode {
		case SizingMartingale:
			cfg.MaxSteps = 5
		case SizingAntiMartingale:
			cfg.MaxSteps = 3
		}
	}
	return &Sizer{
		cfg:   cfg,
		base:  base,
		limit: math.Pow(cfg.Factor, float64(cfg.MaxSteps)),
		steps: make(map[string]float64),
	}
}

// Mode returns the sizing mode in effect.
func (s *Sizer) Mode() string { return s.cfg.Mode }

// Multiplier returns the current step multiplier of key, 1 when untouched.
func (s *Sizer) Multiplier(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepLocked(key)
}

func (s *Sizer) stepLocked(key string) float64 {
	if m, ok := s.steps[key]; ok {
		return m
	}
	return 1
}

// Stake returns the stake for the next trade of key, clamped to the bounds
// and rounded to cents.
func (s *Sizer) Stake(key string) float64 {
	s.mu.Lock()
	stake := s.base * s.stepLocked(key)
	s.mu.Unlock()
	if s.cfg.MinStake > 0 && stake < s.cfg.MinStake {
		stake = s.cfg.MinStake
	}
	if s.cfg.MaxStake > 0 && stake > s.cfg.MaxStake {
		stake = s.cfg.MaxStake
	}
	v, _ := decimal.NewFromFloat(stake).Round(2).Float64()
	return v
}

// Report records a closed trade of key. Martingale grows on losses and
// resets on wins; anti-martingale does the reverse. Fixed ignores outcomes.
func (s *Sizer) Report(key string, win bool) {
	var grow bool
	switch s.cfg.Mode {
	case SizingMartingale:
		grow = !win
	case SizingAntiMartingale:
		grow = win
	default:
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !grow {
		delete(s.steps, key)
		return
	}
	s.steps[key] = math.Min(s.stepLocked(key)*s.cfg.Factor, s.limit)
}
