// Package strategy implements the generic phase-based signal machine shared by every strategy.
// A strategy is a data-driven Rules value; the machine owns the phase transitions.
package strategy

import (
	"fmt"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/candle"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/indicator"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

// Phase is the position of a machine in its scan/arm/window/entry cycle.
type Phase uint8

const (
	Scanning Phase = iota
	Armed
	WindowOpen
	Entry
)

func (p Phase) String() string {
	switch p {
	case Scanning:
		return "SCANNING"
	case Armed:
		return "ARMED"
	case WindowOpen:
		return "WINDOW_OPEN"
	case Entry:
		return "ENTRY"
	default:
		return fmt.Sprintf("PHASE(%d)", uint8(p))
	}
}

// State is the per-phase data of a machine. It is only mutated by Machine.Step.
type State struct {
	Phase         Phase
	Direction     signal.Direction
	ArmedAt       int64
	PullbackCount int
	PullbackHigh  float64
	PullbackLow   float64
	BreakoutLevel float64
	WindowBars    int
}

// Input is what every predicate sees: the closed candle, its snapshot and the previous pair.
type Input struct {
	Candle   candle.Candle
	Snap     indicator.Snapshot
	Prev     candle.Candle
	PrevSnap indicator.Snapshot
	HasPrev  bool
}

// Value reads an indicator from the current snapshot.
func (in Input) Value(id indicator.ID) (float64, bool) { return in.Snap.Get(id) }

// PrevValue reads an indicator from the previous snapshot.
func (in Input) PrevValue(id indicator.ID) (float64, bool) {
	if !in.HasPrev {
		return 0, false
	}
	return in.PrevSnap.Get(id)
}

// Holding describes an open position for early-exit predicates.
type Holding struct {
	Direction  signal.Direction
	EntryPrice float64
	EntryTs    int64
	BarsHeld   int
}

// Settings are the numeric knobs of the machine itself.
type Settings struct {
	MinPullbackBars int
	WindowTimeout   int
}

// Rules is the predicate set that specializes the machine into a strategy.
type Rules struct {
	Name     string
	Requires []indicator.ID
	Settings Settings

	// Arm is evaluated while scanning; true arms the machine in the returned direction.
	Arm func(in Input) (signal.Direction, bool)
	// Pullback reports whether the candle retraces against st.Direction.
	Pullback func(in Input, st State) bool
	// Invalidated aborts an armed setup.
	Invalidated func(in Input, st State) bool
	// Breakout computes the level that must be crossed once the pullback is complete.
	Breakout func(in Input, st State) float64
	// Crossed reports whether the candle crossed st.BreakoutLevel. Nil uses the close.
	Crossed func(in Input, st State) bool
	// Filter is re-checked on every window candle. Nil always passes.
	Filter func(in Input, st State) bool
	// Exit is the strategy-defined early exit for an open position. Nil never exits.
	Exit func(in Input, h Holding) (string, bool)
}

// Validate checks that the mandatory predicates are present.
func (r Rules) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rules need a name")
	}
	if r.Arm == nil || r.Pullback == nil || r.Invalidated == nil || r.Breakout == nil {
		return fmt.Errorf("rules %s: arm, pullback, invalidated and breakout predicates are required", r.Name)
	}
	if r.Settings.MinPullbackBars < 1 {
		return fmt.Errorf("rules %s: min pullback bars must be >= 1", r.Name)
	}
	if r.Settings.WindowTimeout < 1 {
		return fmt.Errorf("rules %s: window timeout must be >= 1", r.Name)
	}
	return nil
}

// Machine is one automaton per (asset, strategy). It reads no clock; time is the candle timestamp.
type Machine struct {
	symbol   string
	rules    Rules
	state    State
	prev     candle.Candle
	prevSnap indicator.Snapshot
	hasPrev  bool
}

// NewMachine validates rules and returns a machine in SCANNING.
func NewMachine(symbol string, rules Rules) (*Machine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Machine{symbol: symbol, rules: rules}, nil
}

// Name returns the strategy name.
func (m *Machine) Name() string { return m.rules.Name }

// Symbol returns the asset this machine trades.
func (m *Machine) Symbol() string { return m.symbol }

// State returns a copy of the current phase state.
func (m *Machine) State() State { return m.state }

// Reset drops phase state and the remembered previous candle.
func (m *Machine) Reset() {
	m.state = State{}
	m.prev = candle.Candle{}
	m.prevSnap = indicator.Snapshot{}
	m.hasPrev = false
}

// Ready reports whether snap carries every indicator the rules need.
func (m *Machine) Ready(snap indicator.Snapshot) bool { return snap.Has(m.rules.Requires...) }

// Step feeds one closed candle. It returns a signal at most once per candle; the machine is
// then in ENTRY and resets to SCANNING on the next call. A snapshot missing required
// indicators leaves the machine untouched.
func (m *Machine) Step(c candle.Candle, snap indicator.Snapshot) *signal.Signal {
	if m.state.Phase == Entry {
		m.state = State{}
	}
	if !m.Ready(snap) {
		return nil
	}
	in := m.input(c, snap)
	sig := m.transition(in)
	m.remember(c, snap)
	return sig
}

// Monitor evaluates the early-exit predicate for an open position and advances the remembered
// candle so predicates keep comparing consecutive candles while a position is held.
func (m *Machine) Monitor(c candle.Candle, snap indicator.Snapshot, h Holding) (string, bool) {
	if !m.Ready(snap) {
		return "", false
	}
	in := m.input(c, snap)
	m.remember(c, snap)
	if m.rules.Exit == nil {
		return "", false
	}
	return m.rules.Exit(in, h)
}

func (m *Machine) input(c candle.Candle, snap indicator.Snapshot) Input {
	return Input{Candle: c, Snap: snap, Prev: m.prev, PrevSnap: m.prevSnap, HasPrev: m.hasPrev}
}

func (m *Machine) remember(c candle.Candle, snap indicator.Snapshot) {
	m.prev, m.prevSnap, m.hasPrev = c, snap, true
}

func (m *Machine) transition(in Input) *signal.Signal {
	st := &m.state
	switch st.Phase {
	case Scanning:
		dir, ok := m.rules.Arm(in)
		if !ok || !dir.Valid() {
			return nil
		}
		*st = State{Phase: Armed, Direction: dir, ArmedAt: in.Candle.Timestamp}

	case Armed:
		if m.rules.Invalidated(in, *st) {
			*st = State{}
			return nil
		}
		if !m.rules.Pullback(in, *st) {
			st.PullbackCount = 0
			st.PullbackHigh, st.PullbackLow = 0, 0
			return nil
		}
		if st.PullbackCount == 0 {
			st.PullbackHigh, st.PullbackLow = in.Candle.High, in.Candle.Low
		} else {
			if in.Candle.High > st.PullbackHigh {
				st.PullbackHigh = in.Candle.High
			}
			if in.Candle.Low < st.PullbackLow {
				st.PullbackLow = in.Candle.Low
			}
		}
		st.PullbackCount++
		if st.PullbackCount >= m.rules.Settings.MinPullbackBars {
			st.BreakoutLevel = m.rules.Breakout(in, *st)
			st.Phase = WindowOpen
			st.WindowBars = 0
		}

	case WindowOpen:
		st.WindowBars++
		if m.rules.Filter != nil && !m.rules.Filter(in, *st) {
			*st = State{}
			return nil
		}
		if m.crossed(in) {
			st.Phase = Entry
			return &signal.Signal{
				Symbol:         m.symbol,
				Strategy:       m.rules.Name,
				Direction:      st.Direction,
				Reason:         fmt.Sprintf("breakout %.5f after %d pullback bars", st.BreakoutLevel, st.PullbackCount),
				CandleTs:       in.Candle.Timestamp,
				SuggestedEntry: in.Candle.Close,
			}
		}
		if st.WindowBars >= m.rules.Settings.WindowTimeout {
			*st = State{}
		}
	}
	return nil
}

func (m *Machine) crossed(in Input) bool {
	if m.rules.Crossed != nil {
		return m.rules.Crossed(in, m.state)
	}
	if m.state.Direction == signal.Short {
		return in.Candle.Close < m.state.BreakoutLevel
	}
	return in.Candle.Close > m.state.BreakoutLevel
}
