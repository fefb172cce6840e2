// Package indicator defines the typed indicator snapshot consumed by strategies and a
// reference provider computing classic indicators over a candle series.
package indicator

import (
	"fmt"
	"strings"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/candle"
)

// ID enumerates the indicators a snapshot can carry.
type ID uint8

const (
	EMAFast ID = iota
	EMASlow
	EMATrend
	RSI
	ATR
	ADX
	PlusDI
	MinusDI
	BBUpper
	BBMiddle
	BBLower
	idCount
)

var idNames = [idCount]string{
	EMAFast:  "ema_fast",
	EMASlow:  "ema_slow",
	EMATrend: "ema_trend",
	RSI:      "rsi",
	ATR:      "atr",
	ADX:      "adx",
	PlusDI:   "plus_di",
	MinusDI:  "minus_di",
	BBUpper:  "bb_upper",
	BBMiddle: "bb_middle",
	BBLower:  "bb_lower",
}

func (id ID) String() string {
	if id < idCount {
		return idNames[id]
	}
	return fmt.Sprintf("indicator(%d)", uint8(id))
}

// ParseID maps an indicator name back to its ID.
func ParseID(name string) (ID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range idNames {
		if n == name {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown indicator %q", name)
}

// Snapshot holds indicator values for exactly one candle. A value that is not set is
// "not yet computable" and is never read as zero.
type Snapshot struct {
	values [idCount]float64
	set    uint16
}

// Get returns the value for id and whether it is available.
func (s Snapshot) Get(id ID) (float64, bool) {
	if id >= idCount || s.set&(1<<id) == 0 {
		return 0, false
	}
	return s.values[id], true
}

// With returns a copy of s carrying v for id.
func (s Snapshot) With(id ID, v float64) Snapshot {
	if id < idCount {
		s.values[id] = v
		s.set |= 1 << id
	}
	return s
}

// Has reports whether every listed indicator is available.
func (s Snapshot) Has(ids ...ID) bool {
	for _, id := range ids {
		if _, ok := s.Get(id); !ok {
			return false
		}
	}
	return true
}

// Missing lists the ids that are not available yet.
func (s Snapshot) Missing(ids ...ID) []ID {
	var out []ID
	for _, id := range ids {
		if _, ok := s.Get(id); !ok {
			out = append(out, id)
		}
	}
	return out
}

// Map renders the available values keyed by name (logging and persistence).
func (s Snapshot) Map() map[string]float64 {
	out := make(map[string]float64)
	for id := ID(0); id < idCount; id++ {
		if v, ok := s.Get(id); ok {
			out[id.String()] = v
		}
	}
	return out
}

// FromMap builds a snapshot from named values, rejecting unknown names.
func FromMap(m map[string]float64) (Snapshot, error) {
	var s Snapshot
	for name, v := range m {
		id, err := ParseID(name)
		if err != nil {
			return Snapshot{}, err
		}
		s = s.With(id, v)
	}
	return s, nil
}

// Provider computes the snapshot for candles[index] using only candles[:index+1].
type Provider interface {
	Snapshot(candles []candle.Candle, index int) Snapshot
}
