// Package signal standardizes payloads shared between data ingestion, strategies and execution.
package signal

import (
	"fmt"
	"strings"
	"time"
)

// Tick models the essential pieces of market data consumed by the candle aggregator.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64
	Side   int // +1 buy, -1 sell (aggressor), 0 unknown
	Ts     time.Time
}

// TimestampMs returns the tick time in unix milliseconds.
func (t Tick) TimestampMs() int64 { return t.Ts.UnixMilli() }

// Direction is the side a position is opened on.
type Direction string

const (
	// Long profits when price rises.
	Long Direction = "LONG"
	// Short profits when price falls.
	Short Direction = "SHORT"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Opposite flips the direction.
func (d Direction) Opposite() Direction {
	if d == Short {
		return Long
	}
	return Short
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool { return d == Long || d == Short }

// ParseDirection accepts LONG/SHORT as well as the CALL/PUT and BUY/SELL aliases used by brokers.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY", "CALL", "MULTUP":
		return Long, nil
	case "SHORT", "SELL", "PUT", "MULTDOWN":
		return Short, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Signal is a one-shot entry request emitted by a strategy machine for a closed candle.
// A signal that fails to pass the guard is discarded, never retried.
type Signal struct {
	Symbol         string
	Strategy       string
	Direction      Direction
	Reason         string
	CandleTs       int64 // timestamp (ms) of the candle that produced the signal
	SuggestedEntry float64
	ATR            float64 // ATR at the signal candle, 0 when not computed
}

// Key identifies the (asset, strategy) pair a signal belongs to.
func (s Signal) Key() string { return AssetKey(s.Symbol, s.Strategy) }

// AssetKey joins symbol and strategy into the key used by guard, risk and ledger.
func AssetKey(symbol, strategy string) string {
	if strategy == "" {
		return symbol
	}
	return symbol + "/" + strategy
}
