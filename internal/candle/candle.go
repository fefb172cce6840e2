// Package candle turns tick streams into fixed-interval OHLCV candles and resamples candle series.
package candle

import (
	"fmt"
	"math"
	"time"
)

// Candle is an immutable OHLCV bucket identified by (Symbol, Timeframe, Timestamp).
type Candle struct {
	Symbol    string  `json:"symbol"`
	Timeframe int     `json:"timeframe"` // seconds
	Timestamp int64   `json:"timestamp"` // bucket start, unix ms
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Key returns the identity of the candle.
func (c Candle) Key() string {
	return fmt.Sprintf("%s:%d:%d", c.Symbol, c.Timeframe, c.Timestamp)
}

// Time returns the bucket start as UTC time.
func (c Candle) Time() time.Time { return time.UnixMilli(c.Timestamp).UTC() }

// End returns the exclusive end of the bucket in unix ms.
func (c Candle) End() int64 { return c.Timestamp + int64(c.Timeframe)*1000 }

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Range is high minus low.
func (c Candle) Range() float64 { return c.High - c.Low }

// ValidPrice reports whether p is a finite positive price.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0)
}

// BucketStart floors a unix-ms timestamp to the start of its timeframe bucket.
func BucketStart(tsMs int64, timeframeSeconds int) int64 {
	tf := int64(timeframeSeconds) * 1000
	if tf <= 0 {
		return tsMs
	}
	b := tsMs / tf
	if tsMs < 0 && tsMs%tf != 0 {
		b--
	}
	return b * tf
}
