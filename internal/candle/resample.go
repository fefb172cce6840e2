package candle

import (
	"errors"
	"fmt"
)

// ErrUnordered is returned when a series to resample is not strictly increasing in time.
var ErrUnordered = errors.New("candle: timestamps not strictly increasing")

// Resample groups consecutive candles into fixed chunks of factor and combines each chunk.
// A trailing chunk shorter than factor is dropped, so resampling a prefix of whole chunks
// yields a prefix of the full result.
func Resample(candles []Candle, factor int) ([]Candle, error) {
	if factor < 1 {
		return nil, fmt.Errorf("resample factor must be >= 1, got %d", factor)
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp <= candles[i-1].Timestamp {
			return nil, fmt.Errorf("%w: index %d", ErrUnordered, i)
		}
	}
	if factor == 1 {
		out := make([]Candle, len(candles))
		copy(out, candles)
		return out, nil
	}
	out := make([]Candle, 0, len(candles)/factor)
	for start := 0; start+factor <= len(candles); start += factor {
		out = append(out, combine(candles[start:start+factor], factor))
	}
	return out, nil
}

// ResampleTo resamples to targetSeconds, which must be a multiple of the source timeframe.
func ResampleTo(candles []Candle, targetSeconds int) ([]Candle, error) {
	if len(candles) == 0 {
		return nil, nil
	}
	src := candles[0].Timeframe
	if src <= 0 || targetSeconds <= 0 || targetSeconds%src != 0 {
		return nil, fmt.Errorf("cannot resample %ds candles to %ds", src, targetSeconds)
	}
	return Resample(candles, targetSeconds/src)
}

func combine(chunk []Candle, factor int) Candle {
	first := chunk[0]
	c := Candle{
		Symbol:    first.Symbol,
		Timeframe: first.Timeframe * factor,
		Timestamp: first.Timestamp,
		Open:      first.Open,
		High:      first.High,
		Low:       first.Low,
		Close:     chunk[len(chunk)-1].Close,
	}
	for _, k := range chunk {
		if k.High > c.High {
			c.High = k.High
		}
		if k.Low < c.Low {
			c.Low = k.Low
		}
		c.Volume += k.Volume
	}
	return c
}
