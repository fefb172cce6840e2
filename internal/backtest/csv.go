package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/candle"
)

// ErrMalformedRow is matched by every RowError.
var ErrMalformedRow = errors.New("backtest: malformed csv row")

// msThreshold separates second timestamps from millisecond timestamps.
const msThreshold = 1e12

// RowError reports the 1-based line of a bad row.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("backtest: csv line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMalformedRow) match.
func (e *RowError) Is(target error) bool { return target == ErrMalformedRow }

// LoadCSVFile opens path and delegates to LoadCSV.
func LoadCSVFile(path, symbol string) ([]candle.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f, symbol)
}

// LoadCSV reads timestamp,open,high,low,close[,volume] rows. A non-numeric
// first row is treated as a header. UTF-8 and UTF-16 byte order marks are
// honoured. Timestamps above 1e12 are milliseconds, smaller ones seconds.
// Timestamps must be strictly increasing. The timeframe is the smallest gap
// between consecutive rows, so missing bars do not widen it.
func LoadCSV(r io.Reader, symbol string) ([]candle.Candle, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var out []candle.Candle
	records := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		records++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, &RowError{Line: perr.Line, Err: perr.Err}
			}
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if records == 1 && isHeader(rec) {
			continue
		}
		c, err := parseRow(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, &RowError{Line: line, Err: err}
		}
		if n := len(out); n > 0 && c.Timestamp <= out[n-1].Timestamp {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("backtest: csv line %d: %w (%d after %d)", line, ErrNonMonotonic, c.Timestamp, out[n-1].Timestamp)
		}
		c.Symbol = symbol
		out = append(out, c)
	}

	if tf := minGapSeconds(out); tf > 0 {
		for i := range out {
			out[i].Timeframe = tf
		}
	}
	return out, nil
}

func minGapSeconds(candles []candle.Candle) int {
	var gap int64
	for i := 1; i < len(candles); i++ {
		if d := candles[i].Timestamp - candles[i-1].Timestamp; gap == 0 || d < gap {
			gap = d
		}
	}
	return int(gap / 1000)
}

func isHeader(rec []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	return err != nil
}

func parseRow(rec []string) (candle.Candle, error) {
	if len(rec) < 5 {
		return candle.Candle{}, fmt.Errorf("expected at least 5 fields, got %d", len(rec))
	}
	vals := make([]float64, 6)
	for i := 0; i < len(rec) && i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return candle.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return candle.Candle{}, fmt.Errorf("field %d: non-finite value %q", i+1, strings.TrimSpace(rec[i]))
		}
		vals[i] = v
	}
	ts := vals[0]
	if ts <= 0 {
		return candle.Candle{}, fmt.Errorf("timestamp %v must be positive", ts)
	}
	if ts < msThreshold {
		ts *= 1000
	}
	c := candle.Candle{
		Timestamp: int64(ts),
		Open:      vals[1],
		High:      vals[2],
		Low:       vals[3],
		Close:     vals[4],
		Volume:    vals[5],
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return candle.Candle{}, errors.New("prices must be positive")
	}
	if c.High < c.Low || c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
		return candle.Candle{}, fmt.Errorf("inconsistent ohlc %v/%v/%v/%v", c.Open, c.High, c.Low, c.Close)
	}
	return c, nil
}
