package candle

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

func tickAt(sym string, ms int64, px float64) signal.Tick {
	return signal.Tick{Symbol: sym, Price: px, Size: 1, Ts: time.UnixMilli(ms)}
}

func TestOnTickEmitsOnBucketChange(t *testing.T) {
	agg := NewAggregator(60)
	ticks := []signal.Tick{
		tickAt("R_75", 60_000, 100),
		tickAt("R_75", 70_000, 102),
		tickAt("R_75", 80_000, 99),
		tickAt("R_75", 119_999, 101),
	}
	for _, tk := range ticks {
		if _, ok := agg.OnTick(tk); ok {
			t.Fatalf("no candle expected inside the first bucket")
		}
	}
	c, ok := agg.OnTick(tickAt("R_75", 120_000, 105))
	if !ok {
		t.Fatalf("expected finalized candle")
	}
	want := Candle{Symbol: "R_75", Timeframe: 60, Timestamp: 60_000, Open: 100, High: 102, Low: 99, Close: 101, Volume: 4}
	if c != want {
		t.Fatalf("unexpected candle %+v", c)
	}
	cur, ok := agg.Current("R_75")
	if !ok || cur.Open != 105 || cur.High != 105 || cur.Low != 105 || cur.Close != 105 || cur.Volume != 1 {
		t.Fatalf("unexpected in-progress candle %+v", cur)
	}
}

func TestOnTickLateTickAmendsHistory(t *testing.T) {
	agg := NewAggregator(60, WithHistory(2))
	agg.OnTick(tickAt("X", 0, 10))
	agg.OnTick(tickAt("X", 30_000, 11))
	if _, ok := agg.OnTick(tickAt("X", 60_000, 12)); !ok {
		t.Fatalf("expected first candle")
	}
	// late tick for bucket 0 with a new low
	if _, ok := agg.OnTick(tickAt("X", 20_000, 8)); ok {
		t.Fatalf("late tick must not emit")
	}
	hist := agg.History("X")
	if len(hist) != 1 || hist[0].Low != 8 || hist[0].Volume != 3 {
		t.Fatalf("expected amended history, got %+v", hist)
	}
	if hist[0].Close != 11 {
		t.Fatalf("late tick older than last tick must not move close, got %.2f", hist[0].Close)
	}
	if agg.Dropped() != 0 {
		t.Fatalf("expected no drops")
	}
}

func TestOnTickDropsTicksOutsideWindow(t *testing.T) {
	agg := NewAggregator(60, WithHistory(1))
	agg.OnTick(tickAt("X", 0, 10))
	agg.OnTick(tickAt("X", 60_000, 10))
	agg.OnTick(tickAt("X", 120_000, 10))
	// bucket 0 is no longer in the single-candle window
	agg.OnTick(tickAt("X", 1_000, 10))
	if agg.Dropped() != 1 {
		t.Fatalf("expected one dropped tick, got %d", agg.Dropped())
	}
	agg.OnTick(signal.Tick{Symbol: "X", Price: 0, Ts: time.UnixMilli(130_000)})
	if agg.Dropped() != 2 {
		t.Fatalf("expected invalid tick to be dropped")
	}
	agg.OnTick(signal.Tick{Symbol: "X", Price: math.NaN(), Ts: time.UnixMilli(131_000)})
	agg.OnTick(signal.Tick{Symbol: "X", Price: math.Inf(1), Ts: time.UnixMilli(132_000)})
	if agg.Dropped() != 4 {
		t.Fatalf("expected non-finite ticks to be dropped, got %d drops", agg.Dropped())
	}
	if cur, _ := agg.Current("X"); cur.High != 10 || cur.Close != 10 {
		t.Fatalf("non-finite ticks leaked into the candle: %+v", cur)
	}
}

func TestAggregationDeterminism(t *testing.T) {
	var ticks []signal.Tick
	px := 100.0
	for i := 0; i < 500; i++ {
		px += float64((i*7)%5) - 2
		ticks = append(ticks, tickAt("R_100", int64(i)*7_300, px))
	}
	run := func() []Candle {
		agg := NewAggregator(60)
		var out []Candle
		for _, tk := range ticks {
			if c, ok := agg.OnTick(tk); ok {
				out = append(out, c)
			}
		}
		return out
	}
	first, second := run(), run()
	if len(first) == 0 {
		t.Fatalf("expected candles")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aggregation is not deterministic")
	}
	for i := 1; i < len(first); i++ {
		if first[i].Timestamp <= first[i-1].Timestamp {
			t.Fatalf("candles out of order at %d", i)
		}
	}
}

func TestSymbolsAreIndependent(t *testing.T) {
	agg := NewAggregator(60)
	agg.OnTick(tickAt("A", 0, 1))
	agg.OnTick(tickAt("B", 0, 2))
	if _, ok := agg.OnTick(tickAt("B", 60_000, 3)); !ok {
		t.Fatalf("expected B candle")
	}
	if _, ok := agg.Current("A"); !ok {
		t.Fatalf("A should still be building")
	}
	if c, ok := agg.Flush("A"); !ok || c.Open != 1 {
		t.Fatalf("unexpected flush result %+v", c)
	}
	if _, ok := agg.Current("A"); ok {
		t.Fatalf("flush should clear in-progress candle")
	}
}

func TestMultiAggregator(t *testing.T) {
	m := NewMultiAggregator([]int{60, 300, 60})
	var got []Candle
	for i := int64(0); i <= 300; i += 30 {
		got = append(got, m.OnTick(tickAt("X", i*1000, float64(i)))...)
	}
	var m1, m5 int
	for _, c := range got {
		switch c.Timeframe {
		case 60:
			m1++
		case 300:
			m5++
		}
	}
	if m1 != 5 || m5 != 1 {
		t.Fatalf("expected 5 one-minute and 1 five-minute candles, got %d/%d", m1, m5)
	}
	if m.Aggregator(300) == nil || m.Aggregator(900) != nil {
		t.Fatalf("unexpected aggregator lookup")
	}
}

func TestBucketStart(t *testing.T) {
	if BucketStart(119_999, 60) != 60_000 {
		t.Fatalf("unexpected bucket")
	}
	if BucketStart(-1, 60) != -60_000 {
		t.Fatalf("negative timestamps must floor")
	}
}
