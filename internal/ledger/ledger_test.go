package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

var entryTs = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC).UnixMilli()

func testEntry(symbol, strategy string, price float64) Entry {
	return Entry{
		Symbol:     symbol,
		Strategy:   strategy,
		Direction:  signal.Long,
		EntryPrice: price,
		EntryTs:    entryTs,
		Stake:      20,
		Multiplier: 100,
	}
}

func TestClosePnLExample(t *testing.T) {
	l := New()
	pos, err := l.Open(testEntry("R_100", "pullback", 100))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if pos.ID == "" {
		t.Fatalf("expected generated id")
	}
	trade, closed, err := l.Close(pos.ID, Exit{Price: 101, Ts: entryTs + 60_000, Reason: TakeProfit})
	if err != nil || !closed {
		t.Fatalf("close: closed=%v err=%v", closed, err)
	}
	if trade.PnL != 20 {
		t.Fatalf("expected pnl 20, got %v", trade.PnL)
	}
	if trade.Outcome != Win {
		t.Fatalf("expected WIN, got %s", trade.Outcome)
	}
	if trade.Payout() != 40 {
		t.Fatalf("expected payout 40, got %v", trade.Payout())
	}
}

func TestShortPnLSign(t *testing.T) {
	cases := []struct {
		dir   signal.Direction
		exit  float64
		want  float64
		isWin bool
	}{
		{signal.Long, 99, -20, false},
		{signal.Short, 99, 20, true},
		{signal.Short, 101, -20, false},
		{signal.Long, 100, 0, false},
	}
	for _, tc := range cases {
		e := testEntry("R_100", "x", 100)
		e.Direction = tc.dir
		got := RoundedPnL(e, tc.exit, 2)
		if got != tc.want {
			t.Fatalf("%s exit %v: expected %v, got %v", tc.dir, tc.exit, tc.want, got)
		}
		if (got > 0) != tc.isWin {
			t.Fatalf("%s exit %v: win classification mismatch", tc.dir, tc.exit)
		}
	}
}

func TestLossCappedAtStake(t *testing.T) {
	e := testEntry("R_100", "x", 100)
	if got := RoundedPnL(e, 90, 2); got != -20 {
		t.Fatalf("expected stop-out at -stake, got %v", got)
	}
}

func TestPrecisionPerSymbol(t *testing.T) {
	l := New(WithPrecision("frxEURUSD", 4))
	e := testEntry("frxEURUSD", "x", 1.08123)
	e.Multiplier = 30
	got := l.PnL(e, 1.08157)
	want := RoundedPnL(e, 1.08157, 4)
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got == RoundedPnL(e, 1.08157, 2) {
		t.Fatalf("expected 4dp rounding to differ from 2dp for this input")
	}
}

func TestDuplicateOpenRejected(t *testing.T) {
	l := New()
	if _, err := l.Open(testEntry("R_100", "pullback", 100)); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := l.Open(testEntry("R_100", "pullback", 101))
	if !errors.Is(err, ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
	if _, err := l.Open(testEntry("R_100", "bb_reversal", 101)); err != nil {
		t.Fatalf("different strategy should open: %v", err)
	}
	if l.CountOpen("R_100") != 2 || l.CountAll() != 2 {
		t.Fatalf("unexpected counts %d/%d", l.CountOpen("R_100"), l.CountAll())
	}
}

func TestStrictPanics(t *testing.T) {
	l := New(WithStrict(true))
	_, _ = l.Open(testEntry("R_100", "pullback", 100))
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic in strict mode")
		}
	}()
	_, _ = l.Open(testEntry("R_100", "pullback", 100))
}

func TestInvalidEntry(t *testing.T) {
	l := New()
	e := testEntry("R_100", "x", 0)
	if _, err := l.Open(e); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	l := New()
	e := testEntry("R_100", "pullback", 100)
	e.ContractID = "c-1"
	pos, _ := l.Open(e)
	exit := Exit{Price: 99.5, Ts: entryTs + 1000, Reason: StopLoss}

	if _, closed, err := l.Close("c-1", exit); err != nil || !closed {
		t.Fatalf("first close: closed=%v err=%v", closed, err)
	}
	for _, ref := range []string{pos.ID, "c-1", "R_100", "never-existed"} {
		if _, closed, err := l.Close(ref, exit); err != nil || closed {
			t.Fatalf("repeat close of %q should be a no-op, closed=%v err=%v", ref, closed, err)
		}
	}
	if got := len(l.Trades()); got != 1 {
		t.Fatalf("expected exactly one trade, got %d", got)
	}
}

func TestCloseAmbiguousSymbol(t *testing.T) {
	l := New()
	_, _ = l.Open(testEntry("R_100", "a", 100))
	_, _ = l.Open(testEntry("R_100", "b", 100))
	if _, _, err := l.Close("R_100", Exit{Price: 100}); !errors.Is(err, ErrAmbiguousRef) {
		t.Fatalf("expected ErrAmbiguousRef, got %v", err)
	}
	if _, closed, err := l.Close("R_100/b", Exit{Price: 100}); err != nil || !closed {
		t.Fatalf("asset key close: closed=%v err=%v", closed, err)
	}
}

func TestMarkUpdatesUnrealized(t *testing.T) {
	l := New()
	ch := l.Subscribe(4)
	_, _ = l.Open(testEntry("R_100", "pullback", 100))
	l.Mark("R_100", 100.5)
	l.Mark("R_50", 3)

	pos, ok := l.OpenFor("R_100", "pullback")
	if !ok {
		t.Fatalf("expected open position")
	}
	if pos.Unrealized != 10 || pos.LastPrice != 100.5 {
		t.Fatalf("unexpected mark: %+v", pos)
	}
	if ev := <-ch; ev.Type != EventOpened {
		t.Fatalf("expected opened event, got %s", ev.Type)
	}
	if ev := <-ch; ev.Type != EventUpdated || ev.Position.Unrealized != 10 {
		t.Fatalf("expected updated event, got %+v", ev)
	}
}

func TestDailyStatsFoldMatchesTally(t *testing.T) {
	l := New()
	tally := NewTally()
	ch := l.Subscribe(0)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range ch {
			tally.Apply(ev)
		}
	}()

	day := time.UnixMilli(entryTs).UTC()
	exits := []float64{101, 99.7, 100.2, 98}
	for i, px := range exits {
		e := testEntry("R_100", "pullback", 100)
		e.EntryTs = entryTs + int64(i)*60_000
		pos, err := l.Open(e)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if _, _, err := l.Close(pos.ID, Exit{Price: px, Ts: e.EntryTs + 30_000, Reason: Manual}); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	pending := testEntry("R_50", "pullback", 50)
	pending.EntryTs = entryTs + 10*60_000
	_, _ = l.Open(pending)
	nextDay := testEntry("R_75", "pullback", 75)
	nextDay.EntryTs = entryTs + int64(24*time.Hour/time.Millisecond)
	_, _ = l.Open(nextDay)

	l.Shutdown()
	wg.Wait()

	folded := l.DailyStats(day)
	incremental := tally.Day(folded.Date)
	if folded != incremental {
		t.Fatalf("fold %+v != incremental %+v", folded, incremental)
	}
	if folded.TotalTrades != 5 || folded.Wins != 2 || folded.Losses != 2 || folded.Pending != 1 {
		t.Fatalf("unexpected counts %+v", folded)
	}
	if folded.WinRate != 50 {
		t.Fatalf("expected 50%% win rate, got %v", folded.WinRate)
	}
	// 20 - 6 + 4 - 20
	if folded.NetPnL != -2 {
		t.Fatalf("expected net -2, got %v", folded.NetPnL)
	}
	if got := len(l.ClosedForDay(day)); got != 4 {
		t.Fatalf("expected 4 closed trades for the day, got %d", got)
	}
}

func TestSubscribeAfterShutdown(t *testing.T) {
	l := New()
	l.Shutdown()
	ch := l.Subscribe(1)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after shutdown")
	}
	if _, err := l.Open(testEntry("R_100", "x", 100)); err != nil {
		t.Fatalf("ledger should keep working without subscribers: %v", err)
	}
}
