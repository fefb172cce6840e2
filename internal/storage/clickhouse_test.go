package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/ledger"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

type capture struct {
	batches [][]eventRow
	fail    error
}

func (c *capture) write(_ context.Context, rows []eventRow) error {
	if c.fail != nil {
		return c.fail
	}
	c.batches = append(c.batches, append([]eventRow(nil), rows...))
	return nil
}

func testEvent(seq uint64, typ ledger.EventType) ledger.Event {
	ev := ledger.Event{
		Seq:  seq,
		Type: typ,
		Position: ledger.Position{Entry: ledger.Entry{
			ID: "p1", Symbol: "R_100", Strategy: "classic", Direction: signal.Long,
			EntryPrice: 100, EntryTs: 1_700_000_000_000, Stake: 10, Multiplier: 100,
		}},
	}
	if typ == ledger.EventClosed {
		ev.Trade = &ledger.Trade{
			Entry:   ev.Position.Entry,
			Exit:    ledger.Exit{Price: 102, Ts: 1_700_000_060_000, Reason: ledger.TakeProfit},
			PnL:     20,
			Outcome: ledger.Win,
		}
	}
	return ev
}

func TestSinkBatchesAndFlushesOnClose(t *testing.T) {
	c := &capture{}
	s := newSink(c.write, WithBatchSize(2))
	ctx := context.Background()

	if err := s.Record(ctx, testEvent(1, ledger.EventOpened)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(c.batches) != 0 {
		t.Fatalf("expected buffering, got %d batches", len(c.batches))
	}
	if err := s.Record(ctx, testEvent(2, ledger.EventUpdated)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(c.batches) != 0 {
		t.Fatal("updates should be skipped by default")
	}
	if err := s.Record(ctx, testEvent(3, ledger.EventClosed)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(c.batches) != 1 || len(c.batches[0]) != 2 {
		t.Fatalf("expected one batch of 2 rows, got %+v", c.batches)
	}
	closed := c.batches[0][1]
	if closed.Type != "position:closed" || closed.PnL != 20 || closed.Outcome != "WIN" || closed.ExitReason != "TAKE_PROFIT" {
		t.Fatalf("unexpected closed row %+v", closed)
	}
	if closed.ExitTime.UnixMilli() != 1_700_000_060_000 || closed.EntryTime.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("unexpected times %v %v", closed.EntryTime, closed.ExitTime)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Record(ctx, testEvent(4, ledger.EventOpened)); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}

func TestSinkKeepsRowsOnWriteFailure(t *testing.T) {
	c := &capture{fail: errors.New("down")}
	s := newSink(c.write, WithBatchSize(10), WithUpdates(true))
	ctx := context.Background()

	_ = s.Record(ctx, testEvent(1, ledger.EventOpened))
	_ = s.Record(ctx, testEvent(2, ledger.EventUpdated))
	if err := s.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}
	c.fail = nil
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(c.batches) != 1 || len(c.batches[0]) != 2 {
		t.Fatalf("expected retained rows to flush, got %+v", c.batches)
	}
	if c.batches[0][1].Type != "position:updated" {
		t.Fatalf("expected update row kept, got %s", c.batches[0][1].Type)
	}
}

func TestSinkBoundsRetainedRows(t *testing.T) {
	c := &capture{fail: errors.New("down")}
	s := newSink(c.write, WithBatchSize(2), WithMaxBuffered(3))
	ctx := context.Background()

	for seq := uint64(1); seq <= 6; seq++ {
		_ = s.Record(ctx, testEvent(seq, ledger.EventOpened))
	}
	if got := s.Buffered(); got != 3 {
		t.Fatalf("expected 3 retained rows, got %d", got)
	}
	if got := s.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped rows, got %d", got)
	}

	c.fail = nil
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(c.batches) != 1 || len(c.batches[0]) != 3 {
		t.Fatalf("expected one batch of 3 rows, got %+v", c.batches)
	}
	if c.batches[0][0].Seq != 4 || c.batches[0][2].Seq != 6 {
		t.Fatalf("expected the newest rows kept, got seq %d..%d", c.batches[0][0].Seq, c.batches[0][2].Seq)
	}
}

func TestNewClickHouseSinkBadDSN(t *testing.T) {
	if _, err := NewClickHouseSink("://not-a-dsn"); err == nil {
		t.Fatal("expected dsn parse error")
	}
}
