package ledger

import (
	"context"

	"github.com/rs/zerolog"
)

// Subscribe returns a channel receiving every lifecycle event from now on.
// Delivery blocks until the subscriber receives, so subscribers must keep
// draining. The channel is closed by Shutdown.
func (l *Ledger) Subscribe(buffer int) <-chan Event {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		close(ch)
		return ch
	}
	l.subs = append(l.subs, ch)
	return ch
}

// Shutdown closes every subscription. Later events are not delivered.
func (l *Ledger) Shutdown() {
	l.flush()
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.done = true
	l.outbox = nil
	l.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

func (l *Ledger) publishLocked(ev Event) {
	if l.done {
		return
	}
	l.seq++
	ev.Seq = l.seq
	l.outbox = append(l.outbox, ev)
}

// flush delivers queued events in sequence order without holding the state lock.
func (l *Ledger) flush() {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	l.mu.Lock()
	batch := l.outbox
	l.outbox = nil
	subs := l.subs
	l.mu.Unlock()
	for _, ev := range batch {
		for _, ch := range subs {
			ch <- ev
		}
	}
}

// Sink persists lifecycle events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Pump drains ch into sink until ch is closed or ctx is done. Sink errors are
// logged and do not stop the pump.
func Pump(ctx context.Context, ch <-chan Event, sink Sink, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sink.Record(ctx, ev); err != nil {
				log.Warn().Err(err).Uint64("seq", ev.Seq).Str("type", string(ev.Type)).Msg("event sink failed")
			}
		}
	}
}

// Fanout records every event into each sink in order, returning the first error.
type Fanout []Sink

// Record implements Sink.
func (f Fanout) Record(ctx context.Context, ev Event) error {
	var first error
	for _, s := range f {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Tally accumulates DailyStats incrementally from closed and opened events.
// It must agree with Ledger.DailyStats for the same history.
type Tally struct {
	days map[string]*DailyStats
}

// NewTally creates an empty tally.
func NewTally() *Tally { return &Tally{days: make(map[string]*DailyStats)} }

// Apply folds one event into the tally.
func (t *Tally) Apply(ev Event) {
	date := dayKey(ev.Position.EntryTime())
	day, ok := t.days[date]
	if !ok {
		day = &DailyStats{Date: date}
		t.days[date] = day
	}
	switch ev.Type {
	case EventOpened:
		day.addPending(ev.Position.Entry)
	case EventClosed:
		if ev.Trade == nil {
			return
		}
		day.TotalTrades--
		day.Pending--
		day.TotalStake -= ev.Trade.Stake
		day.addTrade(*ev.Trade)
	}
}

// Record implements Sink so a tally can sit behind Pump.
func (t *Tally) Record(_ context.Context, ev Event) error {
	t.Apply(ev)
	return nil
}

// Day returns the accumulated stats for the UTC date string (YYYY-MM-DD).
func (t *Tally) Day(date string) DailyStats {
	day, ok := t.days[date]
	if !ok {
		return DailyStats{Date: date}
	}
	out := *day
	out.finish()
	return out
}
