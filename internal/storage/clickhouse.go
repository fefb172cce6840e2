// Package storage persists position lifecycle events to ClickHouse.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/ledger"
)

const (
	defaultBatchSize   = 256
	defaultMaxBuffered = 64 * defaultBatchSize
)

// CreateTableSQL is the schema Migrate applies.
const CreateTableSQL = `
CREATE TABLE IF NOT EXISTS position_event (
	seq          UInt64,
	type         LowCardinality(String),
	position_id  String,
	contract_id  String,
	symbol       LowCardinality(String),
	strategy     LowCardinality(String),
	direction    LowCardinality(String),
	entry_price  Float64,
	entry_time   DateTime64(3, 'UTC'),
	stake        Float64,
	multiplier   Float64,
	take_profit  Float64,
	stop_loss    Float64,
	last_price   Float64,
	unrealized   Float64,
	exit_price   Float64,
	exit_time    DateTime64(3, 'UTC'),
	exit_reason  LowCardinality(String),
	pnl          Float64,
	outcome      LowCardinality(String),
	inserted_at  DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (symbol, strategy, entry_time, seq)`

const insertSQL = `
	INSERT INTO position_event (
		seq, type, position_id, contract_id, symbol, strategy, direction,
		entry_price, entry_time, stake, multiplier, take_profit, stop_loss,
		last_price, unrealized, exit_price, exit_time, exit_reason, pnl, outcome,
		inserted_at
	)
`

// ErrSinkClosed is returned by Record after Close.
var ErrSinkClosed = errors.New("storage: sink closed")

// eventRow is one position_event row.
type eventRow struct {
	Seq        uint64
	Type       string
	PositionID string
	ContractID string
	Symbol     string
	Strategy   string
	Direction  string
	EntryPrice float64
	EntryTime  time.Time
	Stake      float64
	Multiplier float64
	TakeProfit float64
	StopLoss   float64
	LastPrice  float64
	Unrealized float64
	ExitPrice  float64
	ExitTime   time.Time
	ExitReason string
	PnL        float64
	Outcome    string
}

func rowFromEvent(ev ledger.Event) eventRow {
	p := ev.Position
	r := eventRow{
		Seq:        ev.Seq,
		Type:       string(ev.Type),
		PositionID: p.ID,
		ContractID: p.ContractID,
		Symbol:     p.Symbol,
		Strategy:   p.Strategy,
		Direction:  string(p.Direction),
		EntryPrice: p.EntryPrice,
		EntryTime:  p.EntryTime(),
		Stake:      p.Stake,
		Multiplier: p.Multiplier,
		TakeProfit: p.TakeProfit,
		StopLoss:   p.StopLoss,
		LastPrice:  p.LastPrice,
		Unrealized: p.Unrealized,
		ExitTime:   time.UnixMilli(0).UTC(),
	}
	if t := ev.Trade; t != nil {
		r.ExitPrice = t.Exit.Price
		r.ExitTime = time.UnixMilli(t.Exit.Ts).UTC()
		r.ExitReason = string(t.Exit.Reason)
		r.PnL = t.PnL
		r.Outcome = string(t.Outcome)
	}
	return r
}

// writeFunc sends one batch of rows.
type writeFunc func(ctx context.Context, rows []eventRow) error

// Option configures a ClickHouseSink.
type Option func(*ClickHouseSink)

// WithBatchSize sets how many rows are buffered before an automatic flush.
func WithBatchSize(n int) Option {
	return func(s *ClickHouseSink) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxBuffered caps the rows kept while writes fail. Once exceeded the
// oldest rows are dropped. Values below the batch size are raised to it.
func WithMaxBuffered(n int) Option {
	return func(s *ClickHouseSink) {
		if n > 0 {
			s.maxBuffered = n
		}
	}
}

// WithUpdates controls whether position:updated mark events are persisted.
// They are skipped by default since every tick produces one.
func WithUpdates(keep bool) Option {
	return func(s *ClickHouseSink) { s.keepUpdates = keep }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *ClickHouseSink) { s.log = log }
}

// ClickHouseSink is a ledger.Sink buffering events into batch inserts.
// It is safe for concurrent use.
type ClickHouseSink struct {
	conn        driver.Conn
	write       writeFunc
	batchSize   int
	maxBuffered int
	keepUpdates bool
	log         zerolog.Logger

	mu      sync.Mutex
	buf     []eventRow
	dropped int
	closed  bool
}

// NewClickHouseSink parses dsn, opens a connection and verifies it with a ping.
// Returns an error if the server cannot be reached within 5 seconds.
func NewClickHouseSink(dsn string, opts ...Option) (*ClickHouseSink, error) {
	chOpts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(chOpts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s := newSink(nil, opts...)
	s.conn = conn
	s.write = s.sendBatch
	return s, nil
}

func newSink(write writeFunc, opts ...Option) *ClickHouseSink {
	s := &ClickHouseSink{
		write:     write,
		batchSize:   defaultBatchSize,
		maxBuffered: defaultMaxBuffered,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxBuffered < s.batchSize {
		s.maxBuffered = s.batchSize
	}
	return s
}

// Migrate creates the position_event table if it does not exist.
func (s *ClickHouseSink) Migrate(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("storage: no connection")
	}
	return s.conn.Exec(ctx, CreateTableSQL)
}

// Record buffers ev and flushes once the batch is full. It implements ledger.Sink.
func (s *ClickHouseSink) Record(ctx context.Context, ev ledger.Event) error {
	if ev.Type == ledger.EventUpdated && !s.keepUpdates {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.buf = append(s.buf, rowFromEvent(ev))
	// closes are flushed right away so realized trades are never held back
	if len(s.buf) >= s.batchSize || ev.Type == ledger.EventClosed {
		return s.flushLocked(ctx)
	}
	return nil
}

// Flush sends whatever is buffered.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *ClickHouseSink) flushLocked(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := s.write(ctx, s.buf); err != nil {
		// rows stay buffered for the next attempt, up to maxBuffered
		if over := len(s.buf) - s.maxBuffered; over > 0 {
			s.buf = append(s.buf[:0], s.buf[over:]...)
			s.dropped += over
			s.log.Warn().
				Int("dropped", over).
				Int("dropped_total", s.dropped).
				Int("buffered", len(s.buf)).
				Msg("event buffer full, oldest rows dropped")
		}
		return err
	}
	s.log.Debug().Int("rows", len(s.buf)).Msg("flushed position events")
	s.buf = s.buf[:0]
	return nil
}

// Dropped returns how many rows were discarded because the buffer was full.
func (s *ClickHouseSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Buffered returns the rows waiting to be written.
func (s *ClickHouseSink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Close flushes pending rows and releases the connection.
func (s *ClickHouseSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.flushLocked(ctx)
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}

// sendBatch inserts rows using a ClickHouse batch; all rows share inserted_at.
func (s *ClickHouseSink) sendBatch(ctx context.Context, rows []eventRow) error {
	batch, err := s.conn.PrepareBatch(ctx, insertSQL)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range rows {
		err := batch.Append(
			r.Seq, r.Type, r.PositionID, r.ContractID, r.Symbol, r.Strategy, r.Direction,
			r.EntryPrice, r.EntryTime, r.Stake, r.Multiplier, r.TakeProfit, r.StopLoss,
			r.LastPrice, r.Unrealized, r.ExitPrice, r.ExitTime, r.ExitReason, r.PnL, r.Outcome,
			now,
		)
		if err != nil {
			_ = batch.Abort()
			return err
		}
	}
	return batch.Send()
}
