package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

// OpenRequest asks the broker for a multiplier contract.
type OpenRequest struct {
	Symbol     string
	Strategy   string
	Direction  signal.Direction
	Stake      float64
	Multiplier float64
	Price      float64 // reference price from the signal
	TakeProfit float64
	StopLoss   float64
}

// Fill is the broker's answer to an accepted order. Filled is false when the
// order was accepted but no contract was opened; the other fields are then empty.
type Fill struct {
	Filled     bool
	ContractID string
	Symbol     string
	Direction  signal.Direction
	Price      float64
	Stake      float64
	Multiplier float64
	Ts         time.Time
}

// CloseFill is the broker's confirmation of a closed contract.
type CloseFill struct {
	ContractID string
	Price      float64
	Ts         time.Time
}

// Broker opens and closes contracts at a venue.
type Broker interface {
	Open(ctx context.Context, req OpenRequest) (Fill, error)
	Close(ctx context.Context, contractID string) (CloseFill, error)
}

// PaperOption customises a PaperBroker.
type PaperOption func(*PaperBroker)

// WithRateLimit caps broker calls per second; burst defaults to 1.
func WithRateLimit(perSecond float64, burst int) PaperOption {
	return func(b *PaperBroker) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLatency delays every call, honouring context cancellation.
func WithLatency(d time.Duration) PaperOption {
	return func(b *PaperBroker) { b.latency = d }
}

// WithMaxSlippage leaves an order unfilled when the mark has moved more than
// pct percent away from the request price. Zero disables the check.
func WithMaxSlippage(pct float64) PaperOption {
	return func(b *PaperBroker) { b.maxSlippage = pct }
}

// WithPaperClock overrides the fill timestamp source.
func WithPaperClock(now func() time.Time) PaperOption {
	return func(b *PaperBroker) { b.now = now }
}

// PaperBroker fills at the last marked price. It is safe for concurrent use.
type PaperBroker struct {
	mu          sync.Mutex
	marks       map[string]float64
	contracts   map[string]Fill
	failNext    []error
	limiter     *rate.Limiter
	latency     time.Duration
	maxSlippage float64
	now         func() time.Time
}

// NewPaperBroker creates a paper broker.
func NewPaperBroker(opts ...PaperOption) *PaperBroker {
	b := &PaperBroker{
		marks:     make(map[string]float64),
		contracts: make(map[string]Fill),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Mark records the latest traded price for symbol.
func (b *PaperBroker) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	b.marks[symbol] = price
	b.mu.Unlock()
}

// FailNext makes the next broker call return err.
func (b *PaperBroker) FailNext(err error) {
	b.mu.Lock()
	b.failNext = append(b.failNext, err)
	b.mu.Unlock()
}

// OpenContracts returns the number of contracts not yet closed.
func (b *PaperBroker) OpenContracts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contracts)
}

func (b *PaperBroker) wait(ctx context.Context) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if b.latency > 0 {
		timer := time.NewTimer(b.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ctx.Err()
}

func (b *PaperBroker) injected() error {
	if len(b.failNext) == 0 {
		return nil
	}
	err := b.failNext[0]
	b.failNext = b.failNext[1:]
	return err
}

// Open fills req at the last mark, or at the request price when no mark exists.
func (b *PaperBroker) Open(ctx context.Context, req OpenRequest) (Fill, error) {
	if err := b.wait(ctx); err != nil {
		return Fill{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injected(); err != nil {
		return Fill{}, err
	}
	if req.Stake <= 0 || req.Multiplier <= 0 {
		return Fill{}, fmt.Errorf("paper: invalid stake %v or multiplier %v", req.Stake, req.Multiplier)
	}
	price, ok := b.marks[req.Symbol]
	if !ok {
		price = req.Price
	}
	if price <= 0 {
		return Fill{}, errors.New("paper: no price for " + req.Symbol)
	}
	if b.maxSlippage > 0 && req.Price > 0 && math.Abs(price-req.Price)/req.Price*100 > b.maxSlippage {
		return Fill{}, nil
	}
	fill := Fill{
		Filled:     true,
		ContractID: uuid.NewString(),
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Price:      price,
		Stake:      req.Stake,
		Multiplier: req.Multiplier,
		Ts:         b.now(),
	}
	b.contracts[fill.ContractID] = fill
	return fill, nil
}

// Close settles contractID at the last mark for its symbol.
func (b *PaperBroker) Close(ctx context.Context, contractID string) (CloseFill, error) {
	if err := b.wait(ctx); err != nil {
		return CloseFill{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injected(); err != nil {
		return CloseFill{}, err
	}
	fill, ok := b.contracts[contractID]
	if !ok {
		return CloseFill{}, fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}
	delete(b.contracts, contractID)
	price, ok := b.marks[fill.Symbol]
	if !ok {
		price = fill.Price
	}
	return CloseFill{ContractID: contractID, Price: price, Ts: b.now()}, nil
}
