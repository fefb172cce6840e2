package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCounter struct {
	perAsset map[string]int
	total    int
}

func (f fakeCounter) CountOpen(symbol string) int { return f.perAsset[symbol] }
func (f fakeCounter) CountAll() int               { return f.total }

func TestAcquireRelease(t *testing.T) {
	g := New(Limits{}, nil)
	if !g.Acquire("R_75") {
		t.Fatalf("first acquire must succeed")
	}
	if g.Acquire("R_75") {
		t.Fatalf("second acquire must fail")
	}
	if !g.Acquire("R_50") {
		t.Fatalf("other keys are independent")
	}
	g.Release("R_75")
	if !g.Acquire("R_75") {
		t.Fatalf("acquire after release must succeed")
	}
	g.Release("missing")
}

func TestCanOpenLimits(t *testing.T) {
	g := New(Limits{MaxPerAsset: 1, MaxTotal: 3}, fakeCounter{perAsset: map[string]int{"A": 1}, total: 1})
	if d := g.CanOpen("A/s", "A"); d.Allowed || d.Reason != ReasonMaxPerAsset {
		t.Fatalf("expected max_per_asset, got %+v", d)
	}
	if d := g.CanOpen("B/s", "B"); !d.Allowed {
		t.Fatalf("expected B allowed, got %+v", d)
	}
	g = New(Limits{MaxTotal: 1}, fakeCounter{total: 1})
	if d := g.CanOpen("B/s", "B"); d.Allowed || d.Reason != ReasonMaxTotal {
		t.Fatalf("expected max_total, got %+v", d)
	}
	g = New(Limits{}, nil)
	g.Acquire("C/s")
	if d := g.CanOpen("C/s", "C"); d.Allowed || d.Reason != ReasonLocked {
		t.Fatalf("expected locked, got %+v", d)
	}
}

func TestDoReleasesOnErrorAndPanic(t *testing.T) {
	g := New(Limits{}, nil)
	boom := errors.New("broker down")
	if err := g.Do(context.Background(), "X", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if g.Held("X") {
		t.Fatalf("lock leaked after error")
	}

	func() {
		defer func() { _ = recover() }()
		_ = g.Do(context.Background(), "X", func(context.Context) error { panic("bug") })
	}()
	if g.Held("X") {
		t.Fatalf("lock leaked after panic")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Do(ctx, "X", func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestLockExclusivityUnderContention(t *testing.T) {
	g := New(Limits{}, nil)
	const attempts = 10
	var (
		wg       sync.WaitGroup
		opened   atomic.Int32
		rejected atomic.Int32
		start    = make(chan struct{})
		release  = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := g.Do(context.Background(), "X", func(context.Context) error {
				opened.Add(1)
				<-release
				return nil
			})
			if errors.Is(err, ErrLocked) {
				rejected.Add(1)
			}
		}()
	}
	close(start)
	deadline := time.After(2 * time.Second)
	for opened.Load()+rejected.Load() < attempts {
		select {
		case <-deadline:
			t.Fatalf("timed out: opened=%d rejected=%d", opened.Load(), rejected.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(release)
	wg.Wait()
	if opened.Load() != 1 || rejected.Load() != attempts-1 {
		t.Fatalf("expected 1 opened / %d rejected, got %d / %d", attempts-1, opened.Load(), rejected.Load())
	}
}
