package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

func TestFeedRunEmitsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderStub, []string{"R_100"}, zerolog.Nop(), WithStubInterval(10*time.Millisecond))
	ticks := make(chan signal.Tick, 1)

	go func() {
		_ = feed.Run(ctx, ticks)
	}()

	select {
	case tk := <-ticks:
		if tk.Symbol != "R_100" {
			t.Fatalf("unexpected symbol %s", tk.Symbol)
		}
		if tk.Price <= 0 {
			t.Fatalf("expected positive price, got %v", tk.Price)
		}
		cancel()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func collectStub(t *testing.T, seed uint64, n int) []float64 {
	t.Helper()
	feed := NewFeed(ProviderStub, []string{"frxEURUSD", "R_100"}, zerolog.Nop(),
		WithStubInterval(time.Millisecond), WithStubWalk(seed, 1.1, 0.002), WithStubLimit(n))
	ticks := make(chan signal.Tick, 2*n)
	if err := feed.Run(context.Background(), ticks); err != nil {
		t.Fatalf("stub run: %v", err)
	}
	close(ticks)
	var out []float64
	for tk := range ticks {
		out = append(out, tk.Price)
	}
	return out
}

func TestStubWalkIsDeterministic(t *testing.T) {
	a := collectStub(t, 42, 20)
	b := collectStub(t, 42, 20)
	c := collectStub(t, 7, 20)
	if len(a) != 40 || len(b) != 40 {
		t.Fatalf("expected 40 ticks, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d differs for the same seed: %v vs %v", i, a[i], b[i])
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical walks")
	}
}

func TestSetSymbolsDedupes(t *testing.T) {
	feed := NewFeed("", []string{" BTCUSDT", "BTCUSDT", "", "ETHUSDT"}, zerolog.Nop())
	got := feed.Symbols()
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Fatalf("unexpected symbols %v", got)
	}
	if feed.Provider() != ProviderStub {
		t.Fatalf("expected stub default, got %s", feed.Provider())
	}
}

func TestParseBinanceSymbol(t *testing.T) {
	cases := map[string]string{
		"btcusdt@trade":    "BTCUSDT",
		"ethusdt@aggTrade": "ETHUSDT",
		"dogeusdt":         "DOGEUSDT",
		"":                 "",
	}
	for stream, expected := range cases {
		if got := parseBinanceSymbol(stream); got != expected {
			t.Fatalf("expected %s got %s", expected, got)
		}
	}
}

func TestDecodeBinanceTrade(t *testing.T) {
	tk, err := decodeBinanceTrade([]byte(`{"stream":"btcusdt@trade","data":{"p":"65000.5","q":"0.01","T":1700000000123,"m":true}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tk.Symbol != "BTCUSDT" || tk.Price != 65000.5 || tk.Size != 0.01 || tk.Side != -1 {
		t.Fatalf("unexpected tick %+v", tk)
	}
	if tk.TimestampMs() != 1700000000123 {
		t.Fatalf("unexpected ts %d", tk.TimestampMs())
	}
	if _, err := decodeBinanceTrade([]byte(`{"stream":"btcusdt@trade","data":{"p":"x","q":"1","T":1}}`)); err == nil {
		t.Fatal("expected bad price to fail")
	}
}

func TestBinanceFeedReadsAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns <- r.URL.Query().Get("streams")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"ethusdt@trade","data":{"p":"3000","q":"2","T":1700000000000,"m":false}}`))
		// drop the connection so the feed has to reconnect
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderBinance, []string{"ethusdt"}, zerolog.Nop(), WithBinanceURL("ws"+strings.TrimPrefix(server.URL, "http")))
	ticks := make(chan signal.Tick, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- feed.Run(ctx, ticks) }()

	select {
	case tk := <-ticks:
		if tk.Symbol != "ETHUSDT" || tk.Price != 3000 || tk.Side != 1 {
			t.Fatalf("unexpected tick %+v", tk)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for binance tick")
	}
	if streams := <-conns; streams != "ethusdt@trade" {
		t.Fatalf("unexpected streams query %q", streams)
	}

	select {
	case <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not reconnect")
	}
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("feed did not stop after cancel")
	}
}

func TestBinanceRequiresSymbols(t *testing.T) {
	feed := NewFeed(ProviderBinance, nil, zerolog.Nop())
	if err := feed.Run(context.Background(), make(chan signal.Tick)); err == nil {
		t.Fatal("expected error without symbols")
	}
}

func TestStubReplayStampsTicks(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	feed := NewFeed(ProviderStub, []string{"R_100"}, zerolog.Nop(),
		WithStubReplay(start, 15*time.Second), WithStubLimit(8))
	ticks := make(chan signal.Tick, 8)
	if err := feed.Run(context.Background(), ticks); err != nil {
		t.Fatalf("replay run: %v", err)
	}
	close(ticks)
	n := 0
	for tk := range ticks {
		want := start.Add(time.Duration(n) * 15 * time.Second)
		if !tk.Ts.Equal(want) {
			t.Fatalf("tick %d stamped %v, want %v", n, tk.Ts, want)
		}
		n++
	}
	if n != 8 {
		t.Fatalf("expected 8 ticks, got %d", n)
	}
}
