package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (f *Feed) binanceStreamURL(symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	return fmt.Sprintf("%s?streams=%s", f.binanceURL, strings.Join(streams, "/"))
}

func (f *Feed) runBinance(ctx context.Context, out chan<- signal.Tick) error {
	symbols := f.Symbols()
	if len(symbols) == 0 {
		return errors.New("binance feed requires at least one symbol")
	}
	url := f.binanceStreamURL(symbols)
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 1.8, Jitter: true}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := f.consumeBinanceStream(ctx, url, symbols, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.Duration()
		f.log.Warn().Err(err).Dur("retry_in", wait).Float64("attempt", b.Attempt()).Msg("binance feed disconnected, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consumeBinanceStream reads one connection until it fails. connected reports
// whether the handshake succeeded, which resets the reconnect backoff.
func (f *Feed) consumeBinanceStream(ctx context.Context, url string, symbols []string, out chan<- signal.Tick) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", symbols).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				// unblock ReadMessage on shutdown
				_ = conn.SetReadDeadline(time.Now())
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		tick, err := decodeBinanceTrade(message)
		if err != nil {
			f.log.Warn().Err(err).Msg("dropping binance message")
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func decodeBinanceTrade(message []byte) (signal.Tick, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return signal.Tick{}, fmt.Errorf("decode: %w", err)
	}
	px, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("price %q: %w", env.Data.Price, err)
	}
	qty, err := strconv.ParseFloat(env.Data.Quantity, 64)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("quantity %q: %w", env.Data.Quantity, err)
	}
	side := 1
	if env.Data.IsBuyerMaker {
		side = -1
	}
	return signal.Tick{
		Symbol: parseBinanceSymbol(env.Stream),
		Price:  px,
		Size:   qty,
		Side:   side,
		Ts:     time.UnixMilli(env.Data.TradeTime).UTC(),
	}, nil
}

func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
