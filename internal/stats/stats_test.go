package stats

import (
	"math"
	"testing"
	"time"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/ledger"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func trade(pnl float64, exit time.Time, bars int) ledger.Trade {
	outcome := ledger.Loss
	if pnl > 0 {
		outcome = ledger.Win
	}
	return ledger.Trade{
		Entry:   ledger.Entry{Symbol: "R_100", Stake: 20, EntryTs: exit.Add(-time.Minute).UnixMilli()},
		Exit:    ledger.Exit{Ts: exit.UnixMilli(), BarsHeld: bars},
		PnL:     pnl,
		Outcome: outcome,
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func sampleTrades() []ledger.Trade {
	h := func(n int) time.Time { return day0.Add(time.Duration(n) * time.Hour) }
	// deliberately out of order; chronological pnl is 10, -5, -5, 20, -10
	return []ledger.Trade{
		trade(20, h(26), 4),
		trade(10, h(1), 2),
		trade(-5, h(2), 1),
		trade(-10, h(27), 3),
		trade(-5, h(3), 5),
	}
}

func TestComputeBasics(t *testing.T) {
	m := Compute(sampleTrades(), Options{InitialBalance: 100})
	if m.TotalTrades != 5 || m.Wins != 2 || m.Losses != 3 {
		t.Fatalf("unexpected counts %+v", m)
	}
	if !approx(m.WinRate, 40) || !approx(m.ProfitFactor, 1.5) || !approx(m.Expectancy, 2) {
		t.Fatalf("winRate=%v pf=%v expectancy=%v", m.WinRate, m.ProfitFactor, m.Expectancy)
	}
	if !approx(m.AvgWin, 15) || !approx(m.AvgLoss, 20.0/3) {
		t.Fatalf("avgWin=%v avgLoss=%v", m.AvgWin, m.AvgLoss)
	}
	if m.LargestWin != 20 || m.LargestLoss != -10 {
		t.Fatalf("largest win/loss %v/%v", m.LargestWin, m.LargestLoss)
	}
	if !approx(m.AvgBarsHeld, 3) {
		t.Fatalf("avg bars %v", m.AvgBarsHeld)
	}
	if !approx(m.FinalBalance, 110) {
		t.Fatalf("final balance %v", m.FinalBalance)
	}
}

func TestComputeDrawdownAndRecovery(t *testing.T) {
	m := Compute(sampleTrades(), Options{InitialBalance: 100})
	if !approx(m.MaxDrawdown, 10) {
		t.Fatalf("max drawdown %v", m.MaxDrawdown)
	}
	if !approx(m.MaxDrawdownPct, 10.0/110*100) {
		t.Fatalf("max drawdown pct %v", m.MaxDrawdownPct)
	}
	// peak at h(1), recovered at h(26)
	if want := int64(25 * time.Hour / time.Millisecond); m.MaxRecoveryMs != want {
		t.Fatalf("recovery %d want %d", m.MaxRecoveryMs, want)
	}
}

func TestComputeStreaks(t *testing.T) {
	m := Compute(sampleTrades(), Options{InitialBalance: 100})
	if m.MaxWinStreak != 1 || m.MaxLossStreak != 2 {
		t.Fatalf("streaks win=%d loss=%d", m.MaxWinStreak, m.MaxLossStreak)
	}
	if !approx(m.AvgWinStreak, 1) || !approx(m.AvgLossStreak, 1.5) {
		t.Fatalf("avg streaks win=%v loss=%v", m.AvgWinStreak, m.AvgLossStreak)
	}
}

func TestComputeRatios(t *testing.T) {
	m := Compute(sampleTrades(), Options{InitialBalance: 100})
	// day one nets 0, day two nets +10
	if m.TradingDays != 2 {
		t.Fatalf("trading days %d", m.TradingDays)
	}
	wantSharpe := 0.05 / math.Sqrt(0.005) * math.Sqrt(252)
	if !approx(m.Sharpe, wantSharpe) {
		t.Fatalf("sharpe %v want %v", m.Sharpe, wantSharpe)
	}
	if m.Sortino != 0 {
		t.Fatalf("no losing day means no downside deviation, got %v", m.Sortino)
	}
	wantAnn := (math.Pow(1.1, 126) - 1) * 100
	if math.Abs(m.AnnualizedReturn-wantAnn)/wantAnn > 1e-9 {
		t.Fatalf("annualized %v want %v", m.AnnualizedReturn, wantAnn)
	}
	if !approx(m.Calmar, m.AnnualizedReturn/m.MaxDrawdownPct) {
		t.Fatalf("calmar %v", m.Calmar)
	}
}

func TestProfitFactorEdgeCases(t *testing.T) {
	allWins := []ledger.Trade{trade(5, day0, 1), trade(3, day0.Add(time.Hour), 1)}
	if m := Compute(allWins, Options{}); !math.IsInf(m.ProfitFactor, 1) {
		t.Fatalf("expected +Inf profit factor, got %v", m.ProfitFactor)
	}
	flat := []ledger.Trade{trade(0, day0, 1)}
	m := Compute(flat, Options{})
	if m.ProfitFactor != 0 || m.Losses != 1 {
		t.Fatalf("flat trade: pf=%v losses=%d", m.ProfitFactor, m.Losses)
	}
}

func TestLargestWinLossOneSided(t *testing.T) {
	losses := Compute([]ledger.Trade{trade(-5, day0, 1), trade(-8, day0.Add(time.Hour), 1)}, Options{})
	if losses.LargestWin != 0 || losses.LargestLoss != -8 {
		t.Fatalf("all losses: largest win/loss %v/%v", losses.LargestWin, losses.LargestLoss)
	}
	wins := Compute([]ledger.Trade{trade(3, day0, 1), trade(7, day0.Add(time.Hour), 1)}, Options{})
	if wins.LargestWin != 7 || wins.LargestLoss != 0 {
		t.Fatalf("all wins: largest win/loss %v/%v", wins.LargestWin, wins.LargestLoss)
	}
}

func TestComputeEmpty(t *testing.T) {
	m := Compute(nil, Options{InitialBalance: 500})
	if m.TotalTrades != 0 || m.FinalBalance != 500 || m.WinRate != 0 {
		t.Fatalf("unexpected empty metrics %+v", m)
	}
}

func TestComputeDoesNotReorderInput(t *testing.T) {
	trades := sampleTrades()
	first := trades[0].PnL
	_ = Compute(trades, Options{})
	if trades[0].PnL != first {
		t.Fatalf("input slice was modified")
	}
}
