// Package stats derives performance metrics from a closed-trade log. It is
// shared by live reporting and backtests.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/ledger"
)

const (
	tradingDaysPerYear    = 252
	defaultInitialBalance = 1000
)

// Options configures Compute.
type Options struct {
	InitialBalance float64
}

// Metrics summarises a trade log.
type Metrics struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	NetPnL       float64 `json:"net_pnl"`
	Expectancy   float64 `json:"expectancy"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`

	FinalBalance   float64 `json:"final_balance"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	MaxRecoveryMs  int64   `json:"max_recovery_ms"`

	MaxWinStreak  int     `json:"max_win_streak"`
	MaxLossStreak int     `json:"max_loss_streak"`
	AvgWinStreak  float64 `json:"avg_win_streak"`
	AvgLossStreak float64 `json:"avg_loss_streak"`

	TradingDays      int     `json:"trading_days"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Calmar           float64 `json:"calmar"`
	AvgBarsHeld      float64 `json:"avg_bars_held"`
}

// Compute walks trades in exit order and derives Metrics. The input slice is not modified.
func Compute(trades []ledger.Trade, opts Options) Metrics {
	initial := opts.InitialBalance
	if initial <= 0 {
		initial = defaultInitialBalance
	}
	m := Metrics{FinalBalance: initial}
	if len(trades) == 0 {
		return m
	}

	sorted := make([]ledger.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Exit.Ts < sorted[j].Exit.Ts })

	m.TotalTrades = len(sorted)
	// LargestWin and LargestLoss stay 0 when there are no wins or no losses.
	bars := 0
	for _, t := range sorted {
		m.NetPnL += t.PnL
		bars += t.Exit.BarsHeld
		if t.PnL > 0 {
			m.Wins++
			m.GrossProfit += t.PnL
			m.LargestWin = math.Max(m.LargestWin, t.PnL)
		} else {
			m.Losses++
			m.GrossLoss -= t.PnL
			m.LargestLoss = math.Min(m.LargestLoss, t.PnL)
		}
	}

	m.WinRate = float64(m.Wins) / float64(m.TotalTrades) * 100
	m.Expectancy = m.NetPnL / float64(m.TotalTrades)
	m.AvgBarsHeld = float64(bars) / float64(m.TotalTrades)
	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}
	if m.Wins > 0 {
		m.AvgWin = m.GrossProfit / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = m.GrossLoss / float64(m.Losses)
	}

	equityCurve(sorted, initial, &m)
	streaks(sorted, &m)
	ratios(sorted, initial, &m)
	return m
}

func equityCurve(trades []ledger.Trade, initial float64, m *Metrics) {
	balance, peak := initial, initial
	peakTs := trades[0].EntryTs
	inDrawdown := false
	for _, t := range trades {
		balance += t.PnL
		if balance >= peak {
			if inDrawdown {
				if rec := t.Exit.Ts - peakTs; rec > m.MaxRecoveryMs {
					m.MaxRecoveryMs = rec
				}
				inDrawdown = false
			}
			peak = balance
			peakTs = t.Exit.Ts
			continue
		}
		inDrawdown = true
		dd := peak - balance
		if dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
		if peak > 0 {
			if pct := dd / peak * 100; pct > m.MaxDrawdownPct {
				m.MaxDrawdownPct = pct
			}
		}
	}
	m.FinalBalance = balance
}

func streaks(trades []ledger.Trade, m *Metrics) {
	var winRuns, lossRuns []int
	run := 0
	lastWin := trades[0].PnL > 0
	flush := func() {
		if run == 0 {
			return
		}
		if lastWin {
			winRuns = append(winRuns, run)
		} else {
			lossRuns = append(lossRuns, run)
		}
	}
	for _, t := range trades {
		win := t.PnL > 0
		if win != lastWin {
			flush()
			run = 0
			lastWin = win
		}
		run++
	}
	flush()
	m.MaxWinStreak, m.AvgWinStreak = maxAvg(winRuns)
	m.MaxLossStreak, m.AvgLossStreak = maxAvg(lossRuns)
}

func maxAvg(runs []int) (int, float64) {
	if len(runs) == 0 {
		return 0, 0
	}
	best, sum := 0, 0
	for _, r := range runs {
		sum += r
		if r > best {
			best = r
		}
	}
	return best, float64(sum) / float64(len(runs))
}

// DailyReturns buckets PnL by UTC exit date and divides by the initial balance.
// Days without trades are not represented.
func DailyReturns(trades []ledger.Trade, initial float64) []float64 {
	if initial <= 0 {
		initial = defaultInitialBalance
	}
	byDay := make(map[string]float64)
	var days []string
	for _, t := range trades {
		day := time.UnixMilli(t.Exit.Ts).UTC().Format(time.DateOnly)
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] += t.PnL
	}
	sort.Strings(days)
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = byDay[d] / initial
	}
	return out
}

func ratios(trades []ledger.Trade, initial float64, m *Metrics) {
	returns := DailyReturns(trades, initial)
	m.TradingDays = len(returns)
	if len(returns) == 0 {
		return
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	if len(returns) > 1 {
		variance, downside := 0.0, 0.0
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
			if r < 0 {
				downside += r * r
			}
		}
		sd := math.Sqrt(variance / float64(len(returns)-1))
		dd := math.Sqrt(downside / float64(len(returns)))
		if sd > 0 {
			m.Sharpe = mean / sd * math.Sqrt(tradingDaysPerYear)
		}
		if dd > 0 {
			m.Sortino = mean / dd * math.Sqrt(tradingDaysPerYear)
		}
	}

	total := m.NetPnL / initial
	if growth := 1 + total; growth > 0 {
		m.AnnualizedReturn = (math.Pow(growth, tradingDaysPerYear/float64(len(returns))) - 1) * 100
	} else {
		m.AnnualizedReturn = -100
	}
	if m.MaxDrawdownPct > 0 {
		m.Calmar = m.AnnualizedReturn / m.MaxDrawdownPct
	}
}
