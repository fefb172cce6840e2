package ledger

import (
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/candle"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/risk"
)

// CandleExit applies the exit priority to pos at the close of c: stop-loss,
// take-profit, the strategy's early exit, then the max-hold timeout.
// Bracket exits fill at the trigger level; the others fill at the close.
func CandleExit(pos Position, c candle.Candle, barsHeld int, strategyExit bool) (Exit, bool) {
	x := Exit{Ts: c.End(), BarsHeld: barsHeld}
	hit, level := risk.Hit(pos.Direction, pos.TakeProfit, pos.StopLoss, c.High, c.Low)
	switch {
	case hit == risk.StopLossHit:
		x.Price, x.Reason = level, StopLoss
	case hit == risk.TakeProfitHit:
		x.Price, x.Reason = level, TakeProfit
	case strategyExit:
		x.Price, x.Reason = c.Close, SignalExit
	case pos.MaxHoldBars > 0 && barsHeld >= pos.MaxHoldBars:
		x.Price, x.Reason = c.Close, Timeout
	default:
		return Exit{}, false
	}
	return x, true
}

// TickExit checks the brackets against a single traded price.
func TickExit(pos Position, price float64, ts int64) (Exit, bool) {
	hit, level := risk.Hit(pos.Direction, pos.TakeProfit, pos.StopLoss, price, price)
	switch hit {
	case risk.StopLossHit:
		return Exit{Price: level, Ts: ts, Reason: StopLoss, BarsHeld: pos.BarsHeld}, true
	case risk.TakeProfitHit:
		return Exit{Price: level, Ts: ts, Reason: TakeProfit, BarsHeld: pos.BarsHeld}, true
	}
	return Exit{}, false
}
