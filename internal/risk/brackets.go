package risk

import "github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"

// Brackets places take-profit and stop-loss levels around an entry. ATR
// multiples win over percentages when both the multiple and the ATR are set.
type Brackets struct {
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitATR float64 `yaml:"take_profit_atr"`
	StopLossATR   float64 `yaml:"stop_loss_atr"`
}

// Levels returns the TP and SL prices for an entry. A zero level means no bracket.
func (b Brackets) Levels(dir signal.Direction, entry, atr float64) (tp, sl float64) {
	sign := dir.Sign()
	switch {
	case b.TakeProfitATR > 0 && atr > 0:
		tp = entry + sign*b.TakeProfitATR*atr
	case b.TakeProfitPct > 0:
		tp = entry * (1 + sign*b.TakeProfitPct/100)
	}
	switch {
	case b.StopLossATR > 0 && atr > 0:
		sl = entry - sign*b.StopLossATR*atr
	case b.StopLossPct > 0:
		sl = entry * (1 - sign*b.StopLossPct/100)
	}
	return tp, sl
}

// BracketHit names the bracket a price range touched.
type BracketHit int

const (
	NoHit BracketHit = iota
	StopLossHit
	TakeProfitHit
)

// Hit reports which bracket a candle range touched, stop-loss first, with the trigger level.
func Hit(dir signal.Direction, tp, sl, high, low float64) (BracketHit, float64) {
	if dir == signal.Short {
		if sl > 0 && high >= sl {
			return StopLossHit, sl
		}
		if tp > 0 && low <= tp {
			return TakeProfitHit, tp
		}
		return NoHit, 0
	}
	if sl > 0 && low <= sl {
		return StopLossHit, sl
	}
	if tp > 0 && high >= tp {
		return TakeProfitHit, tp
	}
	return NoHit, 0
}
