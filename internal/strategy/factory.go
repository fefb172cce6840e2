package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/indicator"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

// Params expresses tunable knobs required by rule constructors.
type Params struct {
	MinPullbackBars int     `yaml:"min_pullback_bars"`
	WindowTimeout   int     `yaml:"window_timeout"`
	ADXMin          float64 `yaml:"adx_min"`
	RSIOversold     float64 `yaml:"rsi_oversold"`
	RSIOverbought   float64 `yaml:"rsi_overbought"`
	ExitOnReversal  bool    `yaml:"exit_on_reversal"`
}

func (p Params) withDefaults() Params {
	if p.MinPullbackBars <= 0 {
		p.MinPullbackBars = 2
	}
	if p.WindowTimeout <= 0 {
		p.WindowTimeout = 5
	}
	if p.ADXMin <= 0 {
		p.ADXMin = 20
	}
	if p.RSIOversold <= 0 {
		p.RSIOversold = 30
	}
	if p.RSIOverbought <= 0 {
		p.RSIOverbought = 70
	}
	return p
}

type builder func(Params) Rules

var registry = map[string]builder{
	"pullback":    Pullback,
	"bb_reversal": BBReversal,
}

var aliases = map[string]string{
	"":               "pullback",
	"trend":          "pullback",
	"trend_pullback": "pullback",
	"ema_pullback":   "pullback",
	"reversal":       "bb_reversal",
	"mean_reversion": "bb_reversal",
}

// Build returns the rule set registered under name.
func Build(name string, params Params) (Rules, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	b, ok := registry[key]
	if !ok {
		return Rules{}, fmt.Errorf("unknown strategy %q", name)
	}
	rules := b(params.withDefaults())
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Names lists the registered strategies.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Pullback arms on a fast/slow EMA crossover with ADX trend strength, waits for a counter-trend
// pullback that keeps price on the right side of the slow EMA, then enters on a break of the
// pullback extreme.
func Pullback(p Params) Rules {
	p = p.withDefaults()
	adxOK := func(in Input) bool {
		adx, ok := in.Value(indicator.ADX)
		return ok && adx >= p.ADXMin
	}
	return Rules{
		Name:     "pullback",
		Requires: []indicator.ID{indicator.EMAFast, indicator.EMASlow, indicator.ADX},
		Settings: Settings{MinPullbackBars: p.MinPullbackBars, WindowTimeout: p.WindowTimeout},
		Arm: func(in Input) (signal.Direction, bool) {
			fast, _ := in.Value(indicator.EMAFast)
			slow, _ := in.Value(indicator.EMASlow)
			pf, ok1 := in.PrevValue(indicator.EMAFast)
			ps, ok2 := in.PrevValue(indicator.EMASlow)
			if !ok1 || !ok2 || !adxOK(in) {
				return "", false
			}
			switch {
			case pf <= ps && fast > slow:
				return signal.Long, true
			case pf >= ps && fast < slow:
				return signal.Short, true
			}
			return "", false
		},
		Pullback: func(in Input, st State) bool {
			if st.Direction == signal.Short {
				return in.Candle.Close > in.Candle.Open
			}
			return in.Candle.Close < in.Candle.Open
		},
		Invalidated: func(in Input, st State) bool {
			fast, _ := in.Value(indicator.EMAFast)
			slow, _ := in.Value(indicator.EMASlow)
			if st.Direction == signal.Short {
				return fast > slow || in.Candle.Close > slow
			}
			return fast < slow || in.Candle.Close < slow
		},
		Breakout: func(in Input, st State) float64 {
			if st.Direction == signal.Short {
				return st.PullbackLow
			}
			return st.PullbackHigh
		},
		Filter: func(in Input, st State) bool { return adxOK(in) },
		Exit: func(in Input, h Holding) (string, bool) {
			if !p.ExitOnReversal {
				return "", false
			}
			fast, _ := in.Value(indicator.EMAFast)
			slow, _ := in.Value(indicator.EMASlow)
			if h.Direction == signal.Long && fast < slow {
				return "ema_cross_back", true
			}
			if h.Direction == signal.Short && fast > slow {
				return "ema_cross_back", true
			}
			return "", false
		},
	}
}

// BBReversal arms when price closes outside a Bollinger band with RSI at an extreme, waits for
// closes back inside the band that stay short of the middle, and enters on a break of the
// confirmation range towards the mean.
func BBReversal(p Params) Rules {
	p = p.withDefaults()
	return Rules{
		Name:     "bb_reversal",
		Requires: []indicator.ID{indicator.BBUpper, indicator.BBMiddle, indicator.BBLower, indicator.RSI},
		Settings: Settings{MinPullbackBars: p.MinPullbackBars, WindowTimeout: p.WindowTimeout},
		Arm: func(in Input) (signal.Direction, bool) {
			upper, _ := in.Value(indicator.BBUpper)
			lower, _ := in.Value(indicator.BBLower)
			rsi, _ := in.Value(indicator.RSI)
			switch {
			case in.Candle.Close < lower && rsi <= p.RSIOversold:
				return signal.Long, true
			case in.Candle.Close > upper && rsi >= p.RSIOverbought:
				return signal.Short, true
			}
			return "", false
		},
		Pullback: func(in Input, st State) bool {
			upper, _ := in.Value(indicator.BBUpper)
			mid, _ := in.Value(indicator.BBMiddle)
			lower, _ := in.Value(indicator.BBLower)
			c := in.Candle.Close
			if st.Direction == signal.Short {
				return c <= upper && c >= mid
			}
			return c >= lower && c <= mid
		},
		Invalidated: func(in Input, st State) bool {
			upper, _ := in.Value(indicator.BBUpper)
			mid, _ := in.Value(indicator.BBMiddle)
			lower, _ := in.Value(indicator.BBLower)
			c := in.Candle.Close
			if st.Direction == signal.Short {
				return c > upper+(upper-mid)*0.5
			}
			return c < lower-(mid-lower)*0.5
		},
		Breakout: func(in Input, st State) float64 {
			if st.Direction == signal.Short {
				return st.PullbackLow
			}
			return st.PullbackHigh
		},
		Exit: func(in Input, h Holding) (string, bool) {
			if !p.ExitOnReversal {
				return "", false
			}
			mid, _ := in.Value(indicator.BBMiddle)
			if h.Direction == signal.Long && in.Candle.Close >= mid {
				return "mean_reached", true
			}
			if h.Direction == signal.Short && in.Candle.Close <= mid {
				return "mean_reached", true
			}
			return "", false
		},
	}
}
