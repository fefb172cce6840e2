package indicator

import (
	"math"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/candle"
)

// Periods configures the Classic provider.
type Periods struct {
	EMAFast  int     `yaml:"ema_fast"`
	EMASlow  int     `yaml:"ema_slow"`
	EMATrend int     `yaml:"ema_trend"`
	RSI      int     `yaml:"rsi"`
	ATR      int     `yaml:"atr"`
	ADX      int     `yaml:"adx"`
	BB       int     `yaml:"bb"`
	BBStdDev float64 `yaml:"bb_stddev"`
}

// DefaultPeriods returns commonly used lookbacks.
func DefaultPeriods() Periods {
	return Periods{EMAFast: 9, EMASlow: 21, EMATrend: 50, RSI: 14, ATR: 14, ADX: 14, BB: 20, BBStdDev: 2}
}

// Classic computes EMA, RSI, ATR, ADX/DI and Bollinger bands. Zero periods disable an indicator.
type Classic struct {
	p Periods
}

// NewClassic builds a Classic provider.
func NewClassic(p Periods) *Classic { return &Classic{p: p} }

// Snapshot implements Provider.
func (c *Classic) Snapshot(candles []candle.Candle, index int) Snapshot {
	if index < 0 || index >= len(candles) {
		return Snapshot{}
	}
	return c.Series(candles[:index+1])[index]
}

// Series computes the snapshot of every candle in one pass.
func (c *Classic) Series(candles []candle.Candle) []Snapshot {
	out := make([]Snapshot, len(candles))
	if len(candles) == 0 {
		return out
	}
	closes := make([]float64, len(candles))
	for i, k := range candles {
		closes[i] = k.Close
	}
	put := func(id ID, vals []float64) {
		for i, v := range vals {
			if !math.IsNaN(v) {
				out[i] = out[i].With(id, v)
			}
		}
	}
	put(EMAFast, ema(closes, c.p.EMAFast))
	put(EMASlow, ema(closes, c.p.EMASlow))
	put(EMATrend, ema(closes, c.p.EMATrend))
	put(RSI, rsi(closes, c.p.RSI))
	put(ATR, atr(candles, c.p.ATR))
	adxV, plus, minus := adx(candles, c.p.ADX)
	put(ADX, adxV)
	put(PlusDI, plus)
	put(MinusDI, minus)
	up, mid, lo := bollinger(closes, c.p.BB, c.p.BBStdDev)
	put(BBUpper, up)
	put(BBMiddle, mid)
	put(BBLower, lo)
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func ema(xs []float64, period int) []float64 {
	out := nanSlice(len(xs))
	if period <= 0 || len(xs) < period {
		return out
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += xs[i]
	}
	prev := sum / float64(period)
	out[period-1] = prev
	k := 2 / float64(period+1)
	for i := period; i < len(xs); i++ {
		prev += k * (xs[i] - prev)
		out[i] = prev
	}
	return out
}

func rsi(xs []float64, period int) []float64 {
	out := nanSlice(len(xs))
	if period <= 0 || len(xs) <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := xs[i] - xs[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiValue(gain, loss)
	for i := period + 1; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

func trueRange(candles []candle.Candle, i int) float64 {
	k := candles[i]
	if i == 0 {
		return k.High - k.Low
	}
	pc := candles[i-1].Close
	return math.Max(k.High-k.Low, math.Max(math.Abs(k.High-pc), math.Abs(k.Low-pc)))
}

func atr(candles []candle.Candle, period int) []float64 {
	out := nanSlice(len(candles))
	if period <= 0 || len(candles) < period {
		return out
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += trueRange(candles, i)
	}
	prev := sum / float64(period)
	out[period-1] = prev
	for i := period; i < len(candles); i++ {
		prev = (prev*float64(period-1) + trueRange(candles, i)) / float64(period)
		out[i] = prev
	}
	return out
}

func adx(candles []candle.Candle, period int) (adxOut, plusOut, minusOut []float64) {
	n := len(candles)
	adxOut, plusOut, minusOut = nanSlice(n), nanSlice(n), nanSlice(n)
	if period <= 0 || n <= period {
		return
	}
	var trS, plusS, minusS float64
	dm := func(i int) (float64, float64) {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		var p, m float64
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		return p, m
	}
	for i := 1; i <= period; i++ {
		p, m := dm(i)
		trS += trueRange(candles, i)
		plusS += p
		minusS += m
	}
	var dxSum float64
	dxCount := 0
	var adxPrev float64
	for i := period; i < n; i++ {
		if i > period {
			p, m := dm(i)
			trS = trS - trS/float64(period) + trueRange(candles, i)
			plusS = plusS - plusS/float64(period) + p
			minusS = minusS - minusS/float64(period) + m
		}
		var pdi, mdi float64
		if trS > 0 {
			pdi = 100 * plusS / trS
			mdi = 100 * minusS / trS
		}
		plusOut[i] = pdi
		minusOut[i] = mdi
		dx := 0.0
		if pdi+mdi > 0 {
			dx = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
		}
		if dxCount < period {
			dxSum += dx
			dxCount++
			if dxCount == period {
				adxPrev = dxSum / float64(period)
				adxOut[i] = adxPrev
			}
			continue
		}
		adxPrev = (adxPrev*float64(period-1) + dx) / float64(period)
		adxOut[i] = adxPrev
	}
	return
}

func bollinger(xs []float64, period int, k float64) (upper, middle, lower []float64) {
	n := len(xs)
	upper, middle, lower = nanSlice(n), nanSlice(n), nanSlice(n)
	if period <= 0 || n < period {
		return
	}
	if k <= 0 {
		k = 2
	}
	for i := period - 1; i < n; i++ {
		var sum float64
		for _, x := range xs[i-period+1 : i+1] {
			sum += x
		}
		mean := sum / float64(period)
		var sq float64
		for _, x := range xs[i-period+1 : i+1] {
			sq += (x - mean) * (x - mean)
		}
		sd := math.Sqrt(sq / float64(period))
		middle[i] = mean
		upper[i] = mean + k*sd
		lower[i] = mean - k*sd
	}
	return
}
