// Package risk holds per-trade guard-rails and the loss-driven throttle that imposes
// escalating cooldowns and daily loss halts per asset key.
package risk

// Limits caps the stake of a single trade.
type Limits struct {
	MaxStakePerTrade float64 `yaml:"max_stake_per_trade"`
}

// Allow reports whether stake fits the per-trade cap. A zero cap disables the check.
func (l Limits) Allow(stake float64) bool {
	if l.MaxStakePerTrade <= 0 {
		return stake > 0
	}
	return stake > 0 && stake <= l.MaxStakePerTrade
}
