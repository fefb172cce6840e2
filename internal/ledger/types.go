package ledger

import (
	"time"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/signal"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	TakeProfit ExitReason = "TAKE_PROFIT"
	StopLoss   ExitReason = "STOP_LOSS"
	Timeout    ExitReason = "TIMEOUT"
	SignalExit ExitReason = "SIGNAL_EXIT"
	Manual     ExitReason = "MANUAL"
)

// Outcome classifies a closed trade; Win if and only if PnL > 0.
type Outcome string

const (
	Win  Outcome = "WIN"
	Loss Outcome = "LOSS"
)

// Entry describes an executed multiplier contract.
type Entry struct {
	ID          string           `json:"id"`
	ContractID  string           `json:"contract_id,omitempty"`
	Symbol      string           `json:"symbol"`
	Strategy    string           `json:"strategy"`
	Direction   signal.Direction `json:"direction"`
	EntryPrice  float64          `json:"entry_price"`
	EntryTs     int64            `json:"entry_ts"` // unix ms
	Stake       float64          `json:"stake"`
	Multiplier  float64          `json:"multiplier"`
	TakeProfit  float64          `json:"take_profit"`
	StopLoss    float64          `json:"stop_loss"`
	MaxHoldBars int              `json:"max_hold_bars"`
	Reason      string           `json:"reason,omitempty"`
}

// Key is the (asset, strategy) identity at most one open position may hold.
func (e Entry) Key() string { return signal.AssetKey(e.Symbol, e.Strategy) }

// EntryTime returns the entry timestamp as UTC time.
func (e Entry) EntryTime() time.Time { return time.UnixMilli(e.EntryTs).UTC() }

// Exit describes how a position was closed.
type Exit struct {
	Price    float64    `json:"price"`
	Ts       int64      `json:"ts"` // unix ms
	Reason   ExitReason `json:"reason"`
	BarsHeld int        `json:"bars_held"`
}

// Position is an open entry marked to the last seen price.
type Position struct {
	Entry
	LastPrice  float64 `json:"last_price"`
	Unrealized float64 `json:"unrealized"`
	BarsHeld   int     `json:"bars_held"`
}

// Trade is a closed position with realized PnL.
type Trade struct {
	Entry
	Exit    Exit    `json:"exit"`
	PnL     float64 `json:"pnl"`
	Outcome Outcome `json:"outcome"`
}

// Payout is what the contract returned: stake plus PnL.
func (t Trade) Payout() float64 { return t.Stake + t.PnL }

// DailyStats is the fold of every position entered on Date (UTC).
type DailyStats struct {
	Date        string  `json:"date"`
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Pending     int     `json:"pending"`
	WinRate     float64 `json:"win_rate"`
	TotalStake  float64 `json:"total_stake"`
	TotalPayout float64 `json:"total_payout"`
	NetPnL      float64 `json:"net_pnl"`
}

// EventType names a position lifecycle event.
type EventType string

const (
	EventOpened  EventType = "position:opened"
	EventUpdated EventType = "position:updated"
	EventClosed  EventType = "position:closed"
)

// Event is published to subscribers for every lifecycle change, in ledger order.
type Event struct {
	Seq      uint64    `json:"seq"`
	Type     EventType `json:"type"`
	Position Position  `json:"position"`
	Trade    *Trade    `json:"trade,omitempty"`
}
