package types

import (
	"time"

	"gorm.io/gorm"
)

// Side is the direction of an order or position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// OrderType distinguishes how an order is priced and triggered.
// Stop-market orders are only ever created by the system as reduce-only
// protection for an open position.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
)

// OrderStatus is the lifecycle state of an order. An order is created open
// (or pre-filled for market orders) and moves to exactly one terminal state.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Terminal reports whether the status can never change again.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// step. The only legal moves are open -> {filled, canceled, rejected}.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusOpen && next.Terminal()
}

// TradeStatus records how a position was realized.
type TradeStatus string

const (
	TradeStatusClosed     TradeStatus = "closed"
	TradeStatusLiquidated TradeStatus = "liquidated"
)

// ChangeType labels a balance history entry.
type ChangeType string

const (
	ChangePositionOpened ChangeType = "position_opened"
	ChangePositionClosed ChangeType = "position_closed"
	ChangeTradeProfit    ChangeType = "trade_profit"
	ChangeTradeLoss      ChangeType = "trade_loss"
	ChangeLiquidation    ChangeType = "liquidation"
)

// Trading limits shared by validation and the simulation.
const (
	MinOrderSize    = 10.0 // quote units
	MinLeverage     = 1
	MaxLeverage     = 10
	StartingBalance = 10000.0
)

// SupportedSymbols are the markets the paper exchange quotes.
var SupportedSymbols = map[string]bool{
	"BTC": true,
	"ETH": true,
	"SOL": true,
	"ARB": true,
}

// Account holds the margin ledger balances for one paper account.
// Invariant at every commit: locked >= 0 and available = total - locked.
type Account struct {
	gorm.Model `json:"-"`
	AccountID  string  `gorm:"uniqueIndex" json:"account_id"`
	Total      float64 `json:"total"`
	Locked     float64 `json:"locked"`
	Available  float64 `json:"available"`
}

// Order is a user or system order against the synthetic counterparty.
type Order struct {
	gorm.Model            `json:"-"`
	OrderID               string      `gorm:"uniqueIndex" json:"order_id"`
	AccountID             string      `gorm:"index" json:"account_id"`
	Symbol                string      `json:"symbol"`
	Side                  Side        `json:"side"`
	OrderType             OrderType   `json:"order_type"`
	Status                OrderStatus `json:"status"`
	Size                  float64     `json:"size"` // notional, quote units
	Leverage              int         `json:"leverage"`
	ReduceOnly            bool        `json:"reduce_only"`
	LimitPrice            *float64    `json:"limit_price"`
	StopPrice             *float64    `json:"stop_price"`
	AttachedStopLossPrice *float64    `json:"attached_stop_loss_price"`
	MarginReserved        float64     `json:"margin_reserved"`
	LinkedPositionID      *string     `json:"linked_position_id"`
	FilledPrice           *float64    `json:"filled_price"`
	RejectReason          *string     `json:"reject_reason"`
	FilledAt              *time.Time  `json:"filled_at"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// Position is an open leveraged position. At most one exists per
// (account, symbol, side); it is deleted when settled.
type Position struct {
	gorm.Model       `json:"-"`
	PositionID       string    `gorm:"uniqueIndex" json:"position_id"`
	AccountID        string    `gorm:"index" json:"account_id"`
	Symbol           string    `json:"symbol"`
	Side             Side      `json:"side"`
	EntryPrice       float64   `json:"entry_price"`
	Size             float64   `json:"size"`
	Margin           float64   `json:"margin"`
	Leverage         int       `json:"leverage"`
	LiquidationPrice float64   `json:"liquidation_price"`
	OpenedAt         time.Time `json:"opened_at"`
}

// Trade is the immutable record of a settled position.
type Trade struct {
	gorm.Model  `json:"-"`
	TradeID     string      `gorm:"uniqueIndex" json:"trade_id"`
	AccountID   string      `gorm:"index" json:"account_id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price"`
	Size        float64     `json:"size"`
	Margin      float64     `json:"margin"`
	Leverage    int         `json:"leverage"`
	RealizedPnl float64     `json:"realized_pnl"`
	Status      TradeStatus `json:"status"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
}

// BalanceHistoryEntry is an append-only audit row. It is never read back by
// the engine.
type BalanceHistoryEntry struct {
	gorm.Model     `json:"-"`
	AccountID      string     `gorm:"index" json:"account_id"`
	ChangeType     ChangeType `json:"change_type"`
	Amount         float64    `json:"amount"`
	AvailableAfter float64    `json:"available_after"`
	TradeID        *string    `json:"trade_id"`
	Timestamp      time.Time  `json:"timestamp"`
}

// LiquidationPrice is the mark price at which a position's margin is fully
// depleted: entry*(1 - 1/leverage) for longs, entry*(1 + 1/leverage) for
// shorts.
func LiquidationPrice(entry float64, leverage int, side Side) float64 {
	factor := 1.0 / float64(leverage)
	if side == SideLong {
		return entry * (1 - factor)
	}
	return entry * (1 + factor)
}

// RealizedPnl is the profit or loss of exiting a position at the given price.
func RealizedPnl(entry, exit, size float64, side Side) float64 {
	pnl := ((exit - entry) / entry) * size
	if side == SideShort {
		pnl = -pnl
	}
	return pnl
}

// LiquidationBreached reports whether the mark price has crossed the
// position's liquidation price.
func LiquidationBreached(mark, liquidationPrice float64, side Side) bool {
	if liquidationPrice <= 0 {
		return false
	}
	if side == SideLong {
		return mark <= liquidationPrice
	}
	return mark >= liquidationPrice
}
