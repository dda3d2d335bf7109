package domain

import "time"

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

type OrderState string

const (
	OrderCreated         OrderState = "created"
	OrderSubmitted       OrderState = "submitted"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderRejected        OrderState = "rejected"
	OrderCancelled       OrderState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s OrderState) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCancelled
}

// TradeOrder is a live or historical exchange order. Every order references
// exactly one approved RiskAssessment.
type TradeOrder struct {
	ID              string     `json:"id"`
	ExchangeOrderID string     `json:"exchange_order_id,omitempty"`
	Symbol          string     `json:"symbol"`
	Side            Direction  `json:"side"`
	Type            OrderType  `json:"type"`
	Qty             float64    `json:"qty"`
	FilledQty       float64    `json:"filled_qty"`
	AvgFillPrice    float64    `json:"avg_fill_price,omitempty"`
	RealizedPnL     float64    `json:"realized_pnl,omitempty"`
	LimitPrice      float64    `json:"limit_price,omitempty"`
	StopLoss        float64    `json:"stop_loss,omitempty"`
	TakeProfit      float64    `json:"take_profit,omitempty"`
	Strategy        string     `json:"strategy"`
	RiskPct         float64    `json:"risk_pct"`
	State           OrderState `json:"state"`
	Reason          string     `json:"reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// OrderEvent is one audit-log entry: a single state transition of an order.
type OrderEvent struct {
	OrderID   string     `json:"order_id"`
	Symbol    string     `json:"symbol"`
	FromState OrderState `json:"from_state"`
	ToState   OrderState `json:"to_state"`
	FillPrice float64    `json:"fill_price,omitempty"`
	FillQty   float64    `json:"fill_qty,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	At        time.Time  `json:"at"`
}

// Position is the engine's view of exposure on one symbol. Size is always the
// signed sum of fills for that symbol; mutated only by the execution engine.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          Direction `json:"side"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	Strategy      string    `json:"strategy"`
	OpenedAt      time.Time `json:"opened_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Notional is the position's current dollar exposure.
func (p Position) Notional() float64 {
	return p.Size * p.MarkPrice
}

// ExecutionReport is the downstream contract for dashboards/operators.
type ExecutionReport struct {
	OrderID     string     `json:"order_id"`
	Symbol      string     `json:"symbol"`
	Status      OrderState `json:"status"`
	FillPrice   float64    `json:"fill_price,omitempty"`
	FilledQty   float64    `json:"filled_qty,omitempty"`
	RealizedPnL float64    `json:"realized_pnl,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	At          time.Time  `json:"at"`
}

// Balance is the wallet snapshot used by the pre-submit guard.
type Balance struct {
	Equity    float64 `json:"equity"`
	Available float64 `json:"available"`
}
