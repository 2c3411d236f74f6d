package models

import (
	"fmt"
	"time"
)

// OrderSide is the direction of a spot order.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	Market    OrderType = "market"
	Limit     OrderType = "limit"
	StopLoss  OrderType = "stop_loss"
	StopLimit OrderType = "stop_limit"
)

// OrderStatus is the lifecycle state of an order.
//
// The machine is pending -> {open, filled, failed}, open -> {filled,
// cancelled}. Open is reserved for limit/stop orders whose trigger has not
// fired yet.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderOpen, OrderFilled, OrderFailed},
	OrderOpen:    {OrderFilled, OrderCancelled},
}

// Order is a spot/perp order as seen through the exchange adapter.
type Order struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      OrderSide   `json:"side"`
	Type      OrderType   `json:"type"`
	Quantity  float64     `json:"quantity"`
	Price     float64     `json:"price,omitempty"`      // limit price
	StopPrice float64     `json:"stop_price,omitempty"` // stop trigger
	Status    OrderStatus `json:"status"`

	FilledPrice float64   `json:"filled_price,omitempty"`
	FilledQty   float64   `json:"filled_qty"`
	Commission  float64   `json:"commission"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transition moves the order to the target status, enforcing the state
// machine. Terminal states reject every transition.
func (o *Order) Transition(to OrderStatus, now time.Time) error {
	allowed, ok := orderTransitions[o.Status]
	if !ok {
		return fmt.Errorf("order %s: no transitions from terminal state %q", o.ID, o.Status)
	}
	for _, s := range allowed {
		if s == to {
			o.Status = to
			o.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("order %s: invalid transition %q -> %q", o.ID, o.Status, to)
}

// IsTerminal reports whether the order can no longer change state.
func (o *Order) IsTerminal() bool {
	_, ok := orderTransitions[o.Status]
	return !ok
}
