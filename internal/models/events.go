package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderPaymentFailed = "ORDER_PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when a cart is turned into a pending order
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// PaymentOutcomeEvent is published for ORDER_PAID and ORDER_PAYMENT_FAILED.
// It carries everything the notification worker needs to mail the customer.
type PaymentOutcomeEvent struct {
	BaseEvent
	Receipt Receipt `json:"receipt"`
}

// OrderItemData represents item data in events and receipts
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Receipt is the payload of a payment confirmation or failure notice
type Receipt struct {
	OrderID   int64           `json:"order_id"`
	UserID    int64           `json:"user_id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Channel   string          `json:"channel"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	Items     []OrderItemData `json:"items,omitempty"`
}
