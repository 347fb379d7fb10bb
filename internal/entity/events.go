package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event represents a domain event published to the message broker.
type Event interface {
	EventType() string
}

// PurchaseCompleted is emitted after settlement commits an order.
type PurchaseCompleted struct {
	OrderID     string          `json:"order_id"`
	UserID      int64           `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	Method      PaymentMethod   `json:"method"`
	IntentID    string          `json:"intent_id,omitempty"`
	Items       []OrderItem     `json:"items"`
	CompletedAt time.Time       `json:"completed_at"`
}

func (e PurchaseCompleted) EventType() string { return "PurchaseCompleted" }

// BalanceChanged is emitted for every committed ledger mutation.
type BalanceChanged struct {
	UserID     int64           `json:"user_id"`
	Delta      decimal.Decimal `json:"delta"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Reason     string          `json:"reason"`
	ChangedAt  time.Time       `json:"changed_at"`
}

func (e BalanceChanged) EventType() string { return "BalanceChanged" }

// PaymentResolved is emitted when an intent reaches a terminal status.
type PaymentResolved struct {
	IntentID   string          `json:"intent_id"`
	UserID     int64           `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Purpose    PaymentPurpose  `json:"purpose"`
	Status     PaymentStatus   `json:"status"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

func (e PaymentResolved) EventType() string { return "PaymentResolved" }
