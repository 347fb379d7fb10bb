package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a chat participant. Users are created on first contact and never deleted.
type User struct {
	ID           int64     `json:"id"`
	ReferralCode string    `json:"referral_code"`
	ReferredBy   *int64    `json:"referred_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Product represents a product in the store.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	InStock     bool            `json:"in_stock"`
	ImageRef    string          `json:"image_ref"`
}

// CartLine is one unit of a product held in a user's cart.
// Adding the same product twice creates two lines.
type CartLine struct {
	ID      int64   `json:"id"`
	UserID  int64   `json:"user_id"`
	Product Product `json:"product"`
}

// OwnedGood is a redeemable record copied from the catalog at purchase time.
type OwnedGood struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ProductName string    `json:"product_name"`
	Code        string    `json:"code"`
	ImageRef    string    `json:"image_ref"`
	CreatedAt   time.Time `json:"created_at"`
}

// PricedLine is a cart line frozen at the moment a purchase was priced.
type PricedLine struct {
	CartLineID int64           `json:"cart_line_id"`
	ProductID  int64           `json:"product_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	ImageRef   string          `json:"image_ref"`
}

// PriceLines freezes the given cart lines and returns them with their total.
func PriceLines(lines []CartLine) ([]PricedLine, decimal.Decimal) {
	priced := make([]PricedLine, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		priced = append(priced, PricedLine{
			CartLineID: l.ID,
			ProductID:  l.Product.ID,
			Name:       l.Product.Name,
			Price:      l.Product.Price,
			ImageRef:   l.Product.ImageRef,
		})
		total = total.Add(l.Product.Price)
	}
	return priced, total
}

// PaymentMethod says how an order was paid.
type PaymentMethod string

const (
	PaymentMethodBalance PaymentMethod = "balance"
	PaymentMethodCard    PaymentMethod = "card"
)

// OrderItem is a line item within an order.
type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
}

// Order is the receipt written by settlement.
type Order struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"user_id"`
	Items     []OrderItem     `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Method    PaymentMethod   `json:"method"`
	IntentID  string          `json:"intent_id,omitempty"`
	Goods     []OwnedGood     `json:"goods"`
	CreatedAt time.Time       `json:"created_at"`
}

// PaymentStatus is the lifecycle state of a PaymentIntent.
type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "created"
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed
}

// PaymentPurpose says what a confirmed payment pays for.
type PaymentPurpose string

const (
	PurposeCheckout PaymentPurpose = "checkout"
	PurposeTopUp    PaymentPurpose = "topup"
)

// PaymentIntent tracks one external payment request.
type PaymentIntent struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Purpose     PaymentPurpose  `json:"purpose"`
	Status      PaymentStatus   `json:"status"`
	Consumed    bool            `json:"consumed"`
	Description string          `json:"description"`
	RedirectURL string          `json:"redirect_url"`
	Lines       []PricedLine    `json:"lines,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LedgerEntry is one journal row written next to every balance mutation.
type LedgerEntry struct {
	UserID       int64           `json:"user_id"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reason       string          `json:"reason"`
	Reference    string          `json:"reference,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
