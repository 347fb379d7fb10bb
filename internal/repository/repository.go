package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TURRA7/BotShop/internal/entity"
)

var (
	// ErrNotFound is returned when a looked up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds is returned when a debit would make a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyConsumed is returned when a payment intent has already been settled.
	ErrAlreadyConsumed = errors.New("payment intent already consumed")
	// ErrConflict is returned when the store detected a concurrent modification
	// (serialization failure, deadlock, generated code collision).
	ErrConflict = errors.New("concurrent modification")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate key")
)

// UserRepository handles persistence for Users.
type UserRepository interface {
	// Create inserts the user together with a zero balance.
	// Returns ErrDuplicate if the id or referral code is taken.
	Create(ctx context.Context, user entity.User) (entity.User, error)
	FindByID(ctx context.Context, id int64) (entity.User, error)
	FindByReferralCode(ctx context.Context, code string) (entity.User, error)
	// SetReferrer records the referrer once. Returns ErrConflict if one is already set.
	SetReferrer(ctx context.Context, userID, referrerID int64) error
	CountReferrals(ctx context.Context, userID int64) (int, error)
}

// LedgerRepository handles persistence for Balances.
type LedgerRepository interface {
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	// Apply adds entry.Delta to the balance in one locked read-modify-write and journals it.
	// Returns ErrInsufficientFunds if the balance would become negative.
	Apply(ctx context.Context, entry entity.LedgerEntry) (entity.LedgerEntry, error)
	History(ctx context.Context, userID int64, limit int) ([]entity.LedgerEntry, error)
}

// ProductRepository handles persistence for Products.
type ProductRepository interface {
	Create(ctx context.Context, p entity.Product) (entity.Product, error)
	IncrementStock(ctx context.Context, id int64, delta int) (entity.Product, error)
	// FindAll returns products in insertion order.
	FindAll(ctx context.Context) ([]entity.Product, error)
	FindByID(ctx context.Context, id int64) (entity.Product, error)
	// Delete removes the product and every cart line referencing it.
	Delete(ctx context.Context, id int64) error
}

// CartRepository handles persistence for CartLines.
type CartRepository interface {
	// Add inserts one line. Returns ErrNotFound if the product does not exist.
	Add(ctx context.Context, userID, productID int64) (entity.CartLine, error)
	// RemoveOne deletes exactly one line for the pair. Returns ErrNotFound if none exists.
	RemoveOne(ctx context.Context, userID, productID int64) error
	// Lines returns the cart in insertion order, priced at current catalog prices.
	Lines(ctx context.Context, userID int64) ([]entity.CartLine, error)
	Clear(ctx context.Context, userID int64) error
}

// SettleRequest describes one purchase to finalize.
type SettleRequest struct {
	OrderID string
	UserID  int64
	Lines   []entity.PricedLine
	// Codes holds one redemption code per line.
	Codes  []string
	Total  decimal.Decimal
	Method entity.PaymentMethod
	// IntentID is required for card settlements; its consumed flag is test-and-set.
	IntentID string
}

// SettlementRepository turns a proven payment into owned goods in one transaction.
type SettlementRepository interface {
	// Settle debits the balance (balance method) or consumes the intent (card method),
	// writes the order and owned goods, and removes the settled cart lines.
	// Returns ErrInsufficientFunds, ErrAlreadyConsumed, ErrNotFound or ErrConflict.
	Settle(ctx context.Context, req SettleRequest) (entity.Order, error)
	GoodsByUser(ctx context.Context, userID int64) ([]entity.OwnedGood, error)
	OrdersByUser(ctx context.Context, userID int64, limit int) ([]entity.Order, error)
}

// PaymentRepository handles persistence for PaymentIntents.
type PaymentRepository interface {
	Create(ctx context.Context, intent entity.PaymentIntent) error
	FindByID(ctx context.Context, id string) (entity.PaymentIntent, error)
	// MarkFailed moves a created intent to failed. Terminal intents are left untouched.
	MarkFailed(ctx context.Context, id string) error
	// ConsumeTopUp test-and-sets the consumed flag and credits the intent amount in one
	// transaction. Returns ErrAlreadyConsumed if it was consumed before.
	ConsumeTopUp(ctx context.Context, id string) (entity.LedgerEntry, error)
	// ListOpen returns created, unconsumed intents newer than since, oldest first.
	ListOpen(ctx context.Context, since time.Time, limit int) ([]entity.PaymentIntent, error)
}
