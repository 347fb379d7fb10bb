// Package memory implements every repository in process memory.
// All views returned by a Store share one lock, so settlement is as atomic as the Postgres transaction.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

// Store keeps users, balances, catalog, carts, orders and payment intents in memory.
// Thread-safe via RWMutex.
type Store struct {
	mu sync.RWMutex

	users    map[int64]entity.User
	balances map[int64]decimal.Decimal
	journal  []entity.LedgerEntry

	products      map[int64]entity.Product
	nextProductID int64

	cart       []cartRow
	nextLineID int64

	orders  []entity.Order
	codes   map[string]struct{}
	nextGID int64

	intents map[string]entity.PaymentIntent

	now func() time.Time
}

type cartRow struct {
	id        int64
	userID    int64
	productID int64
}

func NewStore() *Store {
	return &Store{
		users:    make(map[int64]entity.User),
		balances: make(map[int64]decimal.Decimal),
		products: make(map[int64]entity.Product),
		codes:    make(map[string]struct{}),
		intents:  make(map[string]entity.PaymentIntent),
		now:      time.Now,
	}
}

func (s *Store) Users() repository.UserRepository             { return userStore{s} }
func (s *Store) Ledger() repository.LedgerRepository          { return ledgerStore{s} }
func (s *Store) Products() repository.ProductRepository       { return productStore{s} }
func (s *Store) Carts() repository.CartRepository             { return cartStore{s} }
func (s *Store) Settlements() repository.SettlementRepository { return settlementStore{s} }
func (s *Store) Payments() repository.PaymentRepository       { return paymentStore{s} }

// applyLocked is the in-memory twin of the locked balance update. Callers hold s.mu.
func (s *Store) applyLocked(entry entity.LedgerEntry) (entity.LedgerEntry, error) {
	current, ok := s.balances[entry.UserID]
	if !ok {
		return entity.LedgerEntry{}, repository.ErrNotFound
	}
	next := current.Add(entry.Delta)
	if next.IsNegative() {
		return entity.LedgerEntry{}, repository.ErrInsufficientFunds
	}
	s.balances[entry.UserID] = next
	entry.BalanceAfter = next
	entry.CreatedAt = s.now()
	s.journal = append(s.journal, entry)
	return entry, nil
}

type userStore struct{ *Store }

func (s userStore) Create(_ context.Context, user entity.User) (entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return entity.User{}, repository.ErrDuplicate
	}
	for _, u := range s.users {
		if u.ReferralCode == user.ReferralCode {
			return entity.User{}, repository.ErrDuplicate
		}
	}
	user.CreatedAt = s.now()
	s.users[user.ID] = user
	s.balances[user.ID] = decimal.Zero
	return user, nil
}

func (s userStore) FindByID(_ context.Context, id int64) (entity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return entity.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s userStore) FindByReferralCode(_ context.Context, code string) (entity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ReferralCode == code {
			return u, nil
		}
	}
	return entity.User{}, repository.ErrNotFound
}

func (s userStore) SetReferrer(_ context.Context, userID, referrerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, ok := s.users[referrerID]; !ok {
		return repository.ErrNotFound
	}
	if u.ReferredBy != nil {
		return repository.ErrConflict
	}
	ref := referrerID
	u.ReferredBy = &ref
	s.users[userID] = u
	return nil
}

func (s userStore) CountReferrals(_ context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, u := range s.users {
		if u.ReferredBy != nil && *u.ReferredBy == userID {
			count++
		}
	}
	return count, nil
}

type ledgerStore struct{ *Store }

func (s ledgerStore) Balance(_ context.Context, userID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}
	return b, nil
}

func (s ledgerStore) Apply(_ context.Context, entry entity.LedgerEntry) (entity.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(entry)
}

func (s ledgerStore) History(_ context.Context, userID int64, limit int) ([]entity.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.LedgerEntry
	for i := len(s.journal) - 1; i >= 0 && len(out) < limit; i-- {
		if s.journal[i].UserID == userID {
			out = append(out, s.journal[i])
		}
	}
	return out, nil
}

type productStore struct{ *Store }

func (s productStore) Create(_ context.Context, p entity.Product) (entity.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProductID++
	p.ID = s.nextProductID
	s.products[p.ID] = p
	return p, nil
}

func (s productStore) IncrementStock(_ context.Context, id int64, delta int) (entity.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return entity.Product{}, repository.ErrNotFound
	}
	if p.Stock+delta < 0 {
		return entity.Product{}, fmt.Errorf("stock of product %d would become negative", id)
	}
	p.Stock += delta
	p.InStock = p.Stock > 0
	s.products[id] = p
	return p, nil
}

func (s productStore) FindAll(_ context.Context) ([]entity.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s productStore) FindByID(_ context.Context, id int64) (entity.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return entity.Product{}, repository.ErrNotFound
	}
	return p, nil
}

func (s productStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.products, id)
	kept := s.cart[:0]
	for _, row := range s.cart {
		if row.productID != id {
			kept = append(kept, row)
		}
	}
	s.cart = kept
	return nil
}

type cartStore struct{ *Store }

func (s cartStore) Add(_ context.Context, userID, productID int64) (entity.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return entity.CartLine{}, repository.ErrNotFound
	}
	s.nextLineID++
	s.cart = append(s.cart, cartRow{id: s.nextLineID, userID: userID, productID: productID})
	return entity.CartLine{ID: s.nextLineID, UserID: userID, Product: p}, nil
}

func (s cartStore) RemoveOne(_ context.Context, userID, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.cart) - 1; i >= 0; i-- {
		if s.cart[i].userID == userID && s.cart[i].productID == productID {
			s.cart = append(s.cart[:i], s.cart[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s cartStore) Lines(_ context.Context, userID int64) ([]entity.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.CartLine
	for _, row := range s.cart {
		if row.userID != userID {
			continue
		}
		out = append(out, entity.CartLine{ID: row.id, UserID: row.userID, Product: s.products[row.productID]})
	}
	return out, nil
}

func (s cartStore) Clear(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cart[:0]
	for _, row := range s.cart {
		if row.userID != userID {
			kept = append(kept, row)
		}
	}
	s.cart = kept
	return nil
}

type settlementStore struct{ *Store }

func (s settlementStore) Settle(_ context.Context, req repository.SettleRequest) (entity.Order, error) {
	if len(req.Codes) != len(req.Lines) {
		return entity.Order{}, fmt.Errorf("settle: %d codes for %d lines", len(req.Codes), len(req.Lines))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Every check runs before the first write so a failure leaves nothing behind.
	for _, code := range req.Codes {
		if _, taken := s.codes[code]; taken {
			return entity.Order{}, repository.ErrConflict
		}
	}
	for _, o := range s.orders {
		if o.ID == req.OrderID {
			return entity.Order{}, repository.ErrConflict
		}
	}

	switch req.Method {
	case entity.PaymentMethodBalance:
		if _, err := s.applyLocked(entity.LedgerEntry{
			UserID:    req.UserID,
			Delta:     req.Total.Neg(),
			Reason:    "purchase",
			Reference: req.OrderID,
		}); err != nil {
			return entity.Order{}, err
		}
	case entity.PaymentMethodCard:
		intent, ok := s.intents[req.IntentID]
		if !ok {
			return entity.Order{}, repository.ErrNotFound
		}
		if intent.Consumed {
			return entity.Order{}, repository.ErrAlreadyConsumed
		}
		intent.Consumed = true
		intent.Status = entity.PaymentSucceeded
		intent.UpdatedAt = s.now()
		s.intents[req.IntentID] = intent
	default:
		return entity.Order{}, fmt.Errorf("settle: unknown payment method %q", req.Method)
	}

	now := s.now()
	order := entity.Order{
		ID:        req.OrderID,
		UserID:    req.UserID,
		Total:     req.Total,
		Method:    req.Method,
		IntentID:  req.IntentID,
		CreatedAt: now,
	}
	settled := make(map[int64]struct{}, len(req.Lines))
	for i, line := range req.Lines {
		order.Items = append(order.Items, entity.OrderItem{ProductID: line.ProductID, Name: line.Name, Price: line.Price})
		s.nextGID++
		order.Goods = append(order.Goods, entity.OwnedGood{
			ID:          s.nextGID,
			UserID:      req.UserID,
			ProductName: line.Name,
			Code:        req.Codes[i],
			ImageRef:    line.ImageRef,
			CreatedAt:   now,
		})
		s.codes[req.Codes[i]] = struct{}{}
		settled[line.CartLineID] = struct{}{}
	}
	s.orders = append(s.orders, order)

	kept := s.cart[:0]
	for _, row := range s.cart {
		if _, ok := settled[row.id]; ok && row.userID == req.UserID {
			continue
		}
		kept = append(kept, row)
	}
	s.cart = kept

	return order, nil
}

func (s settlementStore) GoodsByUser(_ context.Context, userID int64) ([]entity.OwnedGood, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.OwnedGood
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o.Goods...)
		}
	}
	return out, nil
}

func (s settlementStore) OrdersByUser(_ context.Context, userID int64, limit int) ([]entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.Order
	for i := len(s.orders) - 1; i >= 0 && len(out) < limit; i-- {
		if s.orders[i].UserID == userID {
			out = append(out, s.orders[i])
		}
	}
	return out, nil
}

type paymentStore struct{ *Store }

func (s paymentStore) Create(_ context.Context, intent entity.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intent.ID]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := s.users[intent.UserID]; !ok {
		return repository.ErrNotFound
	}
	now := s.now()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	intent.Lines = append([]entity.PricedLine(nil), intent.Lines...)
	s.intents[intent.ID] = intent
	return nil
}

func (s paymentStore) FindByID(_ context.Context, id string) (entity.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[id]
	if !ok {
		return entity.PaymentIntent{}, repository.ErrNotFound
	}
	return intent, nil
}

func (s paymentStore) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return repository.ErrNotFound
	}
	if intent.Status != entity.PaymentCreated || intent.Consumed {
		return nil
	}
	intent.Status = entity.PaymentFailed
	intent.UpdatedAt = s.now()
	s.intents[id] = intent
	return nil
}

func (s paymentStore) ConsumeTopUp(_ context.Context, id string) (entity.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return entity.LedgerEntry{}, repository.ErrNotFound
	}
	if intent.Consumed || intent.Purpose != entity.PurposeTopUp {
		return entity.LedgerEntry{}, repository.ErrAlreadyConsumed
	}
	entry, err := s.applyLocked(entity.LedgerEntry{
		UserID:    intent.UserID,
		Delta:     intent.Amount,
		Reason:    "topup",
		Reference: id,
	})
	if err != nil {
		return entity.LedgerEntry{}, err
	}
	intent.Consumed = true
	intent.Status = entity.PaymentSucceeded
	intent.UpdatedAt = s.now()
	s.intents[id] = intent
	return entry, nil
}

func (s paymentStore) ListOpen(_ context.Context, since time.Time, limit int) ([]entity.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.PaymentIntent
	for _, intent := range s.intents {
		if intent.Status == entity.PaymentCreated && !intent.Consumed && intent.CreatedAt.After(since) {
			out = append(out, intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
