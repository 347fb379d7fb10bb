package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

// conflictingLedger reports ErrConflict for the first conflicts calls to Apply.
type conflictingLedger struct {
	repository.LedgerRepository
	conflicts int
	calls     int
}

func (l *conflictingLedger) Apply(ctx context.Context, e entity.LedgerEntry) (entity.LedgerEntry, error) {
	l.calls++
	if l.calls <= l.conflicts {
		return entity.LedgerEntry{}, repository.ErrConflict
	}
	return l.LedgerRepository.Apply(ctx, e)
}

type conflictingSettlements struct {
	repository.SettlementRepository
	conflicts int
	requests  []repository.SettleRequest
}

func (s *conflictingSettlements) Settle(ctx context.Context, req repository.SettleRequest) (entity.Order, error) {
	s.requests = append(s.requests, req)
	if len(s.requests) <= s.conflicts {
		return entity.Order{}, repository.ErrConflict
	}
	return s.SettlementRepository.Settle(ctx, req)
}

type conflictingPayments struct {
	repository.PaymentRepository
	conflicts int
	calls     int
}

func (p *conflictingPayments) ConsumeTopUp(ctx context.Context, id string) (entity.LedgerEntry, error) {
	p.calls++
	if p.calls <= p.conflicts {
		return entity.LedgerEntry{}, repository.ErrConflict
	}
	return p.PaymentRepository.ConsumeTopUp(ctx, id)
}

func TestLedgerService_RetriesConflictOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "10")

	ledger := &conflictingLedger{LedgerRepository: f.store.Ledger(), conflicts: 1}
	svc := NewLedgerService(ledger, f.publisher, quietLogger())

	balance, err := svc.Credit(ctx, 1, dec("5"))
	require.NoError(t, err)
	assertAmount(t, "15", balance)
	assert.Equal(t, 2, ledger.calls)

	ledger.calls, ledger.conflicts = 0, 2
	_, err = svc.Debit(ctx, 1, dec("5"))
	assert.Equal(t, apperr.Conflict, apperr.CodeOf(err))
	assert.Equal(t, 2, ledger.calls)
	assertAmount(t, "15", f.balance(t, 1))
}

func TestCheckoutWithBalance_RetriesConflictWithFreshCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "100")
	p := f.product(t, "Widget", "60")
	_, err := f.shop.Cart.AddItem(ctx, 1, p.ID)
	require.NoError(t, err)

	settlements := &conflictingSettlements{SettlementRepository: f.store.Settlements(), conflicts: 1}
	svc := NewSettlementService(f.store.Carts(), f.store.Ledger(), settlements, f.publisher, quietLogger())

	order, err := svc.CheckoutWithBalance(ctx, 1)
	require.NoError(t, err)
	require.Len(t, settlements.requests, 2)
	first, second := settlements.requests[0], settlements.requests[1]
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.NotEqual(t, first.Codes, second.Codes)
	assert.Equal(t, second.OrderID, order.ID)
	assertAmount(t, "40", f.balance(t, 1))
}

func TestCheckoutWithBalance_SurfacesRepeatedConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "100")
	p := f.product(t, "Widget", "60")
	_, err := f.shop.Cart.AddItem(ctx, 1, p.ID)
	require.NoError(t, err)

	settlements := &conflictingSettlements{SettlementRepository: f.store.Settlements(), conflicts: 2}
	svc := NewSettlementService(f.store.Carts(), f.store.Ledger(), settlements, f.publisher, quietLogger())

	_, err = svc.CheckoutWithBalance(ctx, 1)
	assert.Equal(t, apperr.Conflict, apperr.CodeOf(err))
	assert.Len(t, settlements.requests, 2)
	assertAmount(t, "100", f.balance(t, 1))
	lines, err := f.shop.Cart.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	assert.Empty(t, f.publisher.ofType("PurchaseCompleted"))
}

func TestTopUp_RetriesConflictOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "0")

	payments := &conflictingPayments{PaymentRepository: f.store.Payments(), conflicts: 1}
	svc := NewPaymentService(f.store.Users(), f.store.Carts(), payments, f.shop.Settlement, f.provider, f.publisher, quietLogger())

	link, err := svc.StartTopUp(ctx, 1, dec("30"))
	require.NoError(t, err)
	f.provider.set(link.IntentID, entity.PaymentSucceeded)

	res, err := svc.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	require.NotNil(t, res.Credit)
	assert.Equal(t, 2, payments.calls)
	assertAmount(t, "30", f.balance(t, 1))
}
