package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/messaging"
)

func startCardCheckout(t *testing.T, f *fixture, userID int64, prices ...string) PaymentLink {
	t.Helper()
	ctx := context.Background()
	for i, price := range prices {
		p := f.product(t, "Item"+string(rune('A'+i)), price)
		_, err := f.shop.Cart.AddItem(ctx, userID, p.ID)
		require.NoError(t, err)
	}
	link, err := f.shop.Payments.StartCardCheckout(ctx, userID)
	require.NoError(t, err)
	return link
}

func TestStartCardCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "0")

	_, err := f.shop.Payments.StartCardCheckout(ctx, 1)
	assert.Equal(t, apperr.ReasonEmptyCart, apperr.ReasonOf(err))

	_, err = f.shop.Payments.StartCardCheckout(ctx, 99)
	assert.Equal(t, apperr.UnknownUser, apperr.CodeOf(err))

	link := startCardCheckout(t, f, 1, "60", "15.50")
	assert.Equal(t, "pay-1", link.IntentID)
	assert.Contains(t, link.RedirectURL, "pay-1")
	assertAmount(t, "75.50", link.Amount)

	intent, err := f.store.Payments().FindByID(ctx, link.IntentID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentCreated, intent.Status)
	assert.Equal(t, entity.PurposeCheckout, intent.Purpose)
	assert.False(t, intent.Consumed)
	assert.Len(t, intent.Lines, 2)
}

func TestStartCardCheckout_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.user(t, 1, "0")
	f.provider.createErr = errGatewayDown
	p := f.product(t, "Widget", "10")
	_, err := f.shop.Cart.AddItem(context.Background(), 1, p.ID)
	require.NoError(t, err)

	_, err = f.shop.Payments.StartCardCheckout(context.Background(), 1)
	assert.Equal(t, apperr.ProviderError, apperr.CodeOf(err))
	assert.ErrorIs(t, err, errGatewayDown)
}

func TestConfirmCardCheckout_DeliversOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "0")
	link := startCardCheckout(t, f, 1, "60")

	res, err := f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentPending, res.Status)
	assert.Nil(t, res.Order)

	f.provider.set(link.IntentID, entity.PaymentSucceeded)
	res, err = f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentSucceeded, res.Status)
	assert.False(t, res.AlreadyProcessed)
	require.NotNil(t, res.Order)
	assert.Equal(t, entity.PaymentMethodCard, res.Order.Method)
	assert.Equal(t, link.IntentID, res.Order.IntentID)
	require.Len(t, res.Order.Goods, 1)

	res, err = f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentSucceeded, res.Status)
	assert.True(t, res.AlreadyProcessed)
	assert.Nil(t, res.Order)

	goods, err := f.shop.Settlement.ListOwnedGoods(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, goods, 1)
	assertAmount(t, "0", f.balance(t, 1))
	lines, err := f.shop.Cart.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, lines)

	assert.Len(t, f.publisher.ofType("PurchaseCompleted"), 1)
	resolved := f.publisher.ofType("PaymentResolved")
	require.Len(t, resolved, 1)
	assert.Equal(t, messaging.TopicPayments, resolved[0].topic)
	assert.Equal(t, entity.PaymentSucceeded, resolved[0].event.(entity.PaymentResolved).Status)
}

func TestConfirmCardCheckout_SettlesSnapshotOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "0")
	link := startCardCheckout(t, f, 1, "60")

	late := f.product(t, "Late", "5")
	_, err := f.shop.Cart.AddItem(ctx, 1, late.ID)
	require.NoError(t, err)

	f.provider.set(link.IntentID, entity.PaymentSucceeded)
	res, err := f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assertAmount(t, "60", res.Order.Total)
	require.Len(t, res.Order.Goods, 1)
	assert.Equal(t, "ItemA", res.Order.Goods[0].ProductName)

	lines, err := f.shop.Cart.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, late.ID, lines[0].Product.ID)
}

func TestConfirmCardCheckout_Failed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "0")
	link := startCardCheckout(t, f, 1, "60")

	f.provider.set(link.IntentID, entity.PaymentFailed)
	res, err := f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentFailed, res.Status)

	calls := f.provider.calls()
	res, err = f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentFailed, res.Status)
	assert.Equal(t, calls, f.provider.calls(), "a failed intent is terminal")

	goods, err := f.shop.Settlement.ListOwnedGoods(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, goods)
	lines, err := f.shop.Cart.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	assert.Len(t, f.publisher.ofType("PaymentResolved"), 1)
}

func TestConfirmCardCheckout_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "0")

	_, err := f.shop.Payments.ConfirmCardCheckout(ctx, "missing")
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))

	link := startCardCheckout(t, f, 1, "60")
	f.provider.statusErr = errGatewayDown
	_, err = f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	assert.Equal(t, apperr.ProviderError, apperr.CodeOf(err))
	assert.True(t, apperr.Transient(err))

	intent, err := f.store.Payments().FindByID(ctx, link.IntentID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentCreated, intent.Status)
	assert.False(t, intent.Consumed)
}

func TestConfirmCardCheckout_ConcurrentConfirmationsDeliverOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "0")
	link := startCardCheckout(t, f, 1, "60", "40")
	f.provider.set(link.IntentID, entity.PaymentSucceeded)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		orders int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, entity.PaymentSucceeded, res.Status)
			if res.Order != nil {
				mu.Lock()
				orders++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, orders)
	goods, err := f.shop.Settlement.ListOwnedGoods(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, goods, 2)
}

func TestTopUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "10")

	_, err := f.shop.Payments.StartTopUp(ctx, 1, dec("0.001"))
	assert.Equal(t, apperr.ReasonInvalidAmount, apperr.ReasonOf(err))

	link, err := f.shop.Payments.StartTopUp(ctx, 1, dec("250"))
	require.NoError(t, err)

	f.provider.set(link.IntentID, entity.PaymentSucceeded)
	res, err := f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	assert.Equal(t, entity.PurposeTopUp, res.Purpose)
	require.NotNil(t, res.Credit)
	assertAmount(t, "260", res.Credit.BalanceAfter)
	assert.Equal(t, "topup", res.Credit.Reason)
	assert.Equal(t, link.IntentID, res.Credit.Reference)

	res, err = f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assertAmount(t, "260", f.balance(t, 1))

	// The initial credit and the top-up.
	assert.Len(t, f.publisher.ofType("BalanceChanged"), 2)
	assert.Empty(t, f.publisher.ofType("PurchaseCompleted"))
}

func TestConfirmCardCheckout_RejectsForeignPayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 10, "0")

	link := startCardCheckout(t, f, 10, "60")
	f.provider.set(link.IntentID, entity.PaymentSucceeded)
	f.provider.payer(link.IntentID, "999")

	_, err := f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	assert.Equal(t, apperr.ProviderError, apperr.CodeOf(err))
	assert.Equal(t, "payer_mismatch", apperr.ReasonOf(err))

	goods, err := f.shop.Settlement.ListOwnedGoods(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, goods)
	intent, err := f.store.Payments().FindByID(ctx, link.IntentID)
	require.NoError(t, err)
	assert.False(t, intent.Consumed)
	assert.Empty(t, f.publisher.ofType("PurchaseCompleted"))

	f.provider.payer(link.IntentID, "10")
	res, err := f.shop.Payments.ConfirmCardCheckout(ctx, link.IntentID)
	require.NoError(t, err)
	assert.NotNil(t, res.Order)
}
