package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TURRA7/BotShop/internal/entity"
)

func TestNotificationHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "0")
	link := startCardCheckout(t, f, 1, "60")
	f.provider.set(link.IntentID, entity.PaymentSucceeded)

	handle := NotificationHandler(f.shop.Payments, quietLogger())

	assert.NoError(t, handle(ctx, []byte(`not json`)))
	assert.NoError(t, handle(ctx, []byte(`{"event":"payment.succeeded","object":{"id":"unknown"}}`)))

	payload := []byte(`{"event":"payment.succeeded","object":{"id":"` + link.IntentID + `"}}`)
	require.NoError(t, handle(ctx, payload))
	require.NoError(t, handle(ctx, payload))

	goods, err := f.shop.Settlement.ListOwnedGoods(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, goods, 1)
}

func TestNotificationHandler_ProviderErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.user(t, 1, "0")
	link := startCardCheckout(t, f, 1, "60")
	f.provider.statusErr = errGatewayDown

	err := NotificationHandler(f.shop.Payments, nil)(context.Background(), []byte(`{"object":{"id":"`+link.IntentID+`"}}`))
	assert.ErrorIs(t, err, errGatewayDown)
}
