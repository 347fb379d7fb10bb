package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TURRA7/BotShop/internal/entity"
)

func newTestPoller(f *fixture) *Poller {
	return NewPoller(f.store.Payments(), f.shop.Payments, PollerConfig{
		Interval: 10 * time.Millisecond,
		MaxAge:   time.Hour,
		RPS:      1000,
		Batch:    10,
	}, quietLogger())
}

func TestPoller_TickResolvesOpenIntents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, "0")
	f.user(t, 2, "0")
	paid := startCardCheckout(t, f, 1, "60")
	waiting := startCardCheckout(t, f, 2, "20")
	f.provider.set(paid.IntentID, entity.PaymentSucceeded)

	p := newTestPoller(f)
	resolved, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	goods, err := f.shop.Settlement.ListOwnedGoods(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, goods, 1)

	open, err := f.store.Payments().ListOpen(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, waiting.IntentID, open[0].ID)

	// Consumed intents are no longer polled.
	calls := f.provider.calls()
	resolved, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
	assert.Equal(t, calls+1, f.provider.calls())
}

func TestPoller_SkipsExpiredIntents(t *testing.T) {
	f := newFixture(t)
	f.user(t, 1, "0")
	startCardCheckout(t, f, 1, "60")

	p := newTestPoller(f)
	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	resolved, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
	assert.Zero(t, f.provider.calls())
}

func TestPoller_ProviderErrorsDoNotStopTheBatch(t *testing.T) {
	f := newFixture(t)
	f.user(t, 1, "0")
	startCardCheckout(t, f, 1, "60")
	f.provider.statusErr = errGatewayDown

	resolved, err := newTestPoller(f).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
	assert.Equal(t, 1, f.provider.calls())
}

func TestPoller_Run(t *testing.T) {
	f := newFixture(t)
	f.user(t, 1, "0")
	link := startCardCheckout(t, f, 1, "60")
	f.provider.set(link.IntentID, entity.PaymentSucceeded)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		newTestPoller(f).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		goods, err := f.shop.Settlement.ListOwnedGoods(context.Background(), 1)
		return err == nil && len(goods) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
