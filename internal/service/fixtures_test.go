package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository/memory"
)

var errGatewayDown = errors.New("gateway unavailable")

type fakeProvider struct {
	mu          sync.Mutex
	next        int
	statuses    map[string]ProviderStatus
	createErr   error
	statusErr   error
	statusCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{statuses: make(map[string]ProviderStatus)}
}

func (p *fakeProvider) CreatePayment(_ context.Context, _ decimal.Decimal, payerRef, _ string) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", "", p.createErr
	}
	p.next++
	id := fmt.Sprintf("pay-%d", p.next)
	p.statuses[id] = ProviderStatus{State: entity.PaymentPending, PayerRef: payerRef}
	return "https://pay.test/checkout/" + id, id, nil
}

func (p *fakeProvider) Status(_ context.Context, id string) (ProviderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.statusErr != nil {
		return ProviderStatus{}, p.statusErr
	}
	st, ok := p.statuses[id]
	if !ok {
		return ProviderStatus{}, fmt.Errorf("payment %s not found", id)
	}
	return st, nil
}

func (p *fakeProvider) set(id string, state entity.PaymentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.statuses[id]
	st.State = state
	p.statuses[id] = st
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusCalls
}

type published struct {
	topic string
	key   string
	event entity.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishEvent(_ context.Context, topic, key string, event entity.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, key: key, event: event})
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.event.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store     *memory.Store
	provider  *fakeProvider
	publisher *recordingPublisher
	shop      Shop
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	provider := newFakeProvider()
	publisher := &recordingPublisher{}
	logger := quietLogger()

	settlement := NewSettlementService(store.Carts(), store.Ledger(), store.Settlements(), publisher, logger)
	return &fixture{
		store:     store,
		provider:  provider,
		publisher: publisher,
		shop: Shop{
			Users:      NewUserService(store.Users(), logger),
			Ledger:     NewLedgerService(store.Ledger(), publisher, logger),
			Catalog:    NewCatalogService(store.Products(), logger),
			Cart:       NewCartService(store.Carts(), logger),
			Settlement: settlement,
			Payments:   NewPaymentService(store.Users(), store.Carts(), store.Payments(), settlement, provider, publisher, logger),
		},
	}
}

// user registers id and credits balance when it is not zero.
func (f *fixture) user(t *testing.T, id int64, balance string) entity.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.shop.Users.EnsureUser(ctx, id)
	require.NoError(t, err)
	if amount := decimal.RequireFromString(balance); amount.IsPositive() {
		_, err = f.shop.Ledger.Credit(ctx, id, amount)
		require.NoError(t, err)
	}
	return u
}

func (f *fixture) product(t *testing.T, name, price string) entity.Product {
	t.Helper()
	p, err := f.shop.Catalog.AddProduct(context.Background(), NewProduct{
		Name:        name,
		Description: name + " description",
		Price:       decimal.RequireFromString(price),
		ImageRef:    "img-" + name,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	b, err := f.shop.Ledger.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

// payer overrides the payer reference the gateway reports for id.
func (p *fakeProvider) payer(id, ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.statuses[id]
	st.PayerRef = ref
	p.statuses[id] = st
}
