package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/messaging"
	"github.com/TURRA7/BotShop/internal/repository"
)

// SettlementService turns a paid cart into owned goods.
type SettlementService struct {
	carts       repository.CartRepository
	ledger      repository.LedgerRepository
	settlements repository.SettlementRepository
	publisher   messaging.Publisher
	logger      *slog.Logger
	metrics     *metrics
}

func NewSettlementService(
	carts repository.CartRepository,
	ledger repository.LedgerRepository,
	settlements repository.SettlementRepository,
	publisher messaging.Publisher,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		carts:       carts,
		ledger:      ledger,
		settlements: settlements,
		publisher:   publisher,
		logger:      orDefault(logger),
		metrics:     newMetrics(otel.GetMeterProvider()),
	}
}

// CheckoutWithBalance buys the whole cart from the internal balance.
// Nothing changes unless the debit and the goods are committed together.
func (s *SettlementService) CheckoutWithBalance(ctx context.Context, userID int64) (entity.Order, error) {
	s.logger.Info("Service: Checkout with balance", "user_id", userID)

	return s.finalize(ctx, func(ctx context.Context) (repository.SettleRequest, error) {
		lines, err := s.carts.Lines(ctx, userID)
		if err != nil {
			return repository.SettleRequest{}, failure(ctx, s.logger, "cart_lines", err, "user_id", userID)
		}
		if len(lines) == 0 {
			return repository.SettleRequest{}, apperr.New(apperr.InvalidInput, apperr.ReasonEmptyCart, nil)
		}
		priced, total := entity.PriceLines(lines)

		balance, err := s.ledger.Balance(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return repository.SettleRequest{}, apperr.New(apperr.UnknownUser, "", nil)
		}
		if err != nil {
			return repository.SettleRequest{}, failure(ctx, s.logger, "balance", err, "user_id", userID)
		}
		if balance.LessThan(total) {
			return repository.SettleRequest{}, apperr.New(apperr.InsufficientFunds, "", nil)
		}

		return repository.SettleRequest{
			UserID: userID,
			Lines:  priced,
			Total:  total,
			Method: entity.PaymentMethodBalance,
		}, nil
	})
}

// settleCard finalizes the snapshot stored on a confirmed checkout intent.
// It returns repository.ErrAlreadyConsumed untranslated so the caller can treat it as success.
func (s *SettlementService) settleCard(ctx context.Context, intent entity.PaymentIntent) (entity.Order, error) {
	return s.finalize(ctx, func(context.Context) (repository.SettleRequest, error) {
		return repository.SettleRequest{
			UserID:   intent.UserID,
			Lines:    intent.Lines,
			Total:    intent.Amount,
			Method:   entity.PaymentMethodCard,
			IntentID: intent.ID,
		}, nil
	})
}

// finalize is the only path that creates owned goods. It draws fresh codes and a fresh order id
// for every attempt and retries once when the store reports a conflict.
func (s *SettlementService) finalize(ctx context.Context, prepare func(context.Context) (repository.SettleRequest, error)) (entity.Order, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := prepare(ctx)
		if err != nil {
			return entity.Order{}, err
		}
		req.OrderID = uuid.NewString()
		req.Codes = make([]string, len(req.Lines))
		for i := range req.Codes {
			if req.Codes[i], err = entity.NewRedemptionCode(); err != nil {
				return entity.Order{}, failure(ctx, s.logger, "redemption_code", err)
			}
		}

		order, err := s.settlements.Settle(ctx, req)
		if err == nil {
			s.completed(ctx, order)
			return order, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return entity.Order{}, s.translate(ctx, req, err)
		}
		s.logger.Warn("Settlement conflict, retrying", "user_id", req.UserID, "attempt", attempt+1, "err", err)
		lastErr = err
	}
	return entity.Order{}, apperr.New(apperr.Conflict, "settlement", lastErr)
}

func (s *SettlementService) translate(ctx context.Context, req repository.SettleRequest, err error) error {
	switch {
	case errors.Is(err, repository.ErrAlreadyConsumed):
		return err
	case errors.Is(err, repository.ErrInsufficientFunds):
		return apperr.New(apperr.InsufficientFunds, "", nil)
	case errors.Is(err, repository.ErrNotFound):
		if req.Method == entity.PaymentMethodCard {
			return apperr.New(apperr.NotFound, "payment_intent", nil)
		}
		return apperr.New(apperr.UnknownUser, "", nil)
	}
	return failure(ctx, s.logger, "settle", err, "user_id", req.UserID, "method", req.Method)
}

func (s *SettlementService) completed(ctx context.Context, order entity.Order) {
	s.logger.Info("Purchase completed", "order_id", order.ID, "user_id", order.UserID, "items", len(order.Items), "total", order.Total.String(), "method", order.Method)
	count(ctx, s.metrics.checkouts, "method", string(order.Method))

	at := order.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	event := entity.PurchaseCompleted{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Total:       order.Total,
		Method:      order.Method,
		IntentID:    order.IntentID,
		Items:       order.Items,
		CompletedAt: at,
	}
	if err := s.publisher.PublishEvent(ctx, messaging.TopicPurchases, order.ID, event); err != nil {
		s.logger.Error("Failed to publish PurchaseCompleted", "order_id", order.ID, "err", err)
	}
}

// ListOwnedGoods returns every redeemable code the user bought.
func (s *SettlementService) ListOwnedGoods(ctx context.Context, userID int64) ([]entity.OwnedGood, error) {
	goods, err := s.settlements.GoodsByUser(ctx, userID)
	if err != nil {
		return nil, failure(ctx, s.logger, "owned_goods", err, "user_id", userID)
	}
	return goods, nil
}

// ListOrders returns the latest orders of the user.
func (s *SettlementService) ListOrders(ctx context.Context, userID int64, limit int) ([]entity.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	orders, err := s.settlements.OrdersByUser(ctx, userID, limit)
	if err != nil {
		return nil, failure(ctx, s.logger, "orders", err, "user_id", userID)
	}
	return orders, nil
}
