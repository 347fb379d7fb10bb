package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/messaging"
	"github.com/TURRA7/BotShop/internal/repository"
	"github.com/TURRA7/BotShop/internal/syncx"
)

// ProviderStatus is what the gateway reports for one payment.
// State is PaymentPending, PaymentSucceeded or PaymentFailed.
type ProviderStatus struct {
	State    entity.PaymentStatus
	PayerRef string
}

// PaymentProvider is the external payment gateway.
type PaymentProvider interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, payerRef, description string) (redirectURL, intentID string, err error)
	Status(ctx context.Context, intentID string) (ProviderStatus, error)
}

// PaymentLink is handed to the user to pay on the gateway page.
type PaymentLink struct {
	IntentID    string
	RedirectURL string
	Amount      decimal.Decimal
}

// Confirmation reports what ConfirmCardCheckout did.
type Confirmation struct {
	IntentID string
	Purpose  entity.PaymentPurpose
	Status   entity.PaymentStatus
	// AlreadyProcessed is set when an earlier confirmation already delivered the goods or credit.
	AlreadyProcessed bool
	Order            *entity.Order
	Credit           *entity.LedgerEntry
}

// PaymentService reconciles external card payments with the store.
type PaymentService struct {
	users      repository.UserRepository
	carts      repository.CartRepository
	payments   repository.PaymentRepository
	settlement *SettlementService
	provider   PaymentProvider
	publisher  messaging.Publisher
	locks      *syncx.KeyedMutex[string]
	logger     *slog.Logger
	metrics    *metrics
}

func NewPaymentService(
	users repository.UserRepository,
	carts repository.CartRepository,
	payments repository.PaymentRepository,
	settlement *SettlementService,
	provider PaymentProvider,
	publisher messaging.Publisher,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		users:      users,
		carts:      carts,
		payments:   payments,
		settlement: settlement,
		provider:   provider,
		publisher:  publisher,
		locks:      syncx.NewKeyedMutex[string](),
		logger:     orDefault(logger),
		metrics:    newMetrics(otel.GetMeterProvider()),
	}
}

// StartCardCheckout freezes the cart and opens a gateway payment for its total.
func (s *PaymentService) StartCardCheckout(ctx context.Context, userID int64) (PaymentLink, error) {
	if err := s.knownUser(ctx, userID); err != nil {
		return PaymentLink{}, err
	}
	lines, err := s.carts.Lines(ctx, userID)
	if err != nil {
		return PaymentLink{}, failure(ctx, s.logger, "cart_lines", err, "user_id", userID)
	}
	if len(lines) == 0 {
		return PaymentLink{}, apperr.New(apperr.InvalidInput, apperr.ReasonEmptyCart, nil)
	}
	priced, total := entity.PriceLines(lines)

	return s.open(ctx, entity.PaymentIntent{
		UserID:      userID,
		Amount:      total,
		Purpose:     entity.PurposeCheckout,
		Description: fmt.Sprintf("Order of %d item(s)", len(priced)),
		Lines:       priced,
	})
}

// StartTopUp opens a gateway payment that credits the balance once confirmed.
func (s *PaymentService) StartTopUp(ctx context.Context, userID int64, amount decimal.Decimal) (PaymentLink, error) {
	if !validAmount(amount) {
		return PaymentLink{}, apperr.New(apperr.InvalidInput, apperr.ReasonInvalidAmount, nil)
	}
	if err := s.knownUser(ctx, userID); err != nil {
		return PaymentLink{}, err
	}
	return s.open(ctx, entity.PaymentIntent{
		UserID:      userID,
		Amount:      amount,
		Purpose:     entity.PurposeTopUp,
		Description: "Balance top-up",
	})
}

func (s *PaymentService) open(ctx context.Context, intent entity.PaymentIntent) (PaymentLink, error) {
	redirectURL, id, err := s.provider.CreatePayment(ctx, intent.Amount, userKey(intent.UserID), intent.Description)
	if err != nil {
		s.logger.Error("Payment provider rejected create", "user_id", intent.UserID, "purpose", intent.Purpose, "err", err)
		return PaymentLink{}, apperr.New(apperr.ProviderError, "create_payment", err)
	}

	intent.ID = id
	intent.RedirectURL = redirectURL
	intent.Status = entity.PaymentCreated
	if err := s.payments.Create(ctx, intent); err != nil {
		return PaymentLink{}, failure(ctx, s.logger, "create_intent", err, "intent_id", id, "user_id", intent.UserID)
	}

	s.logger.Info("Payment started", "intent_id", id, "user_id", intent.UserID, "purpose", intent.Purpose, "amount", intent.Amount.String())
	return PaymentLink{IntentID: id, RedirectURL: redirectURL, Amount: intent.Amount}, nil
}

// ConfirmCardCheckout asks the gateway about the intent and, on success, delivers exactly once.
// Safe to call any number of times from the chat, the webhook, the broker and the poller.
func (s *PaymentService) ConfirmCardCheckout(ctx context.Context, intentID string) (Confirmation, error) {
	unlock := s.locks.Lock(intentID)
	defer unlock()

	intent, err := s.payments.FindByID(ctx, intentID)
	if errors.Is(err, repository.ErrNotFound) {
		return Confirmation{}, apperr.New(apperr.NotFound, "payment_intent", nil)
	}
	if err != nil {
		return Confirmation{}, failure(ctx, s.logger, "find_intent", err, "intent_id", intentID)
	}

	result := Confirmation{IntentID: intent.ID, Purpose: intent.Purpose, Status: intent.Status}
	if intent.Consumed {
		result.Status = entity.PaymentSucceeded
		result.AlreadyProcessed = true
		count(ctx, s.metrics.confirmations, "outcome", "already_processed")
		return result, nil
	}
	if intent.Status == entity.PaymentFailed {
		return result, nil
	}

	status, err := s.provider.Status(ctx, intentID)
	if err != nil {
		s.logger.Warn("Payment provider status failed", "intent_id", intentID, "err", err)
		count(ctx, s.metrics.confirmations, "outcome", "provider_error")
		return Confirmation{}, apperr.New(apperr.ProviderError, "payment_status", err)
	}

	switch status.State {
	case entity.PaymentSucceeded:
		if status.PayerRef != userKey(intent.UserID) {
			s.logger.Error("Payment payer mismatch", "intent_id", intentID, "user_id", intent.UserID, "payer_ref", status.PayerRef)
			count(ctx, s.metrics.confirmations, "outcome", "payer_mismatch")
			return Confirmation{}, apperr.New(apperr.ProviderError, "payer_mismatch", nil)
		}
		return s.deliver(ctx, intent, result)
	case entity.PaymentFailed:
		if err := s.payments.MarkFailed(ctx, intentID); err != nil {
			return Confirmation{}, failure(ctx, s.logger, "mark_failed", err, "intent_id", intentID)
		}
		s.logger.Info("Payment failed", "intent_id", intentID, "user_id", intent.UserID)
		count(ctx, s.metrics.confirmations, "outcome", "failed")
		s.resolved(ctx, intent, entity.PaymentFailed)
		result.Status = entity.PaymentFailed
		return result, nil
	default:
		count(ctx, s.metrics.confirmations, "outcome", "pending")
		result.Status = entity.PaymentPending
		return result, nil
	}
}

func (s *PaymentService) deliver(ctx context.Context, intent entity.PaymentIntent, result Confirmation) (Confirmation, error) {
	result.Status = entity.PaymentSucceeded

	switch intent.Purpose {
	case entity.PurposeTopUp:
		entry, err := s.payments.ConsumeTopUp(ctx, intent.ID)
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Warn("Top-up conflict, retrying", "intent_id", intent.ID, "err", err)
			entry, err = s.payments.ConsumeTopUp(ctx, intent.ID)
		}
		switch {
		case errors.Is(err, repository.ErrAlreadyConsumed):
			result.AlreadyProcessed = true
		case errors.Is(err, repository.ErrNotFound):
			return Confirmation{}, apperr.New(apperr.UnknownUser, "", nil)
		case errors.Is(err, repository.ErrConflict):
			return Confirmation{}, apperr.New(apperr.Conflict, "topup", err)
		case err != nil:
			return Confirmation{}, failure(ctx, s.logger, "consume_topup", err, "intent_id", intent.ID)
		default:
			result.Credit = &entry
			s.logger.Info("Top-up credited", "intent_id", intent.ID, "user_id", entry.UserID, "amount", entry.Delta.String())
			publishBalanceChanged(ctx, s.publisher, s.logger, entry)
		}
	default:
		order, err := s.settlement.settleCard(ctx, intent)
		if errors.Is(err, repository.ErrAlreadyConsumed) {
			result.AlreadyProcessed = true
		} else if err != nil {
			return Confirmation{}, err
		} else {
			result.Order = &order
		}
	}

	if result.AlreadyProcessed {
		count(ctx, s.metrics.confirmations, "outcome", "already_processed")
		return result, nil
	}
	count(ctx, s.metrics.confirmations, "outcome", "succeeded")
	s.resolved(ctx, intent, entity.PaymentSucceeded)
	return result, nil
}

func (s *PaymentService) resolved(ctx context.Context, intent entity.PaymentIntent, status entity.PaymentStatus) {
	event := entity.PaymentResolved{
		IntentID:   intent.ID,
		UserID:     intent.UserID,
		Amount:     intent.Amount,
		Purpose:    intent.Purpose,
		Status:     status,
		ResolvedAt: time.Now(),
	}
	if err := s.publisher.PublishEvent(ctx, messaging.TopicPayments, intent.ID, event); err != nil {
		s.logger.Error("Failed to publish PaymentResolved", "intent_id", intent.ID, "err", err)
	}
}

func (s *PaymentService) knownUser(ctx context.Context, userID int64) error {
	_, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(apperr.UnknownUser, "", nil)
	}
	if err != nil {
		return failure(ctx, s.logger, "find_user", err, "user_id", userID)
	}
	return nil
}
