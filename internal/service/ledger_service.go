package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/messaging"
	"github.com/TURRA7/BotShop/internal/repository"
)

const (
	reasonCredit = "credit"
	reasonDebit  = "debit"
)

// LedgerService owns every balance mutation that is not part of a purchase.
type LedgerService struct {
	ledger    repository.LedgerRepository
	publisher messaging.Publisher
	logger    *slog.Logger
	metrics   *metrics
}

func NewLedgerService(ledger repository.LedgerRepository, publisher messaging.Publisher, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		ledger:    ledger,
		publisher: publisher,
		logger:    orDefault(logger),
		metrics:   newMetrics(otel.GetMeterProvider()),
	}
}

func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	b, err := s.ledger.Balance(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, apperr.New(apperr.UnknownUser, "", nil)
	}
	if err != nil {
		return decimal.Zero, failure(ctx, s.logger, "balance", err, "user_id", userID)
	}
	return b, nil
}

// Credit adds amount to the balance and returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !validAmount(amount) {
		return decimal.Zero, apperr.New(apperr.InvalidInput, apperr.ReasonInvalidAmount, nil)
	}
	return s.apply(ctx, entity.LedgerEntry{UserID: userID, Delta: amount, Reason: reasonCredit})
}

// Debit subtracts amount only if the balance covers it.
func (s *LedgerService) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !validAmount(amount) {
		return decimal.Zero, apperr.New(apperr.InvalidInput, apperr.ReasonInvalidAmount, nil)
	}
	return s.apply(ctx, entity.LedgerEntry{UserID: userID, Delta: amount.Neg(), Reason: reasonDebit})
}

func (s *LedgerService) History(ctx context.Context, userID int64, limit int) ([]entity.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.ledger.History(ctx, userID, limit)
	if err != nil {
		return nil, failure(ctx, s.logger, "ledger_history", err, "user_id", userID)
	}
	return entries, nil
}

func (s *LedgerService) apply(ctx context.Context, entry entity.LedgerEntry) (decimal.Decimal, error) {
	applied, err := s.ledger.Apply(ctx, entry)
	if errors.Is(err, repository.ErrConflict) {
		s.logger.Warn("Ledger conflict, retrying", "user_id", entry.UserID, "reason", entry.Reason, "err", err)
		applied, err = s.ledger.Apply(ctx, entry)
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("Balance mutation for unknown user", "user_id", entry.UserID, "reason", entry.Reason)
		return decimal.Zero, apperr.New(apperr.UnknownUser, "", nil)
	case errors.Is(err, repository.ErrInsufficientFunds):
		return decimal.Zero, apperr.New(apperr.InsufficientFunds, "", nil)
	case errors.Is(err, repository.ErrConflict):
		return decimal.Zero, apperr.New(apperr.Conflict, "ledger", err)
	case err != nil:
		return decimal.Zero, failure(ctx, s.logger, "ledger_apply", err, "user_id", entry.UserID)
	}

	s.logger.Info("Balance changed", "user_id", applied.UserID, "delta", applied.Delta.String(), "balance", applied.BalanceAfter.String(), "reason", applied.Reason)
	count(ctx, s.metrics.balance, "reason", applied.Reason)
	publishBalanceChanged(ctx, s.publisher, s.logger, applied)
	return applied.BalanceAfter, nil
}

func publishBalanceChanged(ctx context.Context, p messaging.Publisher, logger *slog.Logger, e entity.LedgerEntry) {
	at := e.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	event := entity.BalanceChanged{
		UserID:     e.UserID,
		Delta:      e.Delta,
		NewBalance: e.BalanceAfter,
		Reason:     e.Reason,
		ChangedAt:  at,
	}
	if err := p.PublishEvent(ctx, messaging.TopicBalances, userKey(e.UserID), event); err != nil {
		logger.Error("Failed to publish BalanceChanged", "user_id", e.UserID, "err", err)
	}
}

func validAmount(d decimal.Decimal) bool {
	return entity.ValidAmount(d) && !d.GreaterThan(entity.MaxAmount)
}
