package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

const referralCodeAttempts = 5

// UserService registers chat users and handles referral codes.
type UserService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: orDefault(logger)}
}

// EnsureUser returns the user, creating it with a zero balance on first contact.
func (s *UserService) EnsureUser(ctx context.Context, id int64) (entity.User, error) {
	if id <= 0 {
		return entity.User{}, apperr.New(apperr.InvalidInput, "invalid_user", nil)
	}
	u, err := s.users.FindByID(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return entity.User{}, failure(ctx, s.logger, "find_user", err, "user_id", id)
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := entity.NewReferralCode()
		if err != nil {
			return entity.User{}, failure(ctx, s.logger, "referral_code", err)
		}
		u, err = s.users.Create(ctx, entity.User{ID: id, ReferralCode: code})
		if err == nil {
			s.logger.Info("User registered", "user_id", id)
			return u, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return entity.User{}, failure(ctx, s.logger, "create_user", err, "user_id", id)
		}
		// Either a concurrent first contact created the user or the code was taken.
		if u, err := s.users.FindByID(ctx, id); err == nil {
			return u, nil
		}
	}
	return entity.User{}, failure(ctx, s.logger, "create_user", errors.New("referral code space exhausted"), "user_id", id)
}

// ApplyReferral records who invited the user. It can be done once.
func (s *UserService) ApplyReferral(ctx context.Context, userID int64, code string) (entity.User, error) {
	referrer, err := s.users.FindByReferralCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return entity.User{}, apperr.New(apperr.NotFound, "referral_code", nil)
	}
	if err != nil {
		return entity.User{}, failure(ctx, s.logger, "find_referrer", err)
	}
	if referrer.ID == userID {
		return entity.User{}, apperr.New(apperr.InvalidInput, apperr.ReasonSelfReferral, nil)
	}

	switch err := s.users.SetReferrer(ctx, userID, referrer.ID); {
	case errors.Is(err, repository.ErrConflict):
		return entity.User{}, apperr.New(apperr.Conflict, apperr.ReasonAlreadyReferred, nil)
	case errors.Is(err, repository.ErrNotFound):
		return entity.User{}, apperr.New(apperr.UnknownUser, "", nil)
	case err != nil:
		return entity.User{}, failure(ctx, s.logger, "set_referrer", err, "user_id", userID)
	}
	s.logger.Info("Referral applied", "user_id", userID, "referrer_id", referrer.ID)
	return referrer, nil
}

func (s *UserService) CountReferrals(ctx context.Context, userID int64) (int, error) {
	n, err := s.users.CountReferrals(ctx, userID)
	if err != nil {
		return 0, failure(ctx, s.logger, "count_referrals", err, "user_id", userID)
	}
	return n, nil
}
