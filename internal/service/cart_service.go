package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

// CartService manages the per-user list of products awaiting purchase.
type CartService struct {
	carts  repository.CartRepository
	logger *slog.Logger
}

func NewCartService(carts repository.CartRepository, logger *slog.Logger) *CartService {
	return &CartService{carts: carts, logger: orDefault(logger)}
}

// AddItem puts one unit of the product into the cart.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64) (entity.CartLine, error) {
	line, err := s.carts.Add(ctx, userID, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return entity.CartLine{}, apperr.New(apperr.NotFound, "product", nil)
	}
	if err != nil {
		return entity.CartLine{}, failure(ctx, s.logger, "cart_add", err, "user_id", userID, "product_id", productID)
	}
	return line, nil
}

// RemoveItem takes exactly one unit of the product out of the cart.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) error {
	err := s.carts.RemoveOne(ctx, userID, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(apperr.NotFound, "cart_line", nil)
	}
	if err != nil {
		return failure(ctx, s.logger, "cart_remove", err, "user_id", userID, "product_id", productID)
	}
	return nil
}

// GetCart returns one entry per cart line, in the order they were added.
func (s *CartService) GetCart(ctx context.Context, userID int64) ([]entity.CartLine, error) {
	lines, err := s.carts.Lines(ctx, userID)
	if err != nil {
		return nil, failure(ctx, s.logger, "cart_lines", err, "user_id", userID)
	}
	return lines, nil
}

func (s *CartService) Clear(ctx context.Context, userID int64) error {
	if err := s.carts.Clear(ctx, userID); err != nil {
		return failure(ctx, s.logger, "cart_clear", err, "user_id", userID)
	}
	return nil
}

// Total sums the current catalog prices of the cart.
func (s *CartService) Total(ctx context.Context, userID int64) (decimal.Decimal, error) {
	lines, err := s.GetCart(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	_, total := entity.PriceLines(lines)
	return total, nil
}
