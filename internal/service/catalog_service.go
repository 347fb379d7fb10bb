package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

// NewProduct is the administrator input for AddProduct.
type NewProduct struct {
	Name        string
	Description string
	Price       decimal.Decimal
	ImageRef    string
}

// CatalogService manages the product list.
type CatalogService struct {
	products repository.ProductRepository
	logger   *slog.Logger
}

func NewCatalogService(products repository.ProductRepository, logger *slog.Logger) *CatalogService {
	return &CatalogService{products: products, logger: orDefault(logger)}
}

// AddProduct creates the product and then confirms one unit of stock.
func (s *CatalogService) AddProduct(ctx context.Context, in NewProduct) (entity.Product, error) {
	p := entity.Product{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		ImageRef:    strings.TrimSpace(in.ImageRef),
		InStock:     true,
	}
	if p.Name == "" || p.Description == "" || p.ImageRef == "" || !validAmount(p.Price) {
		return entity.Product{}, apperr.New(apperr.InvalidInput, apperr.ReasonInvalidProduct, nil)
	}

	created, err := s.products.Create(ctx, p)
	if err != nil {
		return entity.Product{}, failure(ctx, s.logger, "create_product", err, "name", p.Name)
	}
	stocked, err := s.products.IncrementStock(ctx, created.ID, 1)
	if err != nil {
		return entity.Product{}, failure(ctx, s.logger, "increment_stock", err, "product_id", created.ID)
	}
	s.logger.Info("Product added", "product_id", stocked.ID, "name", stocked.Name, "price", stocked.Price.String())
	return stocked, nil
}

// ListProducts returns all available products in insertion order.
func (s *CatalogService) ListProducts(ctx context.Context) ([]entity.Product, error) {
	products, err := s.products.FindAll(ctx)
	if err != nil {
		return nil, failure(ctx, s.logger, "list_products", err)
	}
	return products, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (entity.Product, error) {
	p, err := s.products.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return entity.Product{}, apperr.New(apperr.NotFound, "product", nil)
	}
	if err != nil {
		return entity.Product{}, failure(ctx, s.logger, "get_product", err, "product_id", id)
	}
	return p, nil
}

// DeleteProduct removes the product together with every cart line holding it.
func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	err := s.products.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(apperr.NotFound, "product", nil)
	}
	if err != nil {
		return failure(ctx, s.logger, "delete_product", err, "product_id", id)
	}
	s.logger.Info("Product deleted", "product_id", id)
	return nil
}
