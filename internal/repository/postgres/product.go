package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

const productColumns = "id, name, description, price, stock, in_stock, image_ref"

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new ProductRepository backed by Postgres.
func NewProductRepository(db *sql.DB) repository.ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, p entity.Product) (entity.Product, error) {
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO products (name, description, price, stock, in_stock, image_ref) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		p.Name, p.Description, p.Price, p.Stock, p.InStock, p.ImageRef,
	).Scan(&p.ID)
	if err != nil {
		return entity.Product{}, fmt.Errorf("failed to insert product: %w", mapError(err))
	}
	return p, nil
}

func (r *productRepository) IncrementStock(ctx context.Context, id int64, delta int) (entity.Product, error) {
	row := r.db.QueryRowContext(ctx,
		"UPDATE products SET stock = stock + $1, in_stock = (stock + $1) > 0 WHERE id = $2 RETURNING "+productColumns,
		delta, id,
	)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Product{}, repository.ErrNotFound
	}
	if err != nil {
		return entity.Product{}, fmt.Errorf("failed to update product stock: %w", mapError(err))
	}
	return p, nil
}

func (r *productRepository) FindAll(ctx context.Context) ([]entity.Product, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []entity.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product rows: %w", err)
	}
	return products, nil
}

func (r *productRepository) FindByID(ctx context.Context, id int64) (entity.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Product{}, repository.ErrNotFound
	}
	if err != nil {
		return entity.Product{}, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

func (r *productRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Cart lines go first so no cart ever points at a missing product.
	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE product_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete cart lines: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (entity.Product, error) {
	var p entity.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.InStock, &p.ImageRef)
	return p, err
}
