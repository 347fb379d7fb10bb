package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a new CartRepository backed by Postgres.
func NewCartRepository(db *sql.DB) repository.CartRepository {
	return &cartRepository{db: db}
}

func (r *cartRepository) Add(ctx context.Context, userID, productID int64) (entity.CartLine, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", productID))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.CartLine{}, repository.ErrNotFound
	}
	if err != nil {
		return entity.CartLine{}, fmt.Errorf("failed to query product: %w", err)
	}

	line := entity.CartLine{UserID: userID, Product: p}
	err = r.db.QueryRowContext(ctx,
		"INSERT INTO cart_lines (user_id, product_id) VALUES ($1, $2) RETURNING id",
		userID, productID,
	).Scan(&line.ID)
	if err != nil {
		// A product deleted between the lookup and the insert surfaces as a FK violation.
		return entity.CartLine{}, fmt.Errorf("failed to insert cart line: %w", mapError(err))
	}
	return line, nil
}

func (r *cartRepository) RemoveOne(ctx context.Context, userID, productID int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_lines WHERE id = (
			SELECT id FROM cart_lines WHERE user_id = $1 AND product_id = $2 ORDER BY id DESC LIMIT 1
		)`,
		userID, productID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete cart line: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *cartRepository) Lines(ctx context.Context, userID int64) ([]entity.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, p.id, p.name, p.description, p.price, p.stock, p.in_stock, p.image_ref
		FROM cart_lines c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []entity.CartLine
	for rows.Next() {
		var l entity.CartLine
		p := &l.Product
		if err := rows.Scan(&l.ID, &l.UserID, &p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.InStock, &p.ImageRef); err != nil {
			return nil, fmt.Errorf("failed to scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart rows: %w", err)
	}
	return lines, nil
}

func (r *cartRepository) Clear(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM cart_lines WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
