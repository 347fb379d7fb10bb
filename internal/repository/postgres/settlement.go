package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

type settlementRepository struct {
	db *sql.DB
}

// NewSettlementRepository creates a new SettlementRepository backed by Postgres.
func NewSettlementRepository(db *sql.DB) repository.SettlementRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) Settle(ctx context.Context, req repository.SettleRequest) (entity.Order, error) {
	if len(req.Codes) != len(req.Lines) {
		return entity.Order{}, fmt.Errorf("settle: %d codes for %d lines", len(req.Codes), len(req.Lines))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.Order{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	switch req.Method {
	case entity.PaymentMethodBalance:
		_, err := applyDelta(ctx, tx, entity.LedgerEntry{
			UserID:    req.UserID,
			Delta:     req.Total.Neg(),
			Reason:    "purchase",
			Reference: req.OrderID,
		})
		if err != nil {
			return entity.Order{}, err
		}
	case entity.PaymentMethodCard:
		if err := consumeIntent(ctx, tx, req.IntentID); err != nil {
			return entity.Order{}, err
		}
	default:
		return entity.Order{}, fmt.Errorf("settle: unknown payment method %q", req.Method)
	}

	order := entity.Order{
		ID:       req.OrderID,
		UserID:   req.UserID,
		Total:    req.Total,
		Method:   req.Method,
		IntentID: req.IntentID,
	}
	intentID := sql.NullString{String: req.IntentID, Valid: req.IntentID != ""}
	err = tx.QueryRowContext(ctx,
		"INSERT INTO orders (id, user_id, total, method, intent_id) VALUES ($1, $2, $3, $4, $5) RETURNING created_at",
		req.OrderID, req.UserID, req.Total, string(req.Method), intentID,
	).Scan(&order.CreatedAt)
	if err != nil {
		return entity.Order{}, fmt.Errorf("failed to insert order: %w", collision(mapError(err)))
	}

	cartLineIDs := make([]int64, 0, len(req.Lines))
	for i, line := range req.Lines {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, name, price) VALUES ($1, $2, $3, $4)",
			req.OrderID, line.ProductID, line.Name, line.Price,
		)
		if err != nil {
			return entity.Order{}, fmt.Errorf("failed to insert order item: %w", mapError(err))
		}
		order.Items = append(order.Items, entity.OrderItem{ProductID: line.ProductID, Name: line.Name, Price: line.Price})

		good := entity.OwnedGood{
			UserID:      req.UserID,
			ProductName: line.Name,
			Code:        req.Codes[i],
			ImageRef:    line.ImageRef,
		}
		err = tx.QueryRowContext(ctx,
			"INSERT INTO owned_goods (user_id, order_id, product_name, code, image_ref) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
			good.UserID, req.OrderID, good.ProductName, good.Code, good.ImageRef,
		).Scan(&good.ID, &good.CreatedAt)
		if err != nil {
			return entity.Order{}, fmt.Errorf("failed to insert owned good: %w", collision(mapError(err)))
		}
		order.Goods = append(order.Goods, good)

		if line.CartLineID != 0 {
			cartLineIDs = append(cartLineIDs, line.CartLineID)
		}
	}

	// Lines removed while the payment was in flight are simply gone already.
	if len(cartLineIDs) > 0 {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM cart_lines WHERE user_id = $1 AND id = ANY($2)",
			req.UserID, pq.Array(cartLineIDs),
		)
		if err != nil {
			return entity.Order{}, fmt.Errorf("failed to remove settled cart lines: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return entity.Order{}, fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return order, nil
}

func (r *settlementRepository) GoodsByUser(ctx context.Context, userID int64) ([]entity.OwnedGood, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, product_name, code, image_ref, created_at FROM owned_goods WHERE user_id = $1 ORDER BY id",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned goods: %w", err)
	}
	defer rows.Close()

	var goods []entity.OwnedGood
	for rows.Next() {
		var g entity.OwnedGood
		if err := rows.Scan(&g.ID, &g.UserID, &g.ProductName, &g.Code, &g.ImageRef, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan owned good: %w", err)
		}
		goods = append(goods, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owned goods: %w", err)
	}
	return goods, nil
}

func (r *settlementRepository) OrdersByUser(ctx context.Context, userID int64, limit int) ([]entity.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, total, method, intent_id, created_at FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []entity.Order
	for rows.Next() {
		var (
			o        entity.Order
			method   string
			intentID sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.Total, &method, &intentID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Method = entity.PaymentMethod(method)
		o.IntentID = intentID.String
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	// Fetch items for each order
	for i := range orders {
		itemRows, err := r.db.QueryContext(ctx,
			"SELECT product_id, name, price FROM order_items WHERE order_id = $1 ORDER BY id",
			orders[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to query order items: %w", err)
		}

		for itemRows.Next() {
			var item entity.OrderItem
			if err := itemRows.Scan(&item.ProductID, &item.Name, &item.Price); err != nil {
				itemRows.Close()
				return nil, fmt.Errorf("failed to scan order item: %w", err)
			}
			orders[i].Items = append(orders[i].Items, item)
		}
		itemRows.Close()
	}

	return orders, nil
}

// consumeIntent flips the consumed flag of a checkout intent exactly once.
func consumeIntent(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE payment_intents SET consumed = TRUE, status = 'succeeded', updated_at = NOW() WHERE id = $1 AND NOT consumed",
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to consume payment intent: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	return missingOrConsumed(ctx, tx, id)
}

func missingOrConsumed(ctx context.Context, q queryer, id string) error {
	var exists bool
	if err := q.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM payment_intents WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check payment intent: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrAlreadyConsumed
}

// collision reports a generated id or code clash as a retryable conflict.
func collision(err error) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("%w: %v", repository.ErrConflict, err)
	}
	return err
}
