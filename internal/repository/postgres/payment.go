package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

const intentColumns = "id, user_id, amount, purpose, status, consumed, description, redirect_url, lines, created_at, updated_at"

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository creates a new PaymentRepository backed by Postgres.
func NewPaymentRepository(db *sql.DB) repository.PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, intent entity.PaymentIntent) error {
	lines, err := json.Marshal(intent.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal intent lines: %w", err)
	}
	if intent.Lines == nil {
		lines = []byte("[]")
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO payment_intents (id, user_id, amount, purpose, status, description, redirect_url, lines) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		intent.ID, intent.UserID, intent.Amount, string(intent.Purpose), string(intent.Status), intent.Description, intent.RedirectURL, string(lines),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment intent: %w", mapError(err))
	}
	return nil
}

func (r *paymentRepository) FindByID(ctx context.Context, id string) (entity.PaymentIntent, error) {
	intent, err := scanIntent(r.db.QueryRowContext(ctx, "SELECT "+intentColumns+" FROM payment_intents WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.PaymentIntent{}, repository.ErrNotFound
	}
	if err != nil {
		return entity.PaymentIntent{}, fmt.Errorf("failed to query payment intent: %w", err)
	}
	return intent, nil
}

func (r *paymentRepository) MarkFailed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE payment_intents SET status = 'failed', updated_at = NOW() WHERE id = $1 AND status = 'created' AND NOT consumed",
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payment intent failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM payment_intents WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check payment intent: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return nil
}

func (r *paymentRepository) ConsumeTopUp(ctx context.Context, id string) (entity.LedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.LedgerEntry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var entry entity.LedgerEntry
	err = tx.QueryRowContext(ctx,
		"UPDATE payment_intents SET consumed = TRUE, status = 'succeeded', updated_at = NOW() WHERE id = $1 AND NOT consumed AND purpose = 'topup' RETURNING user_id, amount",
		id,
	).Scan(&entry.UserID, &entry.Delta)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.LedgerEntry{}, missingOrConsumed(ctx, tx, id)
	}
	if err != nil {
		return entity.LedgerEntry{}, fmt.Errorf("failed to consume payment intent: %w", mapError(err))
	}

	entry.Reason = "topup"
	entry.Reference = id
	applied, err := applyDelta(ctx, tx, entry)
	if err != nil {
		return entity.LedgerEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return entity.LedgerEntry{}, fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return applied, nil
}

func (r *paymentRepository) ListOpen(ctx context.Context, since time.Time, limit int) ([]entity.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+intentColumns+" FROM payment_intents WHERE status = 'created' AND NOT consumed AND created_at > $1 ORDER BY created_at LIMIT $2",
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open payment intents: %w", err)
	}
	defer rows.Close()

	var intents []entity.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment intent: %w", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment intents: %w", err)
	}
	return intents, nil
}

func scanIntent(row rowScanner) (entity.PaymentIntent, error) {
	var (
		p       entity.PaymentIntent
		purpose string
		status  string
		lines   []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Amount, &purpose, &status, &p.Consumed, &p.Description, &p.RedirectURL, &lines, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return entity.PaymentIntent{}, err
	}
	p.Purpose = entity.PaymentPurpose(purpose)
	p.Status = entity.PaymentStatus(status)
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &p.Lines); err != nil {
			return entity.PaymentIntent{}, fmt.Errorf("failed to unmarshal intent lines: %w", err)
		}
	}
	return p, nil
}
