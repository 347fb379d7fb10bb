package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

type ledgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository creates a new LedgerRepository backed by Postgres.
func NewLedgerRepository(db *sql.DB) repository.LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var quantity decimal.Decimal
	err := r.db.QueryRowContext(ctx, "SELECT quantity FROM balances WHERE user_id = $1", userID).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, repository.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query balance: %w", err)
	}
	return quantity, nil
}

func (r *ledgerRepository) Apply(ctx context.Context, entry entity.LedgerEntry) (entity.LedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.LedgerEntry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	applied, err := applyDelta(ctx, tx, entry)
	if err != nil {
		return entity.LedgerEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return entity.LedgerEntry{}, fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return applied, nil
}

func (r *ledgerRepository) History(ctx context.Context, userID int64, limit int) ([]entity.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id, delta, balance_after, reason, reference, created_at FROM ledger_entries WHERE user_id = $1 ORDER BY id DESC LIMIT $2",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []entity.LedgerEntry
	for rows.Next() {
		var e entity.LedgerEntry
		if err := rows.Scan(&e.UserID, &e.Delta, &e.BalanceAfter, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return entries, nil
}

// applyDelta locks the balance row, checks the non-negative invariant, writes the new
// balance and journals the change. It must run inside tx.
func applyDelta(ctx context.Context, tx *sql.Tx, entry entity.LedgerEntry) (entity.LedgerEntry, error) {
	var current decimal.Decimal
	err := tx.QueryRowContext(ctx, "SELECT quantity FROM balances WHERE user_id = $1 FOR UPDATE", entry.UserID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.LedgerEntry{}, repository.ErrNotFound
	}
	if err != nil {
		return entity.LedgerEntry{}, fmt.Errorf("failed to lock balance: %w", mapError(err))
	}

	next := current.Add(entry.Delta)
	if next.IsNegative() {
		return entity.LedgerEntry{}, repository.ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, "UPDATE balances SET quantity = $1 WHERE user_id = $2", next, entry.UserID); err != nil {
		return entity.LedgerEntry{}, fmt.Errorf("failed to update balance: %w", mapError(err))
	}

	entry.BalanceAfter = next
	err = tx.QueryRowContext(ctx,
		"INSERT INTO ledger_entries (user_id, delta, balance_after, reason, reference) VALUES ($1, $2, $3, $4, $5) RETURNING created_at",
		entry.UserID, entry.Delta, entry.BalanceAfter, entry.Reason, entry.Reference,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return entity.LedgerEntry{}, fmt.Errorf("failed to journal balance change: %w", mapError(err))
	}
	return entry, nil
}
