package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/TURRA7/BotShop/internal/repository"
)

// Postgres error codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func InitDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("Database connected and migrated")
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		referral_code TEXT NOT NULL UNIQUE,
		referred_by BIGINT REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS balances (
		user_id BIGINT PRIMARY KEY REFERENCES users(id),
		quantity NUMERIC(12, 2) NOT NULL DEFAULT 0 CHECK (quantity >= 0)
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		delta NUMERIC(12, 2) NOT NULL,
		balance_after NUMERIC(12, 2) NOT NULL,
		reason TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		price NUMERIC(10, 2) NOT NULL CHECK (price > 0),
		stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
		in_stock BOOLEAN NOT NULL DEFAULT TRUE,
		image_ref TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cart_lines (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		product_id BIGINT NOT NULL REFERENCES products(id)
	);
	CREATE INDEX IF NOT EXISTS cart_lines_user_idx ON cart_lines (user_id);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		total NUMERIC(12, 2) NOT NULL,
		method TEXT NOT NULL,
		intent_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		product_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		price NUMERIC(10, 2) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS owned_goods (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		order_id TEXT NOT NULL REFERENCES orders(id),
		product_name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		image_ref TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS payment_intents (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		amount NUMERIC(12, 2) NOT NULL,
		purpose TEXT NOT NULL,
		status TEXT NOT NULL,
		consumed BOOLEAN NOT NULL DEFAULT FALSE,
		description TEXT NOT NULL DEFAULT '',
		redirect_url TEXT NOT NULL DEFAULT '',
		lines JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS payment_intents_open_idx ON payment_intents (created_at) WHERE status = 'created' AND NOT consumed;
`

// mapError translates driver errors the services care about into repository sentinels.
// Anything else is returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %v", repository.ErrDuplicate, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %v", repository.ErrNotFound, err)
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %v", repository.ErrConflict, err)
	}
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
