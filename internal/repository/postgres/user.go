package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository backed by Postgres.
func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user entity.User) (entity.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.User{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		"INSERT INTO users (id, referral_code) VALUES ($1, $2) RETURNING created_at",
		user.ID, user.ReferralCode,
	).Scan(&user.CreatedAt)
	if err != nil {
		return entity.User{}, fmt.Errorf("failed to insert user: %w", mapError(err))
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO balances (user_id, quantity) VALUES ($1, 0)", user.ID); err != nil {
		return entity.User{}, fmt.Errorf("failed to insert balance: %w", mapError(err))
	}

	if err := tx.Commit(); err != nil {
		return entity.User{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (entity.User, error) {
	return r.findOne(ctx, "SELECT id, referral_code, referred_by, created_at FROM users WHERE id = $1", id)
}

func (r *userRepository) FindByReferralCode(ctx context.Context, code string) (entity.User, error) {
	return r.findOne(ctx, "SELECT id, referral_code, referred_by, created_at FROM users WHERE referral_code = $1", code)
}

func (r *userRepository) findOne(ctx context.Context, query string, arg any) (entity.User, error) {
	var (
		u          entity.User
		referredBy sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.ReferralCode, &referredBy, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.User{}, repository.ErrNotFound
	}
	if err != nil {
		return entity.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	if referredBy.Valid {
		ref := referredBy.Int64
		u.ReferredBy = &ref
	}
	return u, nil
}

func (r *userRepository) SetReferrer(ctx context.Context, userID, referrerID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET referred_by = $1 WHERE id = $2 AND referred_by IS NULL",
		referrerID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set referrer: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

func (r *userRepository) CountReferrals(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE referred_by = $1", userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count referrals: %w", err)
	}
	return count, nil
}
