package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/pkg/apperr"
)

// Common errors for user operations.
var (
	ErrUserNotFound = apperr.New(apperr.ErrNotFound, "user not found")
)

// UserRepository handles user account persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `user_id, username, balance, profit, monthly_profit, created_at, updated_at`

func scanUser(row pgx.Row) (*model.UserAccount, error) {
	var user model.UserAccount
	err := row.Scan(
		&user.UserID,
		&user.Username,
		&user.Balance,
		&user.Profit,
		&user.MonthlyProfit,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByID retrieves a user account.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.UserAccount, error) {
	query := `SELECT ` + userColumns + ` FROM user_accounts WHERE user_id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetOrCreate retrieves a user account, creating an empty one if needed.
// A non-empty username replaces the stored one. The bool reports creation.
func (r *UserRepository) GetOrCreate(ctx context.Context, userID int64, username string) (*model.UserAccount, bool, error) {
	// xmax = 0 only for freshly inserted rows
	query := `
		INSERT INTO user_accounts (user_id, username, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET username = CASE WHEN EXCLUDED.username = '' THEN user_accounts.username ELSE EXCLUDED.username END
		RETURNING ` + userColumns + `, (xmax = 0)`

	var user model.UserAccount
	var created bool
	err := r.pool.QueryRow(ctx, query, userID, username).Scan(
		&user.UserID,
		&user.Username,
		&user.Balance,
		&user.Profit,
		&user.MonthlyProfit,
		&user.CreatedAt,
		&user.UpdatedAt,
		&created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create user: %w", err)
	}
	return &user, created, nil
}

// ApplyDelta adds delta to the balance and, when profit is set, to profit
// and monthly profit. The account is created if it does not exist.
func (r *UserRepository) ApplyDelta(ctx context.Context, userID, delta int64, profit bool) (*model.UserAccount, error) {
	var profitDelta int64
	if profit {
		profitDelta = delta
	}

	query := `
		INSERT INTO user_accounts (user_id, balance, profit, monthly_profit, created_at, updated_at)
		VALUES ($1, $2, $3, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = user_accounts.balance + $2,
			profit = user_accounts.profit + $3,
			monthly_profit = user_accounts.monthly_profit + $3,
			updated_at = NOW()
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID, delta, profitDelta))
	if err != nil {
		return nil, fmt.Errorf("failed to apply delta: %w", err)
	}
	return user, nil
}

// ListByMonthlyProfit retrieves users ordered by monthly profit, highest first.
func (r *UserRepository) ListByMonthlyProfit(ctx context.Context, limit int) ([]*model.UserAccount, error) {
	query := `SELECT ` + userColumns + ` FROM user_accounts ORDER BY monthly_profit DESC, user_id LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.UserAccount
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// ResetMonthly zeroes every user's monthly profit and returns how many rows changed.
func (r *UserRepository) ResetMonthly(ctx context.Context) (int64, error) {
	const query = `UPDATE user_accounts SET monthly_profit = 0, updated_at = NOW() WHERE monthly_profit <> 0`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly profit: %w", err)
	}
	return result.RowsAffected(), nil
}
