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

// ErrVenueNotFound is returned when a venue has no account row.
var ErrVenueNotFound = apperr.New(apperr.ErrNotFound, "venue not found")

// VenueRepository handles venue account persistence.
// Accumulator updates return the stored row so callers can refresh caches
// from what was committed.
type VenueRepository struct {
	pool *pgxpool.Pool
}

// NewVenueRepository creates a new VenueRepository instance.
func NewVenueRepository(pool *pgxpool.Pool) *VenueRepository {
	return &VenueRepository{pool: pool}
}

const venueColumns = `venue_id, title, salary_option, salary, cash, distribution_variant, target_user, summary_chat_id, summary_message_id, updated_at`

func scanVenue(row pgx.Row) (*model.VenueAccount, error) {
	var v model.VenueAccount
	err := row.Scan(
		&v.VenueID,
		&v.Title,
		&v.SalaryOption,
		&v.Salary,
		&v.Cash,
		&v.DistributionVariant,
		&v.TargetUser,
		&v.SummaryChatID,
		&v.SummaryMessageID,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVenueNotFound
		}
		return nil, err
	}
	return &v, nil
}

// Upsert writes the configured settings of a venue, keeping its
// accumulators and summary reference.
func (r *VenueRepository) Upsert(ctx context.Context, v *model.VenueAccount) (*model.VenueAccount, error) {
	query := `
		INSERT INTO venue_accounts (venue_id, title, salary_option, distribution_variant, target_user, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (venue_id) DO UPDATE
		SET title = EXCLUDED.title,
			salary_option = EXCLUDED.salary_option,
			distribution_variant = EXCLUDED.distribution_variant,
			target_user = EXCLUDED.target_user,
			updated_at = NOW()
		RETURNING ` + venueColumns

	out, err := scanVenue(r.pool.QueryRow(ctx, query,
		v.VenueID, v.Title, v.SalaryOption, v.DistributionVariant, v.TargetUser))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert venue: %w", err)
	}
	return out, nil
}

// GetByID retrieves a venue account.
func (r *VenueRepository) GetByID(ctx context.Context, venueID int64) (*model.VenueAccount, error) {
	query := `SELECT ` + venueColumns + ` FROM venue_accounts WHERE venue_id = $1`

	v, err := scanVenue(r.pool.QueryRow(ctx, query, venueID))
	if err != nil {
		if errors.Is(err, ErrVenueNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get venue: %w", err)
	}
	return v, nil
}

// List retrieves all venue accounts ordered by id.
func (r *VenueRepository) List(ctx context.Context) ([]*model.VenueAccount, error) {
	query := `SELECT ` + venueColumns + ` FROM venue_accounts ORDER BY venue_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list venues: %w", err)
	}
	defer rows.Close()

	var venues []*model.VenueAccount
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan venue: %w", err)
		}
		venues = append(venues, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating venues: %w", err)
	}

	return venues, nil
}

func (r *VenueRepository) update(ctx context.Context, op, set string, args ...any) (*model.VenueAccount, error) {
	query := `UPDATE venue_accounts SET ` + set + `, updated_at = NOW() WHERE venue_id = $1 RETURNING ` + venueColumns

	v, err := scanVenue(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, ErrVenueNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return v, nil
}

// AddSalary accrues amount to the venue salary.
func (r *VenueRepository) AddSalary(ctx context.Context, venueID, amount int64) (*model.VenueAccount, error) {
	return r.update(ctx, "add salary", `salary = salary + $2`, venueID, amount)
}

// AddCash accrues amount to the venue cash.
func (r *VenueRepository) AddCash(ctx context.Context, venueID, amount int64) (*model.VenueAccount, error) {
	return r.update(ctx, "add cash", `cash = cash + $2`, venueID, amount)
}

// Reset zeroes the venue salary and cash.
func (r *VenueRepository) Reset(ctx context.Context, venueID int64) (*model.VenueAccount, error) {
	return r.update(ctx, "reset venue", `salary = 0, cash = 0`, venueID)
}

// SetSummaryMessage stores where the venue's summary message lives.
func (r *VenueRepository) SetSummaryMessage(ctx context.Context, venueID, chatID int64, messageID int) (*model.VenueAccount, error) {
	return r.update(ctx, "set summary message",
		`summary_chat_id = $2, summary_message_id = $3`, venueID, chatID, messageID)
}
