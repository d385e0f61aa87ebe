// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"venue-booking-bot/internal/calendar"
	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/pkg/apperr"
	"venue-booking-bot/internal/slot"
	"venue-booking-bot/internal/tariff"
)

// Common errors for booking operations.
var (
	ErrDuplicateSlot   = apperr.New(apperr.ErrConflict, "slot already taken")
	ErrBookingNotFound = apperr.New(apperr.ErrNotFound, "booking not found")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// BookingRepository is the durable ledger of bookings and slot states.
// Every mutation writes the booking row and the slot_status delta in one
// transaction, so a crash never leaves them out of step.
type BookingRepository struct {
	pool *pgxpool.Pool
}

// NewBookingRepository creates a new BookingRepository instance.
func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

// Add inserts a booking and applies the calendar delta.
// Returns ErrDuplicateSlot if the slot or a neighbor is already held.
func (r *BookingRepository) Add(ctx context.Context, b *model.Booking, changes []calendar.Change) error {
	const query = `
		INSERT INTO bookings (venue_id, day, slot, user_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING started_at
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := b.Status
	if status == "" {
		status = model.BookingBooked
	}
	err = tx.QueryRow(ctx, query, b.VenueID, b.Day, b.Slot, b.UserID, status).Scan(&b.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	b.Status = status

	if err := applyChanges(ctx, tx, b.VenueID, slot.Day(b.Day), changes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// Remove deletes a booking and applies the calendar delta.
// Removing a booking that does not exist is not an error.
func (r *BookingRepository) Remove(ctx context.Context, venueID int64, day slot.Day, s string, changes []calendar.Change) error {
	const query = `DELETE FROM bookings WHERE venue_id = $1 AND day = $2 AND slot = $3`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, query, venueID, string(day), s); err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if err := applyChanges(ctx, tx, venueID, day, changes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit removal: %w", err)
	}
	return nil
}

// Finalize records the status code on a booking and applies the delta.
// Returns ErrBookingNotFound if no booking exists for the slot.
func (r *BookingRepository) Finalize(ctx context.Context, venueID int64, day slot.Day, s string, code tariff.StatusCode, changes []calendar.Change) error {
	const query = `
		UPDATE bookings
		SET status = $4, status_code = $5
		WHERE venue_id = $1 AND day = $2 AND slot = $3
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := tx.Exec(ctx, query, venueID, string(day), s, model.BookingFinalized, int(code))
	if err != nil {
		return fmt.Errorf("failed to finalize booking: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	if err := applyChanges(ctx, tx, venueID, day, changes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit finalize: %w", err)
	}
	return nil
}

// RecordPayment stores the settlement outcome of a booking.
// amount is nil for agent payments.
func (r *BookingRepository) RecordPayment(ctx context.Context, venueID int64, day slot.Day, s string, method string, amount *int64) error {
	const query = `
		UPDATE bookings
		SET status = $4, payment_method = $5, amount = $6
		WHERE venue_id = $1 AND day = $2 AND slot = $3
	`

	result, err := r.pool.Exec(ctx, query, venueID, string(day), s, model.BookingSettled, method, amount)
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

const bookingColumns = `venue_id, day, slot, user_id, status, status_code, payment_method, amount, started_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.VenueID,
		&b.Day,
		&b.Slot,
		&b.UserID,
		&b.Status,
		&b.StatusCode,
		&b.PaymentMethod,
		&b.Amount,
		&b.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Get retrieves one booking.
// Returns ErrBookingNotFound if the slot has no booking.
func (r *BookingRepository) Get(ctx context.Context, venueID int64, day slot.Day, s string) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE venue_id = $1 AND day = $2 AND slot = $3`

	b, err := scanBooking(r.pool.QueryRow(ctx, query, venueID, string(day), s))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// ListByDay retrieves every venue's bookings for a day bucket,
// ordered by venue and start time.
func (r *BookingRepository) ListByDay(ctx context.Context, day slot.Day) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE day = $1 ORDER BY venue_id, started_at, slot`

	rows, err := r.pool.Query(ctx, query, string(day))
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}

	return bookings, nil
}

// LoadAll retrieves every booking and slot status row for rehydration.
func (r *BookingRepository) LoadAll(ctx context.Context) ([]*model.Booking, []*model.SlotStatus, error) {
	var bookings []*model.Booking
	for _, day := range slot.Days() {
		b, err := r.ListByDay(ctx, day)
		if err != nil {
			return nil, nil, err
		}
		bookings = append(bookings, b...)
	}

	const query = `SELECT venue_id, day, slot, status, user_id FROM slot_status ORDER BY venue_id, day, slot`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load slot status: %w", err)
	}
	defer rows.Close()

	var statuses []*model.SlotStatus
	for rows.Next() {
		var st model.SlotStatus
		if err := rows.Scan(&st.VenueID, &st.Day, &st.Slot, &st.Status, &st.UserID); err != nil {
			return nil, nil, fmt.Errorf("failed to scan slot status: %w", err)
		}
		statuses = append(statuses, &st)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating slot status: %w", err)
	}

	return bookings, statuses, nil
}

// CloseOutDay retires today and promotes tomorrow in a single transaction:
// today's rows are deleted, tomorrow's rows are re-keyed to today, and any
// tomorrow rows left behind are deleted.
func (r *BookingRepository) CloseOutDay(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	today, tomorrow := string(slot.Today), string(slot.Tomorrow)
	for _, table := range []string{"bookings", "slot_status"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE day = $1`, today); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE `+table+` SET day = $1 WHERE day = $2`, today, tomorrow); err != nil {
			return fmt.Errorf("failed to promote %s: %w", table, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE day = $1`, tomorrow); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit close out: %w", err)
	}
	return nil
}

// applyChanges mirrors a calendar delta into slot_status. A cell that was
// free is inserted, so a concurrent writer holding it surfaces as a unique
// violation.
func applyChanges(ctx context.Context, tx pgx.Tx, venueID int64, day slot.Day, changes []calendar.Change) error {
	const (
		insertQuery = `INSERT INTO slot_status (venue_id, day, slot, status, user_id) VALUES ($1, $2, $3, $4, $5)`
		updateQuery = `UPDATE slot_status SET status = $4, user_id = $5 WHERE venue_id = $1 AND day = $2 AND slot = $3`
		deleteQuery = `DELETE FROM slot_status WHERE venue_id = $1 AND day = $2 AND slot = $3`
	)

	for _, c := range changes {
		var err error
		switch {
		case c.After.State == calendar.Free:
			_, err = tx.Exec(ctx, deleteQuery, venueID, string(day), c.Slot)
		case c.Before.State == calendar.Free:
			_, err = tx.Exec(ctx, insertQuery, venueID, string(day), c.Slot, c.After.State.String(), c.After.User)
		default:
			_, err = tx.Exec(ctx, updateQuery, venueID, string(day), c.Slot, c.After.State.String(), c.After.User)
		}
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateSlot
			}
			return fmt.Errorf("failed to write slot status %s: %w", c.Slot, err)
		}
	}
	return nil
}
