// Package service provides business logic implementations.
package service

import (
	"context"

	"venue-booking-bot/internal/calendar"
	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/slot"
	"venue-booking-bot/internal/tariff"
)

// BookingStore is the durable booking ledger.
type BookingStore interface {
	Add(ctx context.Context, b *model.Booking, changes []calendar.Change) error
	Remove(ctx context.Context, venueID int64, day slot.Day, s string, changes []calendar.Change) error
	Finalize(ctx context.Context, venueID int64, day slot.Day, s string, code tariff.StatusCode, changes []calendar.Change) error
	RecordPayment(ctx context.Context, venueID int64, day slot.Day, s string, method string, amount *int64) error
	Get(ctx context.Context, venueID int64, day slot.Day, s string) (*model.Booking, error)
	ListByDay(ctx context.Context, day slot.Day) ([]*model.Booking, error)
	LoadAll(ctx context.Context) ([]*model.Booking, []*model.SlotStatus, error)
	CloseOutDay(ctx context.Context) error
}

// VenueStore persists venue accounts.
type VenueStore interface {
	Upsert(ctx context.Context, v *model.VenueAccount) (*model.VenueAccount, error)
	List(ctx context.Context) ([]*model.VenueAccount, error)
	AddSalary(ctx context.Context, venueID, amount int64) (*model.VenueAccount, error)
	AddCash(ctx context.Context, venueID, amount int64) (*model.VenueAccount, error)
	Reset(ctx context.Context, venueID int64) (*model.VenueAccount, error)
	SetSummaryMessage(ctx context.Context, venueID, chatID int64, messageID int) (*model.VenueAccount, error)
}

// UserStore persists user accounts.
type UserStore interface {
	GetOrCreate(ctx context.Context, userID int64, username string) (*model.UserAccount, bool, error)
	GetByID(ctx context.Context, userID int64) (*model.UserAccount, error)
	ApplyDelta(ctx context.Context, userID, delta int64, profit bool) (*model.UserAccount, error)
	ListByMonthlyProfit(ctx context.Context, limit int) ([]*model.UserAccount, error)
	ResetMonthly(ctx context.Context) (int64, error)
}

// TransactionStore records monetary mutations.
type TransactionStore interface {
	Create(ctx context.Context, userID int64, venueID *int64, amount int64, txType string, description *string) (*model.Transaction, error)
}

// AdminChecker decides who may run administrative operations.
type AdminChecker interface {
	// IsAdmin reports a global administrator.
	IsAdmin(userID int64) bool
	// IsVenueAdmin reports an administrator of one venue.
	IsVenueAdmin(venueID, userID int64) bool
}
