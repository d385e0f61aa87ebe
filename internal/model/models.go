// Package model defines the persisted rows of the booking bot.
package model

import "time"

// Booking lifecycle statuses.
const (
	BookingBooked    = "booked"
	BookingFinalized = "finalized"
	BookingSettled   = "settled"
)

// Payment methods chosen during settlement.
const (
	PaymentCash     = "cash"
	PaymentCashless = "cashless"
	PaymentAgent    = "agent"
)

// Booking is one reserved slot. (VenueID, Day, Slot) is unique.
type Booking struct {
	VenueID       int64     `db:"venue_id"`
	Day           string    `db:"day"`
	Slot          string    `db:"slot"`
	UserID        int64     `db:"user_id"`
	Status        string    `db:"status"`
	StatusCode    *int      `db:"status_code"`
	PaymentMethod *string   `db:"payment_method"`
	Amount        *int64    `db:"amount"`
	StartedAt     time.Time `db:"started_at"`
}

// SlotStatus mirrors one non-free calendar cell for recovery.
type SlotStatus struct {
	VenueID int64  `db:"venue_id"`
	Day     string `db:"day"`
	Slot    string `db:"slot"`
	Status  string `db:"status"`
	UserID  int64  `db:"user_id"`
}

// VenueAccount holds a venue's settings and running accumulators.
type VenueAccount struct {
	VenueID             int64     `db:"venue_id"`
	Title               string    `db:"title"`
	SalaryOption        int       `db:"salary_option"`
	Salary              int64     `db:"salary"`
	Cash                int64     `db:"cash"`
	DistributionVariant *string   `db:"distribution_variant"`
	TargetUser          *int64    `db:"target_user"`
	SummaryChatID       *int64    `db:"summary_chat_id"`
	SummaryMessageID    *int      `db:"summary_message_id"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// UserAccount is a user's spendable balance plus settlement mirrors.
type UserAccount struct {
	UserID        int64     `db:"user_id"`
	Username      string    `db:"username"`
	Balance       int64     `db:"balance"`
	Profit        int64     `db:"profit"`
	MonthlyProfit int64     `db:"monthly_profit"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Transaction records one monetary mutation.
type Transaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	VenueID     *int64    `db:"venue_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeSalary       = "salary"        // venue salary accrued for a finalized booking
	TxTypeSettlement   = "settlement"    // net of amount minus deduction
	TxTypeDeduction    = "deduction"     // agent payment, deduction only
	TxTypeSpecialBonus = "special_bonus" // flat bonus to the special account
	TxTypeDistribution = "distribution"  // distribution plan payout
	TxTypeAdminAdd     = "admin_add"     // Admin added balance
	TxTypeAdminSub     = "admin_sub"     // Admin subtracted balance
)

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
