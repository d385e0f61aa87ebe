package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"venue-booking-bot/internal/model"
)

// VenueLine is one venue row of the financial report.
type VenueLine struct {
	VenueID   int64
	Title     string
	Salary    int64
	Cash      int64
	Finalized int
}

// ReportTotals sums the report lines.
type ReportTotals struct {
	Salary        int64
	Cash          int64
	Finalized     int
	Balance       int64
	MonthlyProfit int64
	// SalaryPerSlot is salary divided by finalized slots.
	SalaryPerSlot decimal.Decimal
}

// FinancialReport is the cross-venue money overview.
type FinancialReport struct {
	Venues []VenueLine
	Users  []*model.UserAccount
	Totals ReportTotals
}

// ReportService builds reports across venues and users.
type ReportService struct {
	registry *VenueRegistry
	users    UserStore
	admins   AdminChecker
	limit    int
}

// NewReportService creates a new ReportService instance.
// userLimit caps the user rows of the financial report.
func NewReportService(registry *VenueRegistry, users UserStore, admins AdminChecker, userLimit int) *ReportService {
	if userLimit <= 0 {
		userLimit = 50
	}
	return &ReportService{
		registry: registry,
		users:    users,
		admins:   admins,
		limit:    userLimit,
	}
}

// GetFinancialReport reads venues from the cache and users from the store.
func (s *ReportService) GetFinancialReport(ctx context.Context) (*FinancialReport, error) {
	report := &FinancialReport{}

	for _, id := range s.registry.Venues() {
		sum, err := s.registry.GetVenueSummary(id)
		if err != nil {
			return nil, err
		}
		line := VenueLine{
			VenueID:   id,
			Title:     sum.Title,
			Salary:    sum.Salary,
			Cash:      sum.Cash,
			Finalized: len(sum.FinalizedSlots),
		}
		report.Venues = append(report.Venues, line)
		report.Totals.Salary += line.Salary
		report.Totals.Cash += line.Cash
		report.Totals.Finalized += line.Finalized
	}

	users, err := s.users.ListByMonthlyProfit(ctx, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	report.Users = users
	for _, u := range users {
		report.Totals.Balance += u.Balance
		report.Totals.MonthlyProfit += u.MonthlyProfit
	}

	if report.Totals.Finalized > 0 {
		report.Totals.SalaryPerSlot = decimal.NewFromInt(report.Totals.Salary).
			Div(decimal.NewFromInt(int64(report.Totals.Finalized))).Round(2)
	}
	return report, nil
}

// GetVenueSummary returns one venue's running state.
func (s *ReportService) GetVenueSummary(venueID int64) (*VenueSummary, error) {
	return s.registry.GetVenueSummary(venueID)
}

// ResetMonthly zeroes every user's monthly profit. Global admins only.
func (s *ReportService) ResetMonthly(ctx context.Context, actor int64) (int64, error) {
	if !s.admins.IsAdmin(actor) {
		log.Warn().Int64("user_id", actor).Msg("Monthly reset rejected: not admin")
		return 0, ErrCallerNotAdmin
	}
	n, err := s.users.ResetMonthly(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly profit: %w", err)
	}
	log.Info().Int64("user_id", actor).Int64("users", n).Msg("Monthly profit reset")
	return n, nil
}
