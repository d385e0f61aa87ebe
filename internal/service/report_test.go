package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/slot"
	"venue-booking-bot/internal/tariff"
)

func TestGetFinancialReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reports := NewReportService(h.registry, h.store, h.admins, 10)

	sess := bookAndFinalize(t, h, venueA, "14:00", userA, tariff.Tier2)
	_, err := h.engine.ChoosePaymentMethod(ctx, sess.ID, admin, model.PaymentCash)
	require.NoError(t, err)
	_, err = h.engine.RecordAmount(ctx, sess.ID, admin, 1000)
	require.NoError(t, err)
	bookAndFinalize(t, h, venueB, "20:00", userB, tariff.Tier0)

	report, err := reports.GetFinancialReport(ctx)
	require.NoError(t, err)

	require.Len(t, report.Venues, 2)
	// venues are sorted by id: venueB (-200) first
	assert.Equal(t, VenueLine{VenueID: venueB, Title: "South", Salary: 800, Finalized: 1}, report.Venues[0])
	assert.Equal(t, VenueLine{VenueID: venueA, Title: "North", Salary: 1400, Cash: 1000, Finalized: 1}, report.Venues[1])
	assert.Equal(t, int64(2200), report.Totals.Salary)
	assert.Equal(t, int64(1000), report.Totals.Cash)
	assert.Equal(t, 2, report.Totals.Finalized)
	assert.Equal(t, "1100", report.Totals.SalaryPerSlot.String())

	require.NotEmpty(t, report.Users)
	var sum int64
	for _, u := range report.Users {
		sum += u.Balance
	}
	assert.Equal(t, sum, report.Totals.Balance)
}

func TestGetVenueSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reports := NewReportService(h.registry, h.store, h.admins, 10)

	bookAndFinalize(t, h, venueA, "14:00", userA, tariff.Tier1)
	_, err := h.registry.ReserveSlot(ctx, venueA, slot.Tomorrow, "18:00", userB)
	require.NoError(t, err)

	sum, err := reports.GetVenueSummary(venueA)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sum.Salary)
	assert.Equal(t, []SlotEntry{{Day: slot.Today, Slot: "14:00", User: userA, Code: tariff.Tier1}}, sum.FinalizedSlots)
	assert.Equal(t, []SlotEntry{{Day: slot.Tomorrow, Slot: "18:00", User: userB}}, sum.OpenBookings)

	_, err = reports.GetVenueSummary(42)
	assert.ErrorIs(t, err, ErrUnknownVenue)
}

func TestResetMonthly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reports := NewReportService(h.registry, h.store, h.admins, 10)

	_, err := h.store.ApplyDelta(ctx, userA, 500, true)
	require.NoError(t, err)

	_, err = reports.ResetMonthly(ctx, venueAdmin)
	assert.ErrorIs(t, err, ErrCallerNotAdmin)

	n, err := reports.ResetMonthly(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	u, err := h.store.GetByID(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.MonthlyProfit)
	assert.Equal(t, int64(500), u.Profit)
}
