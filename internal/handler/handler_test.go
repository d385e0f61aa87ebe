package handler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-booking-bot/internal/calendar"
	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/pkg/apperr"
	"venue-booking-bot/internal/service"
	"venue-booking-bot/internal/slot"
	"venue-booking-bot/internal/tariff"
)

func TestErrorText(t *testing.T) {
	assert.Equal(t, "Slot is not available.", ErrorText(fmt.Errorf("reserve: %w", calendar.ErrSlotUnavailable)))
	assert.Equal(t, "Only venue administrators can do this.", ErrorText(service.ErrCallerNotAdmin))
	assert.Equal(t, "Storage is unavailable right now, please try again.",
		ErrorText(apperr.Retryable("add booking", errors.New("connection refused"))))
	assert.Equal(t, "Something went wrong, please try again later.", ErrorText(errors.New("boom")))
}

func TestBookCallbackRoundTrip(t *testing.T) {
	markup := BuildSlotKeyboard(slot.Tomorrow, []string{"12:00", "13:00", "14:00", "15:00", "16:00"})
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Len(t, markup.InlineKeyboard[0], slotsPerRow)
	assert.Len(t, markup.InlineKeyboard[1], 1)

	data := markup.InlineKeyboard[1][0].Unique
	day, s, err := ParseBookCallback(data)
	require.NoError(t, err)
	assert.Equal(t, slot.Tomorrow, day)
	assert.Equal(t, "16:00", s)

	_, _, err = ParseBookCallback("book:today")
	assert.Error(t, err)
	_, _, err = ParseBookCallback("book:today:03:00")
	assert.ErrorIs(t, err, slot.ErrUnknownSlot)
}

func TestPayCallbackRoundTrip(t *testing.T) {
	markup := BuildPaymentKeyboard("7f0c")
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 3)

	id, method, err := ParsePayCallback(markup.InlineKeyboard[0][2].Unique)
	require.NoError(t, err)
	assert.Equal(t, "7f0c", id)
	assert.Equal(t, model.PaymentAgent, method)

	_, _, err = ParsePayCallback("pay::cash")
	assert.Error(t, err)
}

func TestParseAdminArgs(t *testing.T) {
	id, amount, err := parseAdminArgs("/admin_add", []string{"123", "500"})
	require.NoError(t, err)
	assert.Equal(t, int64(123), id)
	assert.Equal(t, int64(500), amount)

	_, _, err = parseAdminArgs("/admin_add", []string{"123"})
	assert.ErrorContains(t, err, "Usage: /admin_add")
	_, _, err = parseAdminArgs("/admin_sub", []string{"bob", "5"})
	assert.Error(t, err)
	_, _, err = parseAdminArgs("/admin_sub", []string{"1", "5.5"})
	assert.Error(t, err)
}

func TestFormatSummary(t *testing.T) {
	text := FormatSummary(&service.VenueSummary{
		Title:          "North",
		Salary:         1400,
		Cash:           1000,
		FinalizedSlots: []service.SlotEntry{{Day: slot.Today, Slot: "14:00", User: 10, Code: tariff.Tier2}},
	})
	assert.Contains(t, text, "North")
	assert.Contains(t, text, "Salary: 1400")
	assert.Contains(t, text, "today 14:00  user 10  tier 2")
	assert.Contains(t, text, "Booked:\nnone")
}

func TestFormatRolloverReport(t *testing.T) {
	text := FormatRolloverReport(&service.RolloverReport{
		At:       time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		Bookings: 2,
		Methods:  []service.MethodTotal{{Method: model.PaymentCash, Count: 2, Sum: 2500, Average: decimal.NewFromInt(1250)}},
		Degraded: true,
		Problems: []string{"report not delivered"},
	})
	assert.Contains(t, text, "cash: 2, sum 2500, avg 1250.00")
	assert.Contains(t, text, "Warnings: report not delivered")
}

func TestFormatSession(t *testing.T) {
	base := service.Session{Key: service.SessionKey{Day: slot.Today, Slot: "14:00"}, User: 10, Code: tariff.Tier2}

	s := base
	s.State = service.AwaitingPaymentMethod
	assert.Contains(t, FormatSession(&s), "Choose the payment method")

	s.State = service.Settled
	s.Method = model.PaymentCash
	s.Amount, s.Net, s.Payout = 1000, -2000, 200
	assert.Contains(t, FormatSession(&s), "Amount 1000, net -2000. Payout 200.")

	s.Method = model.PaymentAgent
	s.Deduction = 3800
	assert.Contains(t, FormatSession(&s), "Deduction 3800 charged")

	v := base
	v.Code = tariff.Void
	v.State = service.Settled
	assert.Contains(t, FormatSession(&v), "void")
}

func TestLooksLikeAmount(t *testing.T) {
	for text, want := range map[string]bool{
		"1000":         true,
		"-5":           true,
		"+20":          true,
		"12abc":        true,
		"":             false,
		"-":            false,
		"thanks all":   false,
		"see you at 5": false,
	} {
		assert.Equal(t, want, looksLikeAmount(text), text)
	}
}
