package handler

import (
	"fmt"
	"strings"

	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/pkg/apperr"
	"venue-booking-bot/internal/service"
	"venue-booking-bot/internal/slot"
	"venue-booking-bot/internal/tariff"
)

const rule = "---------------"

// ErrorText turns a service error into a reply. Classified errors carry
// their own message; store failures and unknown errors get a generic one.
func ErrorText(err error) string {
	switch apperr.Kind(err) {
	case nil:
		return "Something went wrong, please try again later."
	case apperr.ErrRetryable:
		return "Storage is unavailable right now, please try again."
	}
	if msg := apperr.Message(err); msg != "" {
		return strings.ToUpper(msg[:1]) + msg[1:] + "."
	}
	return "Request failed: " + err.Error()
}

// FormatFree lists the free slots of a day.
func FormatFree(title string, day slot.Day, free []string) string {
	if len(free) == 0 {
		return fmt.Sprintf("%s, %s: no free slots.", title, day)
	}
	return fmt.Sprintf("%s, %s: %d free slots\n%s", title, day, len(free), strings.Join(free, " "))
}

func formatCode(c tariff.StatusCode) string {
	if c == tariff.Void {
		return "void"
	}
	return fmt.Sprintf("tier %d", int(c))
}

// FormatSummary renders a venue summary message.
func FormatSummary(s *service.VenueSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n", s.Title, rule)
	fmt.Fprintf(&b, "Salary: %d\nCash: %d\n", s.Salary, s.Cash)

	b.WriteString("\nFinalized:\n")
	if len(s.FinalizedSlots) == 0 {
		b.WriteString("none\n")
	}
	for _, e := range s.FinalizedSlots {
		fmt.Fprintf(&b, "%s %s  user %d  %s\n", e.Day, e.Slot, e.User, formatCode(e.Code))
	}

	b.WriteString("\nBooked:\n")
	if len(s.OpenBookings) == 0 {
		b.WriteString("none\n")
	}
	for _, e := range s.OpenBookings {
		fmt.Fprintf(&b, "%s %s  user %d\n", e.Day, e.Slot, e.User)
	}
	b.WriteString(rule)
	return b.String()
}

// FormatRolloverReport renders the day close-out report.
func FormatRolloverReport(r *service.RolloverReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Day closed %s\n%s\n", r.At.Format("2006-01-02 15:04 MST"), rule)
	fmt.Fprintf(&b, "Bookings: %d (unsettled %d)\n", r.Bookings, r.Unsettled)

	if len(r.Methods) > 0 {
		b.WriteString("\nBy payment method:\n")
		for _, m := range r.Methods {
			fmt.Fprintf(&b, "%s: %d, sum %d, avg %s\n", m.Method, m.Count, m.Sum, m.Average.StringFixed(2))
		}
	}
	if len(r.Users) > 0 {
		b.WriteString("\nBy user:\n")
		for _, u := range r.Users {
			fmt.Fprintf(&b, "user %d: %d\n", u.UserID, u.Count)
		}
	}
	if r.Degraded {
		fmt.Fprintf(&b, "\nWarnings: %s\n", strings.Join(r.Problems, "; "))
	}
	b.WriteString(rule)
	return b.String()
}

// FormatFinancialReport renders the cross-venue money overview.
func FormatFinancialReport(r *service.FinancialReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Financial report\n%s\n", rule)
	for _, v := range r.Venues {
		fmt.Fprintf(&b, "%s: salary %d, cash %d, finalized %d\n", v.Title, v.Salary, v.Cash, v.Finalized)
	}
	fmt.Fprintf(&b, "Total: salary %d, cash %d, finalized %d", r.Totals.Salary, r.Totals.Cash, r.Totals.Finalized)
	if r.Totals.Finalized > 0 {
		fmt.Fprintf(&b, ", %s per slot", r.Totals.SalaryPerSlot.StringFixed(2))
	}
	b.WriteString("\n")

	if len(r.Users) > 0 {
		fmt.Fprintf(&b, "\nUsers by monthly profit:\n")
		for i, u := range r.Users {
			fmt.Fprintf(&b, "%d. %s: balance %d, month %d\n", i+1, displayName(u), u.Balance, u.MonthlyProfit)
		}
	}
	b.WriteString(rule)
	return b.String()
}

// FormatSession describes where a settlement stands.
func FormatSession(s *service.Session) string {
	head := fmt.Sprintf("%s %s, user %d, %s", s.Key.Day, s.Key.Slot, s.User, formatCode(s.Code))
	switch s.State {
	case service.AwaitingPaymentMethod:
		return fmt.Sprintf("%s\nSalary %d, bonus %d.\nChoose the payment method:", head, s.Salary, s.Bonus)
	case service.AwaitingAmount:
		return fmt.Sprintf("%s\nPaid by %s. Send the amount as a number.", head, s.Method)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\nSettled", head)
	if s.Method != "" {
		fmt.Fprintf(&b, " (%s)", s.Method)
	}
	b.WriteString(".\n")
	if s.Method == model.PaymentAgent {
		fmt.Fprintf(&b, "Deduction %d charged to the user.", s.Deduction)
	} else if s.Method != "" {
		fmt.Fprintf(&b, "Amount %d, net %d.", s.Amount, s.Net)
		if s.Payout > 0 {
			fmt.Fprintf(&b, " Payout %d.", s.Payout)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayName(u *model.UserAccount) string {
	if u.Username == "" {
		return fmt.Sprintf("user %d", u.UserID)
	}
	return "@" + u.Username
}
