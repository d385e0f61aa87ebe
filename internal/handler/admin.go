package handler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"venue-booking-bot/internal/service"
)

// RolloverRunner performs a manual day rollover.
type RolloverRunner interface {
	Run(ctx context.Context) (*service.RolloverReport, error)
}

// AdminHandler handles admin-related commands.
type AdminHandler struct {
	accountService *service.AccountService
	reportService  *service.ReportService
	registry       *service.VenueRegistry
	rollover       RolloverRunner
	summaries      service.SummaryPublisher
}

// NewAdminHandler creates a new AdminHandler. summaries may be nil.
func NewAdminHandler(
	accountService *service.AccountService,
	reportService *service.ReportService,
	registry *service.VenueRegistry,
	rollover RolloverRunner,
	summaries service.SummaryPublisher,
) *AdminHandler {
	return &AdminHandler{
		accountService: accountService,
		reportService:  reportService,
		registry:       registry,
		rollover:       rollover,
		summaries:      summaries,
	}
}

// HandleAdminAdd handles the /admin_add command.
// Format: /admin_add <user_id> <amount>
func (h *AdminHandler) HandleAdminAdd(c tele.Context) error {
	return h.adjust(c, "/admin_add", 1)
}

// HandleAdminSub handles the /admin_sub command.
// Format: /admin_sub <user_id> <amount>
func (h *AdminHandler) HandleAdminSub(c tele.Context) error {
	return h.adjust(c, "/admin_sub", -1)
}

func (h *AdminHandler) adjust(c tele.Context, command string, sign int64) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	targetID, amount, err := parseAdminArgs(command, c.Args())
	if err != nil {
		return c.Reply(err.Error())
	}
	if amount <= 0 {
		return c.Reply("Amount must be greater than 0.")
	}

	user, err := h.accountService.Adjust(ctx, sender.ID, targetID, sign*amount)
	if err != nil {
		return c.Reply(ErrorText(err))
	}

	verb := "Added"
	if sign < 0 {
		verb = "Subtracted"
	}
	return c.Reply(fmt.Sprintf(
		"Done\n\n"+
			"User: %s (ID: %d)\n"+
			"%s: %d\n"+
			"Balance: %d",
		displayName(user), targetID, verb, amount, user.Balance,
	))
}

// parseAdminArgs parses admin command arguments.
// Format: <user_id> <amount>
func parseAdminArgs(command string, args []string) (int64, int64, error) {
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("Usage: %s <user_id> <amount>\nExample: %s 123456789 100", command, command)
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("User ID must be a number.")
	}

	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("Amount must be a whole number.")
	}

	return targetID, amount, nil
}

// HandleReport handles the /report command.
func (h *AdminHandler) HandleReport(c tele.Context) error {
	report, err := h.reportService.GetFinancialReport(context.Background())
	if err != nil {
		return c.Reply(ErrorText(err))
	}
	return c.Reply(FormatFinancialReport(report))
}

// HandleRollover handles the /rollover command.
// Closes out today for every venue without waiting for the schedule.
func (h *AdminHandler) HandleRollover(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	log.Info().Int64("admin_id", sender.ID).Msg("Manual rollover requested")
	report, err := h.rollover.Run(context.Background())
	if err != nil {
		return c.Reply(ErrorText(err))
	}
	return c.Reply(FormatRolloverReport(report))
}

// HandleResetVenue handles the /reset_venue command.
// Zeroes the salary and cash accumulators of the current venue.
func (h *AdminHandler) HandleResetVenue(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	venueID, ok := venueOf(c)
	if !ok {
		return c.Reply(notInVenue)
	}

	account, err := h.registry.ResetVenue(ctx, venueID, sender.ID)
	if err != nil {
		return c.Reply(ErrorText(err))
	}

	refreshSummary(ctx, h.summaries, h.registry, venueID)
	return c.Reply(fmt.Sprintf("%s reset: salary %d, cash %d.", account.Title, account.Salary, account.Cash))
}

// HandleResetMonthly handles the /reset_monthly command.
func (h *AdminHandler) HandleResetMonthly(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	n, err := h.reportService.ResetMonthly(context.Background(), sender.ID)
	if err != nil {
		return c.Reply(ErrorText(err))
	}
	return c.Reply(fmt.Sprintf("Monthly profit reset for %d users.", n))
}
