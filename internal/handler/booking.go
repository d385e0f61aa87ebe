package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"venue-booking-bot/internal/service"
	"venue-booking-bot/internal/slot"
)

const notInVenue = "This command only works in a venue chat."

// BookingHandler handles slot browsing, booking and cancellation.
// The venue is the group chat the command is sent in.
type BookingHandler struct {
	registry       *service.VenueRegistry
	accountService *service.AccountService
	summaries      service.SummaryPublisher
}

// NewBookingHandler creates a new BookingHandler. summaries may be nil.
func NewBookingHandler(registry *service.VenueRegistry, accountService *service.AccountService, summaries service.SummaryPublisher) *BookingHandler {
	return &BookingHandler{
		registry:       registry,
		accountService: accountService,
		summaries:      summaries,
	}
}

func venueOf(c tele.Context) (int64, bool) {
	chat := c.Chat()
	if chat == nil || chat.Type == tele.ChatPrivate {
		return 0, false
	}
	return chat.ID, true
}

// refreshSummary republishes the venue summary after a change.
func refreshSummary(ctx context.Context, summaries service.SummaryPublisher, registry *service.VenueRegistry, venueID int64) {
	if summaries == nil {
		return
	}
	sum, err := registry.GetVenueSummary(venueID)
	if err != nil {
		return
	}
	if err := summaries.PublishSummary(ctx, sum); err != nil {
		log.Warn().Err(err).Int64("venue_id", venueID).Msg("Failed to refresh venue summary")
	}
}

// HandleFree handles the /free command.
// Format: /free [today|tomorrow]
func (h *BookingHandler) HandleFree(c tele.Context) error {
	venueID, ok := venueOf(c)
	if !ok {
		return c.Reply(notInVenue)
	}

	day := slot.Today
	if args := c.Args(); len(args) > 0 {
		d, err := slot.ParseDay(args[0])
		if err != nil {
			return c.Reply(ErrorText(err))
		}
		day = d
	}

	free, err := h.registry.ListAvailable(venueID, day)
	if err != nil {
		return c.Reply(ErrorText(err))
	}
	account, _ := h.registry.Account(venueID)
	return c.Reply(FormatFree(account.Title, day, free))
}

// HandleBook handles the /book command.
// Format: /book <day> <HH:MM>. Without a slot it shows the free slots as
// buttons.
func (h *BookingHandler) HandleBook(c tele.Context) error {
	venueID, ok := venueOf(c)
	if !ok {
		return c.Reply(notInVenue)
	}

	args := c.Args()
	day := slot.Today
	if len(args) > 0 {
		d, err := slot.ParseDay(args[0])
		if err != nil {
			return c.Reply(ErrorText(err))
		}
		day = d
	}

	if len(args) < 2 {
		free, err := h.registry.ListAvailable(venueID, day)
		if err != nil {
			return c.Reply(ErrorText(err))
		}
		if len(free) == 0 {
			return c.Reply(fmt.Sprintf("No free slots %s.", day))
		}
		return c.Reply(fmt.Sprintf("Pick a slot for %s:", day), BuildSlotKeyboard(day, free))
	}

	msg, err := h.reserve(c, venueID, day, args[1])
	if err != nil {
		return c.Reply(ErrorText(err))
	}
	return c.Reply(msg)
}

// HandleBookCallback handles slot keyboard buttons.
func (h *BookingHandler) HandleBookCallback(c tele.Context, data string) error {
	venueID, ok := venueOf(c)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: notInVenue, ShowAlert: true})
	}

	day, s, err := ParseBookCallback(data)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: ErrorText(err), ShowAlert: true})
	}

	msg, err := h.reserve(c, venueID, day, s)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: ErrorText(err), ShowAlert: true})
	}
	_ = c.Respond(&tele.CallbackResponse{Text: "Booked"})
	return c.Send(msg)
}

func (h *BookingHandler) reserve(c tele.Context, venueID int64, day slot.Day, s string) (string, error) {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return "", fmt.Errorf("no sender")
	}

	if _, _, err := h.accountService.EnsureUser(ctx, sender.ID, senderName(sender)); err != nil {
		return "", err
	}
	booking, err := h.registry.ReserveSlot(ctx, venueID, day, s, sender.ID)
	if err != nil {
		return "", err
	}

	refreshSummary(ctx, h.summaries, h.registry, venueID)
	return fmt.Sprintf("Booked %s %s for %s.", booking.Day, booking.Slot, senderName(sender)), nil
}

// HandleCancel handles the /cancel command.
// Format: /cancel <day> <HH:MM>
func (h *BookingHandler) HandleCancel(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	venueID, ok := venueOf(c)
	if !ok {
		return c.Reply(notInVenue)
	}

	args := c.Args()
	if len(args) < 2 {
		return c.Reply("Usage: /cancel <today|tomorrow> <HH:MM>")
	}
	day, err := slot.ParseDay(args[0])
	if err != nil {
		return c.Reply(ErrorText(err))
	}
	s, err := slot.Normalize(args[1])
	if err != nil {
		return c.Reply(ErrorText(err))
	}

	if err := h.registry.CancelSlot(ctx, venueID, day, s, sender.ID); err != nil {
		return c.Reply(ErrorText(err))
	}

	refreshSummary(ctx, h.summaries, h.registry, venueID)
	return c.Reply(fmt.Sprintf("Slot %s %s is free.", day, s))
}

// HandleSummary handles the /summary command.
func (h *BookingHandler) HandleSummary(c tele.Context) error {
	venueID, ok := venueOf(c)
	if !ok {
		return c.Reply(notInVenue)
	}

	sum, err := h.registry.GetVenueSummary(venueID)
	if err != nil {
		return c.Reply(ErrorText(err))
	}
	return c.Reply(FormatSummary(sum))
}
