package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"venue-booking-bot/internal/service"
	"venue-booking-bot/internal/slot"
	"venue-booking-bot/internal/tariff"
)

// SettlementHandler drives the finalize, payment method and amount steps.
type SettlementHandler struct {
	engine    *service.SettlementEngine
	registry  *service.VenueRegistry
	summaries service.SummaryPublisher
}

// NewSettlementHandler creates a new SettlementHandler. summaries may be nil.
func NewSettlementHandler(engine *service.SettlementEngine, registry *service.VenueRegistry, summaries service.SummaryPublisher) *SettlementHandler {
	return &SettlementHandler{
		engine:    engine,
		registry:  registry,
		summaries: summaries,
	}
}

// HandleFinalize handles the /finalize command.
// Format: /finalize <day> <HH:MM> <-1|0|1|2|3>
func (h *SettlementHandler) HandleFinalize(c tele.Context) error {
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
	if len(args) < 3 {
		return c.Reply("Usage: /finalize <today|tomorrow> <HH:MM> <-1|0|1|2|3>")
	}
	day, err := slot.ParseDay(args[0])
	if err != nil {
		return c.Reply(ErrorText(err))
	}
	code, err := tariff.ParseStatusCode(args[2])
	if err != nil {
		return c.Reply(ErrorText(err))
	}

	key := service.SessionKey{Venue: venueID, Day: day, Slot: args[1], Admin: sender.ID}
	sess, err := h.engine.FinalizeStatus(ctx, key, code)
	if err != nil {
		return c.Reply(ErrorText(err))
	}

	refreshSummary(ctx, h.summaries, h.registry, venueID)
	if sess.State == service.AwaitingPaymentMethod {
		return c.Reply(FormatSession(sess), BuildPaymentKeyboard(sess.ID))
	}
	return c.Reply(FormatSession(sess))
}

// HandlePayCallback handles the payment method buttons.
func (h *SettlementHandler) HandlePayCallback(c tele.Context, data string) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	id, method, err := ParsePayCallback(data)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: ErrorText(err), ShowAlert: true})
	}

	sess, err := h.engine.ChoosePaymentMethod(ctx, id, sender.ID, method)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: ErrorText(err), ShowAlert: true})
	}
	_ = c.Respond(&tele.CallbackResponse{})

	if sess.State == service.Settled {
		refreshSummary(ctx, h.summaries, h.registry, sess.Key.Venue)
	}
	return c.Edit(FormatSession(sess))
}

// HandleText picks up the amount an admin types while a session waits
// for it. Messages that do not start like a number pass through untouched.
func (h *SettlementHandler) HandleText(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	venueID, ok := venueOf(c)
	if !ok {
		return nil
	}

	pending, ok := h.engine.PendingAmount(venueID, sender.ID)
	if !ok {
		return nil
	}

	text := strings.TrimSpace(c.Text())
	if !looksLikeAmount(text) {
		return nil
	}
	amount, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		log.Debug().Str("session_id", pending.ID).Str("text", text).Msg("Rejecting malformed amount")
		return c.Reply("Send the amount as a whole number.")
	}

	sess, err := h.engine.RecordAmount(ctx, pending.ID, sender.ID, amount)
	if err != nil {
		return c.Reply(ErrorText(err))
	}

	refreshSummary(ctx, h.summaries, h.registry, venueID)
	return c.Reply(FormatSession(sess))
}

// looksLikeAmount reports text that starts with a digit, optionally signed.
func looksLikeAmount(text string) bool {
	text = strings.TrimLeft(text, "+-")
	return text != "" && text[0] >= '0' && text[0] <= '9'
}
