// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"venue-booking-bot/internal/config"
	"venue-booking-bot/internal/handler"
	"venue-booking-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot    *tele.Bot
	cfg    *config.Config
	admins service.AdminChecker

	// Handlers
	accountHandler    *handler.AccountHandler
	bookingHandler    *handler.BookingHandler
	settlementHandler *handler.SettlementHandler
	adminHandler      *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config    *config.Config
	Admins    service.AdminChecker
	Registry  *service.VenueRegistry
	Engine    *service.SettlementEngine
	Accounts  *service.AccountService
	Reports   *service.ReportService
	Rollover  handler.RolloverRunner
	Summaries service.SummaryPublisher
}

// NewClient creates the Telegram client. It is built before the bot so the
// publishers can share it.
func NewClient(cfg *config.BotConfig) (*tele.Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Handler error")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return teleBot, nil
}

// New creates a new Bot on top of client with the given dependencies.
func New(client *tele.Bot, deps *Dependencies) *Bot {
	b := &Bot{
		bot:    client,
		cfg:    deps.Config,
		admins: deps.Admins,
	}

	// Initialize handlers
	b.accountHandler = handler.NewAccountHandler(deps.Accounts)
	b.bookingHandler = handler.NewBookingHandler(deps.Registry, deps.Accounts, deps.Summaries)
	b.settlementHandler = handler.NewSettlementHandler(deps.Engine, deps.Registry, deps.Summaries)
	b.adminHandler = handler.NewAdminHandler(deps.Accounts, deps.Reports, deps.Registry, deps.Rollover, deps.Summaries)

	b.registerMiddleware()
	b.registerHandlers()

	return b
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg, b.admins))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	// Account handlers
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/my", b.accountHandler.HandleMy)

	// Booking handlers
	b.bot.Handle("/free", b.bookingHandler.HandleFree)
	b.bot.Handle("/book", b.bookingHandler.HandleBook)
	b.bot.Handle("/cancel", b.bookingHandler.HandleCancel)
	b.bot.Handle("/summary", b.bookingHandler.HandleSummary)

	// Venue admin handlers
	venueGroup := b.bot.Group()
	venueGroup.Use(VenueAdminMiddleware(b.admins))
	venueGroup.Handle("/finalize", b.settlementHandler.HandleFinalize)
	venueGroup.Handle("/reset_venue", b.adminHandler.HandleResetVenue)

	// Global admin handlers
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.admins))
	adminGroup.Handle("/report", b.adminHandler.HandleReport)
	adminGroup.Handle("/rollover", b.adminHandler.HandleRollover)
	adminGroup.Handle("/reset_monthly", b.adminHandler.HandleResetMonthly)
	adminGroup.Handle("/admin_add", b.adminHandler.HandleAdminAdd)
	adminGroup.Handle("/admin_sub", b.adminHandler.HandleAdminSub)

	// Amount entry for open settlements
	b.bot.Handle(tele.OnText, b.settlementHandler.HandleText)

	// Generic callback handler for slot and payment buttons
	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// handleCallback routes callbacks to appropriate handlers
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	// Telebot v3 may add a \f prefix to callback data
	data := strings.TrimPrefix(callback.Data, "\f")
	log.Debug().Str("data", data).Msg("Callback received")

	switch {
	case strings.HasPrefix(data, handler.CallbackBook):
		return b.bookingHandler.HandleBookCallback(c, data)
	case strings.HasPrefix(data, handler.CallbackPay):
		return b.settlementHandler.HandlePayCallback(c, data)
	}
	return c.Respond()
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
