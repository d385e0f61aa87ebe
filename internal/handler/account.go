// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"venue-booking-bot/internal/repository"
	"venue-booking-bot/internal/service"
)

// AccountHandler handles account-related commands.
type AccountHandler struct {
	accountService *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

func senderName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// HandleStart handles the /start command.
// Creates the user account if it doesn't exist.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	username := senderName(sender)
	_, created, err := h.accountService.EnsureUser(ctx, sender.ID, username)
	if err != nil {
		return c.Reply(ErrorText(err))
	}

	greeting := fmt.Sprintf("Welcome back, %s.", username)
	if created {
		greeting = fmt.Sprintf("Welcome, %s. Your account is ready.", username)
	}
	return c.Reply(greeting + "\n\n" +
		"Commands:\n" +
		"/free [today|tomorrow] - free slots\n" +
		"/book <day> <HH:MM> - book a slot\n" +
		"/cancel <day> <HH:MM> - cancel a booking\n" +
		"/summary - venue summary\n" +
		"/my - your account")
}

// HandleMy handles the /my command.
// Displays the user's account information.
func (h *AccountHandler) HandleMy(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, err := h.accountService.GetAccount(ctx, sender.ID)
	if errors.Is(err, repository.ErrUserNotFound) {
		// User might not exist, try to create
		user, _, err = h.accountService.EnsureUser(ctx, sender.ID, senderName(sender))
	}
	if err != nil {
		return c.Reply(ErrorText(err))
	}

	return c.Reply(fmt.Sprintf(
		"Account\n"+
			"%s\n"+
			"User: %s\n"+
			"Balance: %d\n"+
			"Profit: %d\n"+
			"This month: %d\n"+
			"%s",
		rule, displayName(user), user.Balance, user.Profit, user.MonthlyProfit, rule,
	))
}
