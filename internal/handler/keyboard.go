package handler

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/slot"
)

// Callback data prefixes. The payload is the button's unique id, which
// telebot delivers with a \f prefix.
const (
	CallbackBook = "book:" // book:today:14:00
	CallbackPay  = "pay:"  // pay:<session id>:cash
)

const slotsPerRow = 4

// BuildSlotKeyboard lays out one button per free slot.
func BuildSlotKeyboard(day slot.Day, free []string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	var rows []tele.Row
	var current []tele.Btn
	for i, s := range free {
		current = append(current, markup.Data(s, CallbackBook+string(day)+":"+s))
		if len(current) == slotsPerRow || i == len(free)-1 {
			rows = append(rows, markup.Row(current...))
			current = nil
		}
	}

	markup.Inline(rows...)
	return markup
}

// BuildPaymentKeyboard offers the payment methods for a settlement session.
func BuildPaymentKeyboard(sessionID string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(
		markup.Data("Cash", CallbackPay+sessionID+":"+model.PaymentCash),
		markup.Data("Cashless", CallbackPay+sessionID+":"+model.PaymentCashless),
		markup.Data("Agent", CallbackPay+sessionID+":"+model.PaymentAgent),
	))
	return markup
}

// ParseBookCallback splits book callback data into day and slot.
func ParseBookCallback(data string) (slot.Day, string, error) {
	rest, ok := strings.CutPrefix(data, CallbackBook)
	if !ok {
		return "", "", fmt.Errorf("not a book callback: %q", data)
	}
	dayStr, s, ok := strings.Cut(rest, ":")
	if !ok {
		return "", "", fmt.Errorf("malformed book callback: %q", data)
	}
	day, err := slot.ParseDay(dayStr)
	if err != nil {
		return "", "", err
	}
	s, err = slot.Normalize(s)
	if err != nil {
		return "", "", err
	}
	return day, s, nil
}

// ParsePayCallback splits pay callback data into session id and method.
func ParsePayCallback(data string) (string, string, error) {
	rest, ok := strings.CutPrefix(data, CallbackPay)
	if !ok {
		return "", "", fmt.Errorf("not a pay callback: %q", data)
	}
	id, method, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("malformed pay callback: %q", data)
	}
	return id, method, nil
}
