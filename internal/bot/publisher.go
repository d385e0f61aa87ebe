package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"venue-booking-bot/internal/handler"
	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/pkg/lock"
	"venue-booking-bot/internal/service"
)

// Messenger is the part of the Telegram API the publisher needs.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// SummaryStore remembers where each venue's summary message lives.
type SummaryStore interface {
	Account(venueID int64) (model.VenueAccount, bool)
	SetSummaryMessage(ctx context.Context, venueID, chatID int64, messageID int) error
}

// Publisher posts rollover reports, venue summaries and deduction notices.
type Publisher struct {
	messenger  Messenger
	store      SummaryStore
	reportChat int64
	locks      *lock.KeyedLock[int64]
}

// NewPublisher creates a new Publisher. A zero reportChat disables reports.
func NewPublisher(messenger Messenger, store SummaryStore, reportChat int64) *Publisher {
	return &Publisher{
		messenger:  messenger,
		store:      store,
		reportChat: reportChat,
		locks:      lock.New[int64](),
	}
}

// PublishReport sends the rollover report to the report chat.
func (p *Publisher) PublishReport(_ context.Context, r *service.RolloverReport) error {
	if p.reportChat == 0 {
		log.Warn().Msg("No report chat configured, rollover report not sent")
		return nil
	}
	if _, err := p.messenger.Send(tele.ChatID(p.reportChat), handler.FormatRolloverReport(r)); err != nil {
		return fmt.Errorf("failed to send rollover report: %w", err)
	}
	return nil
}

// PublishSummary edits the venue's summary message in place, or sends a
// new one and remembers it when there is nothing to edit.
func (p *Publisher) PublishSummary(ctx context.Context, s *service.VenueSummary) error {
	return p.locks.WithLock(s.VenueID, func() error {
		text := handler.FormatSummary(s)

		if account, ok := p.store.Account(s.VenueID); ok && account.SummaryChatID != nil && account.SummaryMessageID != nil {
			stored := &tele.StoredMessage{
				MessageID: strconv.Itoa(*account.SummaryMessageID),
				ChatID:    *account.SummaryChatID,
			}
			_, err := p.messenger.Edit(stored, text)
			if err == nil || notModified(err) {
				return nil
			}
			log.Debug().Err(err).Int64("venue_id", s.VenueID).Msg("Summary edit failed, sending a new message")
		}

		msg, err := p.messenger.Send(tele.ChatID(s.VenueID), text)
		if err != nil {
			return fmt.Errorf("failed to send summary: %w", err)
		}
		chatID := s.VenueID
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		return p.store.SetSummaryMessage(ctx, s.VenueID, chatID, msg.ID)
	})
}

// NotifyDeduction messages the user a deduction was charged to.
func (p *Publisher) NotifyDeduction(_ context.Context, n service.DeductionNotice) error {
	title := strconv.FormatInt(n.Venue, 10)
	if account, ok := p.store.Account(n.Venue); ok && account.Title != "" {
		title = account.Title
	}
	text := fmt.Sprintf("%s, %s %s: paid via agent.\nDeduction of %d charged to your balance.",
		title, n.Day, n.Slot, n.Deduction)
	if _, err := p.messenger.Send(tele.ChatID(n.User), text); err != nil {
		return fmt.Errorf("failed to send deduction notice: %w", err)
	}
	return nil
}

func notModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
