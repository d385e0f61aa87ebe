package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/service"
	"venue-booking-bot/internal/slot"
)

type sent struct {
	to   string
	text string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sent
	edited  []string
	nextID  int
	sendErr error
	editErr error
}

func (m *fakeMessenger) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.nextID++
	m.sent = append(m.sent, sent{to: to.Recipient(), text: what.(string)})
	return &tele.Message{ID: m.nextID}, nil
}

func (m *fakeMessenger) Edit(msg tele.Editable, what interface{}, _ ...interface{}) (*tele.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return nil, m.editErr
	}
	id, _ := msg.MessageSig()
	m.edited = append(m.edited, id)
	return &tele.Message{}, nil
}

type fakeSummaryStore struct {
	accounts map[int64]model.VenueAccount
}

func (s *fakeSummaryStore) Account(venueID int64) (model.VenueAccount, bool) {
	a, ok := s.accounts[venueID]
	return a, ok
}

func (s *fakeSummaryStore) SetSummaryMessage(_ context.Context, venueID, chatID int64, messageID int) error {
	a := s.accounts[venueID]
	a.SummaryChatID = model.Int64Ptr(chatID)
	a.SummaryMessageID = model.IntPtr(messageID)
	s.accounts[venueID] = a
	return nil
}

func newFakeStore() *fakeSummaryStore {
	return &fakeSummaryStore{accounts: map[int64]model.VenueAccount{
		-100: {VenueID: -100, Title: "North"},
	}}
}

func TestPublishSummarySendsThenEdits(t *testing.T) {
	m := &fakeMessenger{}
	store := newFakeStore()
	p := NewPublisher(m, store, 0)
	ctx := context.Background()
	sum := &service.VenueSummary{VenueID: -100, Title: "North", Salary: 1400}

	require.NoError(t, p.PublishSummary(ctx, sum))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "-100", m.sent[0].to)
	assert.Contains(t, m.sent[0].text, "Salary: 1400")
	assert.Equal(t, 1, *store.accounts[-100].SummaryMessageID)

	require.NoError(t, p.PublishSummary(ctx, sum))
	assert.Len(t, m.sent, 1)
	assert.Equal(t, []string{"1"}, m.edited)

	// A lost message is replaced.
	m.editErr = errors.New("telegram: message to edit not found (400)")
	require.NoError(t, p.PublishSummary(ctx, sum))
	assert.Len(t, m.sent, 2)
	assert.Equal(t, 2, *store.accounts[-100].SummaryMessageID)

	m.editErr = errors.New("telegram: Bad Request: message is not modified (400)")
	require.NoError(t, p.PublishSummary(ctx, sum))
	assert.Len(t, m.sent, 2)
}

func TestPublishReport(t *testing.T) {
	m := &fakeMessenger{}
	report := &service.RolloverReport{At: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), Bookings: 3}

	require.NoError(t, NewPublisher(m, newFakeStore(), 0).PublishReport(context.Background(), report))
	assert.Empty(t, m.sent)

	p := NewPublisher(m, newFakeStore(), -555)
	require.NoError(t, p.PublishReport(context.Background(), report))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "-555", m.sent[0].to)
	assert.Contains(t, m.sent[0].text, "Bookings: 3")

	m.sendErr = errors.New("chat not found")
	assert.Error(t, p.PublishReport(context.Background(), report))
}

func TestNotifyDeduction(t *testing.T) {
	m := &fakeMessenger{}
	p := NewPublisher(m, newFakeStore(), 0)

	err := p.NotifyDeduction(context.Background(), service.DeductionNotice{
		Venue: -100, Day: slot.Today, Slot: "14:00", User: 10, Deduction: 3800,
	})
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "10", m.sent[0].to)
	assert.Contains(t, m.sent[0].text, "North")
	assert.Contains(t, m.sent[0].text, "3800")
}
