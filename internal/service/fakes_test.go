package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"venue-booking-bot/internal/calendar"
	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/repository"
	"venue-booking-bot/internal/slot"
	"venue-booking-bot/internal/tariff"
)

var errStoreDown = errors.New("connection refused")

type rowKey struct {
	venue int64
	day   string
	slot  string
}

// memStore is an in-memory stand-in for the PostgreSQL repositories with
// the same uniqueness rules.
type memStore struct {
	mu       sync.Mutex
	bookings map[rowKey]*model.Booking
	statuses map[rowKey]*model.SlotStatus
	venues   map[int64]*model.VenueAccount
	users    map[int64]*model.UserAccount
	txs      []model.Transaction
	failures map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		bookings: make(map[rowKey]*model.Booking),
		statuses: make(map[rowKey]*model.SlotStatus),
		venues:   make(map[int64]*model.VenueAccount),
		users:    make(map[int64]*model.UserAccount),
		failures: make(map[string]error),
	}
}

// failOnce makes the next call of op return err.
func (m *memStore) failOnce(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *memStore) fail(op string) error {
	err := m.failures[op]
	delete(m.failures, op)
	return err
}

func (m *memStore) applyChanges(venue int64, day slot.Day, changes []calendar.Change) error {
	for _, c := range changes {
		k := rowKey{venue, string(day), c.Slot}
		switch {
		case c.After.State == calendar.Free:
			delete(m.statuses, k)
		case c.Before.State == calendar.Free:
			if _, ok := m.statuses[k]; ok {
				return repository.ErrDuplicateSlot
			}
			m.statuses[k] = &model.SlotStatus{VenueID: venue, Day: string(day), Slot: c.Slot, Status: c.After.State.String(), UserID: c.After.User}
		default:
			m.statuses[k] = &model.SlotStatus{VenueID: venue, Day: string(day), Slot: c.Slot, Status: c.After.State.String(), UserID: c.After.User}
		}
	}
	return nil
}

func (m *memStore) snapshot() (map[rowKey]*model.Booking, map[rowKey]*model.SlotStatus) {
	b := make(map[rowKey]*model.Booking, len(m.bookings))
	for k, v := range m.bookings {
		cp := *v
		b[k] = &cp
	}
	s := make(map[rowKey]*model.SlotStatus, len(m.statuses))
	for k, v := range m.statuses {
		cp := *v
		s[k] = &cp
	}
	return b, s
}

func (m *memStore) Add(_ context.Context, b *model.Booking, changes []calendar.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("add"); err != nil {
		return err
	}
	k := rowKey{b.VenueID, b.Day, b.Slot}
	if _, ok := m.bookings[k]; ok {
		return repository.ErrDuplicateSlot
	}
	bookings, statuses := m.snapshot()
	if err := m.applyChanges(b.VenueID, slot.Day(b.Day), changes); err != nil {
		m.bookings, m.statuses = bookings, statuses
		return err
	}
	b.StartedAt = time.Now()
	cp := *b
	m.bookings[k] = &cp
	return nil
}

func (m *memStore) Remove(_ context.Context, venueID int64, day slot.Day, s string, changes []calendar.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("remove"); err != nil {
		return err
	}
	delete(m.bookings, rowKey{venueID, string(day), s})
	return m.applyChanges(venueID, day, changes)
}

func (m *memStore) Finalize(_ context.Context, venueID int64, day slot.Day, s string, code tariff.StatusCode, changes []calendar.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("finalize"); err != nil {
		return err
	}
	b, ok := m.bookings[rowKey{venueID, string(day), s}]
	if !ok {
		return repository.ErrBookingNotFound
	}
	b.Status = model.BookingFinalized
	b.StatusCode = model.IntPtr(int(code))
	return m.applyChanges(venueID, day, changes)
}

func (m *memStore) RecordPayment(_ context.Context, venueID int64, day slot.Day, s string, method string, amount *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("record_payment"); err != nil {
		return err
	}
	b, ok := m.bookings[rowKey{venueID, string(day), s}]
	if !ok {
		return repository.ErrBookingNotFound
	}
	b.Status = model.BookingSettled
	b.PaymentMethod = model.StringPtr(method)
	b.Amount = amount
	return nil
}

func (m *memStore) Get(_ context.Context, venueID int64, day slot.Day, s string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("get"); err != nil {
		return nil, err
	}
	b, ok := m.bookings[rowKey{venueID, string(day), s}]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) ListByDay(_ context.Context, day slot.Day) ([]*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("list_by_day"); err != nil {
		return nil, err
	}
	var out []*model.Booking
	for k, b := range m.bookings {
		if k.day == string(day) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VenueID != out[j].VenueID {
			return out[i].VenueID < out[j].VenueID
		}
		return out[i].Slot < out[j].Slot
	})
	return out, nil
}

func (m *memStore) LoadAll(_ context.Context) ([]*model.Booking, []*model.SlotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bookings, statuses := m.snapshot()
	var bs []*model.Booking
	for _, b := range bookings {
		bs = append(bs, b)
	}
	var ss []*model.SlotStatus
	for _, s := range statuses {
		ss = append(ss, s)
	}
	return bs, ss, nil
}

func (m *memStore) CloseOutDay(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("close_out"); err != nil {
		return err
	}
	bookings := make(map[rowKey]*model.Booking)
	for k, b := range m.bookings {
		if k.day == string(slot.Tomorrow) {
			k.day = string(slot.Today)
			b.Day = k.day
			bookings[k] = b
		}
	}
	statuses := make(map[rowKey]*model.SlotStatus)
	for k, s := range m.statuses {
		if k.day == string(slot.Tomorrow) {
			k.day = string(slot.Today)
			s.Day = k.day
			statuses[k] = s
		}
	}
	m.bookings, m.statuses = bookings, statuses
	return nil
}

func (m *memStore) Upsert(_ context.Context, v *model.VenueAccount) (*model.VenueAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.venues[v.VenueID]
	if !ok {
		cur = &model.VenueAccount{VenueID: v.VenueID}
		m.venues[v.VenueID] = cur
	}
	cur.Title = v.Title
	cur.SalaryOption = v.SalaryOption
	cur.DistributionVariant = v.DistributionVariant
	cur.TargetUser = v.TargetUser
	cp := *cur
	return &cp, nil
}

func (m *memStore) List(_ context.Context) ([]*model.VenueAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.VenueAccount
	for _, v := range m.venues {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) updateVenue(op string, venueID int64, fn func(v *model.VenueAccount)) (*model.VenueAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(op); err != nil {
		return nil, err
	}
	v, ok := m.venues[venueID]
	if !ok {
		return nil, repository.ErrVenueNotFound
	}
	fn(v)
	cp := *v
	return &cp, nil
}

func (m *memStore) AddSalary(_ context.Context, venueID, amount int64) (*model.VenueAccount, error) {
	return m.updateVenue("add_salary", venueID, func(v *model.VenueAccount) { v.Salary += amount })
}

func (m *memStore) AddCash(_ context.Context, venueID, amount int64) (*model.VenueAccount, error) {
	return m.updateVenue("add_cash", venueID, func(v *model.VenueAccount) { v.Cash += amount })
}

func (m *memStore) Reset(_ context.Context, venueID int64) (*model.VenueAccount, error) {
	return m.updateVenue("reset", venueID, func(v *model.VenueAccount) { v.Salary, v.Cash = 0, 0 })
}

func (m *memStore) SetSummaryMessage(_ context.Context, venueID, chatID int64, messageID int) (*model.VenueAccount, error) {
	return m.updateVenue("summary", venueID, func(v *model.VenueAccount) {
		v.SummaryChatID = model.Int64Ptr(chatID)
		v.SummaryMessageID = model.IntPtr(messageID)
	})
}

func (m *memStore) GetOrCreate(_ context.Context, userID int64, username string) (*model.UserAccount, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = &model.UserAccount{UserID: userID, Username: username}
		m.users[userID] = u
	} else if username != "" {
		u.Username = username
	}
	cp := *u
	return &cp, !ok, nil
}

func (m *memStore) GetByID(_ context.Context, userID int64) (*model.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) ApplyDelta(_ context.Context, userID, delta int64, profit bool) (*model.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("apply_delta"); err != nil {
		return nil, err
	}
	u, ok := m.users[userID]
	if !ok {
		u = &model.UserAccount{UserID: userID}
		m.users[userID] = u
	}
	u.Balance += delta
	if profit {
		u.Profit += delta
		u.MonthlyProfit += delta
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) ListByMonthlyProfit(_ context.Context, limit int) ([]*model.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.UserAccount
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MonthlyProfit != out[j].MonthlyProfit {
			return out[i].MonthlyProfit > out[j].MonthlyProfit
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ResetMonthly(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.users {
		if u.MonthlyProfit != 0 {
			u.MonthlyProfit = 0
			n++
		}
	}
	return n, nil
}

func (m *memStore) Create(_ context.Context, userID int64, venueID *int64, amount int64, txType string, description *string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return nil, errors.New("foreign key violation")
	}
	tx := model.Transaction{ID: int64(len(m.txs) + 1), UserID: userID, VenueID: venueID, Amount: amount, Type: txType, Description: description}
	m.txs = append(m.txs, tx)
	return &tx, nil
}

func (m *memStore) balance(userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u.Balance
	}
	return 0
}

func (m *memStore) txTypes(userID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, tx := range m.txs {
		if tx.UserID == userID {
			out = append(out, tx.Type)
		}
	}
	return out
}

// staticAdmins grants global and per-venue admin rights from fixed sets.
type staticAdmins struct {
	global map[int64]bool
	venue  map[int64]map[int64]bool
}

func (a staticAdmins) IsAdmin(userID int64) bool { return a.global[userID] }

func (a staticAdmins) IsVenueAdmin(venueID, userID int64) bool {
	return a.global[userID] || a.venue[venueID][userID]
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []DeductionNotice
	err     error
}

func (n *recordingNotifier) NotifyDeduction(_ context.Context, notice DeductionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

type recordingPublisher struct {
	mu        sync.Mutex
	reports   []*RolloverReport
	summaries []*VenueSummary
	reportErr error
	sumErr    error
}

func (p *recordingPublisher) PublishReport(_ context.Context, r *RolloverReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return p.reportErr
}

func (p *recordingPublisher) PublishSummary(_ context.Context, s *VenueSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, s)
	return p.sumErr
}

const (
	venueA     int64 = -100
	venueB     int64 = -200
	admin      int64 = 1
	venueAdmin int64 = 2
	userA      int64 = 10
	userB      int64 = 11
	special    int64 = 777
	target     int64 = 55
)

func testTables(t *testing.T) *tariff.Tables {
	tables, err := tariff.New(tariff.Settings{
		Salary: map[string]tariff.TierAmounts{
			"1": {Tier0: 600, Tier1: 1000, Tier2: 1400, Tier3: 1800},
			"2": {Tier0: 700, Tier1: 1100, Tier2: 1500, Tier3: 1900},
			"3": {Tier0: 800, Tier1: 1200, Tier2: 1600, Tier3: 2000},
			"4": {Tier0: 900, Tier1: 1300, Tier2: 1700, Tier3: 2100},
		},
		Deduction:    tariff.TierAmounts{Tier0: 1500, Tier1: 2200, Tier2: 3000, Tier3: 3800},
		SpecialBonus: tariff.TierAmounts{Tier0: 40, Tier1: 60, Tier2: 80, Tier3: 100},
		Distribution: map[string]tariff.TierAmounts{
			"plan_a": {Tier0: 100, Tier1: 150, Tier2: 200, Tier3: 250},
		},
		SpecialUser: special,
	})
	require.NoError(t, err)
	return tables
}

type harness struct {
	store       *memStore
	admins      staticAdmins
	registry    *VenueRegistry
	engine      *SettlementEngine
	coordinator *RolloverCoordinator
	notifier    *recordingNotifier
	publisher   *recordingPublisher
}

func seeds() []*model.VenueAccount {
	return []*model.VenueAccount{
		{VenueID: venueA, Title: "North", SalaryOption: 1, DistributionVariant: model.StringPtr("plan_a"), TargetUser: model.Int64Ptr(target)},
		{VenueID: venueB, Title: "South", SalaryOption: 3},
	}
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		store: newMemStore(),
		admins: staticAdmins{
			global: map[int64]bool{admin: true},
			venue:  map[int64]map[int64]bool{venueA: {venueAdmin: true}},
		},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	h.registry = NewVenueRegistry(h.store, h.store, h.admins)
	require.NoError(t, h.registry.Load(context.Background(), seeds()))
	h.engine = NewSettlementEngine(h.registry, h.store, h.store, h.store, testTables(t), h.admins, h.notifier, time.Minute)
	h.coordinator = NewRolloverCoordinator(h.registry, h.store, h.engine, h.publisher, h.publisher)
	return h
}
