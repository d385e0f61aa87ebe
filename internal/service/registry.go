package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"venue-booking-bot/internal/calendar"
	"venue-booking-bot/internal/metrics"
	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/pkg/apperr"
	"venue-booking-bot/internal/pkg/lock"
	"venue-booking-bot/internal/repository"
	"venue-booking-bot/internal/slot"
	"venue-booking-bot/internal/tariff"
)

// Common errors for venue operations.
var (
	ErrUnknownVenue       = apperr.New(apperr.ErrNotFound, "venue is not configured")
	ErrRolloverInProgress = apperr.New(apperr.ErrUnavailable, "day rollover in progress, try again shortly")
	ErrCallerNotAdmin     = apperr.New(apperr.ErrPermission, "only venue administrators can do this")
	ErrNotBookingOwner    = apperr.New(apperr.ErrPermission, "only the booking owner or an administrator can cancel it")
	ErrFinalizedCancel    = apperr.New(apperr.ErrPermission, "only venue administrators can cancel a finalized booking")
)

// dayLockWait bounds how long a mutation queues behind others on the same
// venue day.
const dayLockWait = 5 * time.Second

type dayKey struct {
	venue int64
	day   slot.Day
}

// SlotEntry is an anchored slot as shown in summaries.
type SlotEntry struct {
	Day  slot.Day
	Slot string
	User int64
	Code tariff.StatusCode
}

// VenueSummary is the running state of one venue.
type VenueSummary struct {
	VenueID        int64
	Title          string
	Salary         int64
	Cash           int64
	FinalizedSlots []SlotEntry
	OpenBookings   []SlotEntry
}

// VenueRegistry owns the in-memory calendars and venue accounts and keeps
// them in step with the store. Every write goes to the store first; the
// cache only changes after the store has committed.
type VenueRegistry struct {
	bookings BookingStore
	venues   VenueStore
	admins   AdminChecker

	cal       *calendar.Calendar
	locks     *lock.KeyedLock[dayKey]
	onRelease func(venueID int64, day slot.Day, s string)

	mu       sync.RWMutex
	accounts map[int64]*model.VenueAccount
	gates    map[int64]*sync.RWMutex
}

// NewVenueRegistry creates an empty registry. Call Load before use.
func NewVenueRegistry(bookings BookingStore, venues VenueStore, admins AdminChecker) *VenueRegistry {
	return &VenueRegistry{
		bookings: bookings,
		venues:   venues,
		admins:   admins,
		cal:      calendar.New(),
		locks:    lock.New[dayKey](),
		accounts: make(map[int64]*model.VenueAccount),
		gates:    make(map[int64]*sync.RWMutex),
	}
}

// Load seeds the configured venues and rehydrates calendars and accounts
// from the store.
func (r *VenueRegistry) Load(ctx context.Context, seeds []*model.VenueAccount) error {
	for _, seed := range seeds {
		if _, err := r.venues.Upsert(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed venue %d: %w", seed.VenueID, err)
		}
	}

	accounts, err := r.venues.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load venues: %w", err)
	}
	bookings, statuses, err := r.bookings.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bookings: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range accounts {
		r.accounts[a.VenueID] = a
		if _, ok := r.gates[a.VenueID]; !ok {
			r.gates[a.VenueID] = &sync.RWMutex{}
		}
		r.cal.AddVenue(a.VenueID)
	}

	for key, entries := range rehydrate(bookings, statuses) {
		if _, ok := r.accounts[key.venue]; !ok {
			log.Warn().Int64("venue_id", key.venue).Str("day", string(key.day)).
				Int("slots", len(entries)).Msg("Skipping bookings of unknown venue")
			continue
		}
		if skipped := r.cal.Restore(key.venue, key.day, entries); len(skipped) > 0 {
			log.Warn().Int64("venue_id", key.venue).Strs("slots", skipped).Msg("Skipping unknown slot codes")
		}
	}

	log.Info().
		Int("venues", len(r.accounts)).
		Int("bookings", len(bookings)).
		Int("slot_states", len(statuses)).
		Msg("Venue registry loaded")
	return nil
}

// rehydrate groups stored rows into calendar entries. Bookings are the
// authority for anchors; slot_status rows supply the blocked cells.
func rehydrate(bookings []*model.Booking, statuses []*model.SlotStatus) map[dayKey][]calendar.Entry {
	cells := make(map[dayKey]map[string]calendar.Cell)
	put := func(k dayKey, s string, c calendar.Cell) {
		if cells[k] == nil {
			cells[k] = make(map[string]calendar.Cell)
		}
		cells[k][s] = c
	}

	for _, st := range statuses {
		state, ok := calendar.ParseState(st.Status)
		if !ok || state != calendar.Blocked {
			continue
		}
		put(dayKey{st.VenueID, slot.Day(st.Day)}, st.Slot, calendar.Cell{State: state, User: st.UserID})
	}
	for _, b := range bookings {
		c := calendar.Cell{State: calendar.Booked, User: b.UserID}
		if b.StatusCode != nil {
			c = calendar.Cell{State: calendar.Finalized, User: b.UserID, Code: tariff.StatusCode(*b.StatusCode)}
		}
		put(dayKey{b.VenueID, slot.Day(b.Day)}, b.Slot, c)
	}

	out := make(map[dayKey][]calendar.Entry, len(cells))
	for k, m := range cells {
		for s, c := range m {
			out[k] = append(out[k], calendar.Entry{Slot: s, Cell: c})
		}
	}
	return out
}

// enter takes the venue's rollover gate for a mutation.
func (r *VenueRegistry) enter(venueID int64) (func(), error) {
	r.mu.RLock()
	gate, ok := r.gates[venueID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownVenue
	}
	if !gate.TryRLock() {
		return nil, ErrRolloverInProgress
	}
	return gate.RUnlock, nil
}

// lockAll closes every venue gate in id order and returns the release func.
func (r *VenueRegistry) lockAll() func() {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.gates))
	for id := range r.gates {
		ids = append(ids, id)
	}
	gates := make([]*sync.RWMutex, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		gates = append(gates, r.gates[id])
	}
	r.mu.RUnlock()

	for _, g := range gates {
		g.Lock()
	}
	return func() {
		for i := len(gates) - 1; i >= 0; i-- {
			gates[i].Unlock()
		}
	}
}

// promoteAll moves every venue's tomorrow into today.
func (r *VenueRegistry) promoteAll() {
	for _, v := range r.Venues() {
		r.cal.Promote(v)
	}
}

// storeErr classifies a store failure. Conflicts pass through; anything
// else becomes retryable.
func storeErr(op string, err error) error {
	if errors.Is(err, repository.ErrDuplicateSlot) || apperr.Kind(err) == apperr.ErrNotFound {
		return err
	}
	return apperr.Retryable(op, err)
}

func parseSlot(day slot.Day, s string) (string, error) {
	if !day.Valid() {
		return "", slot.ErrUnknownDay
	}
	return slot.Normalize(s)
}

// mutate runs op on a private copy of the venue day and publishes the copy
// only after persist succeeds.
func (r *VenueRegistry) mutate(ctx context.Context, venueID int64, day slot.Day, op func(d *calendar.Day) error) error {
	release, err := r.enter(venueID)
	if err != nil {
		return err
	}
	defer release()

	lockCtx, cancel := context.WithTimeout(ctx, dayLockWait)
	defer cancel()
	key := dayKey{venueID, day}
	return r.locks.WithLockContext(lockCtx, key, func() error {
		d := r.cal.Day(venueID, day)
		if err := op(d); err != nil {
			return err
		}
		r.cal.Put(venueID, day, d)
		return nil
	})
}

// ReserveSlot books s for user and blocks its free neighbors.
func (r *VenueRegistry) ReserveSlot(ctx context.Context, venueID int64, day slot.Day, s string, userID int64) (*model.Booking, error) {
	s, err := parseSlot(day, s)
	if err != nil {
		return nil, err
	}

	b := &model.Booking{VenueID: venueID, Day: string(day), Slot: s, UserID: userID, Status: model.BookingBooked}
	err = r.mutate(ctx, venueID, day, func(d *calendar.Day) error {
		changes, err := d.Reserve(s, userID)
		if err != nil {
			return err
		}
		if err := r.bookings.Add(ctx, b, changes); err != nil {
			return storeErr("reserve slot", err)
		}
		return nil
	})
	metrics.Observe("reserve", err)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("venue_id", venueID).Str("day", string(day)).Str("slot", s).
		Int64("user_id", userID).Msg("Slot reserved")
	return b, nil
}

// CancelSlot removes the booking on s. The actor must own the booking or
// administer the venue; a finalized booking needs an administrator.
// Cancelling a slot with no booking is a no-op.
func (r *VenueRegistry) CancelSlot(ctx context.Context, venueID int64, day slot.Day, s string, actor int64) error {
	s, err := parseSlot(day, s)
	if err != nil {
		return err
	}

	released := false
	err = r.mutate(ctx, venueID, day, func(d *calendar.Day) error {
		cell := d.Cell(s)
		if !cell.State.Anchor() {
			return nil
		}
		admin := r.admins.IsVenueAdmin(venueID, actor)
		if cell.User != actor && !admin {
			log.Warn().Int64("venue_id", venueID).Str("slot", s).Int64("user_id", actor).
				Int64("owner_id", cell.User).Msg("Cancel rejected: not owner")
			return ErrNotBookingOwner
		}
		if cell.State == calendar.Finalized && !admin {
			log.Warn().Int64("venue_id", venueID).Str("slot", s).Int64("user_id", actor).
				Msg("Cancel rejected: booking finalized")
			return ErrFinalizedCancel
		}
		changes, err := d.Release(s)
		if err != nil {
			return err
		}
		if err := r.bookings.Remove(ctx, venueID, day, s, changes); err != nil {
			return storeErr("cancel slot", err)
		}
		released = true
		return nil
	})
	metrics.Observe("cancel", err)
	if err != nil {
		return err
	}
	if released && r.onRelease != nil {
		r.onRelease(venueID, day, s)
	}

	log.Info().Int64("venue_id", venueID).Str("day", string(day)).Str("slot", s).
		Int64("user_id", actor).Msg("Slot cancelled")
	return nil
}

// FinalizeSlot records code on the booking of s and returns the booked user.
// A finalized slot takes a new code in place.
func (r *VenueRegistry) FinalizeSlot(ctx context.Context, venueID int64, day slot.Day, s string, code tariff.StatusCode) (int64, error) {
	s, err := parseSlot(day, s)
	if err != nil {
		return 0, err
	}

	var user int64
	err = r.mutate(ctx, venueID, day, func(d *calendar.Day) error {
		changes, err := d.Finalize(s, code)
		if err != nil {
			if errors.Is(err, calendar.ErrNotBooked) {
				return repository.ErrBookingNotFound
			}
			return err
		}
		if err := r.bookings.Finalize(ctx, venueID, day, s, code, changes); err != nil {
			return storeErr("finalize slot", err)
		}
		user = d.Cell(s).User
		return nil
	})
	metrics.Observe("finalize", err)
	return user, err
}

// ListAvailable returns the free slots of a venue day in sequence order.
func (r *VenueRegistry) ListAvailable(venueID int64, day slot.Day) ([]string, error) {
	if !day.Valid() {
		return nil, slot.ErrUnknownDay
	}
	if !r.Known(venueID) {
		return nil, ErrUnknownVenue
	}
	return r.cal.Available(venueID, day), nil
}

// Cell returns the state of one slot.
func (r *VenueRegistry) Cell(venueID int64, day slot.Day, s string) calendar.Cell {
	return r.cal.Cell(venueID, day, s)
}

// Known reports whether the venue is registered.
func (r *VenueRegistry) Known(venueID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[venueID]
	return ok
}

// Venues returns the registered venue ids, sorted.
func (r *VenueRegistry) Venues() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Account returns a copy of the venue account.
func (r *VenueRegistry) Account(venueID int64) (model.VenueAccount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[venueID]
	if !ok {
		return model.VenueAccount{}, false
	}
	return *a, true
}

// GetVenueSummary returns the venue's accumulators and anchored slots.
func (r *VenueRegistry) GetVenueSummary(venueID int64) (*VenueSummary, error) {
	a, ok := r.Account(venueID)
	if !ok {
		return nil, ErrUnknownVenue
	}

	sum := &VenueSummary{VenueID: venueID, Title: a.Title, Salary: a.Salary, Cash: a.Cash}
	for _, day := range slot.Days() {
		for _, e := range r.cal.Day(venueID, day).Entries(calendar.Booked, calendar.Finalized) {
			entry := SlotEntry{Day: day, Slot: e.Slot, User: e.User, Code: e.Code}
			if e.State == calendar.Finalized {
				sum.FinalizedSlots = append(sum.FinalizedSlots, entry)
			} else {
				sum.OpenBookings = append(sum.OpenBookings, entry)
			}
		}
	}
	return sum, nil
}

// updateAccount runs a store update and caches the returned row.
func (r *VenueRegistry) updateAccount(ctx context.Context, op string, venueID int64, fn func() (*model.VenueAccount, error)) (*model.VenueAccount, error) {
	if !r.Known(venueID) {
		return nil, ErrUnknownVenue
	}
	a, err := fn()
	if err != nil {
		return nil, apperr.Retryable(op, err)
	}
	r.mu.Lock()
	r.accounts[venueID] = a
	r.mu.Unlock()
	cp := *a
	return &cp, nil
}

// AddSalary accrues amount to the venue salary.
func (r *VenueRegistry) AddSalary(ctx context.Context, venueID, amount int64) (*model.VenueAccount, error) {
	return r.updateAccount(ctx, "add salary", venueID, func() (*model.VenueAccount, error) {
		return r.venues.AddSalary(ctx, venueID, amount)
	})
}

// AddCash accrues amount to the venue cash.
func (r *VenueRegistry) AddCash(ctx context.Context, venueID, amount int64) (*model.VenueAccount, error) {
	return r.updateAccount(ctx, "add cash", venueID, func() (*model.VenueAccount, error) {
		return r.venues.AddCash(ctx, venueID, amount)
	})
}

// ResetVenue zeroes the venue salary and cash. Admin only.
func (r *VenueRegistry) ResetVenue(ctx context.Context, venueID, actor int64) (*model.VenueAccount, error) {
	if !r.admins.IsVenueAdmin(venueID, actor) {
		log.Warn().Int64("venue_id", venueID).Int64("user_id", actor).Msg("Venue reset rejected: not admin")
		return nil, ErrCallerNotAdmin
	}
	release, err := r.enter(venueID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := r.updateAccount(ctx, "reset venue", venueID, func() (*model.VenueAccount, error) {
		return r.venues.Reset(ctx, venueID)
	})
	metrics.Observe("reset_venue", err)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("venue_id", venueID).Int64("user_id", actor).Msg("Venue accumulators reset")
	return a, nil
}

// SetSummaryMessage remembers where the venue summary is displayed.
func (r *VenueRegistry) SetSummaryMessage(ctx context.Context, venueID, chatID int64, messageID int) error {
	_, err := r.updateAccount(ctx, "set summary message", venueID, func() (*model.VenueAccount, error) {
		return r.venues.SetSummaryMessage(ctx, venueID, chatID, messageID)
	})
	return err
}
