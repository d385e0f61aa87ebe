package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
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

// Common errors for settlement operations.
var (
	ErrInvalidAmount          = apperr.New(apperr.ErrValidation, "amount must be a positive number")
	ErrUnknownPaymentMethod   = apperr.New(apperr.ErrValidation, "unknown payment method")
	ErrSessionNotFound        = apperr.New(apperr.ErrNotFound, "settlement session expired or not found")
	ErrUnexpectedStep         = apperr.New(apperr.ErrConflict, "settlement is not waiting for this input")
	ErrAlreadyFinalized       = apperr.New(apperr.ErrConflict, "booking is already finalized")
	ErrAlreadySettled         = apperr.New(apperr.ErrConflict, "booking is already paid")
	ErrCorrectionLowersSalary = apperr.New(apperr.ErrConflict, "a correction cannot lower the venue salary")
	ErrPaymentInProgress      = apperr.New(apperr.ErrConflict, "a different payment is already being recorded for this booking")
	ErrSessionBusy            = apperr.New(apperr.ErrUnavailable, "this settlement is being processed, try again")
)

// SessionState is the step a settlement session is waiting on.
type SessionState int

// Settlement steps.
const (
	AwaitingStatus SessionState = iota
	AwaitingPaymentMethod
	AwaitingAmount
	Settled
)

func (s SessionState) String() string {
	switch s {
	case AwaitingPaymentMethod:
		return "awaiting_payment_method"
	case AwaitingAmount:
		return "awaiting_amount"
	case Settled:
		return "settled"
	}
	return "awaiting_status"
}

// step is one store write of a settlement. A session remembers the steps
// that committed so a retried input never repeats them.
type step uint8

const (
	stepSalary step = 1 << iota
	stepFinalizeBonus
	stepCash
	stepCredit
	stepPaymentBonus
	stepPayout
	stepPayment
)

// SessionKey identifies the slot an admin is settling.
type SessionKey struct {
	Venue int64
	Day   slot.Day
	Slot  string
	Admin int64
}

type slotRef struct {
	venue int64
	day   slot.Day
	slot  string
}

func (k SessionKey) ref() slotRef {
	return slotRef{k.Venue, k.Day, k.Slot}
}

// Session is a snapshot of one settlement in progress.
type Session struct {
	ID        string
	Key       SessionKey
	State     SessionState
	User      int64
	Code      tariff.StatusCode
	Method    string
	Amount    int64
	Salary    int64
	Bonus     int64
	Deduction int64
	Net       int64
	Payout    int64
	UpdatedAt time.Time

	done step
}

// once runs fn unless st already committed.
func (s *Session) once(st step, fn func() error) error {
	if s.done&st != 0 {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	s.done |= st
	return nil
}

// inFlight reports a session that has moved money it has not finished
// accounting for.
func (s *Session) inFlight() bool {
	if s.State == Settled {
		return false
	}
	return s.State == AwaitingStatus || s.done&^(stepSalary|stepFinalizeBonus) != 0
}

// DeductionNotice tells a user that a deduction was charged to them.
type DeductionNotice struct {
	Venue     int64
	Day       slot.Day
	Slot      string
	User      int64
	Code      tariff.StatusCode
	Deduction int64
}

// Notifier delivers settlement notices to users.
type Notifier interface {
	NotifyDeduction(ctx context.Context, n DeductionNotice) error
}

// ParsePaymentMethod validates a payment method name.
func ParsePaymentMethod(s string) (string, error) {
	switch s {
	case model.PaymentCash, model.PaymentCashless, model.PaymentAgent:
		return s, nil
	}
	return "", ErrUnknownPaymentMethod
}

// SettlementEngine walks an admin through finalizing and paying out a
// booking: status code, then payment method, then amount.
type SettlementEngine struct {
	registry *VenueRegistry
	bookings BookingStore
	users    UserStore
	txs      TransactionStore
	tables   *tariff.Tables
	admins   AdminChecker
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time

	locks      *lock.KeyedLock[string]
	finalizing *lock.KeyedLock[slotRef]
	mu         sync.Mutex
	sessions   map[string]*Session
}

// NewSettlementEngine creates a new SettlementEngine instance and
// subscribes it to cancellations in registry. notifier may be nil.
func NewSettlementEngine(
	registry *VenueRegistry,
	bookings BookingStore,
	users UserStore,
	txs TransactionStore,
	tables *tariff.Tables,
	admins AdminChecker,
	notifier Notifier,
	ttl time.Duration,
) *SettlementEngine {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	e := &SettlementEngine{
		registry:   registry,
		bookings:   bookings,
		users:      users,
		txs:        txs,
		tables:     tables,
		admins:     admins,
		notifier:   notifier,
		ttl:        ttl,
		now:        time.Now,
		locks:      lock.New[string](),
		finalizing: lock.New[slotRef](),
		sessions:   make(map[string]*Session),
	}
	registry.onRelease = e.discardSlot
	return e
}

func (e *SettlementEngine) checkAdmin(venueID, admin int64, op string) error {
	if e.admins.IsVenueAdmin(venueID, admin) {
		return nil
	}
	log.Warn().Int64("venue_id", venueID).Int64("user_id", admin).Str("op", op).
		Msg("Settlement rejected: not admin")
	return ErrCallerNotAdmin
}

func (e *SettlementEngine) snapshot(s *Session) *Session {
	cp := *s
	return &cp
}

// insert registers a new session.
func (e *SettlementEngine) insert(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.UpdatedAt = e.now()
	e.sessions[s.ID] = s
	metrics.SettlementSessions.Set(float64(len(e.sessions)))
}

// save replaces a session unless it was dropped meanwhile. Stored sessions
// are never modified in place.
func (e *SettlementEngine) save(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[s.ID]; !ok {
		return
	}
	s.UpdatedAt = e.now()
	e.sessions[s.ID] = s
}

// update runs fn on a copy of the session while holding its lock and
// stores the copy. Steps that committed before a failure are kept.
func (e *SettlementEngine) update(id string, fn func(s *Session) error) (*Session, error) {
	if !e.locks.TryLock(id) {
		return nil, ErrSessionBusy
	}
	defer e.locks.Unlock(id)

	e.mu.Lock()
	live, ok := e.sessions[id]
	var s Session
	if ok {
		s = *live
	}
	e.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	before := s.done
	if err := fn(&s); err != nil {
		if s.done != before {
			e.save(&s)
		}
		return nil, err
	}
	e.save(&s)
	return e.snapshot(&s), nil
}

// withSession runs an admin's input against their session. The booking
// must still be finalized.
func (e *SettlementEngine) withSession(id string, admin int64, fn func(s *Session) error) (*Session, error) {
	return e.update(id, func(s *Session) error {
		if s.Key.Admin != admin {
			log.Warn().Str("session_id", id).Int64("user_id", admin).Msg("Settlement rejected: foreign session")
			return ErrCallerNotAdmin
		}
		release, err := e.registry.enter(s.Key.Venue)
		if err != nil {
			return err
		}
		defer release()
		if e.registry.Cell(s.Key.Venue, s.Key.Day, s.Key.Slot).State != calendar.Finalized {
			e.discard(id)
			return ErrSessionNotFound
		}
		return fn(s)
	})
}

// FinalizeStatus records the status code of a booking, accrues the venue
// salary and pays the special bonus. Void finalizes without money and
// settles the session at once.
//
// A slot that is already finalized but has no open session gets a fresh
// session for its payment without accruing again. A different code on
// such a slot is a correction: only the difference is accrued, and it may
// not lower the salary.
func (e *SettlementEngine) FinalizeStatus(ctx context.Context, key SessionKey, code tariff.StatusCode) (*Session, error) {
	if !code.Valid() {
		return nil, tariff.ErrUnknownStatusCode
	}
	if err := e.checkAdmin(key.Venue, key.Admin, "finalize"); err != nil {
		return nil, err
	}
	s, err := parseSlot(key.Day, key.Slot)
	if err != nil {
		return nil, err
	}
	key.Slot = s

	account, ok := e.registry.Account(key.Venue)
	if !ok {
		return nil, ErrUnknownVenue
	}
	release, err := e.registry.enter(key.Venue)
	if err != nil {
		return nil, err
	}
	defer release()
	if !e.finalizing.TryLock(key.ref()) {
		return nil, ErrSessionBusy
	}
	defer e.finalizing.Unlock(key.ref())

	booking, err := e.bookings.Get(ctx, key.Venue, key.Day, key.Slot)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return nil, err
		}
		return nil, apperr.Retryable("get booking", err)
	}
	if booking.Status == model.BookingSettled {
		return nil, ErrAlreadySettled
	}

	if open := e.openFor(key.ref()); open != nil {
		if open.Key != key || open.Code != code {
			return nil, ErrAlreadyFinalized
		}
		if open.State == AwaitingStatus {
			return e.accrue(ctx, open.ID)
		}
		return open, nil
	}

	var prev *tariff.StatusCode
	if booking.Status != model.BookingBooked && booking.StatusCode != nil {
		c := tariff.StatusCode(*booking.StatusCode)
		prev = &c
	}
	salary, bonus, err := e.accrual(account.SalaryOption, prev, code)
	if err != nil {
		return nil, err
	}

	sess := &Session{ID: uuid.NewString(), Key: key, State: AwaitingStatus, User: booking.UserID, Code: code}
	if prev != nil && *prev == code {
		sess.State = AwaitingPaymentMethod
		if code == tariff.Void {
			sess.State = Settled
		}
		e.insert(sess)
		log.Info().Int64("venue_id", key.Venue).Str("day", string(key.Day)).Str("slot", key.Slot).
			Str("code", code.String()).Str("session_id", sess.ID).Msg("Settlement reopened")
		return e.snapshot(sess), nil
	}

	user, err := e.registry.FinalizeSlot(ctx, key.Venue, key.Day, key.Slot, code)
	if err != nil {
		return nil, err
	}
	sess.User = user
	sess.Salary = salary
	sess.Bonus = bonus
	e.insert(sess)

	out, err := e.accrue(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	event := log.Info()
	if prev != nil {
		event = event.Str("previous_code", prev.String())
	}
	event.Int64("venue_id", key.Venue).Str("day", string(key.Day)).Str("slot", key.Slot).
		Int64("user_id", out.User).Str("code", code.String()).Int64("salary", out.Salary).
		Str("session_id", out.ID).Msg("Booking finalized")
	return out, nil
}

// accrual returns the salary and bonus owed for moving a slot from prev
// to code. prev is nil for a slot finalized the first time.
func (e *SettlementEngine) accrual(option int, prev *tariff.StatusCode, code tariff.StatusCode) (int64, int64, error) {
	salary, err := e.tables.Salary(option, code)
	if err != nil {
		return 0, 0, err
	}
	bonus, err := e.bonusFor(code)
	if err != nil {
		return 0, 0, err
	}
	if prev == nil {
		return salary, bonus, nil
	}

	oldSalary, err := e.tables.Salary(option, *prev)
	if err != nil {
		return 0, 0, err
	}
	if salary < oldSalary {
		return 0, 0, ErrCorrectionLowersSalary
	}
	oldBonus, err := e.bonusFor(*prev)
	if err != nil {
		return 0, 0, err
	}
	return salary - oldSalary, bonus - oldBonus, nil
}

// accrue books the session's salary and special bonus and moves it on to
// payment. A failed step is retried by finalizing again with the same code.
func (e *SettlementEngine) accrue(ctx context.Context, id string) (*Session, error) {
	return e.update(id, func(s *Session) error {
		if s.State != AwaitingStatus {
			return nil
		}
		err := s.once(stepSalary, func() error {
			if s.Salary == 0 {
				return nil
			}
			if _, err := e.registry.AddSalary(ctx, s.Key.Venue, s.Salary); err != nil {
				return err
			}
			e.record(ctx, s.User, s.Key, s.Salary, model.TxTypeSalary, "venue salary")
			return nil
		})
		if err != nil {
			return err
		}
		if err := s.once(stepFinalizeBonus, func() error { return e.payBonus(ctx, s.Key, s.Bonus) }); err != nil {
			return err
		}

		s.State = AwaitingPaymentMethod
		if s.Code == tariff.Void {
			s.State = Settled
		}
		return nil
	})
}

// openFor returns the unsettled session of a slot, if any.
func (e *SettlementEngine) openFor(ref slotRef) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		if s.Key.ref() == ref && s.State != Settled {
			return e.snapshot(s)
		}
	}
	return nil
}

// ChoosePaymentMethod moves the session on. Cash and cashless wait for an
// amount; agent charges the deduction to the booked user and settles.
func (e *SettlementEngine) ChoosePaymentMethod(ctx context.Context, sessionID string, admin int64, method string) (*Session, error) {
	method, err := ParsePaymentMethod(method)
	if err != nil {
		return nil, err
	}

	var notice *DeductionNotice
	out, err := e.withSession(sessionID, admin, func(s *Session) error {
		if err := e.checkAdmin(s.Key.Venue, admin, "payment_method"); err != nil {
			return err
		}
		if s.State != AwaitingPaymentMethod {
			return ErrUnexpectedStep
		}
		if s.done&stepCredit != 0 && s.Method != method {
			return ErrPaymentInProgress
		}
		if method != model.PaymentAgent {
			s.Method = method
			s.State = AwaitingAmount
			return nil
		}

		deduction, err := e.tables.Deduction(s.Code)
		if err != nil {
			return err
		}
		s.Method = method
		s.Deduction = deduction
		s.Net = -deduction
		if err := s.once(stepCredit, func() error {
			return e.credit(ctx, s.User, s.Key, -deduction, model.TxTypeDeduction, "agent payment")
		}); err != nil {
			return err
		}
		if err := s.once(stepPayment, func() error {
			if err := e.bookings.RecordPayment(ctx, s.Key.Venue, s.Key.Day, s.Key.Slot, method, nil); err != nil {
				return storeErr("record payment", err)
			}
			return nil
		}); err != nil {
			return err
		}
		s.State = Settled
		notice = &DeductionNotice{
			Venue: s.Key.Venue, Day: s.Key.Day, Slot: s.Key.Slot,
			User: s.User, Code: s.Code, Deduction: deduction,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if notice != nil {
		metrics.Payments.WithLabelValues(method).Inc()
		if e.notifier != nil {
			if err := e.notifier.NotifyDeduction(ctx, *notice); err != nil {
				log.Error().Err(err).Int64("user_id", notice.User).Msg("Failed to deliver deduction notice")
			}
		}
		log.Info().Str("session_id", sessionID).Int64("user_id", out.User).
			Int64("deduction", out.Deduction).Msg("Agent payment settled")
	}
	return out, nil
}

// RecordAmount settles a cash or cashless payment. A non-positive amount
// is rejected and the session keeps waiting. After a failed attempt only
// the same amount is accepted, and steps that already committed are skipped.
func (e *SettlementEngine) RecordAmount(ctx context.Context, sessionID string, admin int64, amount int64) (*Session, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	out, err := e.withSession(sessionID, admin, func(s *Session) error {
		if err := e.checkAdmin(s.Key.Venue, admin, "amount"); err != nil {
			return err
		}
		if s.State != AwaitingAmount {
			return ErrUnexpectedStep
		}
		if s.done&^(stepSalary|stepFinalizeBonus) != 0 && s.Amount != amount {
			return ErrPaymentInProgress
		}

		deduction, err := e.tables.Deduction(s.Code)
		if err != nil {
			return err
		}
		s.Amount = amount
		s.Deduction = deduction
		s.Net = amount - deduction

		if s.Method == model.PaymentCash {
			if err := s.once(stepCash, func() error {
				_, err := e.registry.AddCash(ctx, s.Key.Venue, amount)
				return err
			}); err != nil {
				return err
			}
		}
		if err := s.once(stepCredit, func() error {
			return e.credit(ctx, s.User, s.Key, s.Net, model.TxTypeSettlement, s.Method+" payment")
		}); err != nil {
			return err
		}
		if s.User == e.tables.SpecialUser() {
			if err := s.once(stepPaymentBonus, func() error {
				bonus, err := e.bonusFor(s.Code)
				if err != nil {
					return err
				}
				if err := e.payBonus(ctx, s.Key, bonus); err != nil {
					return err
				}
				s.Bonus += bonus
				return nil
			}); err != nil {
				return err
			}
		}
		if err := s.once(stepPayout, func() error {
			payout, err := e.distribute(ctx, s)
			if err != nil {
				return err
			}
			s.Payout = payout
			return nil
		}); err != nil {
			return err
		}
		if err := s.once(stepPayment, func() error {
			if err := e.bookings.RecordPayment(ctx, s.Key.Venue, s.Key.Day, s.Key.Slot, s.Method, &amount); err != nil {
				return storeErr("record payment", err)
			}
			return nil
		}); err != nil {
			return err
		}
		s.State = Settled
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Payments.WithLabelValues(out.Method).Inc()
	log.Info().Str("session_id", sessionID).Int64("user_id", out.User).Str("method", out.Method).
		Int64("amount", amount).Int64("net", out.Net).Msg("Payment settled")
	return out, nil
}

// distribute pays the venue's distribution plan to its target user.
func (e *SettlementEngine) distribute(ctx context.Context, s *Session) (int64, error) {
	account, ok := e.registry.Account(s.Key.Venue)
	if !ok || account.DistributionVariant == nil || account.TargetUser == nil {
		return 0, nil
	}
	variant := *account.DistributionVariant
	if !e.tables.HasDistribution(variant) {
		log.Warn().Int64("venue_id", s.Key.Venue).Str("variant", variant).Msg("Unknown distribution plan, skipping payout")
		return 0, nil
	}
	payout, err := e.tables.Distribution(variant, s.Code)
	if err != nil || payout == 0 {
		return 0, err
	}
	if err := e.credit(ctx, *account.TargetUser, s.Key, payout, model.TxTypeDistribution, "distribution "+variant); err != nil {
		return 0, err
	}
	return payout, nil
}

// bonusFor returns the special bonus for code, or 0 without a special account.
func (e *SettlementEngine) bonusFor(code tariff.StatusCode) (int64, error) {
	if e.tables.SpecialUser() == 0 {
		return 0, nil
	}
	return e.tables.Bonus(code)
}

func (e *SettlementEngine) payBonus(ctx context.Context, key SessionKey, bonus int64) error {
	if bonus == 0 {
		return nil
	}
	return e.credit(ctx, e.tables.SpecialUser(), key, bonus, model.TxTypeSpecialBonus, "special bonus")
}

// credit applies delta to a user's balance and profit and records it.
func (e *SettlementEngine) credit(ctx context.Context, userID int64, key SessionKey, delta int64, txType, what string) error {
	if _, err := e.users.ApplyDelta(ctx, userID, delta, true); err != nil {
		return apperr.Retryable("apply delta", err)
	}
	e.recordTx(ctx, userID, key, delta, txType, what)
	return nil
}

// record books a venue-side amount against the user who earned it.
func (e *SettlementEngine) record(ctx context.Context, userID int64, key SessionKey, amount int64, txType, what string) {
	if _, _, err := e.users.GetOrCreate(ctx, userID, ""); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Str("type", txType).Int64("amount", amount).
			Msg("Failed to record transaction")
		return
	}
	e.recordTx(ctx, userID, key, amount, txType, what)
}

// recordTx appends to the audit trail. The balance change has already
// committed, so a failure here is logged rather than returned.
func (e *SettlementEngine) recordTx(ctx context.Context, userID int64, key SessionKey, amount int64, txType, what string) {
	venue := key.Venue
	desc := fmt.Sprintf("%s: %s %s", what, key.Day, key.Slot)
	if _, err := e.txs.Create(ctx, userID, &venue, amount, txType, &desc); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Str("type", txType).Int64("amount", amount).
			Msg("Failed to record transaction")
	}
}

// Session returns a snapshot of a session.
func (e *SettlementEngine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, false
	}
	return e.snapshot(s), true
}

// PendingAmount finds the session in which admin owes an amount for the venue.
func (e *SettlementEngine) PendingAmount(venueID, admin int64) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var found *Session
	for _, s := range e.sessions {
		if s.Key.Venue != venueID || s.Key.Admin != admin || s.State != AwaitingAmount {
			continue
		}
		if found == nil || s.UpdatedAt.After(found.UpdatedAt) {
			found = s
		}
	}
	if found == nil {
		return nil, false
	}
	return e.snapshot(found), true
}

// DiscardVenue drops every session of the venue.
func (e *SettlementEngine) DiscardVenue(venueID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, s := range e.sessions {
		if s.Key.Venue == venueID {
			e.drop(id, s)
			n++
		}
	}
	metrics.SettlementSessions.Set(float64(len(e.sessions)))
	return n
}

// discardSlot drops the sessions of a slot whose booking went away.
func (e *SettlementEngine) discardSlot(venueID int64, day slot.Day, s string) {
	ref := slotRef{venueID, day, s}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, sess := range e.sessions {
		if sess.Key.ref() == ref {
			e.drop(id, sess)
		}
	}
	metrics.SettlementSessions.Set(float64(len(e.sessions)))
}

func (e *SettlementEngine) discard(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[id]; ok {
		e.drop(id, s)
	}
	metrics.SettlementSessions.Set(float64(len(e.sessions)))
}

// drop forgets a session. Callers hold e.mu.
func (e *SettlementEngine) drop(id string, s *Session) {
	if s.inFlight() {
		log.Warn().Str("session_id", id).Int64("venue_id", s.Key.Venue).Str("slot", s.Key.Slot).
			Str("state", s.State.String()).Msg("Dropping settlement with partial payment")
	}
	delete(e.sessions, id)
}

// Sweep drops sessions idle longer than the TTL and returns how many.
// Sessions holding a partial payment are kept until the day closes.
func (e *SettlementEngine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := e.now().Add(-e.ttl)
	n := 0
	for id, s := range e.sessions {
		if s.UpdatedAt.Before(cutoff) && !s.inFlight() {
			e.drop(id, s)
			n++
		}
	}
	metrics.SettlementSessions.Set(float64(len(e.sessions)))
	return n
}

// RunJanitor sweeps expired sessions every interval until ctx is done.
func (e *SettlementEngine) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Sweep(); n > 0 {
				log.Debug().Int("sessions", n).Msg("Expired settlement sessions swept")
			}
		}
	}
}
