// Package calendar implements the per-venue, per-day slot state machine.
//
// A slot is Free until reserved. Reserving it makes it Booked and turns
// every Free neighbor into Blocked by the same user, so two adjacent slots
// are never held at once. Finalizing a Booked slot records its status code
// and keeps the attribution until the booking is cancelled.
package calendar

import (
	"maps"
	"sort"
	"sync"

	"venue-booking-bot/internal/pkg/apperr"
	"venue-booking-bot/internal/slot"
	"venue-booking-bot/internal/tariff"
)

// Errors returned by state transitions.
var (
	ErrSlotUnavailable = apperr.New(apperr.ErrConflict, "slot is not available")
	ErrNotBooked       = apperr.New(apperr.ErrNotFound, "slot has no booking")
)

// State of a single slot.
type State int

// Slot states.
const (
	Free State = iota
	Booked
	Blocked
	Finalized
)

func (s State) String() string {
	switch s {
	case Booked:
		return "booked"
	case Blocked:
		return "blocked"
	case Finalized:
		return "finalized"
	}
	return "free"
}

// ParseState is the inverse of String.
func ParseState(s string) (State, bool) {
	switch s {
	case "free":
		return Free, true
	case "booked":
		return Booked, true
	case "blocked":
		return Blocked, true
	case "finalized":
		return Finalized, true
	}
	return Free, false
}

// Anchor reports whether the state holds a booking.
func (s State) Anchor() bool {
	return s == Booked || s == Finalized
}

// Cell is the state of one slot. User is the booking user for anchors and
// the blocking user for Blocked cells. Code is meaningful only when Finalized.
type Cell struct {
	State State
	User  int64
	Code  tariff.StatusCode
}

// Change records one cell transition so it can be persisted as-is.
type Change struct {
	Slot   string
	Before Cell
	After  Cell
}

// Entry is an anchored slot with its attribution.
type Entry struct {
	Slot string
	Cell
}

// Day is the slot grid of one venue for one day bucket.
// Day is not safe for concurrent use; Calendar hands out clones.
type Day struct {
	cells map[string]Cell
}

// NewDay returns an empty, all-free day.
func NewDay() *Day {
	return &Day{cells: make(map[string]Cell)}
}

// Clone returns a deep copy.
func (d *Day) Clone() *Day {
	return &Day{cells: maps.Clone(d.cells)}
}

// Cell returns the state of s. Unknown slots read as Free.
func (d *Day) Cell(s string) Cell {
	return d.cells[s]
}

// Equal reports whether both days hold the same cells.
func (d *Day) Equal(o *Day) bool {
	return maps.Equal(d.cells, o.cells)
}

// Empty reports whether every slot is free.
func (d *Day) Empty() bool {
	return len(d.cells) == 0
}

// Set overwrites a cell without transition checks. Used when rehydrating.
func (d *Day) Set(s string, c Cell) {
	if c.State == Free {
		delete(d.cells, s)
		return
	}
	d.cells[s] = c
}

func (d *Day) set(changes []Change, s string, c Cell) []Change {
	before := d.cells[s]
	if before == c {
		return changes
	}
	d.Set(s, c)
	return append(changes, Change{Slot: s, Before: before, After: c})
}

// Reserve books s for user and blocks its free neighbors.
func (d *Day) Reserve(s string, user int64) ([]Change, error) {
	neighbors, err := slot.Neighbors(s)
	if err != nil {
		return nil, err
	}
	if d.cells[s].State != Free {
		return nil, ErrSlotUnavailable
	}

	changes := d.set(nil, s, Cell{State: Booked, User: user})
	for _, n := range neighbors {
		if d.cells[n].State == Free {
			changes = d.set(changes, n, Cell{State: Blocked, User: user})
		}
	}
	return changes, nil
}

// Release removes the booking on s. Neighbors blocked by the same user are
// freed unless another booking still borders them, in which case they stay
// blocked by that booking's user. Releasing a slot without a booking is a
// no-op.
func (d *Day) Release(s string) ([]Change, error) {
	neighbors, err := slot.Neighbors(s)
	if err != nil {
		return nil, err
	}
	cell := d.cells[s]
	if !cell.State.Anchor() {
		return nil, nil
	}

	changes := d.set(nil, s, d.derived(s, ""))
	for _, n := range neighbors {
		nc := d.cells[n]
		if nc.State == Blocked && nc.User == cell.User {
			changes = d.set(changes, n, d.derived(n, s))
		}
	}
	return changes, nil
}

// derived computes the cell of a non-anchored slot from the bookings around
// it, ignoring the slot named skip.
func (d *Day) derived(s, skip string) Cell {
	neighbors, _ := slot.Neighbors(s)
	for _, n := range neighbors {
		if n == skip {
			continue
		}
		if nc := d.cells[n]; nc.State.Anchor() {
			return Cell{State: Blocked, User: nc.User}
		}
	}
	return Cell{}
}

// Finalize records code on a Booked or already Finalized slot.
func (d *Day) Finalize(s string, code tariff.StatusCode) ([]Change, error) {
	if !slot.Valid(s) {
		return nil, slot.ErrUnknownSlot
	}
	if !code.Valid() {
		return nil, tariff.ErrUnknownStatusCode
	}
	cell := d.cells[s]
	if !cell.State.Anchor() {
		return nil, ErrNotBooked
	}
	return d.set(nil, s, Cell{State: Finalized, User: cell.User, Code: code}), nil
}

// Available returns the free slots in sequence order.
func (d *Day) Available() []string {
	var out []string
	for _, s := range slot.Slots() {
		if d.cells[s].State == Free {
			out = append(out, s)
		}
	}
	return out
}

// Entries returns the slots in the given states, in sequence order.
func (d *Day) Entries(states ...State) []Entry {
	var out []Entry
	for _, s := range slot.Slots() {
		c, ok := d.cells[s]
		if !ok {
			continue
		}
		for _, st := range states {
			if c.State == st {
				out = append(out, Entry{Slot: s, Cell: c})
				break
			}
		}
	}
	return out
}

// Calendar holds every venue's two day grids.
type Calendar struct {
	mu     sync.RWMutex
	venues map[int64]map[slot.Day]*Day
}

// New returns an empty calendar.
func New() *Calendar {
	return &Calendar{venues: make(map[int64]map[slot.Day]*Day)}
}

func (c *Calendar) dayLocked(venue int64, day slot.Day) *Day {
	days, ok := c.venues[venue]
	if !ok {
		days = map[slot.Day]*Day{slot.Today: NewDay(), slot.Tomorrow: NewDay()}
		c.venues[venue] = days
	}
	return days[day]
}

// AddVenue registers an empty venue if it is not known yet.
func (c *Calendar) AddVenue(venue int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dayLocked(venue, slot.Today)
}

// Day returns a private copy of the venue's day grid.
func (c *Calendar) Day(venue int64, day slot.Day) *Day {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dayLocked(venue, day).Clone()
}

// Put replaces the venue's day grid with d.
func (c *Calendar) Put(venue int64, day slot.Day, d *Day) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dayLocked(venue, day)
	c.venues[venue][day] = d
}

// Cell returns the state of one slot.
func (c *Calendar) Cell(venue int64, day slot.Day, s string) Cell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if days, ok := c.venues[venue]; ok {
		return days[day].Cell(s)
	}
	return Cell{}
}

// Available returns the free slots of the venue's day.
func (c *Calendar) Available(venue int64, day slot.Day) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if days, ok := c.venues[venue]; ok {
		return days[day].Available()
	}
	return slot.Slots()
}

// ClearDay resets the venue's day grid to all free.
func (c *Calendar) ClearDay(venue int64, day slot.Day) {
	c.Put(venue, day, NewDay())
}

// Restore rebuilds the venue's day grid from persisted entries.
// Entries with unknown slots are skipped and reported back.
func (c *Calendar) Restore(venue int64, day slot.Day, entries []Entry) []string {
	d := NewDay()
	var skipped []string
	for _, e := range entries {
		if !slot.Valid(e.Slot) {
			skipped = append(skipped, e.Slot)
			continue
		}
		d.Set(e.Slot, e.Cell)
	}
	c.Put(venue, day, d)
	return skipped
}

// Promote moves Tomorrow into Today and leaves Tomorrow empty.
// The old Today is discarded.
func (c *Calendar) Promote(venue int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dayLocked(venue, slot.Today)
	days := c.venues[venue]
	days[slot.Today] = days[slot.Tomorrow]
	days[slot.Tomorrow] = NewDay()
}

// Venues returns the known venue ids, sorted.
func (c *Calendar) Venues() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int64, 0, len(c.venues))
	for v := range c.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether both calendars hold the same venues and cells.
func (c *Calendar) Equal(o *Calendar) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(c.venues) != len(o.venues) {
		return false
	}
	for v, days := range c.venues {
		other, ok := o.venues[v]
		if !ok {
			return false
		}
		for _, d := range slot.Days() {
			if !days[d].Equal(other[d]) {
				return false
			}
		}
	}
	return true
}
