package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"venue-booking-bot/internal/metrics"
	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/pkg/apperr"
	"venue-booking-bot/internal/slot"
)

// ErrRolloverRunning is returned when a rollover is requested while one runs.
var ErrRolloverRunning = apperr.New(apperr.ErrUnavailable, "day rollover already running")

// MethodTotal aggregates closed-out bookings paid one way.
type MethodTotal struct {
	Method  string
	Count   int
	Sum     int64
	Average decimal.Decimal
}

// UserTotal counts a user's closed-out bookings.
type UserTotal struct {
	UserID int64
	Count  int
}

// RolloverReport describes one closed-out day.
type RolloverReport struct {
	At        time.Time
	Bookings  int
	Unsettled int
	Methods   []MethodTotal
	Users     []UserTotal
	Degraded  bool
	Problems  []string
}

// ReportPublisher delivers rollover reports.
type ReportPublisher interface {
	PublishReport(ctx context.Context, r *RolloverReport) error
}

// SummaryPublisher shows a venue summary to its chat.
type SummaryPublisher interface {
	PublishSummary(ctx context.Context, s *VenueSummary) error
}

// RolloverCoordinator retires today and promotes tomorrow for every venue.
type RolloverCoordinator struct {
	registry  *VenueRegistry
	bookings  BookingStore
	engine    *SettlementEngine
	reports   ReportPublisher
	summaries SummaryPublisher
	now       func() time.Time

	running atomic.Bool
	// reported is the date whose report went out before its close-out
	// failed. A retry that day does not post it again.
	reported string
}

// NewRolloverCoordinator creates a new RolloverCoordinator instance.
// engine and either publisher may be nil.
func NewRolloverCoordinator(
	registry *VenueRegistry,
	bookings BookingStore,
	engine *SettlementEngine,
	reports ReportPublisher,
	summaries SummaryPublisher,
) *RolloverCoordinator {
	return &RolloverCoordinator{
		registry:  registry,
		bookings:  bookings,
		engine:    engine,
		reports:   reports,
		summaries: summaries,
		now:       time.Now,
	}
}

// Run closes out today. Reads and writes of every venue are held off
// until the store and cache agree on the new day. Publishing failures mark
// the report degraded but do not stop the rollover.
func (c *RolloverCoordinator) Run(ctx context.Context) (*RolloverReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRolloverRunning
	}
	defer c.running.Store(false)

	start := time.Now()
	report, err := c.closeOut(ctx)
	metrics.RolloverDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Rollovers.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("Day rollover failed")
		return nil, err
	}

	c.republish(ctx, report)

	result := "ok"
	if report.Degraded {
		result = "degraded"
	}
	metrics.Rollovers.WithLabelValues(result).Inc()
	log.Info().
		Int("bookings", report.Bookings).
		Int("unsettled", report.Unsettled).
		Bool("degraded", report.Degraded).
		Dur("took", time.Since(start)).
		Msg("Day rollover completed")
	return report, nil
}

func (c *RolloverCoordinator) closeOut(ctx context.Context) (*RolloverReport, error) {
	unlock := c.registry.lockAll()
	defer unlock()

	today, err := c.bookings.ListByDay(ctx, slot.Today)
	if err != nil {
		return nil, apperr.Retryable("snapshot today", err)
	}

	report := Aggregate(today)
	report.At = c.now()

	date := report.At.Format(time.DateOnly)
	switch {
	case c.reports == nil:
	case c.reported == date:
		log.Info().Str("date", date).Msg("Rollover report already published, skipping")
	default:
		if err := c.reports.PublishReport(ctx, report); err != nil {
			log.Error().Err(err).Msg("Failed to publish rollover report")
			report.degrade("report not delivered")
		} else {
			c.reported = date
		}
	}

	if err := c.bookings.CloseOutDay(ctx); err != nil {
		return nil, apperr.Retryable("close out day", err)
	}
	c.reported = ""

	c.registry.promoteAll()
	if c.engine != nil {
		for _, v := range c.registry.Venues() {
			if n := c.engine.DiscardVenue(v); n > 0 {
				log.Info().Int64("venue_id", v).Int("sessions", n).Msg("Settlement sessions discarded")
			}
		}
	}
	return report, nil
}

// republish refreshes every venue summary concurrently.
func (c *RolloverCoordinator) republish(ctx context.Context, report *RolloverReport) {
	if c.summaries == nil {
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, v := range c.registry.Venues() {
		g.Go(func() error {
			sum, err := c.registry.GetVenueSummary(v)
			if err == nil {
				err = c.summaries.PublishSummary(gctx, sum)
			}
			if err != nil {
				log.Error().Err(err).Int64("venue_id", v).Msg("Failed to republish venue summary")
				mu.Lock()
				report.degrade("summary not refreshed")
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *RolloverReport) degrade(problem string) {
	r.Degraded = true
	for _, p := range r.Problems {
		if p == problem {
			return
		}
	}
	r.Problems = append(r.Problems, problem)
}

// Aggregate totals a day's bookings by payment method and by user.
// Bookings without a payment count as unsettled.
func Aggregate(bookings []*model.Booking) *RolloverReport {
	report := &RolloverReport{Bookings: len(bookings)}

	methods := make(map[string]*MethodTotal)
	users := make(map[int64]int)
	for _, b := range bookings {
		users[b.UserID]++
		if b.PaymentMethod == nil {
			report.Unsettled++
			continue
		}
		m, ok := methods[*b.PaymentMethod]
		if !ok {
			m = &MethodTotal{Method: *b.PaymentMethod}
			methods[*b.PaymentMethod] = m
		}
		m.Count++
		if b.Amount != nil {
			m.Sum += *b.Amount
		}
	}

	for _, m := range methods {
		m.Average = decimal.NewFromInt(m.Sum).Div(decimal.NewFromInt(int64(m.Count))).Round(2)
		report.Methods = append(report.Methods, *m)
	}
	sort.Slice(report.Methods, func(i, j int) bool { return report.Methods[i].Method < report.Methods[j].Method })

	for id, n := range users {
		report.Users = append(report.Users, UserTotal{UserID: id, Count: n})
	}
	sort.Slice(report.Users, func(i, j int) bool {
		if report.Users[i].Count != report.Users[j].Count {
			return report.Users[i].Count > report.Users[j].Count
		}
		return report.Users[i].UserID < report.Users[j].UserID
	})
	return report
}
