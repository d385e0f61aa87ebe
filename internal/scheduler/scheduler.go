// Package scheduler triggers the day rollover at a fixed local time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"venue-booking-bot/internal/config"
	"venue-booking-bot/internal/service"
)

const dateLayout = "2006-01-02"

// Runner performs one rollover.
type Runner interface {
	Run(ctx context.Context) (*service.RolloverReport, error)
}

// Scheduler checks the clock on every tick and runs the rollover once per
// zone date when the configured HH:MM is reached.
type Scheduler struct {
	runner   Runner
	loc      *time.Location
	hour     int
	minute   int
	interval time.Duration
	enabled  bool
	now      func() time.Time

	mu        sync.Mutex
	lastFired string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Scheduler from the rollover configuration.
func New(runner Runner, cfg *config.RolloverConfig) (*Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid rollover time zone: %w", err)
	}
	at, err := time.Parse("15:04", cfg.At)
	if err != nil {
		return nil, fmt.Errorf("invalid rollover time %q: %w", cfg.At, err)
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &Scheduler{
		runner:   runner,
		loc:      loc,
		hour:     at.Hour(),
		minute:   at.Minute(),
		interval: interval,
		enabled:  cfg.Enabled,
		now:      time.Now,
	}, nil
}

// Start launches the ticker loop. It is a no-op when the scheduler is
// disabled or already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		log.Info().Msg("Rollover scheduler disabled")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)

	log.Info().
		Str("time_zone", s.loc.String()).
		Str("at", fmt.Sprintf("%02d:%02d", s.hour, s.minute)).
		Dur("check_interval", s.interval).
		Msg("Rollover scheduler started")
}

// Stop halts the loop and waits for an in-flight rollover to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Info().Msg("Rollover scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick runs the rollover if now is the configured minute of a zone date
// that has not fired yet. A failed run is retried on the next tick.
func (s *Scheduler) tick(ctx context.Context, now time.Time) bool {
	local := now.In(s.loc)
	if local.Hour() != s.hour || local.Minute() != s.minute {
		return false
	}
	date := local.Format(dateLayout)

	s.mu.Lock()
	fired := s.lastFired == date
	s.mu.Unlock()
	if fired {
		return false
	}

	report, err := s.runner.Run(ctx)
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("Scheduled rollover failed")
		return false
	}

	s.mu.Lock()
	s.lastFired = date
	s.mu.Unlock()

	log.Info().
		Str("date", date).
		Int("bookings", report.Bookings).
		Bool("degraded", report.Degraded).
		Msg("Scheduled rollover completed")
	return true
}
