// Package main is the entry point for the venue booking bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"venue-booking-bot/internal/bot"
	"venue-booking-bot/internal/config"
	"venue-booking-bot/internal/metrics"
	"venue-booking-bot/internal/model"
	"venue-booking-bot/internal/pkg/db"
	"venue-booking-bot/internal/repository"
	"venue-booking-bot/internal/scheduler"
	"venue-booking-bot/internal/service"
	"venue-booking-bot/internal/tariff"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Int("venues", len(cfg.Venues)).Msg("Configuration loaded successfully")

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect and migrate
	dbPool, err := db.Open(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer dbPool.Close()

	// Initialize repositories
	bookingRepo := repository.NewBookingRepository(dbPool.Pool)
	venueRepo := repository.NewVenueRepository(dbPool.Pool)
	userRepo := repository.NewUserRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)

	tables, err := tariff.New(cfg.Tariffs)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid tariff tables")
	}

	client, err := bot.NewClient(&cfg.Bot)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}
	admins := bot.NewAdmins(cfg, client)

	// Rebuild the calendars from the store
	registry := service.NewVenueRegistry(bookingRepo, venueRepo, admins)
	if err := registry.Load(ctx, venueSeeds(cfg.Venues)); err != nil {
		log.Fatal().Err(err).Msg("Failed to load venues")
	}

	// Initialize services
	publisher := bot.NewPublisher(client, registry, cfg.Report.ChatID)
	engine := service.NewSettlementEngine(
		registry,
		bookingRepo,
		userRepo,
		txRepo,
		tables,
		admins,
		publisher,
		cfg.Settlement.SessionTTL,
	)
	coordinator := service.NewRolloverCoordinator(registry, bookingRepo, engine, publisher, publisher)
	accountService := service.NewAccountService(userRepo, txRepo, admins)
	reportService := service.NewReportService(registry, userRepo, admins, 50)

	sched, err := scheduler.New(coordinator, &cfg.Rollover)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create rollover scheduler")
	}

	telegramBot := bot.New(client, &bot.Dependencies{
		Config:    cfg,
		Admins:    admins,
		Registry:  registry,
		Engine:    engine,
		Accounts:  accountService,
		Reports:   reportService,
		Rollover:  coordinator,
		Summaries: publisher,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		engine.RunJanitor(gctx, cfg.Settlement.SweepInterval)
		return nil
	})

	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Addr, dbPool.HealthCheck)
		})
	}

	sched.Start(gctx)

	g.Go(func() error {
		telegramBot.Start()
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		sched.Stop()
		telegramBot.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service stopped with error")
		return
	}
	log.Info().Msg("Bot stopped gracefully")
}

// venueSeeds turns configured venues into account rows for the registry.
func venueSeeds(venues []config.VenueConfig) []*model.VenueAccount {
	seeds := make([]*model.VenueAccount, 0, len(venues))
	for _, v := range venues {
		seed := &model.VenueAccount{
			VenueID:      v.ID,
			Title:        v.Title,
			SalaryOption: v.SalaryOption,
		}
		if v.DistributionVariant != "" {
			seed.DistributionVariant = model.StringPtr(v.DistributionVariant)
		}
		if v.TargetUser != 0 {
			seed.TargetUser = model.Int64Ptr(v.TargetUser)
		}
		seeds = append(seeds, seed)
	}
	return seeds
}
