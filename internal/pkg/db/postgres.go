// Package db opens the PostgreSQL pool behind the booking ledger and keeps
// its schema current.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"venue-booking-bot/internal/config"
)

const healthCheckTimeout = 2 * time.Second

// Pool is the shared connection pool of the repositories.
type Pool struct {
	*pgxpool.Pool
}

// Open connects to PostgreSQL and brings the schema up to date.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int32("max_conns", pc.MaxConns).
		Msg("Connecting to PostgreSQL")

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Pool{Pool: pool}, nil
}

// poolConfig applies the configured limits, falling back to defaults for
// unset ones.
func poolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pc.MaxConns = int32(max(cfg.PoolSize, 1))
	pc.MinConns = max(pc.MaxConns/4, 1)
	pc.ConnConfig.ConnectTimeout = orDefault(cfg.ConnectTimeout, 10*time.Second)
	pc.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, time.Hour)
	pc.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, 30*time.Minute)
	pc.HealthCheckPeriod = 30 * time.Second
	return pc, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

var schema = []struct {
	name string
	sql  string
}{
	{
		name: "bookings",
		sql: `
		CREATE TABLE IF NOT EXISTS bookings (
			venue_id BIGINT NOT NULL,
			day VARCHAR(16) NOT NULL,
			slot VARCHAR(5) NOT NULL,
			user_id BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'booked',
			status_code INT,
			payment_method VARCHAR(16),
			amount BIGINT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (venue_id, day, slot)
		);
		CREATE INDEX IF NOT EXISTS idx_bookings_day ON bookings(day);
		CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id);
	`,
	},
	{
		name: "slot_status",
		sql: `
		CREATE TABLE IF NOT EXISTS slot_status (
			venue_id BIGINT NOT NULL,
			day VARCHAR(16) NOT NULL,
			slot VARCHAR(5) NOT NULL,
			status VARCHAR(16) NOT NULL,
			user_id BIGINT NOT NULL,
			PRIMARY KEY (venue_id, day, slot)
		);
	`,
	},
	{
		name: "venue_accounts",
		sql: `
		CREATE TABLE IF NOT EXISTS venue_accounts (
			venue_id BIGINT PRIMARY KEY,
			title VARCHAR(255) NOT NULL DEFAULT '',
			salary_option INT NOT NULL DEFAULT 1,
			salary BIGINT NOT NULL DEFAULT 0,
			cash BIGINT NOT NULL DEFAULT 0,
			distribution_variant VARCHAR(64),
			target_user BIGINT,
			summary_chat_id BIGINT,
			summary_message_id INT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`,
	},
	{
		name: "user_accounts",
		sql: `
		CREATE TABLE IF NOT EXISTS user_accounts (
			user_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			balance BIGINT NOT NULL DEFAULT 0,
			profit BIGINT NOT NULL DEFAULT 0,
			monthly_profit BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_user_accounts_monthly ON user_accounts(monthly_profit DESC);
	`,
	},
	{
		name: "transactions",
		sql: `
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES user_accounts(user_id) ON DELETE CASCADE,
			venue_id BIGINT,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_type_time ON transactions(type, created_at DESC);
	`,
	},
}

// Migrate creates the booking, slot state, venue, user and transaction
// tables in one transaction. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range schema {
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", m.name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	log.Info().Int("tables", len(schema)).Msg("Database schema up to date")
	return nil
}

// HealthCheck pings the database with a short deadline. It backs /healthz.
func (p *Pool) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		log.Info().Msg("PostgreSQL connection pool closed")
	}
}
