/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

type Service struct {
	db                *sql.DB
	staleWriteRetries int
	now               func() time.Time
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	// _txlock=immediate takes the write lock at BEGIN so concurrent writers queue on busy_timeout.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=%d&_txlock=immediate&_foreign_keys=1",
		cfg.Path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after ping error", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := NewServiceWithDB(db, cfg.StaleWriteRetries)
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema error", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceWithDB wraps an already opened handle without touching the schema.
func NewServiceWithDB(db *sql.DB, staleWriteRetries int) *Service {
	if staleWriteRetries < 0 {
		staleWriteRetries = 0
	}
	return &Service{
		db:                db,
		staleWriteRetries: staleWriteRetries,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_active ON users(active);

	CREATE TABLE IF NOT EXISTS wallet_addresses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		currency TEXT NOT NULL,
		network TEXT NOT NULL,
		address TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallet_addresses_user ON wallet_addresses(user_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_addresses_address ON wallet_addresses(lower(address));

	-- One row per user; total is derived on read.
	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT PRIMARY KEY,
		main_cents INTEGER NOT NULL DEFAULT 0 CHECK (main_cents >= 0),
		interest_cents INTEGER NOT NULL DEFAULT 0 CHECK (interest_cents >= 0),
		investment_cents INTEGER NOT NULL DEFAULT 0 CHECK (investment_cents >= 0),
		version INTEGER NOT NULL DEFAULT 0,
		last_entry_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		bucket TEXT NOT NULL CHECK (bucket IN ('main', 'interest', 'investment')),
		delta_cents INTEGER NOT NULL,
		balance_after_cents INTEGER NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference ON ledger_entries(reference_type, reference_id);

	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		principal_currency TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		principal_cents INTEGER NOT NULL CHECK (principal_cents > 0),
		apy TEXT NOT NULL,
		duration_days INTEGER NOT NULL CHECK (duration_days > 0),
		status TEXT NOT NULL CHECK (status IN ('pending', 'active', 'completed', 'cancelled')),
		started_at INTEGER,
		matures_at INTEGER,
		last_accrual_date TEXT NOT NULL DEFAULT '',
		accrual_days INTEGER NOT NULL DEFAULT 0,
		accrued_cents INTEGER NOT NULL DEFAULT 0,
		total_return_cents INTEGER NOT NULL DEFAULT 0,
		principal_returned BOOLEAN NOT NULL DEFAULT 0,
		completed_at INTEGER,
		cancelled_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_investments_user ON investments(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_investments_status_accrual ON investments(status, last_accrual_date);
	CREATE INDEX IF NOT EXISTS idx_investments_status_matures ON investments(status, matures_at);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('deposit', 'withdrawal')),
		currency TEXT NOT NULL,
		crypto_amount TEXT NOT NULL,
		usd_cents INTEGER NOT NULL CHECK (usd_cents >= 0),
		chain_hash TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'completed', 'failed', 'expired')),
		confirmations INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		confirmed_at INTEGER,
		completed_at INTEGER,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_status_created ON transactions(status, created_at);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		read BOOLEAN NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);

	CREATE TABLE IF NOT EXISTS email_queue (
		id TEXT PRIMARY KEY,
		to_address TEXT NOT NULL,
		template_name TEXT NOT NULL,
		variables TEXT NOT NULL,
		priority TEXT NOT NULL CHECK (priority IN ('low', 'normal', 'high', 'urgent')),
		priority_rank INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'sent', 'failed')),
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		scheduled_for INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		notification_id TEXT NOT NULL DEFAULT '',
		sent_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_email_queue_due ON email_queue(status, scheduled_for);
	CREATE INDEX IF NOT EXISTS idx_email_queue_created ON email_queue(created_at);

	CREATE TABLE IF NOT EXISTS job_watermarks (
		job_name TEXT PRIMARY KEY,
		cursor TEXT NOT NULL DEFAULT '',
		runs INTEGER NOT NULL DEFAULT 0,
		last_started_at INTEGER,
		last_completed_at INTEGER,
		last_error TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// withTx runs fn inside one database transaction and commits if it returns nil.
func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			zap.L().Warn("Failed to roll back transaction", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// withRetry re-runs op while it fails with store.ErrStaleWrite, up to the
// configured number of extra attempts.
func (s *Service) withRetry(ctx context.Context, operation string, op func() error) error {
	var err error
	for attempt := 0; attempt <= s.staleWriteRetries; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, store.ErrStaleWrite) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		zap.L().Debug("Retrying after stale write",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1))
	}
	return err
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("Failed to close rows", zap.Error(err))
	}
}

// Timestamps are stored as INTEGER unix nanoseconds in UTC.
func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnix(*t), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
