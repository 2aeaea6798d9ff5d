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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var bucketUpdateQueries = map[models.Bucket]string{
	models.BucketMain:       queryUpdateMainBalance,
	models.BucketInterest:   queryUpdateInterestBalance,
	models.BucketInvestment: queryUpdateInvestmentBalance,
}

func scanBalance(row rowScanner, bal *models.Balance) error {
	var updatedAt int64
	if err := row.Scan(&bal.UserId, &bal.Main, &bal.Interest, &bal.Investment,
		&bal.Version, &bal.LastEntryId, &updatedAt); err != nil {
		return err
	}
	bal.UpdatedAt = fromUnix(updatedAt)
	return nil
}

// Adjust applies one signed delta to one bucket in its own transaction,
// retrying on stale writes.
func (s *Service) Adjust(ctx context.Context, params store.AdjustParams) (models.Balance, error) {
	if params.ReferenceType == "" {
		params.ReferenceType = models.RefAdjustment
	}

	var bal models.Balance
	err := s.withRetry(ctx, "adjust", func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			var err error
			bal, err = s.adjustTx(ctx, tx, params, s.now())
			return err
		})
	})
	if err != nil {
		return models.Balance{}, err
	}
	return bal, nil
}

// adjustTx is the single balance mutation primitive. It must run inside the
// same transaction as the state transition that triggered it.
func (s *Service) adjustTx(ctx context.Context, tx *sql.Tx, params store.AdjustParams, at time.Time) (models.Balance, error) {
	updateQuery, ok := bucketUpdateQueries[params.Bucket]
	if !ok {
		return models.Balance{}, fmt.Errorf("unknown balance bucket %q", params.Bucket)
	}

	// Balance rows are created lazily on the first mutation.
	if _, err := tx.ExecContext(ctx, queryEnsureBalance, params.UserId, toUnix(at), toUnix(at)); err != nil {
		return models.Balance{}, fmt.Errorf("failed to create balance row: %w", err)
	}

	var bal models.Balance
	if err := scanBalance(tx.QueryRowContext(ctx, queryGetBalance, params.UserId), &bal); err != nil {
		return models.Balance{}, fmt.Errorf("failed to read balance: %w", err)
	}

	current := bal.Get(params.Bucket)
	next, err := models.AddCents(current, params.Delta)
	if err != nil {
		return models.Balance{}, fmt.Errorf("%s bucket of user %s: %w", params.Bucket, params.UserId, err)
	}
	if next < 0 {
		zap.L().Warn("Rejected adjustment below zero",
			zap.String("user_id", params.UserId),
			zap.String("bucket", string(params.Bucket)),
			zap.Int64("current_cents", int64(current)),
			zap.Int64("delta_cents", int64(params.Delta)))
		return models.Balance{}, fmt.Errorf("%s bucket of user %s holds %s, cannot apply %s: %w",
			params.Bucket, params.UserId, current, params.Delta, store.ErrInsufficientFunds)
	}

	entryId := uuid.New().String()
	result, err := tx.ExecContext(ctx, updateQuery, int64(next), entryId, toUnix(at), params.UserId, bal.Version)
	if err != nil {
		return models.Balance{}, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.Balance{}, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.Balance{}, fmt.Errorf("balance of user %s changed at version %d: %w",
			params.UserId, bal.Version, store.ErrStaleWrite)
	}

	_, err = tx.ExecContext(ctx, queryInsertLedgerEntry,
		entryId, params.UserId, string(params.Bucket), int64(params.Delta), int64(next),
		params.ReferenceType, params.ReferenceId, toUnix(at))
	if err != nil {
		return models.Balance{}, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	bal.Set(params.Bucket, next)
	bal.Version++
	bal.LastEntryId = entryId
	bal.UpdatedAt = at

	zap.L().Debug("Balance adjusted",
		zap.String("user_id", params.UserId),
		zap.String("bucket", string(params.Bucket)),
		zap.Int64("delta_cents", int64(params.Delta)),
		zap.Int64("balance_after_cents", int64(next)),
		zap.String("reference_type", params.ReferenceType),
		zap.String("reference_id", params.ReferenceId))

	return bal, nil
}

// ReadBalance returns the current snapshot. A user without a row reads as zero.
func (s *Service) ReadBalance(ctx context.Context, userId string) (models.Balance, error) {
	var bal models.Balance
	err := scanBalance(s.db.QueryRowContext(ctx, queryGetBalance, userId), &bal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Balance{UserId: userId}, nil
		}
		return models.Balance{}, fmt.Errorf("failed to read balance: %w", err)
	}
	return bal, nil
}

func scanLedgerEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var bucket string
		var createdAt int64
		if err := rows.Scan(&e.Seq, &e.Id, &e.UserId, &bucket, &e.Delta, &e.BalanceAfter,
			&e.ReferenceType, &e.ReferenceId, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Bucket = models.Bucket(bucket)
		e.CreatedAt = fromUnix(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entry rows: %w", err)
	}
	return entries, nil
}

// GetLedgerEntries returns a user's audit trail, newest first.
func (s *Service) GetLedgerEntries(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryGetLedgerEntries, userId, normalizeLimit(limit, 50), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer closeRows(rows)
	return scanLedgerEntries(rows)
}

// ListLedgerEntriesAfter pages through all entries in insertion order.
func (s *Service) ListLedgerEntriesAfter(ctx context.Context, afterSeq int64, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryGetLedgerEntriesAfter, afterSeq, normalizeLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer closeRows(rows)
	return scanLedgerEntries(rows)
}

// ReconcileBalance verifies that every bucket equals the sum of its ledger deltas.
func (s *Service) ReconcileBalance(ctx context.Context, userId string) error {
	bal, err := s.ReadBalance(ctx, userId)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, querySumLedgerByBucket, userId)
	if err != nil {
		return fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	defer closeRows(rows)

	sums := make(map[models.Bucket]models.Cents)
	for rows.Next() {
		var bucket string
		var sum int64
		if err := rows.Scan(&bucket, &sum); err != nil {
			return fmt.Errorf("failed to scan ledger sum: %w", err)
		}
		sums[models.Bucket(bucket)] = models.Cents(sum)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating ledger sums: %w", err)
	}

	for _, bucket := range models.Buckets {
		if got, want := bal.Get(bucket), sums[bucket]; got != want {
			zap.L().Error("Balance reconciliation mismatch",
				zap.String("user_id", userId),
				zap.String("bucket", string(bucket)),
				zap.Int64("balance_cents", int64(got)),
				zap.Int64("ledger_cents", int64(want)))
			return fmt.Errorf("balance mismatch for user %s bucket %s: balance %s, ledger %s",
				userId, bucket, got, want)
		}
	}
	return nil
}
