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

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invest-ledger-go/internal/batch"
	"invest-ledger-go/internal/metrics"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/pricing"
	"invest-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const JobTransactionExpiry = "transaction-expiry"

// DefaultCompletionConfirmations is the confirmation count at which a
// transaction completes and touches the ledger.
const DefaultCompletionConfirmations = 6

var ErrInvalidObservation = errors.New("invalid observation")

type SubmitParams struct {
	UserId       string
	Type         models.TransactionType
	Currency     string
	CryptoAmount decimal.Decimal
	ChainHash    string
}

// Reconciler owns the deposit and withdrawal lifecycle.
type Reconciler struct {
	store     store.LedgerStore
	oracle    pricing.Oracle
	threshold int
	engine    models.EngineConfig
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(s store.LedgerStore, oracle pricing.Oracle, cfg models.ReconcilerConfig, engine models.EngineConfig, m *metrics.Metrics) *Reconciler {
	threshold := cfg.CompletionConfirmations
	if threshold <= 0 {
		threshold = DefaultCompletionConfirmations
	}
	return &Reconciler{
		store:     s,
		oracle:    oracle,
		threshold: threshold,
		engine:    engine,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Threshold returns the confirmation count that completes a transaction.
func (r *Reconciler) Threshold() int { return r.threshold }

// Submit records a transaction reported by a wallet, priced now. The USD
// value never changes afterwards.
func (r *Reconciler) Submit(ctx context.Context, params SubmitParams) (*models.Transaction, error) {
	create, err := r.newTransaction(ctx, params.UserId, params.Type, params.Currency, params.CryptoAmount)
	if err != nil {
		return nil, err
	}
	create.ChainHash = strings.TrimSpace(params.ChainHash)
	if create.ChainHash == "" {
		return nil, fmt.Errorf("%w: chain hash is required", ErrInvalidObservation)
	}
	return r.store.CreateTransaction(ctx, *create)
}

func (r *Reconciler) newTransaction(ctx context.Context, userId string, txType models.TransactionType,
	currency string, amount decimal.Decimal) (*store.CreateTransactionParams, error) {

	if userId == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidObservation)
	}
	if !txType.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidObservation, txType)
	}
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrInvalidObservation)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidObservation, amount)
	}

	usd, err := pricing.UsdValue(ctx, r.oracle, currency, amount)
	if err != nil {
		return nil, err
	}
	return &store.CreateTransactionParams{
		UserId:       userId,
		Type:         txType,
		Currency:     currency,
		CryptoAmount: amount,
		UsdValue:     usd,
		At:           r.now(),
	}, nil
}

// TargetStatus maps an observation to the status it asks for.
func (r *Reconciler) TargetStatus(obs models.Observation) models.TransactionStatus {
	switch {
	case obs.Status == models.TransactionFailed:
		return models.TransactionFailed
	case obs.Confirmations >= r.threshold, obs.Status == models.TransactionCompleted:
		return models.TransactionCompleted
	case obs.Confirmations >= 1, obs.Status == models.TransactionConfirmed:
		return models.TransactionConfirmed
	}
	return models.TransactionPending
}

// Observe applies one indexer report. Unknown hashes are recorded first,
// attributed to obs.UserId or to the owner of obs.Address. A known hash whose
// recorded direction, currency, amount or owner contradicts the report fails
// without touching the ledger. Duplicate reports never move the ledger twice.
func (r *Reconciler) Observe(ctx context.Context, obs models.Observation) (store.ObservationResult, error) {
	obs.ChainHash = strings.TrimSpace(obs.ChainHash)
	if obs.ChainHash == "" {
		return store.ObservationResult{}, fmt.Errorf("%w: chain hash is required", ErrInvalidObservation)
	}
	if obs.Confirmations < 0 {
		return store.ObservationResult{}, fmt.Errorf("%w: negative confirmations", ErrInvalidObservation)
	}

	params := store.ApplyObservationParams{
		ChainHash:     obs.ChainHash,
		Target:        r.TargetStatus(obs),
		Confirmations: obs.Confirmations,
		Reason:        obs.Reason,
		At:            r.now(),
		Observed: store.ObservedFacts{
			Type:     obs.Direction,
			Currency: obs.Currency,
			Amount:   obs.Amount,
			UserId:   obs.UserId,
			Address:  obs.Address,
		},
	}
	if params.Target == models.TransactionFailed && params.Reason == "" {
		params.Reason = models.ReasonReportedFailed
	}

	if _, err := r.store.GetTransactionByHash(ctx, obs.ChainHash); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return store.ObservationResult{}, err
		}
		create, err := r.createFromObservation(ctx, obs)
		if err != nil {
			return store.ObservationResult{}, err
		}
		params.Create = create
	}

	result, err := r.store.ApplyObservation(ctx, params)
	if result.Transaction != nil && (result.Changed || result.Created) {
		r.metrics.IncObservation(string(result.Transaction.Status))
	}
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			zap.L().Warn("Withdrawal failed for insufficient funds",
				zap.String("chain_hash", obs.ChainHash),
				zap.String("user_id", result.Transaction.UserId),
				zap.String("usd_value", result.Transaction.UsdValue.String()))
		}
		return result, err
	}
	return result, nil
}

func (r *Reconciler) createFromObservation(ctx context.Context, obs models.Observation) (*store.CreateTransactionParams, error) {
	userId := obs.UserId
	if userId == "" {
		if obs.Address == "" {
			return nil, fmt.Errorf("%w: unknown hash %s carries no user or address", ErrInvalidObservation, obs.ChainHash)
		}
		user, _, err := r.store.FindUserByAddress(ctx, obs.Address)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("address %s: %w", obs.Address, store.ErrUserNotFound)
		}
		userId = user.Id
	}
	return r.newTransaction(ctx, userId, obs.Direction, obs.Currency, obs.Amount)
}

// ExpireStale expires every transaction still pending olderThan before now.
// Confirmed, completed and failed rows are never touched.
func (r *Reconciler) ExpireStale(ctx context.Context, olderThan time.Duration, now time.Time) (models.BatchStats, error) {
	if olderThan <= 0 {
		return models.BatchStats{}, fmt.Errorf("expiry age must be positive, got %v", olderThan)
	}
	now = now.UTC()
	cutoff := now.Add(-olderThan)

	opts := batch.Options{
		Job:      JobTransactionExpiry,
		PageSize: r.engine.PageSize,
		Workers:  r.engine.Workers,
		Metrics:  r.metrics,
	}
	list := func(ctx context.Context, afterId string, limit int) ([]models.Transaction, error) {
		return r.store.ListStalePendingTransactions(ctx, cutoff, afterId, limit)
	}
	return batch.Resume(ctx, r.store, opts, list, func(t models.Transaction) string { return t.Id },
		func(ctx context.Context, t models.Transaction) (batch.Outcome, error) {
			expired, err := r.store.ExpireTransaction(ctx, t.Id, now, JobTransactionExpiry)
			if err != nil {
				return batch.Skipped, fmt.Errorf("expire transaction %s for user %s: %w", t.Id, t.UserId, err)
			}
			if !expired {
				return batch.Skipped, nil
			}
			r.metrics.IncObservation(string(models.TransactionExpired))
			return batch.Processed, nil
		})
}

func (r *Reconciler) List(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	return r.store.ListTransactions(ctx, userId, limit, offset)
}
