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
	"strings"
	"time"

	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanTransaction(row rowScanner, t *models.Transaction) error {
	var txType, cryptoAmount, status string
	var createdAt, updatedAt int64
	var confirmedAt, completedAt sql.NullInt64
	err := row.Scan(&t.Id, &t.UserId, &txType, &t.Currency, &cryptoAmount, &t.UsdValue, &t.ChainHash,
		&status, &t.Confirmations, &t.FailureReason, &createdAt, &confirmedAt, &completedAt, &updatedAt)
	if err != nil {
		return err
	}

	t.CryptoAmount, err = decimal.NewFromString(cryptoAmount)
	if err != nil {
		return fmt.Errorf("failed to parse crypto amount '%s': %w", cryptoAmount, err)
	}
	t.Type = models.TransactionType(txType)
	t.Status = models.TransactionStatus(status)
	t.CreatedAt = fromUnix(createdAt)
	t.ConfirmedAt = fromNullUnix(confirmedAt)
	t.CompletedAt = fromNullUnix(completedAt)
	t.UpdatedAt = fromUnix(updatedAt)
	return nil
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var transactions []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := scanTransaction(rows, &t); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return transactions, nil
}

func (s *Service) getTransaction(ctx context.Context, q execer, query, key string) (*models.Transaction, error) {
	var t models.Transaction
	if err := scanTransaction(q.QueryRowContext(ctx, query, key), &t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &t, nil
}

// insertTransaction returns false when the chain hash is already known.
func (s *Service) insertTransaction(ctx context.Context, q execer, params store.CreateTransactionParams) (bool, error) {
	if !params.Type.Valid() {
		return false, fmt.Errorf("invalid transaction type %q", params.Type)
	}
	if strings.TrimSpace(params.ChainHash) == "" {
		return false, fmt.Errorf("chain hash is required")
	}
	if params.UsdValue < 0 {
		return false, fmt.Errorf("usd value must not be negative: %d", params.UsdValue)
	}
	if params.At.IsZero() {
		params.At = s.now()
	}

	result, err := q.ExecContext(ctx, queryInsertTransaction,
		uuid.New().String(), params.UserId, string(params.Type), strings.ToUpper(params.Currency),
		params.CryptoAmount.String(), int64(params.UsdValue), params.ChainHash,
		toUnix(params.At), toUnix(params.At))
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

// CreateTransaction records a newly reported pending transaction. A known
// chain hash yields store.ErrDuplicateTransaction.
func (s *Service) CreateTransaction(ctx context.Context, params store.CreateTransactionParams) (*models.Transaction, error) {
	inserted, err := s.insertTransaction(ctx, s.db, params)
	if err != nil {
		return nil, err
	}
	if !inserted {
		zap.L().Warn("Duplicate chain hash detected, skipping",
			zap.String("chain_hash", params.ChainHash),
			zap.String("user_id", params.UserId))
		return nil, fmt.Errorf("%w: chain hash %s already exists", store.ErrDuplicateTransaction, params.ChainHash)
	}

	zap.L().Info("Transaction recorded",
		zap.String("chain_hash", params.ChainHash),
		zap.String("user_id", params.UserId),
		zap.String("type", string(params.Type)),
		zap.String("amount", params.CryptoAmount.String()),
		zap.String("usd_value", params.UsdValue.String()))

	return s.getTransaction(ctx, s.db, queryGetTransactionByHash, params.ChainHash)
}

func (s *Service) GetTransactionByHash(ctx context.Context, chainHash string) (*models.Transaction, error) {
	return s.getTransaction(ctx, s.db, queryGetTransactionByHash, chainHash)
}

func (s *Service) ListTransactions(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, queryListTransactions, userId, normalizeLimit(limit, 50), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer closeRows(rows)
	return scanTransactions(rows)
}

// ApplyObservation moves a transaction forward toward params.Target. Terminal
// rows and backward targets only ever raise the confirmation count. Entering
// completed posts the main-bucket delta in the same database transaction; a
// withdrawal that would underflow is committed as failed and reported through
// store.ErrInsufficientFunds.
func (s *Service) ApplyObservation(ctx context.Context, params store.ApplyObservationParams) (store.ObservationResult, error) {
	if params.At.IsZero() {
		params.At = s.now()
	}
	at := params.At.UTC()

	var result store.ObservationResult
	err := s.withRetry(ctx, "apply_observation", func() error {
		result = store.ObservationResult{}
		return s.withTx(ctx, func(tx *sql.Tx) error {
			current, err := s.getTransaction(ctx, tx, queryGetTransactionByHash, params.ChainHash)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) || params.Create == nil {
					return err
				}
				create := *params.Create
				create.ChainHash = params.ChainHash
				create.At = at
				if result.Created, err = s.insertTransaction(ctx, tx, create); err != nil {
					return err
				}
				if current, err = s.getTransaction(ctx, tx, queryGetTransactionByHash, params.ChainHash); err != nil {
					return err
				}
			}

			result.Transaction = current
			result.Previous = current.Status
			if current.Status.Terminal() {
				return nil
			}

			target := params.Target
			reason := params.Reason
			if !result.Created {
				mismatch, err := s.observationMismatch(ctx, tx, current, params.Observed)
				if err != nil {
					return err
				}
				if mismatch != "" {
					target = models.TransactionFailed
					reason = models.ReasonObservationMismatch
					result.Mismatch = mismatch
				}
			}
			forward := target == models.TransactionFailed || target.Rank() > current.Status.Rank()
			if !forward {
				if params.Confirmations > current.Confirmations {
					if _, err := tx.ExecContext(ctx, queryUpdateConfirmations, params.Confirmations, toUnix(at), current.Id); err != nil {
						return fmt.Errorf("failed to update confirmations: %w", err)
					}
					current.Confirmations = params.Confirmations
					current.UpdatedAt = at
				}
				return nil
			}

			if target == models.TransactionCompleted {
				err := s.applyTransactionEffect(ctx, tx, current, at)
				if errors.Is(err, store.ErrInsufficientFunds) {
					target = models.TransactionFailed
					reason = models.ReasonInsufficientFunds
					result.InsufficientFunds = true
				} else if err != nil {
					return err
				}
			}

			if err := s.transitionTransaction(ctx, tx, current, target, reason, params.Confirmations, at); err != nil {
				return err
			}
			result.Changed = true
			return s.notifyTransactionOutcome(ctx, tx, current)
		})
	})
	if err != nil {
		return store.ObservationResult{}, err
	}

	if result.Changed {
		zap.L().Info("Transaction advanced",
			zap.String("chain_hash", params.ChainHash),
			zap.String("transaction_id", result.Transaction.Id),
			zap.String("user_id", result.Transaction.UserId),
			zap.String("from", string(result.Previous)),
			zap.String("to", string(result.Transaction.Status)),
			zap.Int("confirmations", result.Transaction.Confirmations))
	}
	if result.Mismatch != "" && result.Changed {
		zap.L().Warn("Observation contradicts recorded transaction",
			zap.String("chain_hash", params.ChainHash),
			zap.String("transaction_id", result.Transaction.Id),
			zap.String("user_id", result.Transaction.UserId),
			zap.String("mismatch", result.Mismatch))
	}
	if result.InsufficientFunds {
		return result, fmt.Errorf("withdrawal %s: %w", params.ChainHash, store.ErrInsufficientFunds)
	}
	return result, nil
}

// observationMismatch describes the first reported fact that contradicts t,
// or returns "" when every reported fact agrees.
func (s *Service) observationMismatch(ctx context.Context, tx *sql.Tx, t *models.Transaction, obs store.ObservedFacts) (string, error) {
	switch {
	case obs.Type != "" && obs.Type != t.Type:
		return fmt.Sprintf("direction %s, recorded %s", obs.Type, t.Type), nil
	case obs.Currency != "" && !sameSymbol(obs.Currency, t.Currency):
		return fmt.Sprintf("currency %s, recorded %s", obs.Currency, t.Currency), nil
	case !obs.Amount.IsZero() && !obs.Amount.Equal(t.CryptoAmount):
		return fmt.Sprintf("amount %s, recorded %s", obs.Amount, t.CryptoAmount), nil
	case obs.UserId != "" && obs.UserId != t.UserId:
		return fmt.Sprintf("user %s, recorded %s", obs.UserId, t.UserId), nil
	}

	// A withdrawal's address is its destination and says nothing about the sender.
	if obs.Address == "" || t.Type != models.TransactionDeposit {
		return "", nil
	}
	var owner string
	err := tx.QueryRowContext(ctx, queryAddressOwner, obs.Address).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Sprintf("deposit address %s is not registered", obs.Address), nil
	case err != nil:
		return "", fmt.Errorf("failed to look up owner of %s: %w", obs.Address, err)
	case owner != t.UserId:
		return fmt.Sprintf("deposit address %s belongs to user %s", obs.Address, owner), nil
	}
	return "", nil
}

func sameSymbol(a, b string) bool {
	a, _, _ = strings.Cut(strings.TrimSpace(a), "-")
	b, _, _ = strings.Cut(strings.TrimSpace(b), "-")
	return strings.EqualFold(a, b)
}

func (s *Service) applyTransactionEffect(ctx context.Context, tx *sql.Tx, t *models.Transaction, at time.Time) error {
	delta := t.UsdValue
	if t.Type == models.TransactionWithdrawal {
		delta = -delta
	}
	if delta == 0 {
		return nil
	}
	_, err := s.adjustTx(ctx, tx, store.AdjustParams{
		UserId:        t.UserId,
		Bucket:        models.BucketMain,
		Delta:         delta,
		ReferenceType: models.RefTransaction,
		ReferenceId:   t.Id,
	}, at)
	return err
}

// transitionTransaction applies the gated status flip and updates t in place.
func (s *Service) transitionTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction,
	target models.TransactionStatus, reason string, confirmations int, at time.Time) error {

	var confirmedAt, completedAt *time.Time
	switch target {
	case models.TransactionConfirmed:
		confirmedAt = &at
	case models.TransactionCompleted:
		confirmedAt = &at
		completedAt = &at
	}
	if target != models.TransactionFailed {
		reason = ""
	}

	res, err := tx.ExecContext(ctx, queryTransitionTransaction,
		string(target), reason, toNullUnix(confirmedAt), toNullUnix(completedAt),
		confirmations, toUnix(at), t.Id, string(t.Status))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("transaction %s changed concurrently: %w", t.Id, store.ErrStaleWrite)
	}

	t.Status = target
	t.FailureReason = reason
	if t.ConfirmedAt == nil && confirmedAt != nil {
		t.ConfirmedAt = confirmedAt
	}
	t.CompletedAt = completedAt
	if confirmations > t.Confirmations {
		t.Confirmations = confirmations
	}
	t.UpdatedAt = at
	return nil
}

func (s *Service) notifyTransactionOutcome(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	snapshot := *t
	switch {
	case t.Status == models.TransactionCompleted && t.Type == models.TransactionDeposit:
		return s.notifyUserTx(ctx, tx, t.UserId, models.PriorityNormal, t.UpdatedAt, func(name string) models.EmailVariables {
			return models.DepositConfirmedVars{TransactionVars: models.NewTransactionVars(name, snapshot)}
		})
	case t.Status == models.TransactionCompleted && t.Type == models.TransactionWithdrawal:
		return s.notifyUserTx(ctx, tx, t.UserId, models.PriorityNormal, t.UpdatedAt, func(name string) models.EmailVariables {
			return models.WithdrawalCompletedVars{TransactionVars: models.NewTransactionVars(name, snapshot)}
		})
	case t.Status == models.TransactionFailed && t.Type == models.TransactionWithdrawal:
		return s.notifyUserTx(ctx, tx, t.UserId, models.PriorityHigh, t.UpdatedAt, func(name string) models.EmailVariables {
			return models.WithdrawalFailedVars{
				TransactionVars: models.NewTransactionVars(name, snapshot),
				Reason:          snapshot.FailureReason,
			}
		})
	}
	return nil
}

func (s *Service) ListStalePendingTransactions(ctx context.Context, cutoff time.Time, afterId string, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, queryListStalePending, toUnix(cutoff), afterId, normalizeLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale transactions: %w", err)
	}
	defer closeRows(rows)
	return scanTransactions(rows)
}

// ExpireTransaction flips a still-pending transaction to expired. It never
// touches the ledger and reports false when the row had already moved on.
func (s *Service) ExpireTransaction(ctx context.Context, id string, at time.Time, job string) (bool, error) {
	at = at.UTC()
	var expired bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		expired = false
		t, err := s.getTransaction(ctx, tx, queryGetTransactionById, id)
		if err != nil {
			return err
		}
		if t.Status != models.TransactionPending {
			return s.advanceCursor(ctx, tx, job, t.Id)
		}

		res, err := tx.ExecContext(ctx, queryExpireTransaction, toUnix(at), id)
		if err != nil {
			return fmt.Errorf("failed to expire transaction: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return s.advanceCursor(ctx, tx, job, t.Id)
		}
		t.Status = models.TransactionExpired
		t.UpdatedAt = at

		snapshot := *t
		if err := s.notifyUserTx(ctx, tx, t.UserId, models.PriorityNormal, at, func(name string) models.EmailVariables {
			return models.TransactionExpiredVars{
				TransactionVars: models.NewTransactionVars(name, snapshot),
				Type:            snapshot.Type,
				CreatedAt:       snapshot.CreatedAt,
			}
		}); err != nil {
			return err
		}

		expired = true
		return s.advanceCursor(ctx, tx, job, t.Id)
	})
	if err != nil {
		return false, err
	}

	if expired {
		zap.L().Info("Transaction expired", zap.String("transaction_id", id))
	}
	return expired, nil
}
