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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanInvestment(row rowScanner, inv *models.Investment) error {
	var principalAmount, apy, status string
	var startedAt, maturesAt, completedAt, cancelledAt sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&inv.Id, &inv.UserId, &inv.PlanId, &inv.PrincipalCurrency, &principalAmount,
		&inv.Principal, &apy, &inv.DurationDays, &status, &startedAt, &maturesAt, &inv.LastAccrualDate,
		&inv.AccrualDays, &inv.Accrued, &inv.TotalReturn, &inv.PrincipalReturned,
		&completedAt, &cancelledAt, &createdAt, &updatedAt)
	if err != nil {
		return err
	}

	inv.PrincipalAmount, err = decimal.NewFromString(principalAmount)
	if err != nil {
		return fmt.Errorf("failed to parse principal amount '%s': %w", principalAmount, err)
	}
	inv.Apy, err = decimal.NewFromString(apy)
	if err != nil {
		return fmt.Errorf("failed to parse apy '%s': %w", apy, err)
	}
	inv.Status = models.InvestmentStatus(status)
	inv.StartedAt = fromNullUnix(startedAt)
	inv.MaturesAt = fromNullUnix(maturesAt)
	inv.CompletedAt = fromNullUnix(completedAt)
	inv.CancelledAt = fromNullUnix(cancelledAt)
	inv.CreatedAt = fromUnix(createdAt)
	inv.UpdatedAt = fromUnix(updatedAt)
	return nil
}

func scanInvestments(rows *sql.Rows) ([]models.Investment, error) {
	var investments []models.Investment
	for rows.Next() {
		var inv models.Investment
		if err := scanInvestment(rows, &inv); err != nil {
			return nil, fmt.Errorf("failed to scan investment row: %w", err)
		}
		investments = append(investments, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating investment rows: %w", err)
	}
	return investments, nil
}

func (s *Service) getInvestment(ctx context.Context, q execer, id string) (*models.Investment, error) {
	var inv models.Investment
	if err := scanInvestment(q.QueryRowContext(ctx, queryGetInvestment, id), &inv); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("investment %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get investment: %w", err)
	}
	return &inv, nil
}

// CreateInvestment inserts a pending position. The ledger is not touched.
func (s *Service) CreateInvestment(ctx context.Context, params store.CreateInvestmentParams) (*models.Investment, error) {
	if params.At.IsZero() {
		params.At = s.now()
	}
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, queryInsertInvestment,
		id, params.UserId, params.PlanId, params.Currency, params.PrincipalAmount.String(),
		int64(params.Principal), params.Apy.String(), params.DurationDays,
		toUnix(params.At), toUnix(params.At))
	if err != nil {
		return nil, fmt.Errorf("failed to insert investment: %w", err)
	}

	zap.L().Info("Investment opened",
		zap.String("investment_id", id),
		zap.String("user_id", params.UserId),
		zap.String("plan_id", params.PlanId),
		zap.String("principal_usd", params.Principal.String()))

	return s.getInvestment(ctx, s.db, id)
}

func (s *Service) GetInvestment(ctx context.Context, id string) (*models.Investment, error) {
	return s.getInvestment(ctx, s.db, id)
}

func (s *Service) ListInvestments(ctx context.Context, userId string, limit, offset int) ([]models.Investment, error) {
	rows, err := s.db.QueryContext(ctx, queryListInvestments, userId, normalizeLimit(limit, 50), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	defer closeRows(rows)
	return scanInvestments(rows)
}

// ActivateInvestment moves pending to active, stamping the term.
func (s *Service) ActivateInvestment(ctx context.Context, id string, at time.Time) (*models.Investment, error) {
	at = at.UTC()
	var inv *models.Investment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inv, err = s.getInvestment(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.Status != models.InvestmentPending {
			return fmt.Errorf("investment %s is %s: %w", id, inv.Status, store.ErrInvalidTransition)
		}

		maturesAt := at.AddDate(0, 0, inv.DurationDays)
		startDate := at.Format(models.DateLayout)
		result, err := tx.ExecContext(ctx, queryActivateInvestment,
			toUnix(at), toUnix(maturesAt), startDate, toUnix(at), id)
		if err != nil {
			return fmt.Errorf("failed to activate investment: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("investment %s is no longer pending: %w", id, store.ErrInvalidTransition)
		}

		inv.Status = models.InvestmentActive
		inv.StartedAt = &at
		inv.MaturesAt = &maturesAt
		inv.LastAccrualDate = startDate
		inv.UpdatedAt = at

		activated := *inv
		return s.notifyUserTx(ctx, tx, inv.UserId, models.PriorityNormal, at, func(name string) models.EmailVariables {
			return models.InvestmentActivatedVars{
				UserName:     name,
				InvestmentId: activated.Id,
				PlanId:       activated.PlanId,
				PrincipalUsd: activated.Principal.String(),
				Apy:          activated.Apy.String(),
				DurationDays: activated.DurationDays,
				MaturesAt:    maturesAt,
			}
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Investment activated",
		zap.String("investment_id", id),
		zap.String("user_id", inv.UserId),
		zap.Time("matures_at", *inv.MaturesAt))
	return inv, nil
}

// CancelInvestment moves pending to cancelled. Ledger-neutral.
func (s *Service) CancelInvestment(ctx context.Context, id string, at time.Time) (*models.Investment, error) {
	at = at.UTC()
	var inv *models.Investment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inv, err = s.getInvestment(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.Status != models.InvestmentPending {
			return fmt.Errorf("investment %s is %s: %w", id, inv.Status, store.ErrInvalidTransition)
		}
		result, err := tx.ExecContext(ctx, queryCancelInvestment, toUnix(at), toUnix(at), id)
		if err != nil {
			return fmt.Errorf("failed to cancel investment: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("investment %s is no longer pending: %w", id, store.ErrInvalidTransition)
		}
		inv.Status = models.InvestmentCancelled
		inv.CancelledAt = &at
		inv.UpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Investment cancelled", zap.String("investment_id", id), zap.String("user_id", inv.UserId))
	return inv, nil
}

// ListAccruableInvestments pages active positions not yet accrued for the
// calendar day of asOf.
func (s *Service) ListAccruableInvestments(ctx context.Context, asOf time.Time, afterId string, limit int) ([]models.Investment, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccruableInvestments,
		asOf.UTC().Format(models.DateLayout), afterId, normalizeLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("failed to list accruable investments: %w", err)
	}
	defer closeRows(rows)
	return scanInvestments(rows)
}

// ListMaturedInvestments pages active positions whose term ended by asOf.
func (s *Service) ListMaturedInvestments(ctx context.Context, asOf time.Time, afterId string, limit int) ([]models.Investment, error) {
	rows, err := s.db.QueryContext(ctx, queryListMaturedInvestments, toUnix(asOf), afterId, normalizeLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("failed to list matured investments: %w", err)
	}
	defer closeRows(rows)
	return scanInvestments(rows)
}

// AccrueInvestment brings an active position's accrued return up to the whole
// days elapsed by asOf and credits the difference to the interest bucket.
// Re-running for the same day changes nothing.
func (s *Service) AccrueInvestment(ctx context.Context, id string, asOf time.Time, job string) (store.AccrualResult, error) {
	asOf = asOf.UTC()
	asOfDate := asOf.Format(models.DateLayout)

	var result store.AccrualResult
	err := s.withRetry(ctx, "accrue_investment", func() error {
		result = store.AccrualResult{}
		return s.withTx(ctx, func(tx *sql.Tx) error {
			inv, err := s.getInvestment(ctx, tx, id)
			if err != nil {
				return err
			}
			result.Investment = inv
			if inv.Status != models.InvestmentActive || inv.LastAccrualDate >= asOfDate {
				return nil
			}

			days := inv.DueDays(asOf)
			if days <= inv.AccrualDays {
				// Nothing owed yet today; stamp the day so the scan moves past it.
				if _, err := tx.ExecContext(ctx, queryMarkAccrualDate, asOfDate, toUnix(asOf), id, asOfDate); err != nil {
					return fmt.Errorf("failed to mark accrual date: %w", err)
				}
				return s.advanceCursor(ctx, tx, job, inv.Id)
			}
			target, err := inv.AccrualTarget(days)
			if err != nil {
				return fmt.Errorf("accrual target of investment %s: %w", id, err)
			}
			delta := target - inv.Accrued

			res, err := tx.ExecContext(ctx, queryAccrueInvestment,
				days, int64(target), asOfDate, toUnix(asOf), id, inv.AccrualDays)
			if err != nil {
				return fmt.Errorf("failed to update accrual: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("failed to check rows affected: %w", err)
			} else if n == 0 {
				return fmt.Errorf("investment %s accrued concurrently: %w", id, store.ErrStaleWrite)
			}

			if delta > 0 {
				if _, err := s.adjustTx(ctx, tx, store.AdjustParams{
					UserId:        inv.UserId,
					Bucket:        models.BucketInterest,
					Delta:         delta,
					ReferenceType: models.RefInvestmentAccrual,
					ReferenceId:   fmt.Sprintf("%s:%d", inv.Id, days),
				}, asOf); err != nil {
					return err
				}
			}

			if err := s.advanceCursor(ctx, tx, job, inv.Id); err != nil {
				return err
			}

			result.Days = days - inv.AccrualDays
			result.Delta = delta
			result.Applied = true
			inv.AccrualDays = days
			inv.Accrued = target
			inv.LastAccrualDate = asOfDate
			inv.UpdatedAt = asOf
			return nil
		})
	})
	if err != nil {
		return store.AccrualResult{}, err
	}

	if result.Applied {
		zap.L().Debug("Investment accrued",
			zap.String("investment_id", id),
			zap.String("user_id", result.Investment.UserId),
			zap.Int("days", result.Days),
			zap.Int64("delta_cents", int64(result.Delta)),
			zap.Int64("accrued_cents", int64(result.Investment.Accrued)))
	}
	return result, nil
}

// CompleteInvestment flips a matured active position to completed, posts any
// unaccrued return, credits the principal once and queues the completion
// notice, all in one transaction. A position that is not active is returned
// unchanged with completed=false.
func (s *Service) CompleteInvestment(ctx context.Context, id string, asOf time.Time, job string) (*models.Investment, bool, error) {
	asOf = asOf.UTC()

	var inv *models.Investment
	var completed bool
	err := s.withRetry(ctx, "complete_investment", func() error {
		completed = false
		return s.withTx(ctx, func(tx *sql.Tx) error {
			var err error
			inv, err = s.getInvestment(ctx, tx, id)
			if err != nil {
				return err
			}
			if inv.Status != models.InvestmentActive || inv.MaturesAt == nil || inv.MaturesAt.After(asOf) {
				return nil
			}

			target, err := inv.AccrualTarget(inv.DurationDays)
			if err != nil {
				return fmt.Errorf("accrual target of investment %s: %w", id, err)
			}
			finalDelta := target - inv.Accrued
			accrualDate := asOf.Format(models.DateLayout)

			// The status predicate makes this the single completion gate.
			res, err := tx.ExecContext(ctx, queryCompleteInvestment,
				inv.DurationDays, int64(target), int64(target), accrualDate, toUnix(asOf), toUnix(asOf), id)
			if err != nil {
				return fmt.Errorf("failed to complete investment: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("failed to check rows affected: %w", err)
			} else if n == 0 {
				return nil
			}

			if finalDelta > 0 {
				if _, err := s.adjustTx(ctx, tx, store.AdjustParams{
					UserId:        inv.UserId,
					Bucket:        models.BucketInterest,
					Delta:         finalDelta,
					ReferenceType: models.RefInvestmentAccrual,
					ReferenceId:   fmt.Sprintf("%s:%d", inv.Id, inv.DurationDays),
				}, asOf); err != nil {
					return err
				}
			}

			if !inv.PrincipalReturned {
				if _, err := s.adjustTx(ctx, tx, store.AdjustParams{
					UserId:        inv.UserId,
					Bucket:        models.BucketInvestment,
					Delta:         inv.Principal,
					ReferenceType: models.RefInvestmentPayout,
					ReferenceId:   inv.Id,
				}, asOf); err != nil {
					return err
				}
			}

			inv.Status = models.InvestmentCompleted
			inv.AccrualDays = inv.DurationDays
			inv.Accrued = target
			inv.TotalReturn = target
			inv.PrincipalReturned = true
			inv.LastAccrualDate = accrualDate
			inv.CompletedAt = &asOf
			inv.UpdatedAt = asOf

			done := *inv
			if err := s.notifyUserTx(ctx, tx, inv.UserId, models.PriorityHigh, asOf, func(name string) models.EmailVariables {
				return models.InvestmentCompletedVars{
					UserName:       name,
					InvestmentId:   done.Id,
					PlanId:         done.PlanId,
					PrincipalUsd:   done.Principal.String(),
					TotalReturnUsd: done.TotalReturn.String(),
					CompletedAt:    asOf,
				}
			}); err != nil {
				return err
			}

			if err := s.advanceCursor(ctx, tx, job, inv.Id); err != nil {
				return err
			}
			completed = true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}

	if completed {
		zap.L().Info("Investment completed",
			zap.String("investment_id", id),
			zap.String("user_id", inv.UserId),
			zap.String("principal_usd", inv.Principal.String()),
			zap.String("total_return_usd", inv.TotalReturn.String()))
	}
	return inv, completed, nil
}
