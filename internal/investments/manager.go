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

package investments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"invest-ledger-go/internal/batch"
	"invest-ledger-go/internal/metrics"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Watermark keys of the position jobs. The maturity sweep that follows the
// daily accrual keeps its own cursor so it never shares one with the hourly
// maturity check.
const (
	JobDailyAccrual  = "daily-accrual"
	JobDailyMaturity = "daily-accrual-maturity"
	JobMaturityCheck = "maturity-check"
)

var (
	ErrInvalidParams = errors.New("invalid investment parameters")
	ErrUnknownPlan   = errors.New("unknown plan")
)

var maxApy = decimal.NewFromInt(10)

type OpenParams struct {
	UserId       string
	PlanId       string
	Currency     string
	CryptoAmount decimal.Decimal
	Principal    models.Cents
	Apy          decimal.Decimal
	DurationDays int
}

// Manager owns the investment lifecycle. Every transition that moves money
// is delegated to the store as one atomic unit.
type Manager struct {
	store   store.LedgerStore
	cfg     models.EngineConfig
	plans   map[string]models.Plan
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewManager(s store.LedgerStore, cfg models.EngineConfig, plans []models.Plan, m *metrics.Metrics) *Manager {
	catalog := make(map[string]models.Plan, len(plans))
	for _, p := range plans {
		catalog[p.Id] = p
	}
	return &Manager{
		store:   s,
		cfg:     cfg,
		plans:   catalog,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Plans returns the catalog sorted by duration.
func (m *Manager) Plans() []models.Plan {
	plans := make([]models.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].DurationDays != plans[j].DurationDays {
			return plans[i].DurationDays < plans[j].DurationDays
		}
		return plans[i].Id < plans[j].Id
	})
	return plans
}

// Open creates a pending position. It does not touch the ledger.
func (m *Manager) Open(ctx context.Context, params OpenParams) (*models.Investment, error) {
	if strings.TrimSpace(params.UserId) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidParams)
	}
	if params.Principal <= 0 {
		return nil, fmt.Errorf("%w: principal must be positive, got %s", ErrInvalidParams, params.Principal)
	}
	if params.Apy.IsNegative() || params.Apy.GreaterThan(maxApy) {
		return nil, fmt.Errorf("%w: apy must be between 0 and %s, got %s", ErrInvalidParams, maxApy, params.Apy)
	}
	if params.DurationDays <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive, got %d", ErrInvalidParams, params.DurationDays)
	}
	if params.Currency == "" {
		params.Currency = "USD"
	}
	if params.CryptoAmount.IsZero() {
		params.CryptoAmount = params.Principal.Decimal()
	}

	return m.store.CreateInvestment(ctx, store.CreateInvestmentParams{
		UserId:          params.UserId,
		PlanId:          params.PlanId,
		Currency:        params.Currency,
		PrincipalAmount: params.CryptoAmount,
		Principal:       params.Principal,
		Apy:             params.Apy,
		DurationDays:    params.DurationDays,
		At:              m.now(),
	})
}

// OpenPlan opens a position on a catalog plan, taking its APY and term.
func (m *Manager) OpenPlan(ctx context.Context, userId, planId string, principal models.Cents, currency string,
	cryptoAmount decimal.Decimal) (*models.Investment, error) {

	plan, ok := m.plans[planId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planId)
	}
	if principal.Decimal().LessThan(plan.MinUsd) {
		return nil, fmt.Errorf("%w: plan %s requires at least %s USD, got %s",
			ErrInvalidParams, plan.Id, plan.MinUsd.StringFixed(2), principal)
	}
	return m.Open(ctx, OpenParams{
		UserId:       userId,
		PlanId:       plan.Id,
		Currency:     currency,
		CryptoAmount: cryptoAmount,
		Principal:    principal,
		Apy:          plan.Apy,
		DurationDays: plan.DurationDays,
	})
}

func (m *Manager) Activate(ctx context.Context, id string, at time.Time) (*models.Investment, error) {
	return m.store.ActivateInvestment(ctx, id, at)
}

func (m *Manager) Cancel(ctx context.Context, id string, at time.Time) (*models.Investment, error) {
	return m.store.CancelInvestment(ctx, id, at)
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Investment, error) {
	return m.store.GetInvestment(ctx, id)
}

func (m *Manager) List(ctx context.Context, userId string, limit, offset int) ([]models.Investment, error) {
	return m.store.ListInvestments(ctx, userId, limit, offset)
}

func (m *Manager) batchOptions(job string) batch.Options {
	return batch.Options{
		Job:      job,
		PageSize: m.cfg.PageSize,
		Workers:  m.cfg.Workers,
		Metrics:  m.metrics,
	}
}

func investmentId(inv models.Investment) string { return inv.Id }

// AccrueDaily posts the return owed for every active position not yet
// accrued on asOf's calendar day. Running it twice for one day is harmless.
func (m *Manager) AccrueDaily(ctx context.Context, asOf time.Time) (models.BatchStats, error) {
	asOf = asOf.UTC()
	list := func(ctx context.Context, afterId string, limit int) ([]models.Investment, error) {
		return m.store.ListAccruableInvestments(ctx, asOf, afterId, limit)
	}

	return batch.Resume(ctx, m.store, m.batchOptions(JobDailyAccrual), list, investmentId,
		func(ctx context.Context, inv models.Investment) (batch.Outcome, error) {
			res, err := m.store.AccrueInvestment(ctx, inv.Id, asOf, JobDailyAccrual)
			if err != nil {
				m.metrics.IncLedgerAdjust("accrual", err)
				return batch.Skipped, fmt.Errorf("accrue investment %s for user %s: %w", inv.Id, inv.UserId, err)
			}
			if !res.Applied {
				return batch.Skipped, nil
			}
			if res.Delta > 0 {
				m.metrics.IncLedgerAdjust("accrual", nil)
			}
			return batch.Processed, nil
		})
}

// CheckMaturity completes every active position whose term ended by asOf.
// The status flip is the completion gate, so concurrent or repeated runs
// credit each position once.
func (m *Manager) CheckMaturity(ctx context.Context, asOf time.Time) (models.BatchStats, error) {
	return m.settleMatured(ctx, asOf, JobMaturityCheck)
}

// AccrueAndSettle runs the daily accrual and then completes whatever matured,
// so a position reaching its term at midnight pays out in the same run.
func (m *Manager) AccrueAndSettle(ctx context.Context, asOf time.Time) (accrued, settled models.BatchStats, err error) {
	accrued, accrueErr := m.AccrueDaily(ctx, asOf)
	settled, settleErr := m.settleMatured(ctx, asOf, JobDailyMaturity)
	return accrued, settled, errors.Join(accrueErr, settleErr)
}

func (m *Manager) settleMatured(ctx context.Context, asOf time.Time, job string) (models.BatchStats, error) {
	asOf = asOf.UTC()
	list := func(ctx context.Context, afterId string, limit int) ([]models.Investment, error) {
		return m.store.ListMaturedInvestments(ctx, asOf, afterId, limit)
	}

	return batch.Resume(ctx, m.store, m.batchOptions(job), list, investmentId,
		func(ctx context.Context, inv models.Investment) (batch.Outcome, error) {
			done, completed, err := m.store.CompleteInvestment(ctx, inv.Id, asOf, job)
			if err != nil {
				m.metrics.IncLedgerAdjust("maturity", err)
				return batch.Skipped, fmt.Errorf("complete investment %s for user %s: %w", inv.Id, inv.UserId, err)
			}
			if !completed {
				return batch.Skipped, nil
			}
			m.metrics.IncLedgerAdjust("maturity", nil)
			zap.L().Debug("Maturity processed",
				zap.String("investment_id", done.Id),
				zap.String("total_return_usd", done.TotalReturn.String()))
			return batch.Processed, nil
		})
}
