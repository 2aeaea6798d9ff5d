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

package scheduler

import (
	"context"
	"time"

	"invest-ledger-go/internal/formance"
	"invest-ledger-go/internal/investments"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/notify"
	"invest-ledger-go/internal/reconciler"
)

// Default cadences.
const (
	DefaultDailyAccrualSpec  = "@daily"
	DefaultMaturitySpec      = "@hourly"
	DefaultExpirySpec        = "0 */6 * * *"
	DefaultEmailDrainSpec    = "@every 1m"
	DefaultEmailPurgeSpec    = "@daily"
	DefaultLedgerExportSpec  = "@every 5m"
	DefaultTransactionMaxAge = 24 * time.Hour
	DefaultEmailRetention    = 30
)

// Exporter ships ledger entries to an external audit ledger.
type Exporter interface {
	Export(ctx context.Context) (int, error)
}

// Engine groups the components the engine jobs drive. Exporter is optional.
type Engine struct {
	Investments *investments.Manager
	Reconciler  *reconciler.Reconciler
	Queue       *notify.Queue
	Exporter    Exporter
}

func orDefault(spec, fallback string) string {
	if spec == "" {
		return fallback
	}
	return spec
}

// EngineJobs builds the engine's job table from configuration.
func EngineJobs(cfg models.SchedulerConfig, engine Engine) []Job {
	maxAge := cfg.TransactionMaxAge
	if maxAge <= 0 {
		maxAge = DefaultTransactionMaxAge
	}
	retention := cfg.EmailRetention
	if retention <= 0 {
		retention = DefaultEmailRetention
	}

	jobs := []Job{
		{
			Name: investments.JobDailyAccrual,
			Spec: orDefault(cfg.DailyAccrualSpec, DefaultDailyAccrualSpec),
			Run: func(ctx context.Context, now time.Time) error {
				_, _, err := engine.Investments.AccrueAndSettle(ctx, now)
				return err
			},
		},
		{
			Name: investments.JobMaturityCheck,
			Spec: orDefault(cfg.MaturitySpec, DefaultMaturitySpec),
			Run: func(ctx context.Context, now time.Time) error {
				_, err := engine.Investments.CheckMaturity(ctx, now)
				return err
			},
		},
		{
			Name: reconciler.JobTransactionExpiry,
			Spec: orDefault(cfg.ExpirySpec, DefaultExpirySpec),
			Run: func(ctx context.Context, now time.Time) error {
				_, err := engine.Reconciler.ExpireStale(ctx, maxAge, now)
				return err
			},
		},
		{
			Name: notify.JobEmailDrain,
			Spec: orDefault(cfg.EmailDrainSpec, DefaultEmailDrainSpec),
			Run: func(ctx context.Context, _ time.Time) error {
				_, err := engine.Queue.Drain(ctx, cfg.EmailDrainLimit)
				return err
			},
		},
		{
			Name: notify.JobEmailPurge,
			Spec: orDefault(cfg.EmailPurgeSpec, DefaultEmailPurgeSpec),
			Run: func(ctx context.Context, _ time.Time) error {
				_, err := engine.Queue.PurgeOlderThan(ctx, retention)
				return err
			},
		},
	}

	if engine.Exporter != nil {
		jobs = append(jobs, Job{
			Name: formance.JobLedgerExport,
			Spec: orDefault(cfg.LedgerExportSpec, DefaultLedgerExportSpec),
			Run: func(ctx context.Context, _ time.Time) error {
				_, err := engine.Exporter.Export(ctx)
				return err
			},
		})
	}
	return jobs
}

// RegisterAll registers every job, stopping at the first error.
func (s *Scheduler) RegisterAll(jobs []Job) error {
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}
