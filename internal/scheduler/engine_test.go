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
	"path/filepath"
	"testing"
	"time"

	"invest-ledger-go/internal/database"
	"invest-ledger-go/internal/investments"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/notify"
	"invest-ledger-go/internal/pricing"
	"invest-ledger-go/internal/reconciler"

	"github.com/shopspring/decimal"
)

func TestEngineJobsAgainstDatabase(t *testing.T) {
	ctx := context.Background()
	service, err := database.NewService(ctx, models.DatabaseConfig{
		Path:              filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns:      4,
		MaxIdleConns:      2,
		PingTimeout:       5 * time.Second,
		BusyTimeout:       10 * time.Second,
		StaleWriteRetries: 3,
	})
	if err != nil {
		t.Fatalf("Failed to create database service: %v", err)
	}
	t.Cleanup(service.Close)

	engineCfg := models.EngineConfig{PageSize: 10, Workers: 2}
	manager := investments.NewManager(service, engineCfg, nil, nil)
	oracle := pricing.NewStaticOracle(map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)})
	rec := reconciler.New(service, oracle, models.ReconcilerConfig{}, engineCfg, nil)
	renderer, err := notify.NewTemplateRenderer("")
	if err != nil {
		t.Fatalf("NewTemplateRenderer failed: %v", err)
	}
	queue := notify.NewQueue(service, renderer, notify.LogSender{}, models.MailConfig{}, nil)

	s := New(service, time.Minute, nil)
	if err := s.RegisterAll(EngineJobs(models.SchedulerConfig{}, Engine{
		Investments: manager,
		Reconciler:  rec,
		Queue:       queue,
	})); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	if _, err := service.CreateUser(ctx, "user1", "Ada", "ada@example.com"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	inv, err := manager.Open(ctx, investments.OpenParams{
		UserId:       "user1",
		PlanId:       "growth-30",
		Principal:    100000,
		Apy:          decimal.RequireFromString("0.18"),
		DurationDays: 30,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := manager.Activate(ctx, inv.Id, start); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	s.now = func() time.Time { return start.Add(24*time.Hour + time.Minute) }
	if err := s.RunNow(ctx, investments.JobDailyAccrual); err != nil {
		t.Fatalf("Daily accrual failed: %v", err)
	}

	got, err := manager.Get(ctx, inv.Id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// floor(100000 * 0.18 / 365) cents
	if got.Accrued != 49 {
		t.Errorf("Accrued = %d cents after one day, want 49", got.Accrued)
	}

	wm, err := service.GetJobWatermark(ctx, investments.JobDailyAccrual)
	if err != nil {
		t.Fatalf("GetJobWatermark failed: %v", err)
	}
	if wm.Runs != 1 || wm.LastCompletedAt == nil || wm.LastError != "" {
		t.Errorf("Unexpected watermark: %+v", wm)
	}

	// The activation email goes out on the next drain.
	if err := s.RunNow(ctx, notify.JobEmailDrain); err != nil {
		t.Fatalf("Email drain failed: %v", err)
	}
	status, err := queue.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Sent != 1 || status.Pending != 0 {
		t.Errorf("Unexpected queue status: %+v", status)
	}
}
