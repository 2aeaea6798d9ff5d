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

package api

import (
	"context"
	"fmt"
	"time"

	"invest-ledger-go/internal/investments"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/notify"
	"invest-ledger-go/internal/reconciler"
	"invest-ledger-go/internal/store"

	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerService is the caller-facing facade over the engine components.
type LedgerService struct {
	store       store.LedgerStore
	investments *investments.Manager
	reconciler  *reconciler.Reconciler
	queue       *notify.Queue
	now         func() time.Time
}

func NewLedgerService(s store.LedgerStore, manager *investments.Manager, rec *reconciler.Reconciler, queue *notify.Queue) *LedgerService {
	return &LedgerService{
		store:       s,
		investments: manager,
		reconciler:  rec,
		queue:       queue,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	_, err := s.store.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// BalanceView is a balance with its derived total.
type BalanceView struct {
	models.Balance
	Total models.Cents `json:"totalBalance"`
}

func (s *LedgerService) GetBalance(ctx context.Context, userId string) (BalanceView, error) {
	balance, err := s.store.ReadBalance(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to read balance", zap.String("user_id", userId), zap.Error(err))
		return BalanceView{}, err
	}
	return BalanceView{Balance: balance, Total: balance.Total()}, nil
}

func (s *LedgerService) GetLedger(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEntry, error) {
	limit, offset = normalizePage(limit, offset)
	return s.store.GetLedgerEntries(ctx, userId, limit, offset)
}

func (s *LedgerService) ListNotifications(ctx context.Context, userId string, limit int) ([]models.Notification, error) {
	limit, _ = normalizePage(limit, 0)
	return s.store.ListNotifications(ctx, userId, limit)
}
