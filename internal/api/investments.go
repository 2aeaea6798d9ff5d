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

	"invest-ledger-go/internal/investments"
	"invest-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OpenInvestmentRequest struct {
	PlanId       string          `json:"planId" binding:"required"`
	PrincipalUsd decimal.Decimal `json:"principalUsd"`
	Currency     string          `json:"currency"`
	CryptoAmount decimal.Decimal `json:"cryptoAmount"`
}

func (s *LedgerService) Plans() []models.Plan {
	return s.investments.Plans()
}

// OpenInvestment creates a pending position in a catalog plan.
func (s *LedgerService) OpenInvestment(ctx context.Context, userId string, req OpenInvestmentRequest) (*models.Investment, error) {
	if !req.PrincipalUsd.IsPositive() {
		return nil, fmt.Errorf("%w: principalUsd must be positive", investments.ErrInvalidParams)
	}
	principal, err := models.CentsFromDecimal(req.PrincipalUsd)
	if err != nil {
		return nil, fmt.Errorf("principalUsd: %w", err)
	}
	inv, err := s.investments.OpenPlan(ctx, userId, req.PlanId, principal, req.Currency, req.CryptoAmount)
	if err != nil {
		zap.L().Warn("Failed to open investment",
			zap.String("user_id", userId),
			zap.String("plan_id", req.PlanId),
			zap.Error(err))
		return nil, err
	}
	return inv, nil
}

func (s *LedgerService) ListInvestments(ctx context.Context, userId string, limit, offset int) ([]models.Investment, error) {
	limit, offset = normalizePage(limit, offset)
	return s.investments.List(ctx, userId, limit, offset)
}

func (s *LedgerService) ActivateInvestment(ctx context.Context, id string) (*models.Investment, error) {
	return s.investments.Activate(ctx, id, s.now())
}

func (s *LedgerService) CancelInvestment(ctx context.Context, id string) (*models.Investment, error) {
	return s.investments.Cancel(ctx, id, s.now())
}
