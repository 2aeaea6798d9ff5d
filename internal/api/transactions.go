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

	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/reconciler"
	"invest-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SubmitTransactionRequest struct {
	Type         models.TransactionType `json:"type" binding:"required"`
	Currency     string                 `json:"currency" binding:"required"`
	CryptoAmount decimal.Decimal        `json:"cryptoAmount"`
	ChainHash    string                 `json:"chainHash" binding:"required"`
}

func (s *LedgerService) SubmitTransaction(ctx context.Context, userId string, req SubmitTransactionRequest) (*models.Transaction, error) {
	tx, err := s.reconciler.Submit(ctx, reconciler.SubmitParams{
		UserId:       userId,
		Type:         req.Type,
		Currency:     req.Currency,
		CryptoAmount: req.CryptoAmount,
		ChainHash:    req.ChainHash,
	})
	if err != nil {
		zap.L().Warn("Failed to submit transaction",
			zap.String("user_id", userId),
			zap.String("chain_hash", req.ChainHash),
			zap.Error(err))
		return nil, err
	}
	return tx, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	limit, offset = normalizePage(limit, offset)
	return s.reconciler.List(ctx, userId, limit, offset)
}

func (s *LedgerService) ObserveChain(ctx context.Context, obs models.Observation) (store.ObservationResult, error) {
	return s.reconciler.Observe(ctx, obs)
}
