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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

func (t TransactionType) Valid() bool {
	return t == TransactionDeposit || t == TransactionWithdrawal
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionConfirmed TransactionStatus = "confirmed"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionExpired   TransactionStatus = "expired"
)

// Rank orders the forward path pending < confirmed < completed.
func (s TransactionStatus) Rank() int {
	switch s {
	case TransactionPending:
		return 0
	case TransactionConfirmed:
		return 1
	case TransactionCompleted:
		return 2
	}
	return 3
}

func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionFailed || s == TransactionExpired
}

// Transaction is a deposit or withdrawal observed on chain.
type Transaction struct {
	Id            string            `json:"id"`
	UserId        string            `json:"userId"`
	Type          TransactionType   `json:"type"`
	Currency      string            `json:"currency"`
	CryptoAmount  decimal.Decimal   `json:"cryptoAmount"`
	UsdValue      Cents             `json:"usdValueCents"`
	ChainHash     string            `json:"chainHash"`
	Status        TransactionStatus `json:"status"`
	Confirmations int               `json:"confirmations"`
	FailureReason string            `json:"failureReason,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	ConfirmedAt   *time.Time        `json:"confirmedAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Observation is a transaction state report from a chain indexer or webhook.
type Observation struct {
	ChainHash     string            `json:"chainHash"`
	Status        TransactionStatus `json:"status,omitempty"`
	Confirmations int               `json:"confirmations"`
	Currency      string            `json:"currency"`
	Amount        decimal.Decimal   `json:"amount"`
	Direction     TransactionType   `json:"direction"`
	Address       string            `json:"address,omitempty"`
	UserId        string            `json:"userId,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// Failure reasons recorded on transactions.
const (
	ReasonInsufficientFunds   = "insufficient_funds"
	ReasonReportedFailed      = "reported_failed"
	ReasonObservationMismatch = "observation_mismatch"
)
