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
)

// Bucket names one of the balance accumulators.
type Bucket string

const (
	BucketMain       Bucket = "main"
	BucketInterest   Bucket = "interest"
	BucketInvestment Bucket = "investment"
)

var Buckets = []Bucket{BucketMain, BucketInterest, BucketInvestment}

func (b Bucket) Valid() bool {
	switch b {
	case BucketMain, BucketInterest, BucketInvestment:
		return true
	}
	return false
}

// Balance is the materialized per-user balance row. Total is derived, never stored.
type Balance struct {
	UserId      string    `json:"userId"`
	Main        Cents     `json:"mainBalance"`
	Interest    Cents     `json:"interestBalance"`
	Investment  Cents     `json:"investmentBalance"`
	Version     int64     `json:"version"`
	LastEntryId string    `json:"lastEntryId,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (b Balance) Total() Cents {
	return b.Main + b.Interest + b.Investment
}

func (b Balance) Get(bucket Bucket) Cents {
	switch bucket {
	case BucketMain:
		return b.Main
	case BucketInterest:
		return b.Interest
	case BucketInvestment:
		return b.Investment
	}
	return 0
}

func (b *Balance) Set(bucket Bucket, value Cents) {
	switch bucket {
	case BucketMain:
		b.Main = value
	case BucketInterest:
		b.Interest = value
	case BucketInvestment:
		b.Investment = value
	}
}

// LedgerEntry is one append-only delta in the audit trail.
type LedgerEntry struct {
	Seq           int64     `json:"seq"`
	Id            string    `json:"id"`
	UserId        string    `json:"userId"`
	Bucket        Bucket    `json:"bucket"`
	Delta         Cents     `json:"deltaCents"`
	BalanceAfter  Cents     `json:"balanceAfterCents"`
	ReferenceType string    `json:"referenceType"`
	ReferenceId   string    `json:"referenceId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Ledger reference types.
const (
	RefAdjustment        = "adjustment"
	RefInvestmentAccrual = "investment_accrual"
	RefInvestmentPayout  = "investment_principal"
	RefTransaction       = "transaction"
)
