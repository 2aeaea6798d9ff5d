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

type InvestmentStatus string

const (
	InvestmentPending   InvestmentStatus = "pending"
	InvestmentActive    InvestmentStatus = "active"
	InvestmentCompleted InvestmentStatus = "completed"
	InvestmentCancelled InvestmentStatus = "cancelled"
)

// DateLayout is the calendar-day format used for accrual bookkeeping (UTC).
const DateLayout = "2006-01-02"

// Investment is one position in a plan.
type Investment struct {
	Id                string           `json:"id"`
	UserId            string           `json:"userId"`
	PlanId            string           `json:"planId"`
	PrincipalCurrency string           `json:"principalCurrency"`
	PrincipalAmount   decimal.Decimal  `json:"principalAmount"`
	Principal         Cents            `json:"principalCents"`
	Apy               decimal.Decimal  `json:"apy"`
	DurationDays      int              `json:"durationDays"`
	Status            InvestmentStatus `json:"status"`
	StartedAt         *time.Time       `json:"startedAt,omitempty"`
	MaturesAt         *time.Time       `json:"maturesAt,omitempty"`
	LastAccrualDate   string           `json:"lastAccrualDate,omitempty"`
	AccrualDays       int              `json:"accrualDays"`
	Accrued           Cents            `json:"accruedReturnCents"`
	TotalReturn       Cents            `json:"totalReturnCents"`
	PrincipalReturned bool             `json:"principalReturned"`
	CompletedAt       *time.Time       `json:"completedAt,omitempty"`
	CancelledAt       *time.Time       `json:"cancelledAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// AccrualTarget is the cumulative return owed after the given number of
// accrued days: floor(principal * apy * days / 365), capped at the full term.
func (i Investment) AccrualTarget(days int) (Cents, error) {
	if days <= 0 {
		return 0, nil
	}
	if days > i.DurationDays {
		days = i.DurationDays
	}
	owed := i.Principal.Decimal().
		Mul(i.Apy).
		Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(365))
	return CentsFloor(owed)
}

// DueDays returns how many whole days have elapsed since activation as of t,
// capped at the duration. Only full 24h periods count, so a midnight run trails
// a position activated mid-day by one day until the maturity run settles the
// full term.
func (i Investment) DueDays(t time.Time) int {
	if i.StartedAt == nil || t.Before(*i.StartedAt) {
		return 0
	}
	days := int(t.Sub(*i.StartedAt) / (24 * time.Hour))
	if days > i.DurationDays {
		days = i.DurationDays
	}
	return days
}

// Plan is a catalog entry users can commit to.
type Plan struct {
	Id           string          `yaml:"id" json:"id"`
	Name         string          `yaml:"name" json:"name"`
	Apy          decimal.Decimal `yaml:"-" json:"apy"`
	ApyRaw       string          `yaml:"apy" json:"-"`
	DurationDays int             `yaml:"duration_days" json:"durationDays"`
	MinUsd       decimal.Decimal `yaml:"-" json:"minUsd"`
	MinUsdRaw    string          `yaml:"min_usd" json:"-"`
}

// BatchStats summarizes one pass of a scheduled batch operation.
type BatchStats struct {
	Scanned   int `json:"scanned"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (s *BatchStats) Add(o BatchStats) {
	s.Scanned += o.Scanned
	s.Processed += o.Processed
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}
