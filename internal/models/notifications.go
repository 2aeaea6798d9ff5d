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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Email template names.
const (
	TemplateInvestmentActivated = "investment-activated"
	TemplateInvestmentCompleted = "investment-completed"
	TemplateDepositConfirmed    = "deposit-confirmed"
	TemplateWithdrawalCompleted = "withdrawal-completed"
	TemplateWithdrawalFailed    = "withdrawal-failed"
	TemplateTransactionExpired  = "transaction-expired"
)

var ErrUnknownTemplate = errors.New("unknown email template")

// EmailVariables is the typed payload of a queued email. Each template has
// exactly one variant.
type EmailVariables interface {
	Template() string
	// Summary is the in-app title and message for the event.
	Summary() (title, message string)
}

type InvestmentActivatedVars struct {
	UserName     string    `json:"userName"`
	InvestmentId string    `json:"investmentId"`
	PlanId       string    `json:"planId"`
	PrincipalUsd string    `json:"principalUsd"`
	Apy          string    `json:"apy"`
	DurationDays int       `json:"durationDays"`
	MaturesAt    time.Time `json:"maturesAt"`
}

func (InvestmentActivatedVars) Template() string { return TemplateInvestmentActivated }

func (v InvestmentActivatedVars) Summary() (string, string) {
	return "Investment activated",
		fmt.Sprintf("Your %s USD investment in %s is active and matures on %s.",
			v.PrincipalUsd, v.PlanId, v.MaturesAt.Format(DateLayout))
}

type InvestmentCompletedVars struct {
	UserName       string    `json:"userName"`
	InvestmentId   string    `json:"investmentId"`
	PlanId         string    `json:"planId"`
	PrincipalUsd   string    `json:"principalUsd"`
	TotalReturnUsd string    `json:"totalReturnUsd"`
	CompletedAt    time.Time `json:"completedAt"`
}

func (InvestmentCompletedVars) Template() string { return TemplateInvestmentCompleted }

func (v InvestmentCompletedVars) Summary() (string, string) {
	return "Investment completed",
		fmt.Sprintf("Your %s USD investment in %s has matured with a return of %s USD.",
			v.PrincipalUsd, v.PlanId, v.TotalReturnUsd)
}

// TransactionVars is shared by the deposit and withdrawal outcome templates.
type TransactionVars struct {
	UserName      string `json:"userName"`
	TransactionId string `json:"transactionId"`
	ChainHash     string `json:"chainHash"`
	Currency      string `json:"currency"`
	CryptoAmount  string `json:"cryptoAmount"`
	UsdValue      string `json:"usdValue"`
}

type DepositConfirmedVars struct {
	TransactionVars
}

func (DepositConfirmedVars) Template() string { return TemplateDepositConfirmed }

func (v DepositConfirmedVars) Summary() (string, string) {
	return "Deposit confirmed",
		fmt.Sprintf("Your deposit of %s %s (%s USD) has been credited.", v.CryptoAmount, v.Currency, v.UsdValue)
}

type WithdrawalCompletedVars struct {
	TransactionVars
}

func (WithdrawalCompletedVars) Template() string { return TemplateWithdrawalCompleted }

func (v WithdrawalCompletedVars) Summary() (string, string) {
	return "Withdrawal completed",
		fmt.Sprintf("Your withdrawal of %s %s (%s USD) is complete.", v.CryptoAmount, v.Currency, v.UsdValue)
}

type WithdrawalFailedVars struct {
	TransactionVars
	Reason string `json:"reason"`
}

func (WithdrawalFailedVars) Template() string { return TemplateWithdrawalFailed }

func (v WithdrawalFailedVars) Summary() (string, string) {
	return "Withdrawal failed",
		fmt.Sprintf("Your withdrawal of %s %s could not be completed (%s).", v.CryptoAmount, v.Currency, v.Reason)
}

type TransactionExpiredVars struct {
	TransactionVars
	Type      TransactionType `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (TransactionExpiredVars) Template() string { return TemplateTransactionExpired }

func (v TransactionExpiredVars) Summary() (string, string) {
	return "Transaction expired",
		fmt.Sprintf("Your pending %s of %s %s expired before it was confirmed.", v.Type, v.CryptoAmount, v.Currency)
}

// NewTransactionVars fills the common fields from a transaction.
func NewTransactionVars(userName string, tx Transaction) TransactionVars {
	return TransactionVars{
		UserName:      userName,
		TransactionId: tx.Id,
		ChainHash:     tx.ChainHash,
		Currency:      tx.Currency,
		CryptoAmount:  tx.CryptoAmount.String(),
		UsdValue:      tx.UsdValue.String(),
	}
}

// DecodeEmailVariables parses a stored payload into the variant registered
// for the template.
func DecodeEmailVariables(template string, raw []byte) (EmailVariables, error) {
	var v EmailVariables
	switch template {
	case TemplateInvestmentActivated:
		var x InvestmentActivatedVars
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, fmt.Errorf("failed to decode %s variables: %w", template, err)
		}
		v = x
	case TemplateInvestmentCompleted:
		var x InvestmentCompletedVars
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, fmt.Errorf("failed to decode %s variables: %w", template, err)
		}
		v = x
	case TemplateDepositConfirmed:
		var x DepositConfirmedVars
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, fmt.Errorf("failed to decode %s variables: %w", template, err)
		}
		v = x
	case TemplateWithdrawalCompleted:
		var x WithdrawalCompletedVars
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, fmt.Errorf("failed to decode %s variables: %w", template, err)
		}
		v = x
	case TemplateWithdrawalFailed:
		var x WithdrawalFailedVars
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, fmt.Errorf("failed to decode %s variables: %w", template, err)
		}
		v = x
	case TemplateTransactionExpired:
		var x TransactionExpiredVars
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, fmt.Errorf("failed to decode %s variables: %w", template, err)
		}
		v = x
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, template)
	}
	return v, nil
}

// EncodeEmailVariables serializes a variant, rejecting unregistered templates.
func EncodeEmailVariables(v EmailVariables) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil variables", ErrUnknownTemplate)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s variables: %w", v.Template(), err)
	}
	if _, err := DecodeEmailVariables(v.Template(), raw); err != nil {
		return nil, err
	}
	return raw, nil
}
