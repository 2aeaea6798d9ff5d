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

package store

import (
	"context"
	"errors"
	"time"

	"invest-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across the engine.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNotFound             = errors.New("not found")
	ErrStaleWrite           = errors.New("stale write")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrUserNotFound         = errors.New("no user found for address")
)

// AdjustParams describes one signed delta on one bucket.
type AdjustParams struct {
	UserId        string
	Bucket        models.Bucket
	Delta         models.Cents
	ReferenceType string
	ReferenceId   string
}

// CreateInvestmentParams describes a new pending position.
type CreateInvestmentParams struct {
	UserId          string
	PlanId          string
	Currency        string
	PrincipalAmount decimal.Decimal
	Principal       models.Cents
	Apy             decimal.Decimal
	DurationDays    int
	At              time.Time
}

// AccrualResult reports what one accrual step did.
type AccrualResult struct {
	Investment *models.Investment
	Days       int
	Delta      models.Cents
	Applied    bool
}

// CreateTransactionParams describes a newly reported transaction. UsdValue is
// fixed at creation.
type CreateTransactionParams struct {
	UserId       string
	Type         models.TransactionType
	Currency     string
	CryptoAmount decimal.Decimal
	UsdValue     models.Cents
	ChainHash    string
	At           time.Time
}

// ObservedFacts is what the indexer reported about a transaction. Empty
// fields were not reported and are not compared with the recorded row.
// Address is the receiving address; its owner must be the depositing user.
type ObservedFacts struct {
	Type     models.TransactionType
	Currency string
	Amount   decimal.Decimal
	UserId   string
	Address  string
}

// ApplyObservationParams advances a transaction toward Target. Create, when
// set, inserts the row first if the hash is unknown. An existing row that
// disagrees with Observed fails with models.ReasonObservationMismatch instead.
type ApplyObservationParams struct {
	ChainHash     string
	Target        models.TransactionStatus
	Confirmations int
	Reason        string
	At            time.Time
	Create        *CreateTransactionParams
	Observed      ObservedFacts
}

// ObservationResult reports the state after an observation was applied.
type ObservationResult struct {
	Transaction       *models.Transaction
	Previous          models.TransactionStatus
	Created           bool
	Changed           bool
	InsufficientFunds bool
	// Mismatch names the recorded field the observation contradicted.
	Mismatch string
}

// EnqueueEmailParams describes one outbox insert.
type EnqueueEmailParams struct {
	To             string
	Variables      models.EmailVariables
	Priority       models.EmailPriority
	ScheduledFor   time.Time
	MaxRetries     int
	NotificationId string
	At             time.Time
}

// LedgerStore is the persistence contract of the engine. Every method that
// moves money runs the status transition and the balance delta in one
// database transaction.
type LedgerStore interface {
	// --- Users ---
	CreateUser(ctx context.Context, userId, name, email string) (*models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	StoreWalletAddress(ctx context.Context, userId, currency, network, address string) (*models.WalletAddress, error)
	GetWalletAddresses(ctx context.Context, userId string) ([]models.WalletAddress, error)
	FindUserByAddress(ctx context.Context, address string) (*models.User, *models.WalletAddress, error)

	// --- Balances ---
	Adjust(ctx context.Context, params AdjustParams) (models.Balance, error)
	ReadBalance(ctx context.Context, userId string) (models.Balance, error)
	GetLedgerEntries(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEntry, error)
	ListLedgerEntriesAfter(ctx context.Context, afterSeq int64, limit int) ([]models.LedgerEntry, error)
	ReconcileBalance(ctx context.Context, userId string) error

	// --- Investments ---
	CreateInvestment(ctx context.Context, params CreateInvestmentParams) (*models.Investment, error)
	GetInvestment(ctx context.Context, id string) (*models.Investment, error)
	ListInvestments(ctx context.Context, userId string, limit, offset int) ([]models.Investment, error)
	ActivateInvestment(ctx context.Context, id string, at time.Time) (*models.Investment, error)
	CancelInvestment(ctx context.Context, id string, at time.Time) (*models.Investment, error)
	ListAccruableInvestments(ctx context.Context, asOf time.Time, afterId string, limit int) ([]models.Investment, error)
	ListMaturedInvestments(ctx context.Context, asOf time.Time, afterId string, limit int) ([]models.Investment, error)
	AccrueInvestment(ctx context.Context, id string, asOf time.Time, job string) (AccrualResult, error)
	CompleteInvestment(ctx context.Context, id string, asOf time.Time, job string) (*models.Investment, bool, error)

	// --- Transactions ---
	CreateTransaction(ctx context.Context, params CreateTransactionParams) (*models.Transaction, error)
	GetTransactionByHash(ctx context.Context, chainHash string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error)
	ApplyObservation(ctx context.Context, params ApplyObservationParams) (ObservationResult, error)
	ListStalePendingTransactions(ctx context.Context, cutoff time.Time, afterId string, limit int) ([]models.Transaction, error)
	ExpireTransaction(ctx context.Context, id string, at time.Time, job string) (bool, error)

	// --- Delivery queue ---
	EnqueueEmail(ctx context.Context, params EnqueueEmailParams) (*models.QueuedEmail, error)
	GetEmail(ctx context.Context, id string) (*models.QueuedEmail, error)
	ListDueEmails(ctx context.Context, now time.Time, limit int) ([]models.QueuedEmail, error)
	MarkEmailSent(ctx context.Context, id string, at time.Time) error
	RecordEmailFailure(ctx context.Context, id, lastError string, at time.Time, backoff time.Duration) (*models.QueuedEmail, error)
	RetryEmails(ctx context.Context, ids []string, at time.Time) (int, error)
	PurgeEmails(ctx context.Context, before time.Time) (int64, error)
	GetEmailQueueStatus(ctx context.Context, now time.Time) (models.EmailQueueStatus, error)
	GetRecentEmails(ctx context.Context, limit int) ([]models.QueuedEmail, error)
	ListNotifications(ctx context.Context, userId string, limit int) ([]models.Notification, error)

	// --- Job watermarks ---
	GetJobWatermark(ctx context.Context, job string) (models.JobWatermark, error)
	ListJobWatermarks(ctx context.Context) ([]models.JobWatermark, error)
	SetJobCursor(ctx context.Context, job, cursor string) error
	ResetJobCursor(ctx context.Context, job string) error
	MarkJobStarted(ctx context.Context, job string, at time.Time) error
	MarkJobFinished(ctx context.Context, job string, at time.Time, runErr error) error

	// --- Lifecycle ---
	Close()
}
