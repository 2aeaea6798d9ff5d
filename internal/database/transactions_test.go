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

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

func observe(t *testing.T, service *Service, hash string, target models.TransactionStatus, confirmations int,
	create *store.CreateTransactionParams) (store.ObservationResult, error) {
	t.Helper()
	return service.ApplyObservation(context.Background(), store.ApplyObservationParams{
		ChainHash:     hash,
		Target:        target,
		Confirmations: confirmations,
		At:            service.now(),
		Create:        create,
	})
}

func depositParams(userId string, usd models.Cents) *store.CreateTransactionParams {
	return &store.CreateTransactionParams{
		UserId:       userId,
		Type:         models.TransactionDeposit,
		Currency:     "usdc",
		CryptoAmount: usd.Decimal(),
		UsdValue:     usd,
	}
}

func TestApplyObservation_DepositCreditsOnce(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()
	createTestUser(t, service, "user1")

	res, err := observe(t, service, "0xdep1", models.TransactionPending, 0, depositParams("user1", 5000))
	if err != nil {
		t.Fatalf("ApplyObservation failed: %v", err)
	}
	if !res.Created || res.Changed {
		t.Errorf("Expected created without change, got %+v", res)
	}
	if res.Transaction.Currency != "USDC" {
		t.Errorf("Expected currency USDC, got %s", res.Transaction.Currency)
	}

	clock.Set(clock.Now().Add(time.Minute))
	res, err = observe(t, service, "0xdep1", models.TransactionConfirmed, 2, nil)
	if err != nil {
		t.Fatalf("ApplyObservation failed: %v", err)
	}
	if res.Transaction.Status != models.TransactionConfirmed || res.Transaction.ConfirmedAt == nil {
		t.Errorf("Expected confirmed with timestamp, got %s", res.Transaction.Status)
	}

	// A lower confirmation count never moves the row backwards.
	res, err = observe(t, service, "0xdep1", models.TransactionPending, 1, nil)
	if err != nil {
		t.Fatalf("ApplyObservation failed: %v", err)
	}
	if res.Changed || res.Transaction.Status != models.TransactionConfirmed || res.Transaction.Confirmations != 2 {
		t.Errorf("Expected confirmed/2 unchanged, got %s/%d", res.Transaction.Status, res.Transaction.Confirmations)
	}

	for i := 0; i < 3; i++ {
		if _, err := observe(t, service, "0xdep1", models.TransactionCompleted, 6+i, depositParams("user1", 5000)); err != nil {
			t.Fatalf("ApplyObservation %d failed: %v", i, err)
		}
	}
	if _, err := observe(t, service, "0xdep1", models.TransactionFailed, 0, nil); err != nil {
		t.Fatalf("ApplyObservation failed: %v", err)
	}

	tx, err := service.GetTransactionByHash(ctx, "0xdep1")
	if err != nil {
		t.Fatalf("GetTransactionByHash failed: %v", err)
	}
	if tx.Status != models.TransactionCompleted {
		t.Errorf("Expected completed, got %s", tx.Status)
	}

	bal, err := service.ReadBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.Main != 5000 {
		t.Errorf("Expected main 5000 credited once, got %d", bal.Main)
	}

	emails, err := service.GetRecentEmails(ctx, 10)
	if err != nil {
		t.Fatalf("GetRecentEmails failed: %v", err)
	}
	if len(emails) != 1 || emails[0].TemplateName != models.TemplateDepositConfirmed {
		t.Errorf("Expected one deposit-confirmed email, got %+v", emails)
	}
}

func TestApplyObservation_WithdrawalDebitsMain(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := service.Adjust(ctx, store.AdjustParams{UserId: "user1", Bucket: models.BucketMain, Delta: 10000}); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}

	create := &store.CreateTransactionParams{
		UserId:       "user1",
		Type:         models.TransactionWithdrawal,
		Currency:     "ETH",
		CryptoAmount: decimal.RequireFromString("0.002"),
		UsdValue:     4000,
	}
	res, err := observe(t, service, "0xwd1", models.TransactionCompleted, 12, create)
	if err != nil {
		t.Fatalf("ApplyObservation failed: %v", err)
	}
	if !res.Created || res.Transaction.Status != models.TransactionCompleted {
		t.Errorf("Expected created and completed, got %+v", res)
	}

	bal, err := service.ReadBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.Main != 6000 {
		t.Errorf("Expected main 6000, got %d", bal.Main)
	}
}

func TestApplyObservation_WithdrawalUnderflowFails(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()
	createTestUser(t, service, "user1")

	if _, err := service.Adjust(ctx, store.AdjustParams{UserId: "user1", Bucket: models.BucketMain, Delta: 1000}); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}

	create := &store.CreateTransactionParams{
		UserId:       "user1",
		Type:         models.TransactionWithdrawal,
		Currency:     "USDC",
		CryptoAmount: decimal.NewFromInt(50),
		UsdValue:     5000,
	}
	res, err := observe(t, service, "0xwd2", models.TransactionCompleted, 6, create)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}
	if res.Transaction == nil || res.Transaction.Status != models.TransactionFailed {
		t.Fatalf("Expected failed transaction in result, got %+v", res)
	}
	if res.Transaction.FailureReason != models.ReasonInsufficientFunds {
		t.Errorf("Expected reason %s, got %s", models.ReasonInsufficientFunds, res.Transaction.FailureReason)
	}

	stored, err := service.GetTransactionByHash(ctx, "0xwd2")
	if err != nil {
		t.Fatalf("GetTransactionByHash failed: %v", err)
	}
	if stored.Status != models.TransactionFailed {
		t.Errorf("Expected stored status failed, got %s", stored.Status)
	}

	// Failed is terminal: a later observation does not retry the debit.
	if _, err := observe(t, service, "0xwd2", models.TransactionCompleted, 7, nil); err != nil {
		t.Fatalf("ApplyObservation on failed row returned %v", err)
	}

	bal, err := service.ReadBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.Main != 1000 {
		t.Errorf("Expected main to stay 1000, got %d", bal.Main)
	}

	emails, err := service.GetRecentEmails(ctx, 10)
	if err != nil {
		t.Fatalf("GetRecentEmails failed: %v", err)
	}
	if len(emails) != 1 || emails[0].TemplateName != models.TemplateWithdrawalFailed {
		t.Fatalf("Expected one withdrawal-failed email, got %+v", emails)
	}
	if emails[0].Priority != models.PriorityHigh {
		t.Errorf("Expected high priority, got %s", emails[0].Priority)
	}
}

func TestApplyObservation_UnknownHash(t *testing.T) {
	service, _ := setupTestService(t)

	_, err := observe(t, service, "0xnope", models.TransactionConfirmed, 1, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestApplyObservation_ExistingRowMustMatchReport(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()
	createTestUser(t, service, "user1")
	if _, err := service.StoreWalletAddress(ctx, "user1", "USDC", "base", "0xOwner"); err != nil {
		t.Fatalf("StoreWalletAddress failed: %v", err)
	}

	// A user-submitted row inflates the amount before the indexer reports it.
	claimed := *depositParams("user1", 100_000_000)
	claimed.ChainHash = "0xraced"
	if _, err := service.CreateTransaction(ctx, claimed); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	seen := depositParams("user1", 100)
	res, err := service.ApplyObservation(ctx, store.ApplyObservationParams{
		ChainHash:     "0xraced",
		Target:        models.TransactionCompleted,
		Confirmations: 6,
		At:            service.now(),
		Create:        seen,
		Observed: store.ObservedFacts{
			Type:     seen.Type,
			Currency: seen.Currency,
			Amount:   seen.CryptoAmount,
			Address:  "0xowner",
		},
	})
	if err != nil {
		t.Fatalf("ApplyObservation failed: %v", err)
	}
	if res.Created {
		t.Error("Expected the existing row to be used")
	}
	if res.Transaction.Status != models.TransactionFailed || res.Transaction.FailureReason != models.ReasonObservationMismatch {
		t.Errorf("Expected failed/%s, got %s/%s", models.ReasonObservationMismatch,
			res.Transaction.Status, res.Transaction.FailureReason)
	}

	bal, err := service.ReadBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.Main != 0 {
		t.Errorf("Expected main untouched, got %d", bal.Main)
	}
}

func TestCreateTransaction_Duplicate(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	params := *depositParams("user1", 100)
	params.ChainHash = "0xdup"
	if _, err := service.CreateTransaction(ctx, params); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if _, err := service.CreateTransaction(ctx, params); !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("Expected ErrDuplicateTransaction, got %v", err)
	}

	params.ChainHash = "0xbad"
	params.Type = "transfer"
	if _, err := service.CreateTransaction(ctx, params); err == nil {
		t.Error("Expected error for invalid transaction type")
	}
}

func TestExpireTransaction_StalePending(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()

	created := clock.Now()
	params := *depositParams("user1", 2500)
	params.ChainHash = "0xslow"
	params.At = created
	if _, err := service.CreateTransaction(ctx, params); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	confirmed := *depositParams("user1", 700)
	confirmed.ChainHash = "0xconfirmed"
	confirmed.At = created
	if _, err := service.CreateTransaction(ctx, confirmed); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if _, err := observe(t, service, "0xconfirmed", models.TransactionConfirmed, 1, nil); err != nil {
		t.Fatalf("ApplyObservation failed: %v", err)
	}

	run := created.Add(25 * time.Hour)
	stale, err := service.ListStalePendingTransactions(ctx, run.Add(-24*time.Hour), "", 10)
	if err != nil {
		t.Fatalf("ListStalePendingTransactions failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ChainHash != "0xslow" {
		t.Fatalf("Expected only 0xslow to be stale, got %+v", stale)
	}

	expired, err := service.ExpireTransaction(ctx, stale[0].Id, run, "transaction-expiry")
	if err != nil {
		t.Fatalf("ExpireTransaction failed: %v", err)
	}
	if !expired {
		t.Fatal("Expected transaction to expire")
	}

	rerun := created.Add(26 * time.Hour)
	stale, err = service.ListStalePendingTransactions(ctx, rerun.Add(-24*time.Hour), "", 10)
	if err != nil {
		t.Fatalf("ListStalePendingTransactions failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("Expected no stale rows on rerun, got %d", len(stale))
	}
	again, err := service.ExpireTransaction(ctx, "", rerun, "transaction-expiry")
	if !errors.Is(err, store.ErrNotFound) || again {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}

	tx, err := service.GetTransactionByHash(ctx, "0xslow")
	if err != nil {
		t.Fatalf("GetTransactionByHash failed: %v", err)
	}
	if tx.Status != models.TransactionExpired {
		t.Errorf("Expected expired, got %s", tx.Status)
	}
	if again, err := service.ExpireTransaction(ctx, tx.Id, rerun, "transaction-expiry"); err != nil || again {
		t.Errorf("Expected second expiry to be a no-op, got %v/%v", again, err)
	}

	bal, err := service.ReadBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.Total() != 0 {
		t.Errorf("Expected expiry to be ledger-neutral, got total %d", bal.Total())
	}

	notes, err := service.ListNotifications(ctx, "user1", 10)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != models.TemplateTransactionExpired {
		t.Errorf("Expected one expiry notification, got %+v", notes)
	}
}
