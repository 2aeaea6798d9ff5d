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

package listener

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"invest-ledger-go/internal/database"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/pricing"
	"invest-ledger-go/internal/reconciler"

	"github.com/shopspring/decimal"
)

func TestToObservation(t *testing.T) {
	base := models.PrimeTransaction{
		Id:         "tx-1",
		Type:       "DEPOSIT",
		Symbol:     "BASEUSDC",
		Amount:     "250",
		TransferTo: models.PrimeTransfer{Address: "0xabc"},
	}

	tests := []struct {
		name     string
		mutate   func(tx *models.PrimeTransaction)
		ok       bool
		status   models.TransactionStatus
		confs    int
		dir      models.TransactionType
		wantAddr string
	}{
		{"import pending", func(tx *models.PrimeTransaction) { tx.Status = "TRANSACTION_IMPORT_PENDING" }, true, "", 1, models.TransactionDeposit, "0xabc"},
		{"imported", func(tx *models.PrimeTransaction) { tx.Status = "TRANSACTION_IMPORTED" }, true, models.TransactionCompleted, 6, models.TransactionDeposit, "0xabc"},
		{"withdrawal done", func(tx *models.PrimeTransaction) {
			tx.Type, tx.Status, tx.Amount = "WITHDRAWAL", "TRANSACTION_DONE", "-40"
		}, true, models.TransactionCompleted, 6, models.TransactionWithdrawal, "0xabc"},
		{"withdrawal rejected", func(tx *models.PrimeTransaction) {
			tx.Type, tx.Status = "WITHDRAWAL", "TRANSACTION_REJECTED"
		}, true, models.TransactionFailed, 0, models.TransactionWithdrawal, "0xabc"},
		{"account identifier wins", func(tx *models.PrimeTransaction) {
			tx.Status = "TRANSACTION_CREATED"
			tx.TransferTo.AccountIdentifier = "acct-9"
		}, true, "", 0, models.TransactionDeposit, "acct-9"},
		{"conversion ignored", func(tx *models.PrimeTransaction) { tx.Type = "CONVERSION" }, false, "", 0, "", ""},
		{"zero amount ignored", func(tx *models.PrimeTransaction) { tx.Amount = "0" }, false, "", 0, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := base
			tt.mutate(&tx)
			obs, ok, err := ToObservation(tx, 6)
			if err != nil {
				t.Fatalf("ToObservation failed: %v", err)
			}
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if obs.Status != tt.status || obs.Confirmations != tt.confs || obs.Direction != tt.dir || obs.Address != tt.wantAddr {
				t.Errorf("Unexpected observation: %+v", obs)
			}
			if obs.ChainHash != "prime:tx-1" || obs.Currency != "USDC" || !obs.Amount.IsPositive() {
				t.Errorf("Unexpected key fields: %+v", obs)
			}
		})
	}

	rejected := base
	rejected.Status = "TRANSACTION_REJECTED"
	obs, _, _ := ToObservation(rejected, 6)
	if obs.Reason != "prime_rejected" {
		t.Errorf("Reason = %q", obs.Reason)
	}

	bad := base
	bad.Amount = "lots"
	if _, _, err := ToObservation(bad, 6); err == nil {
		t.Error("Expected an error for a malformed amount")
	}
}

type fakeSource struct {
	mu      sync.Mutex
	wallets []models.Wallet
	txs     map[string][]models.PrimeTransaction
}

func (f *fakeSource) ListWallets(context.Context, string, string, []string) ([]models.Wallet, error) {
	return f.wallets, nil
}

func (f *fakeSource) ListWalletTransactions(_ context.Context, _, walletId string, _ time.Time) ([]models.PrimeTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PrimeTransaction(nil), f.txs[walletId]...), nil
}

func (f *fakeSource) set(walletId string, txs ...models.PrimeTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[walletId] = txs
}

func TestPollFeedsReconciler(t *testing.T) {
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

	if _, err := service.CreateUser(ctx, "user1", "Ada", "ada@example.com"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := service.StoreWalletAddress(ctx, "user1", "USDC", "base-mainnet", "0xabc"); err != nil {
		t.Fatalf("StoreWalletAddress failed: %v", err)
	}

	oracle := pricing.NewStaticOracle(map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)})
	rec := reconciler.New(service, oracle, models.ReconcilerConfig{}, models.EngineConfig{}, nil)

	source := &fakeSource{
		wallets: []models.Wallet{{Id: "w1", Symbol: "USDC"}, {Id: "w1", Symbol: "USDC"}},
		txs:     map[string][]models.PrimeTransaction{},
	}
	l := New(Config{Source: source, Observer: rec, PortfolioId: "p1", Threshold: rec.Threshold()})
	if err := l.LoadWallets(ctx); err != nil {
		t.Fatalf("LoadWallets failed: %v", err)
	}
	if len(l.wallets) != 1 {
		t.Fatalf("Expected duplicate wallets collapsed, got %d", len(l.wallets))
	}

	deposit := models.PrimeTransaction{
		Id: "tx-1", Type: "DEPOSIT", Status: "TRANSACTION_IMPORT_PENDING",
		Symbol: "USDC", Amount: "250", TransferTo: models.PrimeTransfer{Address: "0xabc"},
	}
	stray := models.PrimeTransaction{
		Id: "tx-2", Type: "DEPOSIT", Status: "TRANSACTION_IMPORTED",
		Symbol: "USDC", Amount: "5", TransferTo: models.PrimeTransfer{Address: "0xunknown"},
	}
	source.set("w1", deposit, stray)

	if failed := l.Poll(ctx); failed != 0 {
		t.Fatalf("Poll reported %d failed wallets", failed)
	}
	tx, err := service.GetTransactionByHash(ctx, "prime:tx-1")
	if err != nil {
		t.Fatalf("GetTransactionByHash failed: %v", err)
	}
	if tx.Status != models.TransactionConfirmed {
		t.Errorf("Status after import pending = %s, want confirmed", tx.Status)
	}
	if !l.isProcessed("tx-2:TRANSACTION_IMPORTED") {
		t.Error("Unattributable transaction should not be retried")
	}

	deposit.Status = "TRANSACTION_IMPORTED"
	source.set("w1", deposit)
	l.Poll(ctx)
	l.Poll(ctx)

	balance, err := service.ReadBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if balance.Main != 25000 {
		t.Errorf("Main balance = %d cents, want 25000", balance.Main)
	}
}

func TestCleanupProcessed(t *testing.T) {
	l := New(Config{LookbackWindow: time.Hour})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.processed["old:TRANSACTION_DONE"] = now.Add(-2 * time.Hour)
	l.processed["new:TRANSACTION_DONE"] = now.Add(-time.Minute)
	l.cleanupProcessed()

	if l.isProcessed("old:TRANSACTION_DONE") || !l.isProcessed("new:TRANSACTION_DONE") {
		t.Errorf("Unexpected processed set: %v", l.processed)
	}
}
