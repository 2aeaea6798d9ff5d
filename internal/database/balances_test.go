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
	"math/rand"
	"sync"
	"testing"

	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/store"
)

func TestReadBalance_NoBalance(t *testing.T) {
	service, _ := setupTestService(t)

	bal, err := service.ReadBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.Total() != 0 {
		t.Errorf("Expected zero total, got %s", bal.Total())
	}
}

func TestAdjust_CreditsBucket(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	bal, err := service.Adjust(ctx, store.AdjustParams{UserId: "user1", Bucket: models.BucketMain, Delta: 2500})
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	if bal.Main != 2500 {
		t.Errorf("Expected main 2500, got %d", bal.Main)
	}
	if bal.Version != 1 {
		t.Errorf("Expected version 1, got %d", bal.Version)
	}

	bal, err = service.Adjust(ctx, store.AdjustParams{UserId: "user1", Bucket: models.BucketInterest, Delta: 75})
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	if bal.Total() != 2575 {
		t.Errorf("Expected total 2575, got %d", bal.Total())
	}

	entries, err := service.GetLedgerEntries(ctx, "user1", 10, 0)
	if err != nil {
		t.Fatalf("GetLedgerEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 ledger entries, got %d", len(entries))
	}
	if entries[0].Bucket != models.BucketInterest || entries[0].BalanceAfter != 75 {
		t.Errorf("Expected newest entry interest/75, got %s/%d", entries[0].Bucket, entries[0].BalanceAfter)
	}
	if entries[1].ReferenceType != models.RefAdjustment {
		t.Errorf("Expected default reference type %s, got %s", models.RefAdjustment, entries[1].ReferenceType)
	}
}

func TestAdjust_InsufficientFunds(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := service.Adjust(ctx, store.AdjustParams{UserId: "user1", Bucket: models.BucketMain, Delta: 100}); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}

	_, err := service.Adjust(ctx, store.AdjustParams{UserId: "user1", Bucket: models.BucketMain, Delta: -101})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	bal, err := service.ReadBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.Main != 100 {
		t.Errorf("Expected main to stay 100, got %d", bal.Main)
	}
}

func TestAdjust_UnknownBucket(t *testing.T) {
	service, _ := setupTestService(t)

	_, err := service.Adjust(context.Background(), store.AdjustParams{UserId: "user1", Bucket: "savings", Delta: 1})
	if err == nil {
		t.Fatal("Expected error for unknown bucket")
	}
}

func TestAdjust_RandomSequenceNeverNegative(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	expected := map[models.Bucket]models.Cents{}
	for i := 0; i < 200; i++ {
		bucket := models.Buckets[rng.Intn(len(models.Buckets))]
		delta := models.Cents(rng.Intn(2000) - 1000)

		bal, err := service.Adjust(ctx, store.AdjustParams{UserId: "user1", Bucket: bucket, Delta: delta})
		if expected[bucket]+delta < 0 {
			if !errors.Is(err, store.ErrInsufficientFunds) {
				t.Fatalf("Step %d: expected ErrInsufficientFunds, got %v", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Step %d: Adjust failed: %v", i, err)
		}
		expected[bucket] += delta

		for _, b := range models.Buckets {
			if bal.Get(b) < 0 {
				t.Fatalf("Step %d: bucket %s went negative: %d", i, b, bal.Get(b))
			}
		}
		if bal.Total() != bal.Main+bal.Interest+bal.Investment {
			t.Fatalf("Step %d: total %d is not the bucket sum", i, bal.Total())
		}
	}

	bal, err := service.ReadBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	for _, b := range models.Buckets {
		if bal.Get(b) != expected[b] {
			t.Errorf("Bucket %s: expected %d, got %d", b, expected[b], bal.Get(b))
		}
	}
	if err := service.ReconcileBalance(ctx, "user1"); err != nil {
		t.Errorf("ReconcileBalance failed: %v", err)
	}
}

func TestAdjust_ConcurrentSameUser(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := service.Adjust(ctx, store.AdjustParams{UserId: "user1", Bucket: models.BucketMain, Delta: 10}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent Adjust failed: %v", err)
	}

	bal, err := service.ReadBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.Main != workers*perWorker*10 {
		t.Errorf("Expected main %d, got %d", workers*perWorker*10, bal.Main)
	}
	if bal.Version != workers*perWorker {
		t.Errorf("Expected version %d, got %d", workers*perWorker, bal.Version)
	}
	if err := service.ReconcileBalance(ctx, "user1"); err != nil {
		t.Errorf("ReconcileBalance failed: %v", err)
	}
}

func TestListLedgerEntriesAfter(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	for _, user := range []string{"a", "b", "c"} {
		if _, err := service.Adjust(ctx, store.AdjustParams{UserId: user, Bucket: models.BucketMain, Delta: 1}); err != nil {
			t.Fatalf("Adjust failed: %v", err)
		}
	}

	first, err := service.ListLedgerEntriesAfter(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ListLedgerEntriesAfter failed: %v", err)
	}
	if len(first) != 2 || first[0].UserId != "a" || first[1].UserId != "b" {
		t.Fatalf("Unexpected first page: %+v", first)
	}

	rest, err := service.ListLedgerEntriesAfter(ctx, first[1].Seq, 10)
	if err != nil {
		t.Fatalf("ListLedgerEntriesAfter failed: %v", err)
	}
	if len(rest) != 1 || rest[0].UserId != "c" {
		t.Fatalf("Unexpected second page: %+v", rest)
	}
}
