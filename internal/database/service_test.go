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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"invest-ledger-go/internal/models"
)

// testClock is a settable clock shared by a Service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

func setupTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()

	cfg := models.DatabaseConfig{
		Path:              filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns:      4,
		MaxIdleConns:      2,
		ConnMaxLifetime:   time.Minute,
		ConnMaxIdleTime:   time.Minute,
		PingTimeout:       5 * time.Second,
		BusyTimeout:       10 * time.Second,
		StaleWriteRetries: 3,
	}
	service, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create test service: %v", err)
	}
	t.Cleanup(service.Close)

	clock := &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	service.now = clock.Now
	return service, clock
}

func createTestUser(t *testing.T, service *Service, id string) *models.User {
	t.Helper()
	user, err := service.CreateUser(context.Background(), id, "Test User "+id, id+"@example.com")
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func TestNewService_Validation(t *testing.T) {
	ctx := context.Background()
	base := models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "v.db"),
		MaxOpenConns: 1,
		PingTimeout:  time.Second,
	}

	tests := []struct {
		name   string
		mutate func(c *models.DatabaseConfig)
	}{
		{"empty path", func(c *models.DatabaseConfig) { c.Path = "" }},
		{"zero open conns", func(c *models.DatabaseConfig) { c.MaxOpenConns = 0 }},
		{"negative idle conns", func(c *models.DatabaseConfig) { c.MaxIdleConns = -1 }},
		{"zero ping timeout", func(c *models.DatabaseConfig) { c.PingTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := NewService(ctx, cfg); err == nil {
				t.Errorf("Expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestUsers_CreateAndLookup(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	createTestUser(t, service, "user1")

	if _, err := service.CreateUser(ctx, "user1", "Again", "other@example.com"); err == nil {
		t.Error("Expected error creating duplicate user id")
	}

	user, err := service.GetUserByEmail(ctx, "user1@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if user.Id != "user1" {
		t.Errorf("Expected user1, got %s", user.Id)
	}

	if _, err := service.StoreWalletAddress(ctx, "user1", "usdc", "base-mainnet", "0xAbC123"); err != nil {
		t.Fatalf("StoreWalletAddress failed: %v", err)
	}
	found, addr, err := service.FindUserByAddress(ctx, "0xabc123")
	if err != nil {
		t.Fatalf("FindUserByAddress failed: %v", err)
	}
	if found == nil || found.Id != "user1" {
		t.Fatalf("Expected address to resolve to user1, got %+v", found)
	}
	if addr.Currency != "USDC" {
		t.Errorf("Expected currency USDC, got %s", addr.Currency)
	}

	missing, _, err := service.FindUserByAddress(ctx, "0xdead")
	if err != nil {
		t.Fatalf("FindUserByAddress failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected no user for unknown address, got %s", missing.Id)
	}
}
