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

package main

import (
	"context"
	"flag"
	"fmt"

	"invest-ledger-go/internal/common"
	"invest-ledger-go/internal/config"
	"invest-ledger-go/internal/database"
	"invest-ledger-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	usersWithBalances int
	failures          int
	total             models.Cents
}

func formatEntryId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func printUserBalance(user common.UserInfo, balance models.Balance) {
	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  ID: %s (v%d, last entry: %s, updated: %s)\n",
		user.Id, balance.Version, formatEntryId(balance.LastEntryId), balance.UpdatedAt.Format("2006-01-02 15:04:05"))
	common.PrintBoxSeparator(78)
	for _, bucket := range models.Buckets {
		fmt.Printf("%s %-12s: %20s\n", common.BoxPrefix(false), bucket, common.FormatUsd(balance.Get(bucket)))
	}
	fmt.Printf("%s %-12s: %20s\n", common.BoxPrefix(true), "total", common.FormatUsd(balance.Total()))
}

func processUser(ctx context.Context, user common.UserInfo, dbService *database.Service, reconcile bool) (models.Balance, error) {
	balance, err := dbService.ReadBalance(ctx, user.Id)
	if err != nil {
		return balance, fmt.Errorf("failed to read balance: %w", err)
	}
	if reconcile {
		if err := dbService.ReconcileBalance(ctx, user.Id); err != nil {
			return balance, err
		}
	}
	return balance, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Filter by specific user email (optional)")
	reconcileFlag := flag.Bool("reconcile", false, "Verify every bucket against the sum of its ledger entries")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	users, err := common.InitializeUsers(ctx, dbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{}
	for _, user := range users {
		stats.totalUsers++

		balance, err := processUser(ctx, user, dbService, *reconcileFlag)
		if err != nil {
			stats.failures++
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.String("user_name", user.Name),
				zap.Error(err))
		}
		if balance.Total() == 0 && balance.Version == 0 {
			continue
		}
		stats.usersWithBalances++
		stats.total += balance.Total()
		printUserBalance(user, balance)
	}

	summary := fmt.Sprintf("SUMMARY: %d of %d users hold %s", stats.usersWithBalances, stats.totalUsers, common.FormatUsd(stats.total))
	if *reconcileFlag {
		summary += fmt.Sprintf(", %d failed reconciliation", stats.failures)
	}
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_balances", stats.usersWithBalances),
		zap.Int("errors", stats.failures))
}
