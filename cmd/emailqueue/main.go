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
	"os"
	"strings"

	"invest-ledger-go/internal/common"
	"invest-ledger-go/internal/config"
	"invest-ledger-go/internal/metrics"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/notify"

	"go.uber.org/zap"
)

func printStatus(status models.EmailQueueStatus) {
	common.PrintHeader("EMAIL QUEUE STATUS", common.DefaultWidth)
	fmt.Printf("Pending:   %d (due now: %d, retrying: %d)\n", status.Pending, status.Due, status.Retrying)
	fmt.Printf("Sent:      %d\n", status.Sent)
	fmt.Printf("Failed:    %d\n", status.Failed)
	if status.OldestPending != nil {
		fmt.Printf("Oldest:    %s\n", status.OldestPending.Format("2006-01-02 15:04:05"))
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func printRecent(emails []models.QueuedEmail) {
	common.PrintHeader(fmt.Sprintf("RECENT EMAILS (%d)", len(emails)), common.DefaultWidth)
	for i, e := range emails {
		isLast := i == len(emails)-1
		fmt.Printf("%s %s %-8s %-22s %s\n", common.BoxPrefix(isLast), e.Id, e.Status, e.TemplateName, e.To)
		if e.LastError != "" {
			fmt.Printf("%s   retries: %d, last error: %s\n", common.BoxDetailPrefix(isLast), e.RetryCount, common.Truncate(e.LastError, 50))
		}
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func run(ctx context.Context, queue *notify.Queue, cmd string, args []string) error {
	switch cmd {
	case "status":
		status, err := queue.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(status)
	case "recent":
		fs := flag.NewFlagSet("recent", flag.ExitOnError)
		limit := fs.Int("limit", 20, "Number of emails to show")
		_ = fs.Parse(args)
		emails, err := queue.Recent(ctx, *limit)
		if err != nil {
			return err
		}
		printRecent(emails)
	case "retry":
		if len(args) == 0 {
			return fmt.Errorf("retry needs at least one email id")
		}
		n, err := queue.Retry(ctx, args)
		if err != nil {
			return err
		}
		fmt.Printf("Re-queued %d emails\n", n)
	case "purge":
		fs := flag.NewFlagSet("purge", flag.ExitOnError)
		days := fs.Int("days", 30, "Delete emails created more than this many days ago")
		_ = fs.Parse(args)
		n, err := queue.PurgeOlderThan(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d emails older than %d days\n", n, *days)
	case "drain":
		fs := flag.NewFlagSet("drain", flag.ExitOnError)
		limit := fs.Int("limit", notify.DefaultDrainLimit, "Maximum emails to send")
		_ = fs.Parse(args)
		stats, err := queue.Drain(ctx, *limit)
		if err != nil {
			return err
		}
		fmt.Printf("Selected %d: sent %d, retrying %d, failed %d\n", stats.Selected, stats.Sent, stats.Retried, stats.Failed)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: emailqueue <status|recent|retry|purge|drain> [flags|ids...]")
	fmt.Fprintln(os.Stderr, "  recent --limit N     show the newest N emails")
	fmt.Fprintln(os.Stderr, "  retry ID [ID...]     reset failed emails to pending")
	fmt.Fprintln(os.Stderr, "  purge --days N       delete emails older than N days")
	fmt.Fprintln(os.Stderr, "  drain --limit N      send due emails now")
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	queue, err := common.NewQueue(cfg, dbService, metrics.Registry(common.MetricsNamespace))
	if err != nil {
		logger.Fatal("Failed to build email queue", zap.Error(err))
	}

	cmd := strings.ToLower(flag.Arg(0))
	if err := run(ctx, queue, cmd, flag.Args()[1:]); err != nil {
		logger.Fatal("Command failed", zap.String("command", cmd), zap.Error(err))
	}
}
