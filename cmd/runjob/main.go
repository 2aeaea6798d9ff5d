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
	"strings"

	"invest-ledger-go/internal/common"
	"invest-ledger-go/internal/config"

	"go.uber.org/zap"
)

// runjob executes one engine job and exits, for hosts that drive the
// cadence from an external timer.
func main() {
	jobFlag := flag.String("job", "", "Job to run (see --list)")
	listFlag := flag.Bool("list", false, "List registered jobs and their watermarks")
	flag.Parse()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	sched, err := services.NewScheduler(cfg.Scheduler)
	if err != nil {
		logger.Fatal("Failed to build scheduler", zap.Error(err))
	}

	if *listFlag || *jobFlag == "" {
		common.PrintHeader("ENGINE JOBS", common.DefaultWidth)
		jobs := sched.Jobs()
		for i, name := range jobs {
			mark, err := services.DbService.GetJobWatermark(ctx, name)
			if err != nil {
				logger.Error("Failed to read watermark", zap.String("job", name), zap.Error(err))
				continue
			}
			last := "never"
			if mark.LastCompletedAt != nil {
				last = mark.LastCompletedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s %-20s runs: %-6d last completed: %s", common.BoxPrefix(i == len(jobs)-1), name, mark.Runs, last)
			if mark.LastError != "" {
				fmt.Printf(" (error: %s)", common.Truncate(mark.LastError, 40))
			}
			fmt.Println()
		}
		common.PrintFooter(fmt.Sprintf("Run one with: runjob --job <%s>", strings.Join(jobs, "|")), common.DefaultWidth)
		return
	}

	logger.Info("Running job", zap.String("job", *jobFlag))
	if err := sched.RunNow(ctx, *jobFlag); err != nil {
		logger.Fatal("Job failed", zap.String("job", *jobFlag), zap.Error(err))
	}
	logger.Info("Job completed", zap.String("job", *jobFlag))
}
