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
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"invest-ledger-go/internal/api"
	"invest-ledger-go/internal/common"
	"invest-ledger-go/internal/config"
	"invest-ledger-go/internal/listener"
	"invest-ledger-go/internal/scheduler"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting investment ledger engine")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = services.NewScheduler(cfg.Scheduler)
		if err != nil {
			zap.L().Fatal("Failed to build scheduler", zap.Error(err))
		}
		sched.Start()
	} else {
		zap.L().Info("Scheduler disabled, run jobs with cmd/runjob")
	}

	var poller *listener.Listener
	if cfg.Listener.Enabled {
		poller, err = services.InitializeListener(ctx, cfg)
		if err != nil {
			zap.L().Fatal("Failed to initialize Prime listener", zap.Error(err))
		}
		if err := poller.Start(ctx); err != nil {
			zap.L().Fatal("Failed to start Prime listener", zap.Error(err))
		}
	}

	gin.SetMode(gin.ReleaseMode)
	svc := api.NewLedgerService(services.DbService, services.Investments, services.Reconciler, services.Queue)
	server := &http.Server{
		Addr:              cfg.Http.Addr,
		Handler:           api.NewRouter(svc, cfg.Http, services.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.Http.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("Shutdown signal received, stopping engine...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("HTTP server shutdown failed", zap.Error(err))
		}
		if poller != nil {
			poller.Stop()
		}
		if sched != nil {
			if err := sched.Stop(shutdownCtx); err != nil {
				zap.L().Warn("Forced scheduler shutdown after timeout", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("Engine stopped with error", zap.Error(err))
		return
	}
	zap.L().Info("Engine stopped gracefully")
}
