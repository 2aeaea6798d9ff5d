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

package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"invest-ledger-go/internal/database"
	"invest-ledger-go/internal/formance"
	"invest-ledger-go/internal/investments"
	"invest-ledger-go/internal/listener"
	"invest-ledger-go/internal/metrics"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/notify"
	"invest-ledger-go/internal/pricing"
	"invest-ledger-go/internal/prime"
	"invest-ledger-go/internal/reconciler"
	"invest-ledger-go/internal/scheduler"
	"invest-ledger-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MetricsNamespace prefixes every Prometheus collector of the engine.
const MetricsNamespace = "invest_ledger"

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services holds the wired engine components.
type Services struct {
	DbService   *database.Service
	Metrics     *metrics.Metrics
	Oracle      pricing.Oracle
	Investments *investments.Manager
	Reconciler  *reconciler.Reconciler
	Queue       *notify.Queue
	// Exporter is nil unless a Formance stack is configured.
	Exporter *formance.Exporter

	redisClient *redis.Client
}

func InitializeLogger() (*zap.Logger, func()) {
	var (
		logger *zap.Logger
		err    error
	)
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	services := &Services{
		DbService: dbService,
		Metrics:   metrics.Registry(MetricsNamespace),
	}

	if err := services.wire(ctx, cfg); err != nil {
		services.Close()
		return nil, err
	}
	return services, nil
}

func (cs *Services) wire(ctx context.Context, cfg *models.Config) error {
	zap.L().Info("Loading plan catalog", zap.String("file", cfg.Engine.PlansFile))
	plans, err := LoadPlans(cfg.Engine.PlansFile)
	if err != nil {
		return err
	}

	zap.L().Info("Loading price table", zap.String("file", cfg.Pricing.PricesFile))
	static, err := pricing.LoadStaticOracle(cfg.Pricing.PricesFile)
	if err != nil {
		return err
	}
	cs.Oracle = static
	if cfg.Redis.Addr != "" {
		zap.L().Info("Caching prices in Redis", zap.String("addr", cfg.Redis.Addr))
		cs.redisClient = pricing.NewRedisClient(cfg.Redis)
		cs.Oracle = pricing.NewCachedOracle(cs.redisClient, static, cfg.Pricing.CacheTTL, cs.Metrics)
	}

	cs.Investments = investments.NewManager(cs.DbService, cfg.Engine, plans, cs.Metrics)
	cs.Reconciler = reconciler.New(cs.DbService, cs.Oracle, cfg.Reconciler, cfg.Engine, cs.Metrics)

	cs.Queue, err = NewQueue(cfg, cs.DbService, cs.Metrics)
	if err != nil {
		return err
	}

	if cfg.Formance.Enabled() {
		zap.L().Info("Connecting to Formance ledger", zap.String("ledger", cfg.Formance.LedgerName))
		client, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return err
		}
		cs.Exporter = formance.NewExporter(client, cs.DbService, cfg.Formance.BatchSize, cs.Metrics)
	}
	return nil
}

// NewQueue builds the delivery queue, posting to the mail relay when one is
// configured and logging envelopes otherwise.
func NewQueue(cfg *models.Config, s store.LedgerStore, m *metrics.Metrics) (*notify.Queue, error) {
	renderer, err := notify.NewTemplateRenderer("")
	if err != nil {
		return nil, err
	}
	var sender notify.Sender = notify.LogSender{}
	if cfg.Mail.RelayURL != "" {
		httpSender, err := notify.NewHTTPSender(cfg.Mail)
		if err != nil {
			return nil, err
		}
		sender = httpSender
	} else {
		zap.L().Warn("MAIL_RELAY_URL not set, emails will only be logged")
	}
	return notify.NewQueue(s, renderer, sender, cfg.Mail, m), nil
}

// Engine returns the components driven by the scheduled jobs.
func (cs *Services) Engine() scheduler.Engine {
	engine := scheduler.Engine{
		Investments: cs.Investments,
		Reconciler:  cs.Reconciler,
		Queue:       cs.Queue,
	}
	if cs.Exporter != nil {
		engine.Exporter = cs.Exporter
	}
	return engine
}

// NewScheduler builds a scheduler with every engine job registered.
func (cs *Services) NewScheduler(cfg models.SchedulerConfig) (*scheduler.Scheduler, error) {
	s := scheduler.New(cs.DbService, cfg.JobTimeout, cs.Metrics)
	if err := s.RegisterAll(scheduler.EngineJobs(cfg, cs.Engine())); err != nil {
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}
	return s, nil
}

// InitializeListener connects to Prime and builds a wallet poller that feeds
// the reconciler. It requires PRIME_* credentials.
func (cs *Services) InitializeListener(ctx context.Context, cfg *models.Config) (*listener.Listener, error) {
	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials()
	if err != nil {
		return nil, err
	}

	primeService, err := prime.NewService(creds)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Finding portfolio", zap.String("portfolio", cfg.Listener.Portfolio))
	portfolio, err := primeService.FindPortfolio(ctx, cfg.Listener.Portfolio)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Using portfolio",
		zap.String("name", portfolio.Name),
		zap.String("id", portfolio.Id))

	return listener.New(listener.Config{
		Source:          primeService,
		Observer:        cs.Reconciler,
		PortfolioId:     portfolio.Id,
		Symbols:         cfg.Listener.Symbols,
		Threshold:       cs.Reconciler.Threshold(),
		LookbackWindow:  cfg.Listener.LookbackWindow,
		PollingInterval: cfg.Listener.PollingInterval,
		CleanupInterval: cfg.Listener.CleanupInterval,
	}), nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	return database.NewService(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.redisClient != nil {
		if err := cs.redisClient.Close(); err != nil {
			zap.L().Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
