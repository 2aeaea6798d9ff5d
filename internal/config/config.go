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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"invest-ledger-go/internal/models"
)

// durations collects the first parse error so Load can read every
// duration variable in one pass.
type durations struct {
	err error
}

func (d *durations) get(key string, defaultValue time.Duration) time.Duration {
	value, err := getEnvDuration(key, defaultValue)
	if err != nil && d.err == nil {
		d.err = err
	}
	return value
}

func Load() (*models.Config, error) {
	var d durations

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:              getEnvString("DATABASE_PATH", "ledger.db"),
			MaxOpenConns:      getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:      getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:   d.get("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime:   d.get("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
			PingTimeout:       d.get("DB_PING_TIMEOUT", 5*time.Second),
			BusyTimeout:       d.get("DB_BUSY_TIMEOUT", 10*time.Second),
			StaleWriteRetries: getEnvInt("DB_STALE_WRITE_RETRIES", 3),
		},
		Engine: models.EngineConfig{
			PageSize:  getEnvInt("ENGINE_PAGE_SIZE", 100),
			Workers:   getEnvInt("ENGINE_WORKERS", 4),
			PlansFile: getEnvString("PLANS_FILE", "plans.yaml"),
		},
		Scheduler: models.SchedulerConfig{
			Enabled:           getEnvBool("SCHEDULER_ENABLED", true),
			JobTimeout:        d.get("SCHEDULER_JOB_TIMEOUT", 10*time.Minute),
			DailyAccrualSpec:  getEnvString("SCHEDULE_DAILY_ACCRUAL", "@daily"),
			MaturitySpec:      getEnvString("SCHEDULE_MATURITY_CHECK", "@hourly"),
			ExpirySpec:        getEnvString("SCHEDULE_TRANSACTION_EXPIRY", "0 */6 * * *"),
			EmailDrainSpec:    getEnvString("SCHEDULE_EMAIL_DRAIN", "@every 1m"),
			EmailPurgeSpec:    getEnvString("SCHEDULE_EMAIL_PURGE", "@daily"),
			LedgerExportSpec:  getEnvString("SCHEDULE_LEDGER_EXPORT", "@every 5m"),
			TransactionMaxAge: d.get("TRANSACTION_MAX_AGE", 24*time.Hour),
			EmailRetention:    getEnvInt("EMAIL_RETENTION_DAYS", 30),
			EmailDrainLimit:   getEnvInt("EMAIL_DRAIN_LIMIT", 50),
		},
		Reconciler: models.ReconcilerConfig{
			CompletionConfirmations: getEnvInt("RECONCILER_COMPLETION_CONFIRMATIONS", 6),
		},
		Mail: models.MailConfig{
			RelayURL:     getEnvString("MAIL_RELAY_URL", ""),
			RelayToken:   getEnvString("MAIL_RELAY_TOKEN", ""),
			From:         getEnvString("MAIL_FROM", "no-reply@invest-ledger.local"),
			SendTimeout:  d.get("MAIL_SEND_TIMEOUT", 10*time.Second),
			RetryBackoff: d.get("MAIL_RETRY_BACKOFF", 60*time.Second),
			MaxRetries:   getEnvInt("MAIL_MAX_RETRIES", models.DefaultMaxRetries),
			RatePerSec:   getEnvFloat("MAIL_RATE_PER_SEC", 5),
			Burst:        getEnvInt("MAIL_BURST", 5),
		},
		Http: models.HttpConfig{
			Addr:          getEnvString("HTTP_ADDR", ":8080"),
			AdminToken:    getEnvString("ADMIN_TOKEN", ""),
			WebhookSecret: getEnvString("WEBHOOK_SECRET", ""),
		},
		Pricing: models.PricingConfig{
			PricesFile: getEnvString("PRICES_FILE", "prices.yaml"),
			CacheTTL:   d.get("PRICE_CACHE_TTL", time.Minute),
		},
		Redis: models.RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", ""),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "invest-ledger"),
			BatchSize:    getEnvInt("FORMANCE_BATCH_SIZE", 100),
		},
		Listener: models.ListenerConfig{
			Enabled:         getEnvBool("LISTENER_ENABLED", false),
			Portfolio:       getEnvString("LISTENER_PORTFOLIO", ""),
			Symbols:         getEnvList("LISTENER_SYMBOLS"),
			LookbackWindow:  d.get("LISTENER_LOOKBACK_WINDOW", 6*time.Hour),
			PollingInterval: d.get("LISTENER_POLLING_INTERVAL", 30*time.Second),
			CleanupInterval: d.get("LISTENER_CLEANUP_INTERVAL", 15*time.Minute),
		},
	}
	if d.err != nil {
		return nil, d.err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	switch {
	case cfg.Database.Path == "":
		return fmt.Errorf("DATABASE_PATH cannot be empty")
	case cfg.Engine.PageSize <= 0:
		return fmt.Errorf("ENGINE_PAGE_SIZE must be positive, got %d", cfg.Engine.PageSize)
	case cfg.Engine.Workers <= 0:
		return fmt.Errorf("ENGINE_WORKERS must be positive, got %d", cfg.Engine.Workers)
	case cfg.Reconciler.CompletionConfirmations <= 0:
		return fmt.Errorf("RECONCILER_COMPLETION_CONFIRMATIONS must be positive, got %d", cfg.Reconciler.CompletionConfirmations)
	case cfg.Mail.MaxRetries <= 0:
		return fmt.Errorf("MAIL_MAX_RETRIES must be positive, got %d", cfg.Mail.MaxRetries)
	case cfg.Mail.SendTimeout <= 0:
		return fmt.Errorf("MAIL_SEND_TIMEOUT must be positive")
	case cfg.Scheduler.EmailRetention <= 0:
		return fmt.Errorf("EMAIL_RETENTION_DAYS must be positive, got %d", cfg.Scheduler.EmailRetention)
	case cfg.Scheduler.TransactionMaxAge <= 0:
		return fmt.Errorf("TRANSACTION_MAX_AGE must be positive")
	case cfg.Formance.Enabled() && (cfg.Formance.ClientID == "" || cfg.Formance.ClientSecret == ""):
		return fmt.Errorf("FORMANCE_CLIENT_ID and FORMANCE_CLIENT_SECRET are required with FORMANCE_STACK_URL")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
