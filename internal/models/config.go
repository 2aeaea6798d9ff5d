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

package models

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Engine     EngineConfig
	Scheduler  SchedulerConfig
	Reconciler ReconcilerConfig
	Mail       MailConfig
	Http       HttpConfig
	Pricing    PricingConfig
	Redis      RedisConfig
	Formance   FormanceConfig
	Listener   ListenerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path              string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	PingTimeout       time.Duration
	BusyTimeout       time.Duration
	StaleWriteRetries int
}

// EngineConfig bounds batch processing for the position manager and reconciler
type EngineConfig struct {
	PageSize  int
	Workers   int
	PlansFile string
}

// SchedulerConfig holds job cadences in cron syntax
type SchedulerConfig struct {
	Enabled           bool
	JobTimeout        time.Duration
	DailyAccrualSpec  string
	MaturitySpec      string
	ExpirySpec        string
	EmailDrainSpec    string
	EmailPurgeSpec    string
	LedgerExportSpec  string
	TransactionMaxAge time.Duration
	EmailRetention    int
	EmailDrainLimit   int
}

// ReconcilerConfig holds transaction confirmation settings
type ReconcilerConfig struct {
	CompletionConfirmations int
}

// MailConfig holds delivery queue and sender settings
type MailConfig struct {
	RelayURL     string
	RelayToken   string
	From         string
	SendTimeout  time.Duration
	RetryBackoff time.Duration
	MaxRetries   int
	RatePerSec   float64
	Burst        int
}

// HttpConfig holds API server settings
type HttpConfig struct {
	Addr          string
	AdminToken    string
	WebhookSecret string
}

// PricingConfig points at the static price table
type PricingConfig struct {
	PricesFile string
	CacheTTL   time.Duration
}

// RedisConfig is optional; an empty Addr disables the price cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// FormanceConfig is optional; an empty StackURL disables ledger export
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
	BatchSize    int
}

func (c FormanceConfig) Enabled() bool { return c.StackURL != "" }

// ListenerConfig holds Prime wallet poller settings
type ListenerConfig struct {
	Enabled bool
	// Portfolio is a Prime portfolio id or name; empty means the default portfolio.
	Portfolio string
	// Symbols limits polling to these assets; empty means every trading wallet.
	Symbols         []string
	LookbackWindow  time.Duration
	PollingInterval time.Duration
	CleanupInterval time.Duration
}
