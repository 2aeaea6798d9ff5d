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
	"errors"
	"fmt"
	"sync"
	"time"

	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/reconciler"
	"invest-ledger-go/internal/store"

	"go.uber.org/zap"
)

// WalletSource lists Prime wallets and their activity.
type WalletSource interface {
	ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]models.Wallet, error)
	ListWalletTransactions(ctx context.Context, portfolioId, walletId string, startTime time.Time) ([]models.PrimeTransaction, error)
}

// Observer receives translated observations; the reconciler implements it.
type Observer interface {
	Observe(ctx context.Context, obs models.Observation) (store.ObservationResult, error)
}

type Config struct {
	Source      WalletSource
	Observer    Observer
	PortfolioId string
	// Symbols restricts monitoring to these assets; empty means every trading wallet.
	Symbols         []string
	Threshold       int
	LookbackWindow  time.Duration
	PollingInterval time.Duration
	CleanupInterval time.Duration
}

// Listener polls Prime trading wallets and feeds their deposits and
// withdrawals to the reconciler.
type Listener struct {
	source      WalletSource
	observer    Observer
	portfolioId string
	symbols     []string
	threshold   int

	// Keys are Prime id plus status, so each status change is observed once.
	processed       map[string]time.Time
	mutex           sync.RWMutex
	lookbackWindow  time.Duration
	pollingInterval time.Duration
	cleanupInterval time.Duration

	wallets []models.Wallet

	stopChan chan struct{}
	doneChan chan struct{}
	now      func() time.Time
}

func New(cfg Config) *Listener {
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = 6 * time.Hour
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 15 * time.Minute
	}
	return &Listener{
		source:          cfg.Source,
		observer:        cfg.Observer,
		portfolioId:     cfg.PortfolioId,
		symbols:         cfg.Symbols,
		threshold:       cfg.Threshold,
		processed:       make(map[string]time.Time),
		lookbackWindow:  cfg.LookbackWindow,
		pollingInterval: cfg.PollingInterval,
		cleanupInterval: cfg.CleanupInterval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Start discovers wallets, replays the lookback window once, then polls in
// the background until Stop or ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	zap.L().Info("Starting Prime listener", zap.String("portfolio_id", l.portfolioId))

	if err := l.LoadWallets(ctx); err != nil {
		return fmt.Errorf("failed to load monitored wallets: %w", err)
	}
	if len(l.wallets) == 0 {
		return fmt.Errorf("no wallets to monitor")
	}

	if failed := l.Poll(ctx); failed > len(l.wallets)/2 {
		return fmt.Errorf("startup recovery failed for %d of %d wallets", failed, len(l.wallets))
	}

	go l.pollLoop(ctx)
	go l.cleanupLoop(ctx)

	zap.L().Info("Prime listener started",
		zap.Int("wallets", len(l.wallets)),
		zap.Duration("polling_interval", l.pollingInterval),
		zap.Duration("lookback_window", l.lookbackWindow))
	return nil
}

func (l *Listener) Stop() {
	zap.L().Info("Stopping Prime listener")
	close(l.stopChan)
	<-l.doneChan
	zap.L().Info("Prime listener stopped")
}

// LoadWallets discovers the trading wallets to monitor.
func (l *Listener) LoadWallets(ctx context.Context) error {
	wallets, err := l.source.ListWallets(ctx, l.portfolioId, "TRADING", l.symbols)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	l.wallets = make([]models.Wallet, 0, len(wallets))
	for _, w := range wallets {
		if seen[w.Id] {
			continue
		}
		seen[w.Id] = true
		l.wallets = append(l.wallets, w)
		zap.L().Debug("Monitoring wallet", zap.String("id", w.Id), zap.String("asset", w.Symbol))
	}
	return nil
}

func (l *Listener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Poll(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Poll checks every monitored wallet once and returns how many failed.
func (l *Listener) Poll(ctx context.Context) int {
	since := l.now().Add(-l.lookbackWindow)

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, wallet := range l.wallets {
		wg.Add(1)
		go func(w models.Wallet) {
			defer wg.Done()
			if err := l.pollWallet(ctx, w, since); err != nil {
				zap.L().Error("Failed to poll wallet",
					zap.String("wallet_id", w.Id),
					zap.String("asset_symbol", w.Symbol),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(wallet)
	}

	wg.Wait()
	return failed
}

func (l *Listener) pollWallet(ctx context.Context, wallet models.Wallet, since time.Time) error {
	transactions, err := l.source.ListWalletTransactions(ctx, l.portfolioId, wallet.Id, since)
	if err != nil {
		return fmt.Errorf("failed to fetch transactions: %w", err)
	}

	for _, tx := range transactions {
		key := tx.Id + ":" + tx.Status
		if l.isProcessed(key) {
			continue
		}
		if err := l.processTransaction(ctx, tx); err != nil {
			zap.L().Error("Failed to process transaction",
				zap.String("transaction_id", tx.Id),
				zap.String("wallet_id", wallet.Id),
				zap.String("status", tx.Status),
				zap.Error(err))
			continue
		}
		l.markProcessed(key)
	}
	return nil
}

// processTransaction returns an error only for failures worth retrying on
// the next poll.
func (l *Listener) processTransaction(ctx context.Context, tx models.PrimeTransaction) error {
	obs, ok, err := ToObservation(tx, l.threshold)
	if err != nil {
		zap.L().Warn("Skipping malformed Prime transaction", zap.String("transaction_id", tx.Id), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	result, err := l.observer.Observe(ctx, obs)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrUserNotFound), errors.Is(err, reconciler.ErrInvalidObservation),
		errors.Is(err, models.ErrAmountOutOfRange):
		zap.L().Warn("Prime transaction cannot be attributed",
			zap.String("transaction_id", tx.Id),
			zap.String("address", obs.Address),
			zap.Error(err))
		return nil
	case errors.Is(err, store.ErrInsufficientFunds):
		// recorded as failed by the reconciler
		return nil
	default:
		return err
	}

	if result.Changed && result.Transaction != nil {
		zap.L().Info("Prime transaction observed",
			zap.String("transaction_id", tx.Id),
			zap.String("chain_hash", obs.ChainHash),
			zap.String("type", tx.Type),
			zap.String("status", string(result.Transaction.Status)))
	}
	return nil
}

func (l *Listener) isProcessed(key string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	_, exists := l.processed[key]
	return exists
}

func (l *Listener) markProcessed(key string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.processed[key] = l.now()
}

func (l *Listener) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupProcessed()
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupProcessed forgets keys older than the lookback window; anything that
// old is no longer returned by Prime.
func (l *Listener) cleanupProcessed() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cutoff := l.now().Add(-l.lookbackWindow)
	cleaned := 0
	for key, at := range l.processed {
		if at.Before(cutoff) {
			delete(l.processed, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		zap.L().Debug("Cleaned up processed transactions",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(l.processed)))
	}
}
