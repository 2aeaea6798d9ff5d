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

package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invest-ledger-go/internal/metrics"
	"invest-ledger-go/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "invest-ledger:price:"

// CachedOracle fronts another oracle with Redis. Redis errors fall through
// to the wrapped oracle; they never fail a lookup.
type CachedOracle struct {
	client  *redis.Client
	next    Oracle
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewRedisClient(cfg models.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewCachedOracle(client *redis.Client, next Oracle, ttl time.Duration, m *metrics.Metrics) *CachedOracle {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedOracle{client: client, next: next, ttl: ttl, metrics: m}
}

func (c *CachedOracle) PriceOf(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := cacheKeyPrefix + normalizeSymbol(symbol)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		price, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			c.metrics.IncPriceLookup("cache", nil)
			return price, nil
		}
		zap.L().Warn("Discarding unparsable cached price", zap.String("key", key), zap.String("value", cached))
	case errors.Is(err, redis.Nil):
	default:
		zap.L().Warn("Price cache unavailable, using source", zap.String("symbol", symbol), zap.Error(err))
		c.metrics.IncPriceLookup("cache", err)
	}

	price, err := c.next.PriceOf(ctx, symbol)
	c.metrics.IncPriceLookup("source", err)
	if err != nil {
		return decimal.Zero, err
	}

	if err := c.client.Set(ctx, key, price.String(), c.ttl).Err(); err != nil {
		zap.L().Debug("Failed to cache price", zap.String("key", key), zap.Error(err))
	}
	return price, nil
}

// UsdValue prices amount units of symbol in cents, rounding half away from zero.
func UsdValue(ctx context.Context, oracle Oracle, symbol string, amount decimal.Decimal) (models.Cents, error) {
	price, err := oracle.PriceOf(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to price %s: %w", symbol, err)
	}
	cents, err := models.CentsFromDecimal(amount.Mul(price))
	if err != nil {
		return 0, fmt.Errorf("value of %s %s: %w", amount, symbol, err)
	}
	return cents, nil
}
