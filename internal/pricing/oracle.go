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
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

var ErrUnknownSymbol = errors.New("unknown price symbol")

// Oracle returns the USD price of one unit of a currency.
type Oracle interface {
	PriceOf(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type PriceEntry struct {
	Symbol string `yaml:"symbol"`
	Usd    string `yaml:"usd"`
}

type PricesConfig struct {
	Stablecoins []string     `yaml:"stablecoins"`
	Prices      []PriceEntry `yaml:"prices"`
}

// StaticOracle serves a fixed price table. Stablecoins and USD itself price at 1.
type StaticOracle struct {
	prices map[string]decimal.Decimal
}

func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	table := map[string]decimal.Decimal{"USD": decimal.NewFromInt(1)}
	for symbol, price := range prices {
		table[normalizeSymbol(symbol)] = price
	}
	return &StaticOracle{prices: table}
}

func LoadStaticOracle(pricesFile string) (*StaticOracle, error) {
	pricesPath := pricesFile
	if !filepath.IsAbs(pricesFile) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		pricesPath = filepath.Join(wd, pricesFile)
	}

	data, err := os.ReadFile(pricesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", pricesFile, err)
	}
	return ParseStaticOracle(data)
}

func ParseStaticOracle(data []byte) (*StaticOracle, error) {
	var config PricesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse price table: %w", err)
	}

	prices := make(map[string]decimal.Decimal)
	for _, symbol := range config.Stablecoins {
		prices[symbol] = decimal.NewFromInt(1)
	}
	for i, entry := range config.Prices {
		if entry.Symbol == "" {
			return nil, fmt.Errorf("price at index %d missing symbol", i)
		}
		price, err := decimal.NewFromString(entry.Usd)
		if err != nil {
			return nil, fmt.Errorf("price for %s is not a number: %w", entry.Symbol, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("price for %s must be positive, got %s", entry.Symbol, price)
		}
		prices[entry.Symbol] = price
	}
	return NewStaticOracle(prices), nil
}

func (o *StaticOracle) PriceOf(_ context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := o.prices[normalizeSymbol(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return price, nil
}

// normalizeSymbol maps "usdc", "USDC-base" and "USDC" to the same key.
func normalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(symbol, '-'); i > 0 {
		symbol = symbol[:i]
	}
	return symbol
}
