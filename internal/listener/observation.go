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
	"fmt"
	"strings"

	"invest-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Prime reports these statuses for transactions that will never settle.
var terminalFailures = map[string]bool{
	"TRANSACTION_CANCELLED": true,
	"TRANSACTION_REJECTED":  true,
	"TRANSACTION_FAILED":    true,
	"TRANSACTION_EXPIRED":   true,
}

// symbolMapping maps Prime API's network-specific symbols to canonical symbols
var symbolMapping = map[string]string{
	"USDC":     "USDC",
	"SPLUSDC":  "USDC",
	"AVAUSDC":  "USDC",
	"ARBUSDC":  "USDC",
	"BASEUSDC": "USDC",

	"ETH":     "ETH",
	"BASEETH": "ETH",
}

func normalizeSymbol(symbol string) string {
	if canonical, ok := symbolMapping[symbol]; ok {
		return canonical
	}
	return symbol
}

// ChainKey is the transaction key used for Prime activity. The Prime id is
// stable across status changes, unlike the blockchain id which a withdrawal
// only gets once broadcast.
func ChainKey(tx models.PrimeTransaction) string {
	return "prime:" + tx.Id
}

// ToObservation translates a Prime wallet transaction into a reconciler
// observation. ok is false for activity the engine ignores.
func ToObservation(tx models.PrimeTransaction, threshold int) (obs models.Observation, ok bool, err error) {
	switch tx.Type {
	case "DEPOSIT":
		obs.Direction = models.TransactionDeposit
	case "WITHDRAWAL":
		obs.Direction = models.TransactionWithdrawal
	default:
		return obs, false, nil
	}

	amount, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		return obs, false, fmt.Errorf("invalid amount %q: %w", tx.Amount, err)
	}
	amount = amount.Abs()
	if !amount.IsPositive() {
		return obs, false, nil
	}

	obs.ChainHash = ChainKey(tx)
	obs.Currency = normalizeSymbol(tx.Symbol)
	obs.Amount = amount
	obs.Address = tx.TransferTo.AccountIdentifier
	if obs.Address == "" {
		obs.Address = tx.TransferTo.Address
	}

	switch {
	case terminalFailures[tx.Status]:
		obs.Status = models.TransactionFailed
		obs.Reason = "prime_" + strings.ToLower(strings.TrimPrefix(tx.Status, "TRANSACTION_"))
	case tx.Status == "TRANSACTION_IMPORTED" || tx.Status == "TRANSACTION_DONE":
		obs.Status = models.TransactionCompleted
		obs.Confirmations = threshold
	case tx.Status == "TRANSACTION_IMPORT_PENDING" || tx.Status == "TRANSACTION_BROADCASTING":
		obs.Confirmations = 1
	}
	return obs, true, nil
}
