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

package formance

import (
	"strconv"

	"invest-ledger-go/internal/models"
)

// Credits come out of a platform account named after the entry's reference
// type; debits go back into it. Only platform accounts may overdraw.

const numscriptCredit = `vars {
  asset $asset
  number $amount
  account $user_id
  account $bucket
  account $reference_type
  string $entry_id
  string $reference_id
  string $balance_after
}

send [$asset $amount] (
  source = @platform:$reference_type allowing unbounded overdraft
  destination = @users:$user_id:$bucket
)

set_tx_meta("event_type", "ledger_credit")
set_tx_meta("entry_id", $entry_id)
set_tx_meta("reference_id", $reference_id)
set_tx_meta("balance_after", $balance_after)
`

const numscriptDebit = `vars {
  asset $asset
  number $amount
  account $user_id
  account $bucket
  account $reference_type
  string $entry_id
  string $reference_id
  string $balance_after
}

send [$asset $amount] (
  source = @users:$user_id:$bucket
  destination = @platform:$reference_type
)

set_tx_meta("event_type", "ledger_debit")
set_tx_meta("entry_id", $entry_id)
set_tx_meta("reference_id", $reference_id)
set_tx_meta("balance_after", $balance_after)
`

func scriptFor(entry models.LedgerEntry) string {
	if entry.Delta < 0 {
		return numscriptDebit
	}
	return numscriptCredit
}

func entryVars(entry models.LedgerEntry) map[string]string {
	amount := int64(entry.Delta)
	if amount < 0 {
		amount = -amount
	}
	referenceType := entry.ReferenceType
	if referenceType == "" {
		referenceType = models.RefAdjustment
	}
	return map[string]string{
		"asset":          usdAsset,
		"amount":         strconv.FormatInt(amount, 10),
		"user_id":        entry.UserId,
		"bucket":         string(entry.Bucket),
		"reference_type": referenceType,
		"entry_id":       entry.Id,
		"reference_id":   entry.ReferenceId,
		"balance_after":  strconv.FormatInt(int64(entry.BalanceAfter), 10),
	}
}
