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

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrAmountOutOfRange reports a USD amount that does not fit in Cents.
var ErrAmountOutOfRange = errors.New("amount out of range")

// Cents is a USD amount in integer cents.
type Cents int64

// String renders the amount as dollars with two decimals, e.g. "14.79".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// CentsFromDecimal converts a dollar amount to cents, rounding half away from zero.
func CentsFromDecimal(usd decimal.Decimal) (Cents, error) {
	return toCents(usd, usd.Shift(2).Round(0))
}

// CentsFloor converts a dollar amount to cents, discarding fractional cents.
func CentsFloor(usd decimal.Decimal) (Cents, error) {
	return toCents(usd, usd.Shift(2).Floor())
}

func toCents(usd, cents decimal.Decimal) (Cents, error) {
	n := cents.BigInt()
	if !n.IsInt64() {
		return 0, fmt.Errorf("%w: $%s", ErrAmountOutOfRange, usd)
	}
	return Cents(n.Int64()), nil
}

// AddCents returns a+b, or ErrAmountOutOfRange when the sum overflows.
func AddCents(a, b Cents) (Cents, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%w: %s + %s", ErrAmountOutOfRange, a, b)
	}
	return sum, nil
}
