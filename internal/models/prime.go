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

// Portfolio represents a Prime portfolio
type Portfolio struct {
	Id   string
	Name string
}

// Wallet represents a Prime wallet
type Wallet struct {
	Id     string
	Name   string
	Symbol string
	Type   string
}

// PrimeTransfer is the counterparty side of a Prime transaction
type PrimeTransfer struct {
	Type              string
	Value             string
	Address           string
	AccountIdentifier string
}

// PrimeTransaction is the subset of a Prime wallet transaction the listener needs
type PrimeTransaction struct {
	Id             string
	WalletId       string
	Type           string
	Status         string
	Symbol         string
	Amount         string
	Network        string
	BlockchainIds  []string
	IdempotencyKey string
	TransferFrom   PrimeTransfer
	TransferTo     PrimeTransfer
	CreatedAt      time.Time
	CompletedAt    time.Time
}
