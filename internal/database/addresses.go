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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"invest-ledger-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanWalletAddress(row rowScanner, addr *models.WalletAddress) error {
	var createdAt int64
	if err := row.Scan(&addr.Id, &addr.UserId, &addr.Currency, &addr.Network, &addr.Address, &createdAt); err != nil {
		return err
	}
	addr.CreatedAt = fromUnix(createdAt)
	return nil
}

// StoreWalletAddress registers a connected wallet address for a user.
func (s *Service) StoreWalletAddress(ctx context.Context, userId, currency, network, address string) (*models.WalletAddress, error) {
	zap.L().Info("Storing wallet address",
		zap.String("user_id", userId),
		zap.String("currency", currency),
		zap.String("network", network),
		zap.String("address", address))

	addr := &models.WalletAddress{
		Id:        uuid.New().String(),
		UserId:    userId,
		Currency:  strings.ToUpper(currency),
		Network:   network,
		Address:   address,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx, queryInsertWalletAddress,
		addr.Id, addr.UserId, addr.Currency, addr.Network, addr.Address, toUnix(addr.CreatedAt))
	if err != nil {
		zap.L().Error("Failed to insert wallet address", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to insert wallet address: %w", err)
	}
	return addr, nil
}

func (s *Service) GetWalletAddresses(ctx context.Context, userId string) ([]models.WalletAddress, error) {
	rows, err := s.db.QueryContext(ctx, queryGetWalletAddresses, userId)
	if err != nil {
		return nil, fmt.Errorf("unable to query wallet addresses: %w", err)
	}
	defer closeRows(rows)

	var addresses []models.WalletAddress
	for rows.Next() {
		var addr models.WalletAddress
		if err := scanWalletAddress(rows, &addr); err != nil {
			return nil, fmt.Errorf("unable to scan wallet address row: %w", err)
		}
		addresses = append(addresses, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet address rows: %w", err)
	}
	return addresses, nil
}

// FindUserByAddress returns (nil, nil, nil) when no active user owns the address.
func (s *Service) FindUserByAddress(ctx context.Context, address string) (*models.User, *models.WalletAddress, error) {
	zap.L().Debug("Finding user by address", zap.String("address", address))

	var user models.User
	var addr models.WalletAddress
	var userCreated, userUpdated, addrCreated int64
	err := s.db.QueryRowContext(ctx, queryFindUserByAddress, address).Scan(
		&user.Id, &user.Name, &user.Email, &user.Active, &userCreated, &userUpdated,
		&addr.Id, &addr.UserId, &addr.Currency, &addr.Network, &addr.Address, &addrCreated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		zap.L().Error("Failed to find user by address", zap.String("address", address), zap.Error(err))
		return nil, nil, fmt.Errorf("unable to find user by address: %w", err)
	}
	user.CreatedAt = fromUnix(userCreated)
	user.UpdatedAt = fromUnix(userUpdated)
	addr.CreatedAt = fromUnix(addrCreated)

	return &user, &addr, nil
}
