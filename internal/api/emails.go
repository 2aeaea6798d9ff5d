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

package api

import (
	"context"

	"invest-ledger-go/internal/models"
)

func (s *LedgerService) RetryEmails(ctx context.Context, ids []string) (int, error) {
	return s.queue.Retry(ctx, ids)
}

func (s *LedgerService) EmailQueueStatus(ctx context.Context) (models.EmailQueueStatus, error) {
	return s.queue.Status(ctx)
}

func (s *LedgerService) RecentEmails(ctx context.Context, limit int) ([]models.QueuedEmail, error) {
	limit, _ = normalizePage(limit, 0)
	return s.queue.Recent(ctx, limit)
}
