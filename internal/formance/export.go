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
	"context"
	"fmt"
	"strconv"

	"invest-ledger-go/internal/metrics"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/store"

	"go.uber.org/zap"
)

// JobLedgerExport is the scheduler job and watermark name of the export.
const JobLedgerExport = "ledger-export"

const defaultBatchSize = 100

// LedgerClient is the slice of the Formance ledger the exporter needs.
type LedgerClient interface {
	PostEntry(ctx context.Context, entry models.LedgerEntry) (bool, error)
	BucketBalance(ctx context.Context, userId string, bucket models.Bucket) (models.Cents, error)
}

// Exporter copies ledger entries to Formance in sequence order. Its
// watermark cursor is the last exported sequence number and never resets.
type Exporter struct {
	client    LedgerClient
	store     store.LedgerStore
	batchSize int
	metrics   *metrics.Metrics
}

func NewExporter(client LedgerClient, s store.LedgerStore, batchSize int, m *metrics.Metrics) *Exporter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Exporter{client: client, store: s, batchSize: batchSize, metrics: m}
}

// Cursors are zero padded so they compare correctly as strings.
func formatSeq(seq int64) string { return fmt.Sprintf("%020d", seq) }

func parseSeq(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid export cursor %q: %w", cursor, err)
	}
	return seq, nil
}

// Export posts every entry after the watermark and returns how many were
// newly posted. It stops at the first failure; the next run resumes there.
func (e *Exporter) Export(ctx context.Context) (int, error) {
	wm, err := e.store.GetJobWatermark(ctx, JobLedgerExport)
	if err != nil {
		return 0, err
	}
	afterSeq, err := parseSeq(wm.Cursor)
	if err != nil {
		return 0, err
	}

	posted := 0
	for {
		entries, err := e.store.ListLedgerEntriesAfter(ctx, afterSeq, e.batchSize)
		if err != nil {
			return posted, fmt.Errorf("failed to list ledger entries: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return posted, err
			}
			created, err := e.client.PostEntry(ctx, entry)
			if err != nil {
				zap.L().Error("Ledger export stopped",
					zap.Int64("seq", entry.Seq),
					zap.String("entry_id", entry.Id),
					zap.Error(err))
				return posted, err
			}
			if created {
				posted++
			}
			if err := e.store.SetJobCursor(ctx, JobLedgerExport, formatSeq(entry.Seq)); err != nil {
				return posted, err
			}
			afterSeq = entry.Seq
			e.metrics.SetExportSequence(entry.Seq)
		}

		if len(entries) < e.batchSize {
			break
		}
	}

	if posted > 0 {
		zap.L().Info("Ledger entries exported", zap.Int("count", posted), zap.Int64("last_seq", afterSeq))
	}
	return posted, nil
}

// Mismatch is one bucket whose exported balance differs from the engine's.
type Mismatch struct {
	UserId   string
	Bucket   models.Bucket
	Local    models.Cents
	Exported models.Cents
}

// VerifyUser compares a user's buckets with the exported accounts. It is only
// meaningful once the export has caught up.
func (e *Exporter) VerifyUser(ctx context.Context, userId string) ([]Mismatch, error) {
	balance, err := e.store.ReadBalance(ctx, userId)
	if err != nil {
		return nil, err
	}

	var mismatches []Mismatch
	for _, bucket := range models.Buckets {
		exported, err := e.client.BucketBalance(ctx, userId, bucket)
		if err != nil {
			return nil, err
		}
		if local := balance.Get(bucket); local != exported {
			mismatches = append(mismatches, Mismatch{UserId: userId, Bucket: bucket, Local: local, Exported: exported})
		}
	}

	if len(mismatches) > 0 {
		zap.L().Warn("Exported balances diverge", zap.String("user_id", userId), zap.Int("buckets", len(mismatches)))
	}
	return mismatches, nil
}
