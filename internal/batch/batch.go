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

package batch

import (
	"context"
	"fmt"
	"sync"

	"invest-ledger-go/internal/metrics"
	"invest-ledger-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome of processing one record.
type Outcome int

const (
	Processed Outcome = iota
	Skipped
)

type Options struct {
	Job      string
	PageSize int
	Workers  int
	// StartAfter resumes a scan after this record id.
	StartAfter string
	Metrics    *metrics.Metrics
}

// ListFunc returns up to limit records with id greater than afterId, ordered by id.
type ListFunc[T any] func(ctx context.Context, afterId string, limit int) ([]T, error)

// Run pages through records and hands each one to process, with at most
// Workers records in flight. A failing record is logged and counted and never
// stops the scan. Run returns early only when listing fails or ctx is done;
// the records already handled stay handled.
func Run[T any](ctx context.Context, opts Options, list ListFunc[T], id func(T) string,
	process func(ctx context.Context, record T) (Outcome, error)) (models.BatchStats, error) {

	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	var stats models.BatchStats
	var mu sync.Mutex
	afterId := opts.StartAfter

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		page, err := list(ctx, afterId, opts.PageSize)
		if err != nil {
			return stats, fmt.Errorf("failed to list %s page after %q: %w", opts.Job, afterId, err)
		}
		if len(page) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(opts.Workers)
		for _, record := range page {
			record := record
			g.Go(func() error {
				recordId := id(record)
				result, err := process(ctx, record)

				mu.Lock()
				defer mu.Unlock()
				stats.Scanned++
				switch {
				case err != nil:
					stats.Failed++
					zap.L().Error("Batch record failed",
						zap.String("job", opts.Job),
						zap.String("record_id", recordId),
						zap.Error(err))
				case result == Skipped:
					stats.Skipped++
				default:
					stats.Processed++
				}
				return nil
			})
		}
		_ = g.Wait()

		afterId = id(page[len(page)-1])
		if len(page) < opts.PageSize {
			break
		}
	}

	opts.Metrics.AddBatchRecords(opts.Job, "processed", stats.Processed)
	opts.Metrics.AddBatchRecords(opts.Job, "skipped", stats.Skipped)
	opts.Metrics.AddBatchRecords(opts.Job, "failed", stats.Failed)

	zap.L().Info("Batch finished",
		zap.String("job", opts.Job),
		zap.Int("scanned", stats.Scanned),
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

// Watermarks is the slice of the store that Resume needs.
type Watermarks interface {
	GetJobWatermark(ctx context.Context, job string) (models.JobWatermark, error)
	ResetJobCursor(ctx context.Context, job string) error
}

// Resume continues an interrupted scan after the job's persisted cursor, then
// wraps around to the records before it. The cursor is reset once a full
// scan completes. Callers advance the cursor per record through the store.
func Resume[T any](ctx context.Context, marks Watermarks, opts Options, list ListFunc[T], id func(T) string,
	process func(ctx context.Context, record T) (Outcome, error)) (models.BatchStats, error) {

	wm, err := marks.GetJobWatermark(ctx, opts.Job)
	if err != nil {
		return models.BatchStats{}, err
	}
	if wm.Cursor != "" {
		zap.L().Info("Resuming batch after watermark", zap.String("job", opts.Job), zap.String("cursor", wm.Cursor))
	}

	opts.StartAfter = wm.Cursor
	stats, err := Run(ctx, opts, list, id, process)
	if err != nil {
		return stats, err
	}

	if wm.Cursor != "" {
		opts.StartAfter = ""
		wrapped, err := Run(ctx, opts, list, id, process)
		stats.Add(wrapped)
		if err != nil {
			return stats, err
		}
	}

	if err := marks.ResetJobCursor(ctx, opts.Job); err != nil {
		return stats, err
	}
	return stats, nil
}
