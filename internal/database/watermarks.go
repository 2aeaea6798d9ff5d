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
	"time"

	"invest-ledger-go/internal/models"
)

func scanWatermark(row rowScanner, wm *models.JobWatermark) error {
	var started, completed sql.NullInt64
	if err := row.Scan(&wm.JobName, &wm.Cursor, &wm.Runs, &started, &completed, &wm.LastError); err != nil {
		return err
	}
	wm.LastStartedAt = fromNullUnix(started)
	wm.LastCompletedAt = fromNullUnix(completed)
	return nil
}

// GetJobWatermark returns an empty watermark for a job that never ran.
func (s *Service) GetJobWatermark(ctx context.Context, job string) (models.JobWatermark, error) {
	var wm models.JobWatermark
	if err := scanWatermark(s.db.QueryRowContext(ctx, queryGetWatermark, job), &wm); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.JobWatermark{JobName: job}, nil
		}
		return wm, fmt.Errorf("failed to get watermark for %s: %w", job, err)
	}
	return wm, nil
}

func (s *Service) ListJobWatermarks(ctx context.Context) ([]models.JobWatermark, error) {
	rows, err := s.db.QueryContext(ctx, queryListWatermarks)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	defer closeRows(rows)

	var marks []models.JobWatermark
	for rows.Next() {
		var wm models.JobWatermark
		if err := scanWatermark(rows, &wm); err != nil {
			return nil, fmt.Errorf("failed to scan watermark row: %w", err)
		}
		marks = append(marks, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermark rows: %w", err)
	}
	return marks, nil
}

// SetJobCursor moves the cursor forward outside of any record transaction.
func (s *Service) SetJobCursor(ctx context.Context, job, cursor string) error {
	return s.advanceCursor(ctx, s.db, job, cursor)
}

// advanceCursor never moves a cursor backwards.
func (s *Service) advanceCursor(ctx context.Context, q execer, job, cursor string) error {
	if job == "" || cursor == "" {
		return nil
	}
	if _, err := q.ExecContext(ctx, queryAdvanceCursor, job, cursor, toUnix(s.now())); err != nil {
		return fmt.Errorf("failed to advance watermark for %s: %w", job, err)
	}
	return nil
}

func (s *Service) ResetJobCursor(ctx context.Context, job string) error {
	if _, err := s.db.ExecContext(ctx, queryResetCursor, toUnix(s.now()), job); err != nil {
		return fmt.Errorf("failed to reset watermark for %s: %w", job, err)
	}
	return nil
}

func (s *Service) MarkJobStarted(ctx context.Context, job string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, queryMarkJobStarted, job, toUnix(at), toUnix(at)); err != nil {
		return fmt.Errorf("failed to mark %s started: %w", job, err)
	}
	return nil
}

func (s *Service) MarkJobFinished(ctx context.Context, job string, at time.Time, runErr error) error {
	lastError := ""
	if runErr != nil {
		lastError = runErr.Error()
	}
	if _, err := s.db.ExecContext(ctx, queryMarkJobFinished, toUnix(at), lastError, toUnix(at), job); err != nil {
		return fmt.Errorf("failed to mark %s finished: %w", job, err)
	}
	return nil
}
