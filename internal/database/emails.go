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
	"time"

	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanEmail(row rowScanner, e *models.QueuedEmail) error {
	var variables, priority, status string
	var scheduledFor, createdAt, updatedAt int64
	var sentAt sql.NullInt64
	if err := row.Scan(&e.Id, &e.To, &e.TemplateName, &variables, &priority, &status,
		&e.RetryCount, &e.MaxRetries, &scheduledFor, &e.LastError, &e.NotificationId,
		&sentAt, &createdAt, &updatedAt); err != nil {
		return err
	}
	e.Variables = []byte(variables)
	e.Priority = models.EmailPriority(priority)
	e.Status = models.EmailStatus(status)
	e.ScheduledFor = fromUnix(scheduledFor)
	e.SentAt = fromNullUnix(sentAt)
	e.CreatedAt = fromUnix(createdAt)
	e.UpdatedAt = fromUnix(updatedAt)
	return nil
}

func scanEmails(rows *sql.Rows) ([]models.QueuedEmail, error) {
	var emails []models.QueuedEmail
	for rows.Next() {
		var e models.QueuedEmail
		if err := scanEmail(rows, &e); err != nil {
			return nil, fmt.Errorf("failed to scan email row: %w", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email rows: %w", err)
	}
	return emails, nil
}

// EnqueueEmail inserts a pending outbox row.
func (s *Service) EnqueueEmail(ctx context.Context, params store.EnqueueEmailParams) (*models.QueuedEmail, error) {
	if params.At.IsZero() {
		params.At = s.now()
	}
	return s.enqueueEmail(ctx, s.db, params)
}

func (s *Service) enqueueEmail(ctx context.Context, q execer, params store.EnqueueEmailParams) (*models.QueuedEmail, error) {
	if strings.TrimSpace(params.To) == "" {
		return nil, fmt.Errorf("email recipient cannot be empty")
	}
	raw, err := models.EncodeEmailVariables(params.Variables)
	if err != nil {
		return nil, err
	}
	if params.Priority == "" {
		params.Priority = models.PriorityNormal
	}
	if !params.Priority.Valid() {
		return nil, fmt.Errorf("invalid email priority %q", params.Priority)
	}
	if params.MaxRetries <= 0 {
		params.MaxRetries = models.DefaultMaxRetries
	}
	if params.ScheduledFor.IsZero() {
		params.ScheduledFor = params.At
	}

	email := &models.QueuedEmail{
		Id:             uuid.New().String(),
		To:             params.To,
		TemplateName:   params.Variables.Template(),
		Variables:      raw,
		Priority:       params.Priority,
		Status:         models.EmailPending,
		MaxRetries:     params.MaxRetries,
		ScheduledFor:   params.ScheduledFor.UTC(),
		NotificationId: params.NotificationId,
		CreatedAt:      params.At.UTC(),
		UpdatedAt:      params.At.UTC(),
	}
	_, err = q.ExecContext(ctx, queryInsertEmail,
		email.Id, email.To, email.TemplateName, string(raw), string(email.Priority), email.Priority.Rank(),
		email.MaxRetries, toUnix(email.ScheduledFor), email.NotificationId,
		toUnix(email.CreatedAt), toUnix(email.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue email: %w", err)
	}

	zap.L().Debug("Email enqueued",
		zap.String("email_id", email.Id),
		zap.String("template", email.TemplateName),
		zap.String("priority", string(email.Priority)))
	return email, nil
}

// notifyUserTx records an in-app notification and, when the user has a
// profile, queues the matching email in the caller's transaction.
func (s *Service) notifyUserTx(ctx context.Context, tx *sql.Tx, userId string, priority models.EmailPriority,
	at time.Time, build func(userName string) models.EmailVariables) error {

	user, err := s.getUserById(ctx, tx, userId)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	name := ""
	if user != nil {
		name = user.Name
	}
	vars := build(name)

	title, message := vars.Summary()
	notificationId := uuid.New().String()
	_, err = tx.ExecContext(ctx, queryInsertNotification,
		notificationId, userId, vars.Template(), title, message, toUnix(at))
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	if user == nil {
		zap.L().Debug("No profile for user, skipping email",
			zap.String("user_id", userId),
			zap.String("template", vars.Template()))
		return nil
	}

	_, err = s.enqueueEmail(ctx, tx, store.EnqueueEmailParams{
		To:             user.Email,
		Variables:      vars,
		Priority:       priority,
		NotificationId: notificationId,
		At:             at,
	})
	return err
}

func (s *Service) GetEmail(ctx context.Context, id string) (*models.QueuedEmail, error) {
	var e models.QueuedEmail
	if err := scanEmail(s.db.QueryRowContext(ctx, queryGetEmail, id), &e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("email %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return &e, nil
}

// ListDueEmails returns pending rows whose scheduled time has passed, highest
// priority first and oldest first within a priority.
func (s *Service) ListDueEmails(ctx context.Context, now time.Time, limit int) ([]models.QueuedEmail, error) {
	rows, err := s.db.QueryContext(ctx, queryListDueEmails, toUnix(now), normalizeLimit(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("failed to list due emails: %w", err)
	}
	defer closeRows(rows)
	return scanEmails(rows)
}

func (s *Service) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, queryMarkEmailSent, toUnix(at), toUnix(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark email sent: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetEmail(ctx, id); err != nil {
			return err
		}
		zap.L().Debug("Email was no longer pending when marked sent", zap.String("email_id", id))
	}
	return nil
}

// RecordEmailFailure counts one failed attempt. Below the retry budget the row
// stays pending and is pushed back by retryCount*backoff; at the budget it
// becomes failed.
func (s *Service) RecordEmailFailure(ctx context.Context, id, lastError string, at time.Time, backoff time.Duration) (*models.QueuedEmail, error) {
	var email models.QueuedEmail
	err := s.withRetry(ctx, "record_email_failure", func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			if err := scanEmail(tx.QueryRowContext(ctx, queryGetEmail, id), &email); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("email %s: %w", id, store.ErrNotFound)
				}
				return fmt.Errorf("failed to get email: %w", err)
			}
			if email.Status != models.EmailPending {
				return nil
			}

			previous := email.RetryCount
			email.RetryCount++
			email.LastError = lastError
			email.UpdatedAt = at
			if email.RetryCount < email.MaxRetries {
				email.ScheduledFor = at.Add(time.Duration(email.RetryCount) * backoff)
			} else {
				email.Status = models.EmailFailed
			}

			result, err := tx.ExecContext(ctx, queryRescheduleEmail,
				email.RetryCount, string(email.Status), toUnix(email.ScheduledFor), email.LastError,
				toUnix(at), id, previous)
			if err != nil {
				return fmt.Errorf("failed to reschedule email: %w", err)
			}
			if n, err := result.RowsAffected(); err != nil {
				return fmt.Errorf("failed to check rows affected: %w", err)
			} else if n == 0 {
				return fmt.Errorf("email %s changed during failure update: %w", id, store.ErrStaleWrite)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if email.Status == models.EmailFailed {
		zap.L().Warn("Email delivery failed permanently",
			zap.String("email_id", id),
			zap.String("template", email.TemplateName),
			zap.Int("retry_count", email.RetryCount),
			zap.String("last_error", lastError))
	}
	return &email, nil
}

// RetryEmails resets the listed pending or failed rows to pending and due now.
// Sent rows are left alone and not counted. Missing ids fail the whole call.
func (s *Service) RetryEmails(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	count := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var missing []string
		for _, id := range ids {
			result, err := tx.ExecContext(ctx, queryRetryEmail, toUnix(at), toUnix(at), id)
			if err != nil {
				return fmt.Errorf("failed to retry email %s: %w", id, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to check rows affected: %w", err)
			}
			if n == 0 {
				var one int
				err := tx.QueryRowContext(ctx, queryEmailExists, id).Scan(&one)
				switch {
				case errors.Is(err, sql.ErrNoRows):
					missing = append(missing, id)
				case err != nil:
					return fmt.Errorf("failed to look up email %s: %w", id, err)
				}
				continue
			}
			count++
		}
		if len(missing) > 0 {
			return fmt.Errorf("emails %s: %w", strings.Join(missing, ", "), store.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	zap.L().Info("Emails re-queued", zap.Int("count", count))
	return count, nil
}

// PurgeEmails deletes rows created before the cutoff regardless of status.
func (s *Service) PurgeEmails(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryPurgeEmails, toUnix(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge emails: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

func (s *Service) GetEmailQueueStatus(ctx context.Context, now time.Time) (models.EmailQueueStatus, error) {
	var status models.EmailQueueStatus

	rows, err := s.db.QueryContext(ctx, queryEmailStatusCounts, toUnix(now))
	if err != nil {
		return status, fmt.Errorf("failed to query email queue status: %w", err)
	}
	defer closeRows(rows)

	for rows.Next() {
		var name string
		var count, due, retrying int
		var oldest sql.NullInt64
		if err := rows.Scan(&name, &count, &due, &retrying, &oldest); err != nil {
			return status, fmt.Errorf("failed to scan email status row: %w", err)
		}
		switch models.EmailStatus(name) {
		case models.EmailPending:
			status.Pending = count
			status.Due = due
			status.Retrying = retrying
			status.OldestPending = fromNullUnix(oldest)
		case models.EmailSent:
			status.Sent = count
		case models.EmailFailed:
			status.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return status, fmt.Errorf("error iterating email status rows: %w", err)
	}
	return status, nil
}

func (s *Service) GetRecentEmails(ctx context.Context, limit int) ([]models.QueuedEmail, error) {
	rows, err := s.db.QueryContext(ctx, queryRecentEmails, normalizeLimit(limit, 20))
	if err != nil {
		return nil, fmt.Errorf("failed to get recent emails: %w", err)
	}
	defer closeRows(rows)
	return scanEmails(rows)
}

func (s *Service) ListNotifications(ctx context.Context, userId string, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, queryListNotifications, userId, normalizeLimit(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer closeRows(rows)

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var createdAt int64
		if err := rows.Scan(&n.Id, &n.UserId, &n.Kind, &n.Title, &n.Message, &n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		n.CreatedAt = fromUnix(createdAt)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}
	return notifications, nil
}
