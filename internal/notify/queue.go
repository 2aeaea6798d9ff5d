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

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invest-ledger-go/internal/metrics"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	JobEmailDrain = "email-drain"
	JobEmailPurge = "email-purge"

	DefaultSendTimeout  = 10 * time.Second
	DefaultRetryBackoff = 60 * time.Second
	DefaultDrainLimit   = 50
)

// DrainStats summarizes one pass over the outbox.
type DrainStats struct {
	Selected int `json:"selected"`
	Sent     int `json:"sent"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
}

// Queue is the delivery side of the email outbox. Rows are inserted by the
// engine inside its own transactions; the queue renders and sends them.
type Queue struct {
	store    store.LedgerStore
	renderer Renderer
	sender   Sender
	cfg      models.MailConfig
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewQueue(s store.LedgerStore, renderer Renderer, sender Sender, cfg models.MailConfig, m *metrics.Metrics) *Queue {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = models.DefaultMaxRetries
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	return &Queue{
		store:    s,
		renderer: renderer,
		sender:   sender,
		cfg:      cfg,
		limiter:  limiter,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue adds an email to the outbox. A zero scheduledFor means now.
func (q *Queue) Enqueue(ctx context.Context, to string, vars models.EmailVariables,
	priority models.EmailPriority, scheduledFor time.Time) (*models.QueuedEmail, error) {

	return q.store.EnqueueEmail(ctx, store.EnqueueEmailParams{
		To:           to,
		Variables:    vars,
		Priority:     priority,
		ScheduledFor: scheduledFor,
		MaxRetries:   q.cfg.MaxRetries,
		At:           q.now(),
	})
}

// Drain delivers up to limit due emails, highest priority and oldest first.
// Each send runs outside any database transaction with its own timeout.
func (q *Queue) Drain(ctx context.Context, limit int) (DrainStats, error) {
	var stats DrainStats
	if limit <= 0 {
		limit = DefaultDrainLimit
	}

	due, err := q.store.ListDueEmails(ctx, q.now(), limit)
	if err != nil {
		return stats, fmt.Errorf("failed to list due emails: %w", err)
	}
	stats.Selected = len(due)

	for i := range due {
		if err := q.limiter.Wait(ctx); err != nil {
			return stats, err
		}

		email := &due[i]
		sendErr := q.deliver(ctx, email)
		if sendErr == nil {
			if err := q.store.MarkEmailSent(ctx, email.Id, q.now()); err != nil {
				zap.L().Error("Failed to mark email sent", zap.String("email_id", email.Id), zap.Error(err))
				continue
			}
			stats.Sent++
			q.metrics.IncEmailDelivery(email.TemplateName, "sent")
			continue
		}

		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		updated, err := q.store.RecordEmailFailure(ctx, email.Id, sendErr.Error(), q.now(), q.cfg.RetryBackoff)
		if err != nil {
			zap.L().Error("Failed to record email failure", zap.String("email_id", email.Id), zap.Error(err))
			continue
		}
		if updated.Status == models.EmailFailed {
			stats.Failed++
			q.metrics.IncEmailDelivery(email.TemplateName, "failed")
		} else {
			stats.Retried++
			q.metrics.IncEmailDelivery(email.TemplateName, "retry")
		}
		zap.L().Warn("Email delivery attempt failed",
			zap.String("email_id", email.Id),
			zap.String("template", email.TemplateName),
			zap.Int("retry_count", updated.RetryCount),
			zap.Time("scheduled_for", updated.ScheduledFor),
			zap.Error(sendErr))
	}

	if stats.Selected > 0 {
		zap.L().Info("Email drain finished",
			zap.Int("selected", stats.Selected),
			zap.Int("sent", stats.Sent),
			zap.Int("retried", stats.Retried),
			zap.Int("failed", stats.Failed))
	}
	return stats, nil
}

func (q *Queue) deliver(ctx context.Context, email *models.QueuedEmail) error {
	vars, err := models.DecodeEmailVariables(email.TemplateName, email.Variables)
	if err != nil {
		return err
	}
	msg, err := q.renderer.Render(vars)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
	defer cancel()

	err = q.sender.Send(sendCtx, Envelope{
		From:    q.cfg.From,
		To:      email.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil && !errors.Is(err, ErrTransientDelivery) {
		err = fmt.Errorf("%w: %v", ErrTransientDelivery, err)
	}
	return err
}

// Retry re-queues the given pending or failed emails as due now. Sent emails
// are skipped.
func (q *Queue) Retry(ctx context.Context, ids []string) (int, error) {
	return q.store.RetryEmails(ctx, ids, q.now())
}

// PurgeOlderThan deletes every row created more than days ago.
func (q *Queue) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("retention must be at least one day, got %d", days)
	}
	cutoff := q.now().AddDate(0, 0, -days)
	n, err := q.store.PurgeEmails(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Info("Purged old emails", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

func (q *Queue) Status(ctx context.Context) (models.EmailQueueStatus, error) {
	return q.store.GetEmailQueueStatus(ctx, q.now())
}

func (q *Queue) Recent(ctx context.Context, limit int) ([]models.QueuedEmail, error) {
	return q.store.GetRecentEmails(ctx, limit)
}
