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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"invest-ledger-go/internal/database"
	"invest-ledger-go/internal/models"
)

var testStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	sent []Envelope
	fail error
}

func (s *recordingSender) Send(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *recordingSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, env := range s.sent {
		out[i] = env.To
	}
	return out
}

func setupTestQueue(t *testing.T) (*Queue, *recordingSender, *time.Time) {
	t.Helper()
	service, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:              filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns:      4,
		MaxIdleConns:      2,
		PingTimeout:       5 * time.Second,
		BusyTimeout:       10 * time.Second,
		StaleWriteRetries: 3,
	})
	if err != nil {
		t.Fatalf("Failed to create database service: %v", err)
	}
	t.Cleanup(service.Close)

	renderer, err := NewTemplateRenderer("")
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}

	sender := &recordingSender{}
	q := NewQueue(service, renderer, sender, models.MailConfig{From: "ledger@example.com"}, nil)
	now := testStart
	q.now = func() time.Time { return now }
	return q, sender, &now
}

func depositVars(name string) models.DepositConfirmedVars {
	return models.DepositConfirmedVars{TransactionVars: models.TransactionVars{
		UserName:      name,
		TransactionId: "tx-1",
		ChainHash:     "0xabc",
		Currency:      "USDC",
		CryptoAmount:  "250",
		UsdValue:      "250.00",
	}}
}

func TestDrainDeliversInPriorityThenAgeOrder(t *testing.T) {
	q, sender, now := setupTestQueue(t)
	ctx := context.Background()

	enqueue := func(to string, priority models.EmailPriority) {
		t.Helper()
		if _, err := q.Enqueue(ctx, to, depositVars("Ada"), priority, time.Time{}); err != nil {
			t.Fatalf("Enqueue %s failed: %v", to, err)
		}
		*now = now.Add(time.Second)
	}
	enqueue("low@example.com", models.PriorityLow)
	enqueue("normal-1@example.com", models.PriorityNormal)
	enqueue("urgent@example.com", models.PriorityUrgent)
	enqueue("normal-2@example.com", models.PriorityNormal)
	enqueue("high@example.com", models.PriorityHigh)

	stats, err := q.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if stats.Selected != 5 || stats.Sent != 5 {
		t.Fatalf("Unexpected stats: %+v", stats)
	}

	want := []string{"urgent@example.com", "high@example.com", "normal-1@example.com", "normal-2@example.com", "low@example.com"}
	got := sender.recipients()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Delivery order = %v, want %v", got, want)
		}
	}

	status, err := q.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Sent != 5 || status.Pending != 0 {
		t.Errorf("Unexpected queue status: %+v", status)
	}
}

func TestDrainSkipsFutureEmails(t *testing.T) {
	q, sender, now := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "later@example.com", depositVars("Ada"), models.PriorityUrgent, now.Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	stats, err := q.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if stats.Selected != 0 || len(sender.recipients()) != 0 {
		t.Fatalf("Future email delivered early: %+v", stats)
	}

	*now = now.Add(time.Hour)
	if stats, err = q.Drain(ctx, 10); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if stats.Sent != 1 {
		t.Errorf("Expected the email once due, got %+v", stats)
	}
}

func TestDrainRendersEnvelope(t *testing.T) {
	q, sender, _ := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "ada@example.com", depositVars("Ada"), models.PriorityNormal, time.Time{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Drain(ctx, 1); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("Expected one envelope, got %d", len(sender.sent))
	}
	env := sender.sent[0]
	if env.From != "ledger@example.com" {
		t.Errorf("From = %q", env.From)
	}
	if env.Subject != "Invest Ledger: Deposit confirmed" {
		t.Errorf("Subject = %q", env.Subject)
	}
	if env.Text == "" || env.HTML == "" {
		t.Errorf("Expected both bodies, got %+v", env)
	}
}

func TestDrainBacksOffThenFails(t *testing.T) {
	q, sender, now := setupTestQueue(t)
	ctx := context.Background()
	sender.fail = errors.New("relay unavailable")

	email, err := q.Enqueue(ctx, "ada@example.com", depositVars("Ada"), models.PriorityNormal, time.Time{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for attempt, wantDelay := range []time.Duration{60 * time.Second, 120 * time.Second} {
		stats, err := q.Drain(ctx, 10)
		if err != nil {
			t.Fatalf("Drain %d failed: %v", attempt, err)
		}
		if stats.Retried != 1 {
			t.Fatalf("Drain %d: expected a retry, got %+v", attempt, stats)
		}

		recent, err := q.Recent(ctx, 1)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		got := recent[0]
		if got.Id != email.Id || got.Status != models.EmailPending || got.RetryCount != attempt+1 {
			t.Fatalf("Drain %d: unexpected row %+v", attempt, got)
		}
		if delay := got.ScheduledFor.Sub(*now); delay != wantDelay {
			t.Errorf("Drain %d: rescheduled after %v, want %v", attempt, delay, wantDelay)
		}

		if stats, _ := q.Drain(ctx, 10); stats.Selected != 0 {
			t.Fatalf("Drain %d: email retried before backoff elapsed", attempt)
		}
		*now = got.ScheduledFor
	}

	stats, err := q.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Final drain failed: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("Expected terminal failure, got %+v", stats)
	}

	status, err := q.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Failed != 1 || status.Pending != 0 {
		t.Errorf("Unexpected status after failure: %+v", status)
	}

	// A failed row is never picked up again until retried.
	*now = now.Add(time.Hour)
	if stats, _ := q.Drain(ctx, 10); stats.Selected != 0 {
		t.Errorf("Failed email selected again: %+v", stats)
	}

	sender.fail = nil
	n, err := q.Retry(ctx, []string{email.Id})
	if err != nil || n != 1 {
		t.Fatalf("Retry = %d, %v", n, err)
	}
	if stats, err = q.Drain(ctx, 10); err != nil || stats.Sent != 1 {
		t.Fatalf("Expected delivery after retry, got %+v, %v", stats, err)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	q, _, now := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.PurgeOlderThan(ctx, 0); err == nil {
		t.Fatal("Expected an error for zero retention")
	}

	if _, err := q.Enqueue(ctx, "old@example.com", depositVars("Ada"), models.PriorityNormal, time.Time{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	*now = now.AddDate(0, 0, 31)
	if _, err := q.Enqueue(ctx, "new@example.com", depositVars("Ada"), models.PriorityNormal, time.Time{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	n, err := q.PurgeOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("PurgeOlderThan failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Purged %d rows, want 1", n)
	}

	recent, err := q.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].To != "new@example.com" {
		t.Errorf("Unexpected remaining rows: %+v", recent)
	}
}
