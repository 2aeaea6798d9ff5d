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

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"invest-ledger-go/internal/formance"
	"invest-ledger-go/internal/investments"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/notify"
	"invest-ledger-go/internal/reconciler"
)

type markCall struct {
	job      string
	finished bool
	err      error
}

type memoryMarks struct {
	mu    sync.Mutex
	calls []markCall
}

func (m *memoryMarks) MarkJobStarted(_ context.Context, job string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, markCall{job: job})
	return nil
}

func (m *memoryMarks) MarkJobFinished(_ context.Context, job string, _ time.Time, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, markCall{job: job, finished: true, err: runErr})
	return nil
}

func (m *memoryMarks) snapshot() []markCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]markCall(nil), m.calls...)
}

func noop(context.Context, time.Time) error { return nil }

func TestRegisterValidates(t *testing.T) {
	s := New(&memoryMarks{}, time.Second, nil)

	if err := s.Register(Job{Name: "bad", Spec: "every tuesday", Run: noop}); err == nil {
		t.Error("Expected an error for an invalid spec")
	}
	if err := s.Register(Job{Name: "", Spec: "@daily", Run: noop}); err == nil {
		t.Error("Expected an error for an unnamed job")
	}
	if err := s.Register(Job{Name: "ok", Spec: "@daily", Run: noop}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.Register(Job{Name: "ok", Spec: "@hourly", Run: noop}); !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("Expected ErrDuplicateJob, got %v", err)
	}
	if err := s.Register(Job{Name: "manual", Run: noop}); err != nil {
		t.Errorf("Manual-only job should register: %v", err)
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0] != "manual" || jobs[1] != "ok" {
		t.Errorf("Jobs() = %v", jobs)
	}
}

func TestRunNowRecordsMarks(t *testing.T) {
	marks := &memoryMarks{}
	s := New(marks, time.Second, nil)
	fixed := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	boom := errors.New("boom")
	var gotNow time.Time
	if err := s.Register(Job{Name: "flaky", Run: func(_ context.Context, now time.Time) error {
		gotNow = now
		return boom
	}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected ErrUnknownJob, got %v", err)
	}

	err := s.RunNow(context.Background(), "flaky")
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the job error, got %v", err)
	}
	if !gotNow.Equal(fixed) {
		t.Errorf("Job saw now=%v, want %v", gotNow, fixed)
	}

	calls := marks.snapshot()
	if len(calls) != 2 || calls[0].finished || !calls[1].finished || !errors.Is(calls[1].err, boom) {
		t.Errorf("Unexpected marks: %+v", calls)
	}
}

func TestRunNowSkipsOverlappingRun(t *testing.T) {
	s := New(&memoryMarks{}, time.Minute, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	if err := s.Register(Job{Name: "slow", Run: func(context.Context, time.Time) error {
		close(entered)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-entered

	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, ErrJobRunning) {
		t.Errorf("Expected ErrJobRunning, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("First run failed: %v", err)
	}
}

func TestRunAppliesTimeout(t *testing.T) {
	s := New(&memoryMarks{}, 20*time.Millisecond, nil)
	if err := s.Register(Job{Name: "stuck", Run: func(ctx context.Context, _ time.Time) error {
		<-ctx.Done()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := s.RunNow(context.Background(), "stuck"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestStartFiresScheduledJobs(t *testing.T) {
	marks := &memoryMarks{}
	s := New(marks, time.Second, nil)

	fired := make(chan struct{}, 4)
	if err := s.Register(Job{Name: "tick", Spec: "@every 1s", Run: func(context.Context, time.Time) error {
		fired <- struct{}{}
		return nil
	}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	s.Start()
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("Scheduled job never fired")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

type countingExporter struct{ calls int }

func (e *countingExporter) Export(context.Context) (int, error) {
	e.calls++
	return 0, nil
}

func TestEngineJobsTable(t *testing.T) {
	jobs := EngineJobs(models.SchedulerConfig{ExpirySpec: "0 */2 * * *"}, Engine{})

	specs := map[string]string{}
	for _, job := range jobs {
		specs[job.Name] = job.Spec
	}
	want := map[string]string{
		investments.JobDailyAccrual:     DefaultDailyAccrualSpec,
		investments.JobMaturityCheck:    DefaultMaturitySpec,
		reconciler.JobTransactionExpiry: "0 */2 * * *",
		notify.JobEmailDrain:            DefaultEmailDrainSpec,
		notify.JobEmailPurge:            DefaultEmailPurgeSpec,
	}
	if len(specs) != len(want) {
		t.Fatalf("EngineJobs = %v, want %v", specs, want)
	}
	for name, spec := range want {
		if specs[name] != spec {
			t.Errorf("Job %s spec = %q, want %q", name, specs[name], spec)
		}
	}

	exporter := &countingExporter{}
	s := New(&memoryMarks{}, time.Second, nil)
	if err := s.RegisterAll(EngineJobs(models.SchedulerConfig{}, Engine{Exporter: exporter})); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}
	if err := s.RunNow(context.Background(), formance.JobLedgerExport); err != nil {
		t.Fatalf("Export job failed: %v", err)
	}
	if exporter.calls != 1 {
		t.Errorf("Exporter called %d times", exporter.calls)
	}
}
