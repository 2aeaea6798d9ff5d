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
	"fmt"
	"sort"
	"sync"
	"time"

	"invest-ledger-go/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrJobRunning   = errors.New("job already running")
	ErrDuplicateJob = errors.New("job already registered")
)

// DefaultJobTimeout bounds a single run when none is configured.
const DefaultJobTimeout = 10 * time.Minute

// JobFunc performs one run. now is the instant the run was triggered.
type JobFunc func(ctx context.Context, now time.Time) error

type Job struct {
	Name string
	// Spec is a standard five-field cron expression or a descriptor such as @daily.
	Spec string
	Run  JobFunc
}

// Marks records run bookkeeping. It is observability only.
type Marks interface {
	MarkJobStarted(ctx context.Context, job string, at time.Time) error
	MarkJobFinished(ctx context.Context, job string, at time.Time, runErr error) error
}

type registeredJob struct {
	Job
	running sync.Mutex
}

// Scheduler fires registered jobs on their cron cadence in UTC. Overlapping
// runs of the same job are skipped, never queued.
type Scheduler struct {
	cron    *cron.Cron
	marks   Marks
	timeout time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	jobs    map[string]*registeredJob
	started bool
}

func New(marks Marks, timeout time.Duration, m *metrics.Metrics) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		marks:   marks,
		timeout: timeout,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		jobs:    make(map[string]*registeredJob),
	}
}

// Register validates the cadence and adds the job. An empty Spec registers
// the job for RunNow only.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}

	rj := &registeredJob{Job: job}
	if job.Spec != "" {
		if _, err := cron.ParseStandard(job.Spec); err != nil {
			return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
		}
		_, err := s.cron.AddFunc(job.Spec, func() {
			if err := s.run(context.Background(), rj); err != nil && !errors.Is(err, ErrJobRunning) {
				zap.L().Error("Scheduled job failed", zap.String("job", rj.Name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", job.Name, err)
		}
	}
	s.jobs[job.Name] = rj

	zap.L().Info("Job registered", zap.String("job", job.Name), zap.String("spec", job.Spec))
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	zap.L().Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop prevents new runs and waits for running ones until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		zap.L().Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop interrupted: %w", ctx.Err())
	}
}

// RunNow runs a job synchronously, for external timers and operators.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, rj)
}

func (s *Scheduler) run(ctx context.Context, rj *registeredJob) error {
	if !rj.running.TryLock() {
		zap.L().Info("Job still running, skipping", zap.String("job", rj.Name))
		return fmt.Errorf("%w: %s", ErrJobRunning, rj.Name)
	}
	defer rj.running.Unlock()

	started := s.now()
	if err := s.marks.MarkJobStarted(ctx, rj.Name, started); err != nil {
		zap.L().Warn("Failed to mark job started", zap.String("job", rj.Name), zap.Error(err))
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	runErr := rj.Run(runCtx, started)
	cancel()

	finished := s.now()
	// The run context may have expired; bookkeeping still gets written.
	if err := s.marks.MarkJobFinished(context.WithoutCancel(ctx), rj.Name, finished, runErr); err != nil {
		zap.L().Warn("Failed to mark job finished", zap.String("job", rj.Name), zap.Error(err))
	}

	took := finished.Sub(started)
	s.metrics.ObserveJob(rj.Name, took, runErr)
	if runErr != nil {
		return fmt.Errorf("job %s: %w", rj.Name, runErr)
	}
	zap.L().Debug("Job finished", zap.String("job", rj.Name), zap.Duration("took", took))
	return nil
}

// cronLogger routes cron's internal logging to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
