// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the periodic security check scheduler.
package security

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// DefaultCheckInterval is how often the scheduler runs its tasks.
const DefaultCheckInterval = 30 * time.Second

// ErrRateLimited is returned by RunNow when rounds are requested too often.
var ErrRateLimited = errors.New("security checks rate limited")

// ErrSchedulerRunning is returned by Start when the scheduler is already running.
var ErrSchedulerRunning = errors.New("scheduler already running")

// Task is one periodic check. Its error is logged and does not stop the loop.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs a fixed set of tasks on an interval. Each task is isolated:
// a failing or panicking task does not affect the others or the loop.
type Scheduler struct {
	clock    clockwork.Clock
	interval time.Duration
	tasks    []Task
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(clock clockwork.Clock, interval time.Duration, logger *slog.Logger, tasks ...Task) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Scheduler{
		clock:    clock,
		interval: interval,
		tasks:    tasks,
		logger:   logger,
		// One manual round per second with a small burst.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// Start launches the loop. The first round runs one interval after Start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ticker := s.clock.NewTicker(s.interval)
	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.runRound(ctx)
			}
		}
	}(s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight round to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// RunNow runs one round immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.limiter.Allow() {
		return ErrRateLimited
	}
	s.runRound(ctx)
	return nil
}

func (s *Scheduler) runRound(ctx context.Context) {
	for _, task := range s.tasks {
		if ctx.Err() != nil {
			return
		}
		s.runTask(ctx, task)
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("security task panicked", "task", task.Name, "panic", r)
		}
	}()
	if err := task.Run(ctx); err != nil {
		s.logger.Warn("security task failed", "task", task.Name, "err", err)
	}
}
