// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the vault auto-lock timer.
//
// The timer is a single-shot countdown: Start arms it, Reset disarms it, and
// when it fires it logs an auto_lock event and locks the vault once.
//
// # States
//
//	idle  --Start-->        armed
//	armed --Start-->        armed (old deadline discarded)
//	armed --Reset / fire--> idle
package security

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultAutoLockMinutes is the inactivity threshold used when none is configured.
const DefaultAutoLockMinutes = 5

// DefaultAutoLockDuration is DefaultAutoLockMinutes as a duration.
const DefaultAutoLockDuration = DefaultAutoLockMinutes * time.Minute

// ErrInvalidAutoLock is returned for a negative auto-lock configuration.
var ErrInvalidAutoLock = errors.New("auto-lock minutes must be >= 0")

// =============================================================================
// AUTO-LOCK TIMER
// =============================================================================

// AutoLockTimer locks the vault after a period of inactivity.
// At most one deadline is pending at any time.
type AutoLockTimer struct {
	mu sync.Mutex

	clock  clockwork.Clock
	log    *EventLog
	lock   LockFunc
	logger *slog.Logger

	duration time.Duration
	timer    clockwork.Timer
	deadline time.Time

	// gen identifies the currently armed deadline. A timer callback carrying
	// an older generation was cancelled and must not fire.
	gen uint64
}

// AutoLockOption is a functional option for configuring an AutoLockTimer.
type AutoLockOption func(*AutoLockTimer)

// WithTimerClock sets the clock used for scheduling.
func WithTimerClock(c clockwork.Clock) AutoLockOption {
	return func(t *AutoLockTimer) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithTimerLogger sets the structured logger.
func WithTimerLogger(l *slog.Logger) AutoLockOption {
	return func(t *AutoLockTimer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithAutoLockDuration sets the initial inactivity threshold.
func WithAutoLockDuration(d time.Duration) AutoLockOption {
	return func(t *AutoLockTimer) {
		if d >= 0 {
			t.duration = d
		}
	}
}

// NewAutoLockTimer creates an idle timer that records to log and calls lock
// when it fires.
func NewAutoLockTimer(log *EventLog, lock LockFunc, opts ...AutoLockOption) *AutoLockTimer {
	t := &AutoLockTimer{
		clock:    clockwork.NewRealClock(),
		log:      log,
		lock:     lock,
		logger:   discardLogger(),
		duration: DefaultAutoLockDuration,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Configure sets the inactivity threshold in whole minutes. Zero is valid and
// means the vault locks as soon as it is backgrounded. A pending deadline is
// left untouched; the new value applies from the next Start.
func (t *AutoLockTimer) Configure(minutes int) error {
	if minutes < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAutoLock, minutes)
	}

	t.mu.Lock()
	t.duration = time.Duration(minutes) * time.Minute
	t.mu.Unlock()

	t.log.Append(EventAutoLock, fmt.Sprintf("Auto-lock time set to %d minutes", minutes))
	return nil
}

// Start cancels any pending deadline and arms a new one at now + duration.
func (t *AutoLockTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()

	gen := t.gen
	t.deadline = t.clock.Now().Add(t.duration)
	t.timer = t.clock.AfterFunc(t.duration, func() {
		t.fire(gen)
	})
}

// Reset cancels the pending deadline without arming a new one.
func (t *AutoLockTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// cancelLocked stops the runtime timer and invalidates its generation.
// Callers must hold t.mu.
func (t *AutoLockTimer) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.deadline = time.Time{}
	t.gen++
}

// fire runs on the clock's goroutine when a deadline elapses.
func (t *AutoLockTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.timer == nil {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.deadline = time.Time{}
	t.gen++
	t.mu.Unlock()

	t.log.Append(EventAutoLock, "Auto-lock triggered due to inactivity")

	// A failed lock is not retried; the timer is already idle.
	if t.lock == nil {
		return
	}
	if err := t.lock(); err != nil {
		t.logger.Error("auto-lock callback failed", "err", err)
	}
}

// Armed reports whether a deadline is pending.
func (t *AutoLockTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Deadline returns the pending fire time, if any.
func (t *AutoLockTimer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return time.Time{}, false
	}
	return t.deadline, true
}

// Remaining returns the time until the pending deadline, or 0 when idle.
func (t *AutoLockTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return 0
	}
	if d := t.deadline.Sub(t.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Duration returns the configured inactivity threshold.
func (t *AutoLockTimer) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}
