// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the app lifecycle monitor.
package security

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultShortBackgroundThreshold is the background duration below which a
// return to foreground is treated as a suspected screen recording.
const DefaultShortBackgroundThreshold = 2 * time.Second

// AppState is the foreground/background state reported by the host.
type AppState int

const (
	// AppForeground means the vault is visible and interactive.
	AppForeground AppState = iota
	// AppBackground means the vault is hidden.
	AppBackground
)

// String returns a string representation of the AppState.
func (s AppState) String() string {
	switch s {
	case AppForeground:
		return "foreground"
	case AppBackground:
		return "background"
	default:
		return "unknown"
	}
}

// ParseAppState parses "foreground"/"fg"/"active" and "background"/"bg".
func ParseAppState(s string) (AppState, error) {
	switch s {
	case "foreground", "fg", "active":
		return AppForeground, nil
	case "background", "bg":
		return AppBackground, nil
	default:
		return AppForeground, fmt.Errorf("unknown app state %q", s)
	}
}

// LifecycleState is a snapshot of the monitor's view of the app.
type LifecycleState struct {
	Current             AppState
	LastTransitionAt    time.Time
	BackgroundEnteredAt *time.Time
}

// =============================================================================
// LIFECYCLE MONITOR
// =============================================================================

// LifecycleMonitor turns raw foreground/background notifications into
// security events and drives the auto-lock timer. Transitions are applied
// one at a time, in arrival order.
type LifecycleMonitor struct {
	mu sync.Mutex

	clock     clockwork.Clock
	log       *EventLog
	timer     *AutoLockTimer
	breach    *BreachController
	lock      LockFunc
	logger    *slog.Logger
	threshold time.Duration

	current             AppState
	lastTransitionAt    time.Time
	backgroundEnteredAt *time.Time
}

// LifecycleOption is a functional option for configuring a LifecycleMonitor.
type LifecycleOption func(*LifecycleMonitor)

// WithLifecycleClock sets the clock used to measure background time.
func WithLifecycleClock(c clockwork.Clock) LifecycleOption {
	return func(m *LifecycleMonitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLifecycleLogger sets the structured logger.
func WithLifecycleLogger(l *slog.Logger) LifecycleOption {
	return func(m *LifecycleMonitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithShortBackgroundThreshold overrides the suspected-recording threshold.
func WithShortBackgroundThreshold(d time.Duration) LifecycleOption {
	return func(m *LifecycleMonitor) {
		if d > 0 {
			m.threshold = d
		}
	}
}

// NewLifecycleMonitor creates a monitor that starts in the foreground.
// breach may be nil, in which case suspected recordings only log and lock.
func NewLifecycleMonitor(log *EventLog, timer *AutoLockTimer, breach *BreachController, lock LockFunc, opts ...LifecycleOption) *LifecycleMonitor {
	m := &LifecycleMonitor{
		clock:     clockwork.NewRealClock(),
		log:       log,
		timer:     timer,
		breach:    breach,
		lock:      lock,
		logger:    discardLogger(),
		threshold: DefaultShortBackgroundThreshold,
		current:   AppForeground,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastTransitionAt = m.clock.Now()
	return m
}

// HandleTransition applies a state notification from the host. Repeating the
// current state is a no-op. All log and timer effects are applied before it
// returns.
//
// The lock callback runs while the monitor is held, so it must not call
// HandleTransition.
func (m *LifecycleMonitor) HandleTransition(next AppState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next == m.current {
		return
	}

	now := m.clock.Now()
	switch next {
	case AppBackground:
		m.enterBackground(now)
	case AppForeground:
		m.enterForeground(now)
	default:
		m.logger.Warn("ignoring unknown app state", "state", int(next))
		return
	}
	m.current = next
	m.lastTransitionAt = now
}

func (m *LifecycleMonitor) enterBackground(now time.Time) {
	entered := now
	m.backgroundEnteredAt = &entered

	m.log.Append(EventAppBackgrounded, "App moved to background - security activated")

	// The countdown does not run while backgrounded; foregrounding restarts it.
	m.timer.Reset()

	if m.timer.Duration() == 0 {
		m.log.Append(EventAutoLock, "Auto-lock on background (timeout is 0 minutes)")
		m.invokeLock("background")
	}
}

func (m *LifecycleMonitor) enterForeground(now time.Time) {
	locked := false
	if m.backgroundEnteredAt != nil {
		elapsed := now.Sub(*m.backgroundEnteredAt)
		m.backgroundEnteredAt = nil

		if elapsed < m.threshold {
			m.log.Append(EventScreenRecording, fmt.Sprintf(
				"Potential screen recording detected (short background duration: %dms)",
				elapsed.Milliseconds(),
			))
			if m.breach != nil {
				m.breach.SetBreach(EventScreenRecording)
			}
			m.invokeLock("screen_recording")
			locked = true
		}
	}

	// A zero timer would fire at once and lock a second time.
	if locked && m.timer.Duration() == 0 {
		return
	}
	m.timer.Start()
}

func (m *LifecycleMonitor) invokeLock(reason string) {
	if m.lock == nil {
		return
	}
	if err := m.lock(); err != nil {
		m.logger.Error("vault lock failed", "reason", reason, "err", err)
	}
}

// State returns a snapshot of the current lifecycle state.
func (m *LifecycleMonitor) State() LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := LifecycleState{
		Current:          m.current,
		LastTransitionAt: m.lastTransitionAt,
	}
	if m.backgroundEnteredAt != nil {
		t := *m.backgroundEnteredAt
		st.BackgroundEnteredAt = &t
	}
	return st
}
