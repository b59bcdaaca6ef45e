// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the coordinator that owns one vault session's
// security components.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// =============================================================================
// LOCK REASONS
// =============================================================================

// Lock reasons reported to the Observer.
const (
	LockReasonAutoLock  = "auto_lock"
	LockReasonLifecycle = "lifecycle"
	LockReasonUser      = "user"
)

// Errors returned by NewCoordinator and Start.
var (
	ErrMissingLock    = errors.New("coordinator requires a lock function")
	ErrAlreadyStarted = errors.New("coordinator already started")
	ErrClosed         = errors.New("coordinator is closed")
)

// =============================================================================
// CONFIG & DEPS
// =============================================================================

// Config holds the tunables of a coordinator.
type Config struct {
	// AutoLockMinutes is the inactivity threshold. 0 locks on background.
	AutoLockMinutes int
	// ShortBackgroundThreshold is the background time below which a return
	// to foreground is treated as a suspected screen recording.
	ShortBackgroundThreshold time.Duration
	// EventLogCapacity bounds the in-memory event log.
	EventLogCapacity int
	// CheckInterval is how often compliance and clipboard checks run.
	CheckInterval time.Duration
	// ClipboardAutoClear is the SetSecure default.
	ClipboardAutoClear bool
	// ClipboardClearDelay is the SetSecure default delay.
	ClipboardClearDelay time.Duration
	// ClipboardInspectMaxLen is the payload size Inspect tolerates.
	ClipboardInspectMaxLen int
}

// DefaultConfig returns the stock coordinator settings.
func DefaultConfig() Config {
	return Config{
		AutoLockMinutes:          DefaultAutoLockMinutes,
		ShortBackgroundThreshold: DefaultShortBackgroundThreshold,
		EventLogCapacity:         DefaultEventLogCapacity,
		CheckInterval:            DefaultCheckInterval,
		ClipboardAutoClear:       true,
		ClipboardClearDelay:      DefaultClipboardClearDelay,
		ClipboardInspectMaxLen:   DefaultClipboardInspectMaxLen,
	}
}

// Observer receives counters for metrics. All methods must be cheap and
// must not call back into the coordinator.
type Observer interface {
	EventRecorded(kind EventKind)
	VaultLocked(reason string, err error)
	ComplianceChecked(verdict ComplianceVerdict, err error)
	ClipboardOp(op string, err error)
}

// Deps are the collaborators a coordinator needs. Lock is required.
type Deps struct {
	Lock      LockFunc
	Checker   ComplianceChecker
	Clipboard ClipboardBackend
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Observer  Observer
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator owns the security components of one vault session. It is
// constructed explicitly and passed to whatever needs it.
type Coordinator struct {
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	lock     LockFunc
	observer Observer

	log       *EventLog
	timer     *AutoLockTimer
	breach    *BreachController
	lifecycle *LifecycleMonitor
	clipboard *ClipboardManager
	scheduler *Scheduler

	mu      sync.Mutex
	started bool
	closed  bool
	unsubs  []func()
}

// NewCoordinator wires a coordinator. Nothing runs until Start.
func NewCoordinator(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Lock == nil {
		return nil, ErrMissingLock
	}
	if cfg.AutoLockMinutes < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAutoLock, cfg.AutoLockMinutes)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}

	c := &Coordinator{
		cfg:      cfg,
		clock:    deps.Clock,
		logger:   deps.Logger,
		lock:     deps.Lock,
		observer: deps.Observer,
	}

	c.log = NewEventLog(WithCapacity(cfg.EventLogCapacity), WithEventClock(c.clock))
	if c.observer != nil {
		c.unsubs = append(c.unsubs, c.log.Subscribe(func(ev Event) {
			c.observer.EventRecorded(ev.Kind)
		}))
	}

	c.timer = NewAutoLockTimer(c.log, c.lockFor(LockReasonAutoLock),
		WithTimerClock(c.clock),
		WithTimerLogger(c.logger),
		WithAutoLockDuration(time.Duration(cfg.AutoLockMinutes)*time.Minute),
	)
	c.breach = NewBreachController(c.log, deps.Checker, c.logger)
	c.lifecycle = NewLifecycleMonitor(c.log, c.timer, c.breach, c.lockFor(LockReasonLifecycle),
		WithLifecycleClock(c.clock),
		WithLifecycleLogger(c.logger),
		WithShortBackgroundThreshold(cfg.ShortBackgroundThreshold),
	)

	clipOpts := []ClipboardManagerOption{
		WithClipboardClock(c.clock),
		WithClipboardLogger(c.logger),
		WithDefaultAutoClear(cfg.ClipboardAutoClear),
		WithDefaultClearDelay(cfg.ClipboardClearDelay),
		WithInspectMaxLen(cfg.ClipboardInspectMaxLen),
	}
	if c.observer != nil {
		clipOpts = append(clipOpts, WithClipboardObserver(c.observer.ClipboardOp))
	}
	c.clipboard = NewClipboardManager(deps.Clipboard, c.log, clipOpts...)

	var tasks []Task
	if deps.Checker != nil {
		tasks = append(tasks, Task{Name: "compliance", Run: c.runCompliance})
	}
	if deps.Clipboard != nil {
		tasks = append(tasks, Task{Name: "clipboard", Run: c.clipboard.Inspect})
	}
	c.scheduler = NewScheduler(c.clock, cfg.CheckInterval, c.logger, tasks...)

	return c, nil
}

// Start enables screenshot detection, runs the first compliance check, arms
// the auto-lock timer and starts the periodic checks. A failing first
// compliance check is logged and does not stop Start.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.log.Append(EventScreenshotAttempt, "Screenshot detection active - will detect app background events")

	if _, err := c.CheckCompliance(ctx); err != nil && !errors.Is(err, ErrNoChecker) {
		c.logger.Warn("initial compliance check failed", "err", err)
	}

	c.timer.Start()

	if err := c.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	c.logger.Info("security coordinator started",
		"auto_lock", c.timer.Duration(),
		"check_interval", c.cfg.CheckInterval,
	)
	return nil
}

// Close stops the scheduler and all timers and drops internal subscriptions.
// It is safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	c.scheduler.Stop()
	c.timer.Reset()
	c.clipboard.Close()
	for _, unsub := range unsubs {
		unsub()
	}
}

// HandleTransition feeds a foreground/background notification to the
// lifecycle monitor.
func (c *Coordinator) HandleTransition(state AppState) {
	c.lifecycle.HandleTransition(state)
}

// RecordActivity restarts the inactivity countdown after user interaction.
// It does nothing while backgrounded or when the timer is idle.
func (c *Coordinator) RecordActivity() {
	if c.lifecycle.State().Current != AppForeground {
		return
	}
	if c.timer.Armed() {
		c.timer.Start()
	}
}

// Acknowledge clears breach state after the user dismisses the warning.
func (c *Coordinator) Acknowledge() {
	c.breach.Reset()
}

// LockNow is the user's explicit lock action: it clears breach state,
// disarms the timer and locks the vault.
func (c *Coordinator) LockNow() error {
	c.breach.Reset()
	c.timer.Reset()
	return c.lockFor(LockReasonUser)()
}

// SetAutoLockMinutes reconfigures the inactivity threshold. A running
// countdown keeps its deadline; the new value applies from the next restart.
func (c *Coordinator) SetAutoLockMinutes(minutes int) error {
	return c.timer.Configure(minutes)
}

// RunChecksNow runs the periodic checks immediately.
func (c *Coordinator) RunChecksNow(ctx context.Context) error {
	return c.scheduler.RunNow(ctx)
}

// CheckCompliance runs a single compliance check and returns the verdict.
func (c *Coordinator) CheckCompliance(ctx context.Context) (ComplianceVerdict, error) {
	verdict, err := c.breach.RunComplianceCheck(ctx)
	if c.observer != nil {
		c.observer.ComplianceChecked(verdict, err)
	}
	return verdict, err
}

// Events returns the retained security events, oldest first.
func (c *Coordinator) Events() []Event {
	return c.log.All()
}

// ClearEvents empties the in-memory event log.
func (c *Coordinator) ClearEvents() {
	c.log.Clear()
}

// Breach returns the current breach state.
func (c *Coordinator) Breach() BreachState {
	return c.breach.State()
}

// Lifecycle returns the current lifecycle snapshot.
func (c *Coordinator) Lifecycle() LifecycleState {
	return c.lifecycle.State()
}

// Timer exposes the auto-lock timer for status display.
func (c *Coordinator) Timer() *AutoLockTimer {
	return c.timer
}

// Clipboard exposes the clipboard manager.
func (c *Coordinator) Clipboard() *ClipboardManager {
	return c.clipboard
}

// SubscribeEvents registers fn for every appended security event.
func (c *Coordinator) SubscribeEvents(fn func(Event)) (unsubscribe func()) {
	return c.log.Subscribe(fn)
}

// SubscribeBreach registers fn for every breach state change.
func (c *Coordinator) SubscribeBreach(fn func(BreachState)) (unsubscribe func()) {
	return c.breach.Subscribe(fn)
}

func (c *Coordinator) runCompliance(ctx context.Context) error {
	_, err := c.CheckCompliance(ctx)
	return err
}

func (c *Coordinator) lockFor(reason string) LockFunc {
	return func() error {
		err := c.lock()
		if c.observer != nil {
			c.observer.VaultLocked(reason, err)
		}
		if err != nil {
			return fmt.Errorf("lock vault (%s): %w", reason, err)
		}
		return nil
	}
}
