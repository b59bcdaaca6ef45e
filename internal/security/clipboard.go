// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides clipboard hygiene for vault content.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Developer-Keyithan/the-vault/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultClipboardClearDelay is how long copied vault data stays on the
	// clipboard before it is wiped.
	DefaultClipboardClearDelay = 30 * time.Second

	// DefaultClipboardInspectMaxLen is the largest clipboard payload, in
	// characters, that Inspect leaves alone.
	DefaultClipboardInspectMaxLen = 50

	// clipboardOpTimeout bounds backend calls made from the auto-clear timer.
	clipboardOpTimeout = 5 * time.Second
)

// ErrNoClipboard is returned when no clipboard backend is wired.
var ErrNoClipboard = errors.New("no clipboard backend configured")

// ClipboardBackend reads and writes the system clipboard.
type ClipboardBackend interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
}

// =============================================================================
// OPTIONS
// =============================================================================

type clipboardSetOptions struct {
	autoClear  bool
	clearDelay time.Duration
}

// ClipboardOption adjusts a single SetSecure call.
type ClipboardOption func(*clipboardSetOptions)

// WithoutAutoClear leaves the copied text on the clipboard.
func WithoutAutoClear() ClipboardOption {
	return func(o *clipboardSetOptions) {
		o.autoClear = false
	}
}

// WithAutoClear enables or disables the delayed clear.
func WithAutoClear(enabled bool) ClipboardOption {
	return func(o *clipboardSetOptions) {
		o.autoClear = enabled
	}
}

// WithClearDelay sets how long to wait before clearing.
func WithClearDelay(d time.Duration) ClipboardOption {
	return func(o *clipboardSetOptions) {
		if d >= 0 {
			o.clearDelay = d
		}
	}
}

// =============================================================================
// CLIPBOARD MANAGER
// =============================================================================

// ClipboardManager writes vault data to the clipboard and wipes it again.
// Backend failures are returned to the caller and logged; they never panic.
type ClipboardManager struct {
	// writeMu orders backend writes; it is taken before mu.
	writeMu sync.Mutex
	mu      sync.Mutex

	backend ClipboardBackend
	log     *EventLog
	clock   clockwork.Clock
	logger  *slog.Logger

	defaults clipboardSetOptions
	maxLen   int
	onResult func(op string, err error)
	clearTmr clockwork.Timer
	clearGen uint64
}

// ClipboardManagerOption is a functional option for configuring a ClipboardManager.
type ClipboardManagerOption func(*ClipboardManager)

// WithClipboardClock sets the clock used for auto-clear scheduling.
func WithClipboardClock(c clockwork.Clock) ClipboardManagerOption {
	return func(m *ClipboardManager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithClipboardLogger sets the structured logger.
func WithClipboardLogger(l *slog.Logger) ClipboardManagerOption {
	return func(m *ClipboardManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithDefaultClearDelay sets the delay used when SetSecure is not given one.
func WithDefaultClearDelay(d time.Duration) ClipboardManagerOption {
	return func(m *ClipboardManager) {
		if d >= 0 {
			m.defaults.clearDelay = d
		}
	}
}

// WithDefaultAutoClear sets whether SetSecure clears by default.
func WithDefaultAutoClear(enabled bool) ClipboardManagerOption {
	return func(m *ClipboardManager) {
		m.defaults.autoClear = enabled
	}
}

// WithInspectMaxLen sets the payload size above which Inspect clears.
func WithInspectMaxLen(n int) ClipboardManagerOption {
	return func(m *ClipboardManager) {
		if n > 0 {
			m.maxLen = n
		}
	}
}

// WithClipboardObserver is called after every backend operation with
// op "set", "clear" or "inspect".
func WithClipboardObserver(fn func(op string, err error)) ClipboardManagerOption {
	return func(m *ClipboardManager) {
		m.onResult = fn
	}
}

// NewClipboardManager creates a manager over backend.
func NewClipboardManager(backend ClipboardBackend, log *EventLog, opts ...ClipboardManagerOption) *ClipboardManager {
	m := &ClipboardManager{
		backend: backend,
		log:     log,
		clock:   clockwork.NewRealClock(),
		logger:  discardLogger(),
		defaults: clipboardSetOptions{
			autoClear:  true,
			clearDelay: DefaultClipboardClearDelay,
		},
		maxLen: DefaultClipboardInspectMaxLen,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSecure copies text to the clipboard. Unless auto-clear is disabled, the
// clipboard is wiped after the clear delay. A later SetSecure replaces any
// pending clear.
func (m *ClipboardManager) SetSecure(ctx context.Context, text string, opts ...ClipboardOption) error {
	o := m.defaults
	for _, opt := range opts {
		opt(&o)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	// The old clear is cancelled before the write so it cannot wipe text.
	m.mu.Lock()
	hadPending := m.clearTmr != nil
	m.cancelClearLocked()
	gen := m.clearGen
	m.mu.Unlock()

	if err := m.write(ctx, text); err != nil {
		m.logger.Warn("failed to set secure clipboard", "err", err)
		if hadPending {
			// The previous content is still on the clipboard.
			m.scheduleClear(gen, o.clearDelay)
		}
		m.observe("set", err)
		return err
	}

	msg := "Data set to clipboard"
	if o.autoClear {
		msg += " with auto-clear"
	}
	m.log.Append(EventClipboardCleared, msg)

	if o.autoClear {
		m.scheduleClear(gen, o.clearDelay)
	}

	m.observe("set", nil)
	return nil
}

// Clear overwrites the clipboard with an empty string.
func (m *ClipboardManager) Clear(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.clear(ctx)
}

func (m *ClipboardManager) clear(ctx context.Context) error {
	if err := m.write(ctx, ""); err != nil {
		m.logger.Warn("failed to clear clipboard", "err", err)
		m.observe("clear", err)
		return err
	}
	m.log.Append(EventClipboardCleared, "Clipboard cleared successfully")
	m.observe("clear", nil)
	return nil
}

// Inspect reads the clipboard and clears it when the payload is longer than
// the configured limit.
func (m *ClipboardManager) Inspect(ctx context.Context) error {
	if m.backend == nil {
		return ErrNoClipboard
	}
	content, err := m.backend.Read(ctx)
	if err != nil {
		m.logger.Warn("failed to read clipboard", "err", err)
		m.observe("inspect", err)
		return fmt.Errorf("read clipboard: %w", err)
	}
	m.observe("inspect", nil)

	if util.RuneLen(content) <= m.maxLen {
		return nil
	}
	return m.Clear(ctx)
}

// PendingClear reports whether an auto-clear is scheduled.
func (m *ClipboardManager) PendingClear() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearTmr != nil
}

// Close cancels any pending auto-clear.
func (m *ClipboardManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelClearLocked()
}

func (m *ClipboardManager) cancelClearLocked() {
	if m.clearTmr != nil {
		m.clearTmr.Stop()
		m.clearTmr = nil
	}
	m.clearGen++
}

// scheduleClear arms the auto-clear unless gen went stale, which means Close
// ran while the backend was busy.
func (m *ClipboardManager) scheduleClear(gen uint64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.clearGen {
		return
	}
	m.clearTmr = m.clock.AfterFunc(d, func() {
		m.autoClear(gen)
	})
}

func (m *ClipboardManager) autoClear(gen uint64) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if gen != m.clearGen || m.clearTmr == nil {
		m.mu.Unlock()
		return
	}
	m.clearTmr = nil
	m.clearGen++
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), clipboardOpTimeout)
	defer cancel()
	_ = m.clear(ctx)
}

func (m *ClipboardManager) write(ctx context.Context, text string) error {
	if m.backend == nil {
		return ErrNoClipboard
	}
	if err := m.backend.Write(ctx, text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

func (m *ClipboardManager) observe(op string, err error) {
	if m.onResult != nil {
		m.onResult(op, err)
	}
}
