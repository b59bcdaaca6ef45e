// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides breach state tracking.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNoChecker is returned by RunComplianceCheck when no checker is wired.
var ErrNoChecker = errors.New("no compliance checker configured")

// BreachState is what the UI shows the user. An empty ActiveBreach means
// nothing is waiting for acknowledgement.
type BreachState struct {
	ActiveBreach EventKind `json:"active_breach,omitempty"`
	Compromised  bool      `json:"compromised"`
}

// HasBreach reports whether a breach is waiting for acknowledgement.
func (s BreachState) HasBreach() bool {
	return s.ActiveBreach != ""
}

// =============================================================================
// BREACH CONTROLLER
// =============================================================================

// BreachController holds the breach state for a vault session. Detectors
// update it directly; subscribers are told about every change.
//
// It does not schedule its own compliance checks; see Scheduler.
type BreachController struct {
	mu    sync.Mutex
	state BreachState

	checker ComplianceChecker
	log     *EventLog
	logger  *slog.Logger

	// notifyMu keeps subscriber delivery ordered.
	notifyMu sync.Mutex
	subs     subscribers[BreachState]
}

// NewBreachController creates a controller with no active breach.
func NewBreachController(log *EventLog, checker ComplianceChecker, logger *slog.Logger) *BreachController {
	if logger == nil {
		logger = discardLogger()
	}
	return &BreachController{
		checker: checker,
		log:     log,
		logger:  logger,
	}
}

// SetBreach records kind as the active breach. The latest write wins.
func (b *BreachController) SetBreach(kind EventKind) {
	b.update(func(s *BreachState) {
		s.ActiveBreach = kind
	})
}

// Reset clears the active breach and the latched compromise flag. It is
// called on user acknowledgement and on a user-initiated vault lock.
func (b *BreachController) Reset() {
	b.update(func(s *BreachState) {
		*s = BreachState{}
	})
}

// State returns the current breach state.
func (b *BreachController) State() BreachState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe registers fn to receive the state after every change.
func (b *BreachController) Subscribe(fn func(BreachState)) (unsubscribe func()) {
	return b.subs.add(fn)
}

// RunComplianceCheck asks the checker for a verdict. A compromised verdict
// latches Compromised, raises a jailbreak_detected breach and logs the
// reasons. A clean verdict leaves Compromised as it was. A failed check is
// logged and returned without touching breach state.
//
// No lock is held while the checker runs; a verdict arriving after a Reset
// is applied as-is.
func (b *BreachController) RunComplianceCheck(ctx context.Context) (ComplianceVerdict, error) {
	if b.checker == nil {
		return ComplianceVerdict{}, ErrNoChecker
	}

	verdict, err := b.checker.Check(ctx)
	if err != nil {
		b.logger.Warn("compliance check failed", "err", err)
		return ComplianceVerdict{}, fmt.Errorf("compliance check: %w", err)
	}

	if !verdict.Compromised {
		return verdict, nil
	}

	b.update(func(s *BreachState) {
		s.Compromised = true
		s.ActiveBreach = EventJailbreakDetected
	})
	if b.log != nil {
		b.log.Append(EventJailbreakDetected, "Compromised device detected: "+verdict.Summary())
	}
	return verdict, nil
}

func (b *BreachController) update(fn func(*BreachState)) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	fn(&b.state)
	snapshot := b.state
	b.mu.Unlock()

	b.subs.notify(snapshot)
}
