// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security implements the vault's security and lifecycle coordinator.
//
// The coordinator watches the app move between foreground and background,
// locks the vault after inactivity, keeps a bounded log of security events,
// and tracks breach state that the user must acknowledge.
//
// # Package Organization
//
//   - EventLog: bounded, append-only log of security events (events.go)
//   - AutoLockTimer: single-shot inactivity countdown (autolock.go)
//   - LifecycleMonitor: foreground/background transition handling (lifecycle.go)
//   - BreachController: breach and device-compromise state (breach.go)
//   - ClipboardManager: clipboard writes with delayed auto-clear (clipboard.go)
//   - Scheduler: periodic compliance and clipboard checks (scheduler.go)
//   - Coordinator: wires all of the above for one vault session (coordinator.go)
//
// # Collaborators
//
// The package never locks the vault, reads the clipboard, or inspects the
// device itself. Those are injected:
//
//   - LockFunc: idempotent vault lock (see internal/vault)
//   - ComplianceChecker: device compromise verdicts (see internal/compliance)
//   - ClipboardBackend: system clipboard access (see internal/clipboard)
//   - clockwork.Clock: time source for timestamps and timers
//
// # Usage
//
//	coord, err := security.NewCoordinator(security.DefaultConfig(), security.Deps{
//	    Lock:      session.Lock,
//	    Checker:   compliance.NewHostCheck(),
//	    Clipboard: clipboard.NewSystem(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer coord.Close()
//	if err := coord.Start(ctx); err != nil {
//	    return err
//	}
//	coord.HandleTransition(security.AppBackground)
package security

import (
	"io"
	"log/slog"
)

// LockFunc locks the vault. It must be safe to call when the vault is
// already locked.
type LockFunc func() error

// discardLogger is used when no logger is injected.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
