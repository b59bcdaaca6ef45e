// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the interactive vaultsec console.
//
// The console drives a security.Coordinator from typed commands. It stands
// in for the host application: "fg" and "bg" simulate lifecycle
// notifications, "copy" goes through the secure clipboard, and "lock" and
// "unlock" operate the vault session.
//
// # Usage
//
//	console := cli.NewConsole(coord, session,
//	    cli.WithJournal(journal),
//	    cli.WithConfig(cfg, cfgPath),
//	)
//	prompter := cli.NewPrompter()
//	defer prompter.Close()
//	return console.Run(ctx, prompter)
//
// # Commands Overview
//
//   - fg, bg: report a foreground or background transition
//   - copy, clear, inspect: secure clipboard operations
//   - lock, unlock, ack: vault and breach handling
//   - status, events, journal: inspection
//   - autolock, check, config: settings and checks
package cli
