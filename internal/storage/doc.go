// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable security event journal.
//
// The in-memory event log keeps only the most recent events. The Journal
// keeps all of them in a SQLite database so they survive restarts and can
// be queried by kind and time.
//
// # Key Types
//
//   - Journal: SQLite-backed event store
//   - Recorder: background worker that copies log events into a Journal
//   - Filter: query parameters for Journal.Query
//
// # Usage
//
//	j, err := storage.OpenJournal(path)
//	rec := storage.NewRecorder(j, 256, logger)
//	unsub := coord.SubscribeEvents(rec.Enqueue)
//	go rec.Run(ctx)
//
// # Storage Location
//
// The journal lives at ~/.vaultsec/journal.db unless configured otherwise.
package storage
