// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable security event journal.
package storage

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Developer-Keyithan/the-vault/internal/security"
)

// DefaultRecorderBuffer is the inbox size used when NewRecorder gets 0.
const DefaultRecorderBuffer = 256

const writeTimeout = 2 * time.Second

// Recorder copies security events into a Journal on a background goroutine.
// Enqueue never blocks, so it is safe to use as an event log subscriber.
type Recorder struct {
	journal *Journal
	inbox   chan security.Event
	logger  *slog.Logger
	dropped atomic.Int64
	written atomic.Int64
}

// NewRecorder creates a recorder with the given inbox size.
func NewRecorder(j *Journal, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{
		journal: j,
		inbox:   make(chan security.Event, buffer),
		logger:  logger,
	}
}

// Enqueue queues ev for persistence. When the inbox is full the event is
// dropped and counted.
func (r *Recorder) Enqueue(ev security.Event) {
	select {
	case r.inbox <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Run persists queued events until ctx is done, then drains what is left.
// Write failures are logged and do not stop the worker.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case ev := <-r.inbox:
			r.write(ev)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case ev := <-r.inbox:
			r.write(ev)
		default:
			return
		}
	}
}

// write outlives Run's context so events queued before shutdown still land.
func (r *Recorder) write(ev security.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.journal.Append(ctx, ev); err != nil {
		r.logger.Warn("journal append failed", "kind", ev.Kind, "err", err)
		return
	}
	r.written.Add(1)
}

// Dropped returns how many events were discarded because the inbox was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Written returns how many events were persisted.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}
