// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(epoch)
}

// lockRecorder counts vault lock calls.
type lockRecorder struct {
	calls atomic.Int32
	err   error
}

func (r *lockRecorder) Lock() error {
	r.calls.Add(1)
	return r.err
}

func (r *lockRecorder) Count() int {
	return int(r.calls.Load())
}

// fakeChecker returns scripted verdicts.
type fakeChecker struct {
	mu      sync.Mutex
	verdict ComplianceVerdict
	err     error
	calls   int
}

func (f *fakeChecker) Check(ctx context.Context) (ComplianceVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.verdict, f.err
}

func (f *fakeChecker) set(v ComplianceVerdict, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdict, f.err = v, err
}

func (f *fakeChecker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errBackend = errors.New("backend unavailable")

// fakeClipboard is an in-memory clipboard with failure injection.
type fakeClipboard struct {
	mu        sync.Mutex
	content   string
	failRead  bool
	failWrite bool
	writes    int
}

func (f *fakeClipboard) Read(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead {
		return "", errBackend
	}
	return f.content, nil
}

func (f *fakeClipboard) Write(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errBackend
	}
	f.content = text
	f.writes++
	return nil
}

func (f *fakeClipboard) Content() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content
}

// fakeObserver records observer callbacks.
type fakeObserver struct {
	mu         sync.Mutex
	events     map[EventKind]int
	locks      map[string]int
	checks     int
	clipboards map[string]int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		events:     make(map[EventKind]int),
		locks:      make(map[string]int),
		clipboards: make(map[string]int),
	}
}

func (o *fakeObserver) EventRecorded(kind EventKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[kind]++
}

func (o *fakeObserver) VaultLocked(reason string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.locks[reason]++
}

func (o *fakeObserver) ComplianceChecked(v ComplianceVerdict, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checks++
}

func (o *fakeObserver) ClipboardOp(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clipboards[op]++
}

func (o *fakeObserver) lockCount(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.locks[reason]
}

func (o *fakeObserver) eventCount(kind EventKind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.events[kind]
}

// kindsOf returns the kinds of events in order.
func kindsOf(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

// countKind counts events of kind.
func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

// gatedClipboard stores a write of gateOn, then blocks until release is
// closed.
type gatedClipboard struct {
	*fakeClipboard
	gateOn  string
	entered chan struct{}
	release chan struct{}
}

func newGatedClipboard(gateOn string) *gatedClipboard {
	return &gatedClipboard{
		fakeClipboard: &fakeClipboard{},
		gateOn:        gateOn,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (g *gatedClipboard) Write(ctx context.Context, text string) error {
	if err := g.fakeClipboard.Write(ctx, text); err != nil {
		return err
	}
	if text == g.gateOn {
		close(g.entered)
		<-g.release
	}
	return nil
}
