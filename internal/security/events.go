// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the bounded security event log.
package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultEventLogCapacity is the number of events retained before the oldest
// entries are evicted.
const DefaultEventLogCapacity = 100

// =============================================================================
// EVENT KINDS
// =============================================================================

// EventKind identifies the type of a security event.
type EventKind string

const (
	EventScreenshotAttempt EventKind = "screenshot_attempt"
	EventScreenRecording   EventKind = "screen_recording"
	EventUSBDebugging      EventKind = "usb_debugging"
	EventJailbreakDetected EventKind = "jailbreak_detected"
	EventClipboardCleared  EventKind = "clipboard_cleared"
	EventAutoLock          EventKind = "auto_lock"
	EventAppBackgrounded   EventKind = "app_backgrounded"
)

// AllEventKinds lists every known event kind in declaration order.
var AllEventKinds = []EventKind{
	EventScreenshotAttempt,
	EventScreenRecording,
	EventUSBDebugging,
	EventJailbreakDetected,
	EventClipboardCleared,
	EventAutoLock,
	EventAppBackgrounded,
}

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	for _, known := range AllEventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// String returns the wire name of the kind.
func (k EventKind) String() string {
	return string(k)
}

// =============================================================================
// EVENT
// =============================================================================

// Event is a single security log entry. Timestamp is assigned by the log at
// append time.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ToLogLine formats the event as a single log line.
func (e Event) ToLogLine() string {
	return fmt.Sprintf("%s | %s | %s",
		e.Timestamp.Format("2006-01-02 15:04:05"),
		e.Kind,
		e.Message,
	)
}

// =============================================================================
// EVENT LOG
// =============================================================================

// EventLog is an append-only log that keeps the most recent events.
// Appends are serialized; subscribers are notified in append order.
type EventLog struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	clock    clockwork.Clock

	// dispatchMu keeps subscriber delivery in append order without holding
	// mu while callbacks run.
	dispatchMu sync.Mutex
	subs       subscribers[Event]
}

// EventLogOption is a functional option for configuring an EventLog.
type EventLogOption func(*EventLog)

// WithCapacity sets the maximum number of retained events.
func WithCapacity(n int) EventLogOption {
	return func(l *EventLog) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithEventClock sets the clock used to stamp events.
func WithEventClock(c clockwork.Clock) EventLogOption {
	return func(l *EventLog) {
		if c != nil {
			l.clock = c
		}
	}
}

// NewEventLog creates an empty event log.
func NewEventLog(opts ...EventLogOption) *EventLog {
	l := &EventLog{
		capacity: DefaultEventLogCapacity,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.events = make([]Event, 0, l.capacity)
	return l
}

// Append stamps and records an event, evicting the oldest entries once the
// log exceeds its capacity.
func (l *EventLog) Append(kind EventKind, message string) Event {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()

	l.mu.Lock()
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		Timestamp: l.clock.Now(),
	}
	l.events = append(l.events, ev)
	if over := len(l.events) - l.capacity; over > 0 {
		// Copy down so the backing array does not grow without bound.
		n := copy(l.events, l.events[over:])
		clear(l.events[n:])
		l.events = l.events[:n]
	}
	l.mu.Unlock()

	l.subs.notify(ev)
	return ev
}

// All returns a copy of the retained events, oldest first.
func (l *EventLog) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Capacity returns the retention limit.
func (l *EventLog) Capacity() int {
	return l.capacity
}

// Clear empties the log.
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = l.events[:0]
}

// Subscribe registers fn to receive every appended event. The returned
// function removes the subscription; calling it more than once is harmless.
func (l *EventLog) Subscribe(fn func(Event)) (unsubscribe func()) {
	return l.subs.add(fn)
}

// =============================================================================
// SUBSCRIBERS
// =============================================================================

// subscribers is a small observer registry with deterministic unsubscribe.
type subscribers[T any] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(T)
	order  []int
}

func (s *subscribers[T]) add(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.fns, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *subscribers[T]) notify(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
