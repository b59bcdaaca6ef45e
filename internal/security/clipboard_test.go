// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClipboard(opts ...ClipboardManagerOption) (*ClipboardManager, *fakeClipboard, *EventLog, interface{ Advance(time.Duration) }) {
	clock := newFakeClock()
	log := NewEventLog(WithEventClock(clock))
	backend := &fakeClipboard{}
	opts = append([]ClipboardManagerOption{WithClipboardClock(clock)}, opts...)
	return NewClipboardManager(backend, log, opts...), backend, log, clock
}

func TestClipboard_SetSecureAutoClears(t *testing.T) {
	m, backend, log, clock := newTestClipboard()
	ctx := context.Background()

	require.NoError(t, m.SetSecure(ctx, "token123", WithAutoClear(true), WithClearDelay(time.Second)))
	require.Equal(t, "token123", backend.Content())
	require.True(t, m.PendingClear())

	clock.Advance(time.Second)

	require.Eventually(t, func() bool { return backend.Content() == "" }, waitFor, tick)
	require.Eventually(t, func() bool { return countKind(log.All(), EventClipboardCleared) == 2 }, waitFor, tick)
	require.False(t, m.PendingClear())

	events := log.All()
	require.Equal(t, "Data set to clipboard with auto-clear", events[0].Message)
	require.Equal(t, "Clipboard cleared successfully", events[1].Message)
}

func TestClipboard_DefaultDelay(t *testing.T) {
	m, backend, _, clock := newTestClipboard()
	ctx := context.Background()

	require.NoError(t, m.SetSecure(ctx, "secret"))
	clock.Advance(29 * time.Second)
	require.Never(t, func() bool { return backend.Content() == "" }, 30*time.Millisecond, tick)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return backend.Content() == "" }, waitFor, tick)
}

func TestClipboard_WithoutAutoClear(t *testing.T) {
	m, backend, log, clock := newTestClipboard()

	require.NoError(t, m.SetSecure(context.Background(), "keep me", WithoutAutoClear()))
	require.False(t, m.PendingClear())

	clock.Advance(time.Hour)
	require.Never(t, func() bool { return backend.Content() != "keep me" }, 30*time.Millisecond, tick)

	events := log.All()
	require.Len(t, events, 1)
	require.Equal(t, EventClipboardCleared, events[0].Kind)
	require.Equal(t, "Data set to clipboard", events[0].Message)
}

func TestClipboard_NewSetReplacesPendingClear(t *testing.T) {
	m, backend, _, clock := newTestClipboard()
	ctx := context.Background()

	require.NoError(t, m.SetSecure(ctx, "first", WithClearDelay(time.Second)))
	clock.Advance(500 * time.Millisecond)
	require.NoError(t, m.SetSecure(ctx, "second", WithClearDelay(time.Second)))

	// The first clear would have fired here.
	clock.Advance(600 * time.Millisecond)
	require.Never(t, func() bool { return backend.Content() != "second" }, 30*time.Millisecond, tick)

	clock.Advance(400 * time.Millisecond)
	require.Eventually(t, func() bool { return backend.Content() == "" }, waitFor, tick)
}

func TestClipboard_OldClearCannotWipeTextBeingWritten(t *testing.T) {
	clock := newFakeClock()
	backend := newGatedClipboard("B")
	m := NewClipboardManager(backend, NewEventLog(WithEventClock(clock)), WithClipboardClock(clock))
	ctx := context.Background()

	require.NoError(t, m.SetSecure(ctx, "A", WithClearDelay(time.Second)))

	done := make(chan error, 1)
	go func() { done <- m.SetSecure(ctx, "B", WithClearDelay(30*time.Second)) }()
	<-backend.entered

	// A's deadline passes while B is still being written.
	clock.Advance(time.Second)
	close(backend.release)
	require.NoError(t, <-done)

	require.Never(t, func() bool { return backend.Content() != "B" }, 30*time.Millisecond, tick)
	require.True(t, m.PendingClear())

	clock.Advance(29 * time.Second)
	require.Never(t, func() bool { return backend.Content() != "B" }, 30*time.Millisecond, tick)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return backend.Content() == "" }, waitFor, tick)
}

func TestClipboard_FailedSetKeepsPendingClear(t *testing.T) {
	m, backend, _, clock := newTestClipboard()
	ctx := context.Background()

	require.NoError(t, m.SetSecure(ctx, "old", WithClearDelay(time.Minute)))

	backend.mu.Lock()
	backend.failWrite = true
	backend.mu.Unlock()
	require.ErrorIs(t, m.SetSecure(ctx, "new", WithClearDelay(time.Second)), errBackend)
	require.True(t, m.PendingClear())

	backend.mu.Lock()
	backend.failWrite = false
	backend.mu.Unlock()
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return backend.Content() == "" }, waitFor, tick)
}

func TestClipboard_CloseCancelsPendingClear(t *testing.T) {
	m, backend, _, clock := newTestClipboard()

	require.NoError(t, m.SetSecure(context.Background(), "data", WithClearDelay(time.Second)))
	m.Close()
	require.False(t, m.PendingClear())

	clock.Advance(time.Minute)
	require.Never(t, func() bool { return backend.Content() == "" }, 30*time.Millisecond, tick)
}

func TestClipboard_Clear(t *testing.T) {
	m, backend, log, _ := newTestClipboard()
	backend.content = "something"

	require.NoError(t, m.Clear(context.Background()))
	require.Equal(t, "", backend.Content())
	require.Equal(t, []EventKind{EventClipboardCleared}, kindsOf(log.All()))
}

func TestClipboard_InspectClearsLargePayloads(t *testing.T) {
	tests := []struct {
		name    string
		content string
		cleared bool
	}{
		{"empty", "", false},
		{"short", "hello", false},
		{"exactly limit", strings.Repeat("x", 50), false},
		{"over limit", strings.Repeat("x", 51), true},
		{"multibyte under limit", strings.Repeat("é", 50), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, backend, log, _ := newTestClipboard()
			backend.content = tt.content

			require.NoError(t, m.Inspect(context.Background()))
			if tt.cleared {
				require.Equal(t, "", backend.Content())
				require.Equal(t, 1, log.Len())
			} else {
				require.Equal(t, tt.content, backend.Content())
				require.Zero(t, log.Len())
			}
		})
	}
}

func TestClipboard_InspectMaxLenOption(t *testing.T) {
	m, backend, _, _ := newTestClipboard(WithInspectMaxLen(5))
	backend.content = "123456"

	require.NoError(t, m.Inspect(context.Background()))
	require.Equal(t, "", backend.Content())
}

func TestClipboard_WriteFailureIsReported(t *testing.T) {
	var ops []string
	m, backend, log, _ := newTestClipboard(WithClipboardObserver(func(op string, err error) {
		if err != nil {
			ops = append(ops, op)
		}
	}))
	backend.failWrite = true
	ctx := context.Background()

	require.ErrorIs(t, m.SetSecure(ctx, "token"), errBackend)
	require.ErrorIs(t, m.Clear(ctx), errBackend)
	require.False(t, m.PendingClear())
	require.Zero(t, log.Len())
	require.Equal(t, []string{"set", "clear"}, ops)
}

func TestClipboard_ReadFailureIsReported(t *testing.T) {
	m, backend, log, _ := newTestClipboard()
	backend.failRead = true

	require.ErrorIs(t, m.Inspect(context.Background()), errBackend)
	require.Zero(t, log.Len())
}

func TestClipboard_NoBackend(t *testing.T) {
	m := NewClipboardManager(nil, NewEventLog())
	ctx := context.Background()

	require.ErrorIs(t, m.SetSecure(ctx, "x"), ErrNoClipboard)
	require.ErrorIs(t, m.Clear(ctx), ErrNoClipboard)
	require.ErrorIs(t, m.Inspect(ctx), ErrNoClipboard)
}
