// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lifecycleFixture struct {
	clock   interface{ Advance(time.Duration) }
	log     *EventLog
	timer   *AutoLockTimer
	breach  *BreachController
	monitor *LifecycleMonitor
	locks   *lockRecorder
}

func newLifecycleFixture(t *testing.T, autoLock time.Duration) *lifecycleFixture {
	t.Helper()
	clock := newFakeClock()
	log := NewEventLog(WithEventClock(clock))
	locks := &lockRecorder{}
	timer := NewAutoLockTimer(log, locks.Lock, WithTimerClock(clock), WithAutoLockDuration(autoLock))
	breach := NewBreachController(log, nil, nil)
	monitor := NewLifecycleMonitor(log, timer, breach, locks.Lock, WithLifecycleClock(clock))
	return &lifecycleFixture{
		clock:   clock,
		log:     log,
		timer:   timer,
		breach:  breach,
		monitor: monitor,
		locks:   locks,
	}
}

func TestLifecycle_ShortBackgroundLocksAndLogsRecording(t *testing.T) {
	f := newLifecycleFixture(t, DefaultAutoLockDuration)

	f.monitor.HandleTransition(AppBackground)
	f.clock.Advance(50 * time.Millisecond)
	f.monitor.HandleTransition(AppForeground)

	require.Equal(t, 1, f.locks.Count())
	events := f.log.All()
	require.Equal(t, []EventKind{EventAppBackgrounded, EventScreenRecording}, kindsOf(events))
	require.Contains(t, events[1].Message, "50ms")
	require.Equal(t, EventScreenRecording, f.breach.State().ActiveBreach)

	// The countdown resumes after the direct lock.
	require.True(t, f.timer.Armed())
}

func TestLifecycle_ShortBackgroundIndependentOfAutoLock(t *testing.T) {
	for _, d := range []time.Duration{0, time.Minute, 5 * time.Minute, 30 * time.Minute} {
		f := newLifecycleFixture(t, d)

		f.monitor.HandleTransition(AppBackground)
		before := f.locks.Count()
		f.clock.Advance(1999 * time.Millisecond)
		f.monitor.HandleTransition(AppForeground)
		f.clock.Advance(time.Millisecond)

		assert.Never(t, func() bool { return f.locks.Count()-before != 1 }, 30*time.Millisecond, tick, "auto-lock %v", d)
		assert.Equal(t, 1, countKind(f.log.All(), EventScreenRecording), "auto-lock %v", d)
	}
}

func TestLifecycle_ZeroAutoLockLongBackgroundRearms(t *testing.T) {
	f := newLifecycleFixture(t, 0)

	f.monitor.HandleTransition(AppBackground)
	require.Equal(t, 1, f.locks.Count())
	f.clock.Advance(time.Minute)
	f.monitor.HandleTransition(AppForeground)

	require.Zero(t, countKind(f.log.All(), EventScreenRecording))
	f.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return f.locks.Count() == 2 }, waitFor, tick)
}

func TestLifecycle_LongBackgroundRestartsCountdown(t *testing.T) {
	f := newLifecycleFixture(t, DefaultAutoLockDuration)

	f.monitor.HandleTransition(AppBackground)
	f.clock.Advance(2 * time.Second)
	f.monitor.HandleTransition(AppForeground)

	require.Equal(t, 0, f.locks.Count())
	require.Zero(t, countKind(f.log.All(), EventScreenRecording))
	require.False(t, f.breach.State().HasBreach())

	deadline, ok := f.timer.Deadline()
	require.True(t, ok)
	require.Equal(t, epoch.Add(2*time.Second+DefaultAutoLockDuration), deadline)
}

func TestLifecycle_BackgroundStopsCountdown(t *testing.T) {
	f := newLifecycleFixture(t, time.Minute)
	f.timer.Start()

	f.monitor.HandleTransition(AppBackground)
	require.False(t, f.timer.Armed())

	f.clock.Advance(time.Hour)
	require.Never(t, func() bool { return f.locks.Count() > 0 }, 50*time.Millisecond, tick)
}

func TestLifecycle_DuplicateTransitionsAreNoOps(t *testing.T) {
	f := newLifecycleFixture(t, DefaultAutoLockDuration)

	// Already in the foreground.
	f.monitor.HandleTransition(AppForeground)
	require.Zero(t, f.log.Len())
	require.False(t, f.timer.Armed())

	f.monitor.HandleTransition(AppBackground)
	entered := f.monitor.State().BackgroundEnteredAt
	require.NotNil(t, entered)

	f.clock.Advance(10 * time.Second)
	f.monitor.HandleTransition(AppBackground)

	require.Equal(t, 1, countKind(f.log.All(), EventAppBackgrounded))
	require.Equal(t, *entered, *f.monitor.State().BackgroundEnteredAt)
}

func TestLifecycle_StateSnapshot(t *testing.T) {
	f := newLifecycleFixture(t, DefaultAutoLockDuration)

	st := f.monitor.State()
	require.Equal(t, AppForeground, st.Current)
	require.Nil(t, st.BackgroundEnteredAt)

	f.clock.Advance(time.Second)
	f.monitor.HandleTransition(AppBackground)
	st = f.monitor.State()
	require.Equal(t, AppBackground, st.Current)
	require.Equal(t, epoch.Add(time.Second), st.LastTransitionAt)
	require.NotNil(t, st.BackgroundEnteredAt)
	require.Equal(t, epoch.Add(time.Second), *st.BackgroundEnteredAt)

	f.clock.Advance(5 * time.Second)
	f.monitor.HandleTransition(AppForeground)
	st = f.monitor.State()
	require.Equal(t, AppForeground, st.Current)
	require.Nil(t, st.BackgroundEnteredAt)
	require.Equal(t, epoch.Add(6*time.Second), st.LastTransitionAt)
}

func TestLifecycle_ZeroAutoLockLocksOnBackground(t *testing.T) {
	f := newLifecycleFixture(t, DefaultAutoLockDuration)
	require.NoError(t, f.timer.Configure(0))

	f.monitor.HandleTransition(AppBackground)

	require.Equal(t, 1, f.locks.Count())
	events := f.log.All()
	// Configure's own auto_lock entry comes first.
	require.Equal(t, []EventKind{EventAutoLock, EventAppBackgrounded, EventAutoLock}, kindsOf(events))
	require.Equal(t, "Auto-lock on background (timeout is 0 minutes)", events[2].Message)
}

func TestLifecycle_NilBreachController(t *testing.T) {
	clock := newFakeClock()
	log := NewEventLog(WithEventClock(clock))
	locks := &lockRecorder{}
	timer := NewAutoLockTimer(log, locks.Lock, WithTimerClock(clock))
	monitor := NewLifecycleMonitor(log, timer, nil, locks.Lock, WithLifecycleClock(clock))

	monitor.HandleTransition(AppBackground)
	clock.Advance(10 * time.Millisecond)
	monitor.HandleTransition(AppForeground)

	require.Equal(t, 1, locks.Count())
}

func TestLifecycle_CustomThreshold(t *testing.T) {
	clock := newFakeClock()
	log := NewEventLog(WithEventClock(clock))
	locks := &lockRecorder{}
	timer := NewAutoLockTimer(log, locks.Lock, WithTimerClock(clock))
	monitor := NewLifecycleMonitor(log, timer, nil, locks.Lock,
		WithLifecycleClock(clock),
		WithShortBackgroundThreshold(500*time.Millisecond),
	)

	monitor.HandleTransition(AppBackground)
	clock.Advance(time.Second)
	monitor.HandleTransition(AppForeground)

	require.Zero(t, locks.Count())
}

func TestParseAppState(t *testing.T) {
	tests := []struct {
		in   string
		want AppState
		ok   bool
	}{
		{"foreground", AppForeground, true},
		{"fg", AppForeground, true},
		{"active", AppForeground, true},
		{"background", AppBackground, true},
		{"bg", AppBackground, true},
		{"inactive", AppForeground, false},
	}
	for _, tt := range tests {
		got, err := ParseAppState(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, "background", AppBackground.String())
}
