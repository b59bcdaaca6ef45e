// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBreach_SetBreachLatestWins(t *testing.T) {
	b := NewBreachController(NewEventLog(), nil, nil)
	require.False(t, b.State().HasBreach())

	b.SetBreach(EventJailbreakDetected)
	b.SetBreach(EventScreenRecording)
	require.Equal(t, EventScreenRecording, b.State().ActiveBreach)
}

func TestBreach_ResetClearsEverything(t *testing.T) {
	checker := &fakeChecker{verdict: NewVerdict("debugger attached")}
	b := NewBreachController(NewEventLog(), checker, nil)

	_, err := b.RunComplianceCheck(context.Background())
	require.NoError(t, err)
	require.True(t, b.State().Compromised)

	b.Reset()
	require.Equal(t, BreachState{}, b.State())
}

func TestBreach_CompromisedVerdictLatchesAndLogs(t *testing.T) {
	log := NewEventLog()
	checker := &fakeChecker{verdict: NewVerdict("running as root", "debugger attached")}
	b := NewBreachController(log, checker, nil)

	verdict, err := b.RunComplianceCheck(context.Background())
	require.NoError(t, err)
	require.True(t, verdict.Compromised)

	st := b.State()
	require.True(t, st.Compromised)
	require.Equal(t, EventJailbreakDetected, st.ActiveBreach)

	events := log.All()
	require.Len(t, events, 1)
	require.Equal(t, EventJailbreakDetected, events[0].Kind)
	require.Equal(t, "Compromised device detected: running as root, debugger attached", events[0].Message)
}

func TestBreach_CleanVerdictDoesNotClearCompromise(t *testing.T) {
	log := NewEventLog()
	checker := &fakeChecker{verdict: NewVerdict("debugger attached")}
	b := NewBreachController(log, checker, nil)

	_, err := b.RunComplianceCheck(context.Background())
	require.NoError(t, err)

	checker.set(NewVerdict(), nil)
	verdict, err := b.RunComplianceCheck(context.Background())
	require.NoError(t, err)
	require.False(t, verdict.Compromised)
	require.True(t, b.State().Compromised)
	require.Equal(t, 1, log.Len())

	b.Reset()
	_, err = b.RunComplianceCheck(context.Background())
	require.NoError(t, err)
	require.False(t, b.State().Compromised)
}

func TestBreach_CheckFailureLeavesStateAlone(t *testing.T) {
	log := NewEventLog()
	checker := &fakeChecker{err: errBackend}
	b := NewBreachController(log, checker, nil)

	_, err := b.RunComplianceCheck(context.Background())
	require.ErrorIs(t, err, errBackend)
	require.Equal(t, BreachState{}, b.State())
	require.Zero(t, log.Len())
}

func TestBreach_NoChecker(t *testing.T) {
	b := NewBreachController(NewEventLog(), nil, nil)
	_, err := b.RunComplianceCheck(context.Background())
	require.ErrorIs(t, err, ErrNoChecker)
}

func TestBreach_VerdictAfterResetIsApplied(t *testing.T) {
	checker := &fakeChecker{verdict: NewVerdict("tampered binary")}
	b := NewBreachController(NewEventLog(), checker, nil)

	// A check that completes after an acknowledgement still wins.
	b.SetBreach(EventScreenRecording)
	b.Reset()
	_, err := b.RunComplianceCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, EventJailbreakDetected, b.State().ActiveBreach)
}

func TestBreach_SubscribersSeeEveryChange(t *testing.T) {
	b := NewBreachController(NewEventLog(), nil, nil)

	var got []BreachState
	unsub := b.Subscribe(func(s BreachState) {
		got = append(got, s)
	})

	b.SetBreach(EventScreenRecording)
	b.Reset()
	unsub()
	b.SetBreach(EventJailbreakDetected)

	require.Equal(t, []BreachState{
		{ActiveBreach: EventScreenRecording},
		{},
	}, got)
}

func TestNewVerdict_DedupesAndOrders(t *testing.T) {
	v := NewVerdict("b", "a", "", "b", "  c  ")
	require.True(t, v.Compromised)
	require.Equal(t, []string{"b", "a", "c"}, v.Reasons)
	require.Equal(t, "b, a, c", v.Summary())

	clean := NewVerdict()
	require.False(t, clean.Compromised)
	require.Empty(t, clean.Reasons)
}
