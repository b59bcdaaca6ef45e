// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package compliance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Developer-Keyithan/the-vault/internal/security"
)

var _ security.ComplianceChecker = (*HostCheck)(nil)

func staticProbe(name, reason string, err error) Probe {
	return Probe{Name: name, Run: func(ctx context.Context) (string, error) { return reason, err }}
}

func TestHostCheck_CleanHost(t *testing.T) {
	h := NewHostCheck(WithProbes(staticProbe("a", "", nil), staticProbe("b", "", nil)))

	v, err := h.Check(context.Background())
	require.NoError(t, err)
	require.False(t, v.Compromised)
	require.Empty(t, v.Reasons)
}

func TestHostCheck_CollectsReasonsInOrder(t *testing.T) {
	h := NewHostCheck(WithProbes(
		staticProbe("root", ReasonRoot, nil),
		staticProbe("clean", "", nil),
		staticProbe("tracer", ReasonTracer, nil),
	))

	v, err := h.Check(context.Background())
	require.NoError(t, err)
	require.True(t, v.Compromised)
	require.Equal(t, []string{ReasonRoot, ReasonTracer}, v.Reasons)
}

func TestHostCheck_ProbeErrors(t *testing.T) {
	boom := errors.New("procfs unreadable")

	// Only errors: the check fails.
	h := NewHostCheck(WithProbes(staticProbe("tracer", "", boom)))
	_, err := h.Check(context.Background())
	require.ErrorIs(t, err, boom)

	// A finding outranks a failing probe.
	h = NewHostCheck(WithProbes(staticProbe("tracer", "", boom), staticProbe("root", ReasonRoot, nil)))
	v, err := h.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{ReasonRoot}, v.Reasons)
}

func TestHostCheck_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHostCheck().Check(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseTracerPid(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		want    int
		wantErr bool
	}{
		{"untraced", "Name:\tvaultsec\nTracerPid:\t0\nUid:\t1000\n", 0, false},
		{"traced", "Name:\tvaultsec\nTracerPid:\t4242\n", 4242, false},
		{"missing field", "Name:\tvaultsec\n", 0, false},
		{"garbage", "TracerPid:\tabc\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTracerPid(strings.NewReader(tt.status))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTracerProbe(t *testing.T) {
	dir := t.TempDir()
	traced := filepath.Join(dir, "status")
	require.NoError(t, os.WriteFile(traced, []byte("TracerPid:\t17\n"), 0600))

	reason, err := TracerProbe(traced).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonTracer, reason)

	// No procfs means nothing to report.
	reason, err = TracerProbe(filepath.Join(dir, "absent")).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, reason)
}

func TestPreloadProbe(t *testing.T) {
	env := map[string]string{}
	probe := PreloadProbe(func(k string) string { return env[k] })

	reason, err := probe.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, reason)

	env["LD_PRELOAD"] = "/tmp/hook.so"
	reason, err = probe.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonPreload+" (LD_PRELOAD)", reason)
}

func TestIntegrityProbe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultsec")
	require.NoError(t, os.WriteFile(path, []byte("binary contents"), 0700))

	sum, err := FileChecksum(path)
	require.NoError(t, err)
	require.Len(t, sum, 64)

	reason, err := IntegrityProbe(path, strings.ToUpper(sum)).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, reason)

	require.NoError(t, os.WriteFile(path, []byte("patched contents"), 0700))
	reason, err = IntegrityProbe(path, sum).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonIntegrity, reason)

	_, err = IntegrityProbe(filepath.Join(t.TempDir(), "gone"), sum).Run(context.Background())
	require.Error(t, err)
}

func TestWithBinaryChecksum_IgnoresEmpty(t *testing.T) {
	base := len(NewHostCheck().probes)
	require.Len(t, NewHostCheck(WithBinaryChecksum("  ")).probes, base)
	require.Len(t, NewHostCheck(WithBinaryChecksum("abc")).probes, base+1)
}

func TestHostCheck_FeedsBreachController(t *testing.T) {
	log := security.NewEventLog()
	h := NewHostCheck(WithProbes(staticProbe("tracer", ReasonTracer, nil)))
	b := security.NewBreachController(log, h, nil)

	_, err := b.RunComplianceCheck(context.Background())
	require.NoError(t, err)
	require.True(t, b.State().Compromised)
	require.Equal(t, "Compromised device detected: debugger attached", log.All()[0].Message)
}
