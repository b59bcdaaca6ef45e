// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package clipboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Developer-Keyithan/the-vault/internal/security"
)

var (
	_ security.ClipboardBackend = (*System)(nil)
	_ security.ClipboardBackend = (*Memory)(nil)
)

func TestMemory_ReadWrite(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	got, err := m.Read(ctx)
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, m.Write(ctx, "hunter2"))
	got, err = m.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)

	require.NoError(t, m.Write(ctx, ""))
	require.Equal(t, 2, m.Writes())
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, m.Write(ctx, "x"), context.Canceled)
	_, err := m.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, m.Writes())
}

func TestOpen(t *testing.T) {
	b, err := Open("memory")
	require.NoError(t, err)
	require.IsType(t, &Memory{}, b)

	b, err = Open("auto")
	require.NoError(t, err)
	require.NotNil(t, b)

	_, err = Open("carrier-pigeon")
	require.Error(t, err)
}

func TestMemory_WithSecurityManager(t *testing.T) {
	m := NewMemory()
	mgr := security.NewClipboardManager(m, security.NewEventLog())
	defer mgr.Close()

	require.NoError(t, mgr.SetSecure(context.Background(), "token123", security.WithoutAutoClear()))
	got, err := m.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, "token123", got)

	require.NoError(t, mgr.Clear(context.Background()))
	got, _ = m.Read(context.Background())
	require.Empty(t, got)
}
