// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clipboard provides clipboard backends for the security coordinator.
//
// System talks to the host clipboard. Memory is a process-local clipboard
// used on headless hosts and in tests.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
)

// ErrUnsupported is returned by System when the host has no clipboard
// utility (for example no xclip, xsel or wl-copy on Linux).
var ErrUnsupported = errors.New("system clipboard unavailable")

// =============================================================================
// SYSTEM CLIPBOARD
// =============================================================================

// System is the host clipboard. The underlying calls shell out on some
// platforms, so each call runs in a goroutine and honours ctx.
type System struct{}

// NewSystem returns the host clipboard, or ErrUnsupported.
func NewSystem() (*System, error) {
	if clipboard.Unsupported {
		return nil, ErrUnsupported
	}
	return &System{}, nil
}

// Read returns the clipboard text.
func (s *System) Read(ctx context.Context) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := clipboard.ReadAll()
		ch <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("read clipboard: %w", r.err)
		}
		return r.text, nil
	}
}

// Write replaces the clipboard text.
func (s *System) Write(ctx context.Context, text string) error {
	ch := make(chan error, 1)
	go func() {
		ch <- clipboard.WriteAll(text)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("write clipboard: %w", err)
		}
		return nil
	}
}

// =============================================================================
// MEMORY CLIPBOARD
// =============================================================================

// Memory is an in-process clipboard.
type Memory struct {
	mu     sync.Mutex
	text   string
	writes int
}

// NewMemory returns an empty in-process clipboard.
func NewMemory() *Memory {
	return &Memory{}
}

// Read returns the stored text.
func (m *Memory) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

// Write stores text.
func (m *Memory) Write(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	m.writes++
	return nil
}

// Writes returns how many writes have been made.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// =============================================================================
// SELECTION
// =============================================================================

// Backend is satisfied by System and Memory.
type Backend interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
}

// Open picks a backend by name: "system", "memory", or "auto" (system when
// available, otherwise memory).
func Open(name string) (Backend, error) {
	switch name {
	case "system":
		return NewSystem()
	case "memory":
		return NewMemory(), nil
	case "", "auto":
		if sys, err := NewSystem(); err == nil {
			return sys, nil
		}
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown clipboard backend %q", name)
	}
}
