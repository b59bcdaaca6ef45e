//go:build windows

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package compliance

import (
	"context"

	"golang.org/x/sys/windows"
)

// RootProbe reports a process running with an elevated token.
func RootProbe() Probe {
	return Probe{
		Name: "root",
		Run: func(ctx context.Context) (string, error) {
			if windows.GetCurrentProcessToken().IsElevated() {
				return ReasonRoot, nil
			}
			return "", nil
		},
	}
}
