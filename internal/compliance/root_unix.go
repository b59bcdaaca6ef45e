//go:build !windows

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package compliance

import (
	"context"

	"golang.org/x/sys/unix"
)

// RootProbe reports a process running with effective uid 0.
func RootProbe() Probe {
	return rootProbe(unix.Geteuid)
}

func rootProbe(geteuid func() int) Probe {
	return Probe{
		Name: "root",
		Run: func(ctx context.Context) (string, error) {
			if geteuid() == 0 {
				return ReasonRoot, nil
			}
			return "", nil
		},
	}
}
