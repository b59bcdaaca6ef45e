// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the device compliance contract.
package security

import (
	"context"
	"strings"
)

// ComplianceVerdict is the result of one device compromise check.
type ComplianceVerdict struct {
	Compromised bool     `json:"compromised"`
	Reasons     []string `json:"reasons,omitempty"`
}

// Summary joins the reasons for display and logging.
func (v ComplianceVerdict) Summary() string {
	return strings.Join(v.Reasons, ", ")
}

// ComplianceChecker performs a device compromise check. Implementations may
// block on I/O and should honor ctx. An error means the verdict is unknown.
type ComplianceChecker interface {
	Check(ctx context.Context) (ComplianceVerdict, error)
}

// ComplianceCheckFunc adapts a function to ComplianceChecker.
type ComplianceCheckFunc func(ctx context.Context) (ComplianceVerdict, error)

// Check calls f(ctx).
func (f ComplianceCheckFunc) Check(ctx context.Context) (ComplianceVerdict, error) {
	return f(ctx)
}

// NewVerdict builds a verdict from reasons, dropping empty and duplicate
// entries while keeping first-seen order.
func NewVerdict(reasons ...string) ComplianceVerdict {
	seen := make(map[string]bool, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return ComplianceVerdict{Compromised: len(out) > 0, Reasons: out}
}
