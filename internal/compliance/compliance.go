// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package compliance implements host compliance checks for the vault.
//
// A HostCheck runs a set of probes against the current process and host.
// Each probe reports a reason when it finds the environment untrustworthy:
// elevated privileges, an attached debugger, injected libraries, or a
// running binary whose checksum no longer matches the recorded baseline.
//
// # Usage
//
//	check := compliance.NewHostCheck(
//	    compliance.WithBinaryChecksum(cfg.Security.BinaryChecksum),
//	)
//	verdict, err := check.Check(ctx)
package compliance

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Developer-Keyithan/the-vault/internal/security"
)

// Reasons reported by the built-in probes.
const (
	ReasonRoot      = "running with root privileges"
	ReasonTracer    = "debugger attached"
	ReasonPreload   = "library injection via environment"
	ReasonIntegrity = "binary integrity mismatch"
)

const (
	procSelfStatus = "/proc/self/status"
	tracerPidField = "TracerPid:"
)

// Probe inspects one aspect of the host. It returns a non-empty reason
// when the host fails the probe.
type Probe struct {
	Name string
	Run  func(ctx context.Context) (reason string, err error)
}

// =============================================================================
// HOST CHECK
// =============================================================================

// HostCheck is a security.ComplianceChecker for the local host.
type HostCheck struct {
	probes []Probe
	logger *slog.Logger
}

// HostCheckOption configures a HostCheck.
type HostCheckOption func(*HostCheck)

// WithBinaryChecksum adds the integrity probe. An empty checksum is ignored.
func WithBinaryChecksum(sha256Hex string) HostCheckOption {
	return func(h *HostCheck) {
		if sha256Hex = strings.TrimSpace(sha256Hex); sha256Hex != "" {
			h.probes = append(h.probes, IntegrityProbe("", sha256Hex))
		}
	}
}

// WithProbes replaces the default probe set.
func WithProbes(probes ...Probe) HostCheckOption {
	return func(h *HostCheck) {
		h.probes = probes
	}
}

// WithLogger sets the logger for probe failures.
func WithLogger(logger *slog.Logger) HostCheckOption {
	return func(h *HostCheck) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHostCheck returns a HostCheck with the root, tracer and preload probes.
func NewHostCheck(opts ...HostCheckOption) *HostCheck {
	h := &HostCheck{
		probes: []Probe{RootProbe(), TracerProbe(procSelfStatus), PreloadProbe(os.Getenv)},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check runs every probe. Reasons found are returned even when other probes
// fail; the joined probe errors are returned only when no reason was found.
func (h *HostCheck) Check(ctx context.Context) (security.ComplianceVerdict, error) {
	var reasons []string
	var errs []error
	for _, p := range h.probes {
		if err := ctx.Err(); err != nil {
			return security.ComplianceVerdict{}, err
		}
		reason, err := p.Run(ctx)
		if err != nil {
			h.logger.Debug("compliance probe failed", "probe", p.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}
	if len(reasons) == 0 && len(errs) > 0 {
		return security.ComplianceVerdict{}, errors.Join(errs...)
	}
	return security.NewVerdict(reasons...), nil
}

// =============================================================================
// PROBES
// =============================================================================

// TracerProbe reports an attached tracer by reading TracerPid from a
// /proc status file. Hosts without procfs pass.
func TracerProbe(statusPath string) Probe {
	return Probe{
		Name: "tracer",
		Run: func(ctx context.Context) (string, error) {
			f, err := os.Open(statusPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return "", nil
				}
				return "", err
			}
			defer f.Close()

			pid, err := parseTracerPid(f)
			if err != nil {
				return "", err
			}
			if pid != 0 {
				return ReasonTracer, nil
			}
			return "", nil
		},
	}
}

func parseTracerPid(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, tracerPidField) {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, tracerPidField)))
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", tracerPidField, err)
		}
		return pid, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, nil
}

// PreloadProbe reports dynamic loader injection variables.
func PreloadProbe(getenv func(string) string) Probe {
	vars := []string{"LD_PRELOAD", "LD_AUDIT", "DYLD_INSERT_LIBRARIES"}
	return Probe{
		Name: "preload",
		Run: func(ctx context.Context) (string, error) {
			for _, v := range vars {
				if getenv(v) != "" {
					return ReasonPreload + " (" + v + ")", nil
				}
			}
			return "", nil
		},
	}
}

// IntegrityProbe compares the SHA-256 of path against the expected hex
// digest. An empty path means the running executable.
func IntegrityProbe(path, expected string) Probe {
	expected = strings.ToLower(strings.TrimSpace(expected))
	return Probe{
		Name: "integrity",
		Run: func(ctx context.Context) (string, error) {
			target := path
			if target == "" {
				exe, err := BinaryPath()
				if err != nil {
					return "", err
				}
				target = exe
			}
			sum, err := FileChecksum(target)
			if err != nil {
				return "", err
			}
			if sum != expected {
				return ReasonIntegrity, nil
			}
			return "", nil
		},
	}
}

// BinaryPath returns the resolved path of the running executable.
func BinaryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.EvalSymlinks(exe)
}

// FileChecksum returns the hex SHA-256 of a file.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
