// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the vault packages.
//
// String Utilities:
//   - RuneLen: character count used for clipboard payload limits
//   - Truncate: display-width aware truncation for console output
//   - Mask: hides all but a short prefix of a secret
//
// File Operations:
//   - AtomicWriteFile: crash-safe write for configuration files
//   - AtomicWritePrivate: same, with owner-only permissions for secrets
package util
