// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the vault packages.
package util

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// UNICODE: all lengths here are in characters or display columns, never bytes.

// RuneLen returns the number of runes (characters) in a string.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate shortens s to at most maxWidth display columns, appending "..."
// when it cuts. Wide characters count as two columns.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// StringWidth returns the display width of a string.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// Mask keeps the first keep runes of a secret and replaces the rest with
// asterisks. Short secrets are masked entirely.
func Mask(secret string, keep int) string {
	n := RuneLen(secret)
	if n == 0 {
		return ""
	}
	if keep < 0 || n <= keep*2 {
		keep = 0
	}
	runes := []rune(secret)
	return string(runes[:keep]) + strings.Repeat("*", n-keep)
}
