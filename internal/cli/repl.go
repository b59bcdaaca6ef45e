// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Interactive read-eval loop for the vaultsec console.

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/Developer-Keyithan/the-vault/internal/config"
	"github.com/Developer-Keyithan/the-vault/internal/util"
)

// LineReader reads one line of input after printing prompt.
type LineReader interface {
	Prompt(prompt string) (string, error)
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// Prompter provides line editing and history for the console.
type Prompter struct {
	line        *liner.State
	historyFile string
}

// NewPrompter creates a Prompter whose history lives in the config
// directory.
func NewPrompter() *Prompter {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	p := &Prompter{
		line:        line,
		historyFile: filepath.Join(configDir, "console_history"),
	}
	p.loadHistory()
	return p
}

func (p *Prompter) loadHistory() {
	if f, err := os.Open(p.historyFile); err == nil {
		p.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads a line. Lines carrying secrets are kept out of history.
func (p *Prompter) Prompt(prompt string) (string, error) {
	input, err := p.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if keepInHistory(input) {
		p.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with 0600 permissions and restores the terminal.
func (p *Prompter) Close() {
	var buf bytes.Buffer
	if _, err := p.line.WriteHistory(&buf); err == nil {
		_ = util.AtomicWritePrivate(p.historyFile, buf.Bytes())
	}
	p.line.Close()
}

// keepInHistory reports whether a line may be written to the history file.
// SECURITY: PINs, TOTP codes and copied text never reach disk.
func keepInHistory(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "unlock", "copy":
		return false
	case "config":
		return len(fields) < 2 || fields[1] != "set"
	}
	return true
}

// =============================================================================
// LOOP
// =============================================================================

// Run reads commands until quit, EOF, Ctrl+C or ctx cancellation. Command
// errors are printed and do not end the loop.
func (c *Console) Run(ctx context.Context, in LineReader) error {
	c.printf("%s\n", c.paint(TitleStyle, "vaultsec console - type \"help\" for commands"))
	prompt := c.paint(PromptStyle, "vault> ")

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				c.printf("\n")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		quit, err := c.Execute(ctx, strings.TrimSpace(line))
		if err != nil {
			c.printf("%s %v\n", c.paint(ErrorStyle, "[Error]"), err)
		}
		if quit {
			return nil
		}
	}
}
