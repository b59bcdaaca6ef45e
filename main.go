// vaultsec - security and lifecycle coordinator for a local secrets vault.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Developer-Keyithan/the-vault/internal/cli"
	"github.com/Developer-Keyithan/the-vault/internal/clipboard"
	"github.com/Developer-Keyithan/the-vault/internal/compliance"
	"github.com/Developer-Keyithan/the-vault/internal/config"
	"github.com/Developer-Keyithan/the-vault/internal/metrics"
	"github.com/Developer-Keyithan/the-vault/internal/security"
	"github.com/Developer-Keyithan/the-vault/internal/storage"
	"github.com/Developer-Keyithan/the-vault/internal/vault"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

type options struct {
	configPath    string
	logLevel      string
	logFile       string
	clipboard     string
	journal       string
	metricsListen string
	hashPIN       bool
	totpAccount   string
	printChecksum bool
	version       bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("vaultsec", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "config file (default: ~/.vaultsec/config.toml)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")
	flagSet.StringVar(&opts.clipboard, "clipboard", "", "clipboard backend: auto, system or memory")
	flagSet.StringVar(&opts.journal, "journal", "", "journal database path, or \"off\"")
	flagSet.StringVar(&opts.metricsListen, "metrics-listen", "", "serve Prometheus metrics on host:port")
	flagSet.BoolVar(&opts.hashPIN, "hash-pin", false, "read a PIN and print its bcrypt hash for vault.pin_hash")
	flagSet.StringVar(&opts.totpAccount, "totp-enroll", "", "generate a TOTP secret for the named account")
	flagSet.BoolVar(&opts.printChecksum, "checksum", false, "print this binary's SHA-256 for security.binary_checksum")
	flagSet.BoolVarP(&opts.version, "version", "v", false, "print version")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	switch {
	case opts.version:
		fmt.Printf("vaultsec %s (%s)\n", Version, GitCommit)
		return nil
	case opts.hashPIN:
		return runHashPIN(os.Stdin, os.Stdout)
	case opts.totpAccount != "":
		return runTOTPEnroll(opts.totpAccount, os.Stdout)
	case opts.printChecksum:
		return runChecksum(os.Stdout)
	}

	cfg, cfgPath, err := loadConfig(opts)
	if err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.Logging.Level)
	var levelVar slog.LevelVar
	levelVar.Set(level)
	logOut := io.Writer(os.Stderr)
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: &levelVar}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, cfgPath, logger, &levelVar)
}

// loadConfig reads the config file and applies flag overrides on top.
// The returned path is where console edits are saved.
func loadConfig(opts options) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path = opts.configPath
		err  error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
		path = existingConfigPath()
	}
	if err != nil {
		return nil, "", err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.clipboard != "" {
		cfg.Clipboard.Backend = opts.clipboard
	}
	if opts.journal != "" {
		cfg.Storage.JournalPath = opts.journal
	}
	if opts.metricsListen != "" {
		cfg.Metrics.Listen = opts.metricsListen
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, path, nil
}

func existingConfigPath() string {
	for _, locate := range []func() (string, error){config.ConfigPathTOML, config.ConfigPathJSON} {
		if p, err := locate(); err == nil {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	p, _ := config.ConfigPathTOML()
	return p
}

// =============================================================================
// SERVICE WIRING
// =============================================================================

func serve(ctx context.Context, cfg *config.Config, cfgPath string, logger *slog.Logger, levelVar *slog.LevelVar) error {
	session := vault.NewSession(
		vault.WithPINHash(cfg.Vault.PINHash),
		vault.WithTOTPSecret(cfg.Vault.TOTPSecret),
		vault.WithMaxAttempts(cfg.Vault.MaxAttempts),
		vault.WithLockoutDuration(time.Duration(cfg.Vault.LockoutMinutes)*time.Minute),
		vault.WithLogger(logger.With("component", "vault")),
	)
	if cfg.Vault.PINHash == "" {
		logger.Warn("no vault.pin_hash configured; unlock is disabled (see --hash-pin)")
	}

	backend, err := clipboard.Open(cfg.Clipboard.Backend)
	if err != nil {
		return err
	}

	checker := compliance.NewHostCheck(
		compliance.WithBinaryChecksum(cfg.Security.BinaryChecksum),
		compliance.WithLogger(logger.With("component", "compliance")),
	)

	m := metrics.New()

	coord, err := security.NewCoordinator(cfg.CoordinatorConfig(), security.Deps{
		Lock:      session.Lock,
		Checker:   checker,
		Clipboard: backend,
		Logger:    logger.With("component", "security"),
		Observer:  m,
	})
	if err != nil {
		return err
	}
	defer coord.Close()

	journal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	// Workers stop before the journal closes.
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	if journal != nil {
		rec := storage.NewRecorder(journal, storage.DefaultRecorderBuffer, logger.With("component", "journal"))
		unsub := coord.SubscribeEvents(rec.Enqueue)
		defer unsub()
		g.Go(func() error { return rec.Run(gctx) })
	}

	if cfg.Metrics.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		logger.Info("serving metrics", "addr", ln.Addr().String())
		g.Go(func() error { return m.Serve(gctx, ln) })
	}

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		w, err := config.Watch(cfgPath, func(next *config.Config) {
			if err := coord.SetAutoLockMinutes(next.Security.AutoLockMinutes); err != nil {
				logger.Warn("config reload: auto-lock not applied", "err", err)
			}
			if lvl, err := config.ParseLevel(next.Logging.Level); err == nil {
				levelVar.Set(lvl)
			}
			logger.Info("config reloaded", "path", cfgPath)
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		})
		if err != nil {
			logger.Warn("config watch disabled", "err", err)
		} else {
			defer w.Close()
		}
	}

	if err := coord.Start(gctx); err != nil {
		return err
	}

	console := cli.NewConsole(coord, session,
		cli.WithJournal(journal),
		cli.WithConfig(cfg, cfgPath),
	)
	prompter := cli.NewPrompter()

	consoleDone := make(chan error, 1)
	go func() { consoleDone <- console.Run(gctx, prompter) }()

	var runErr error
	select {
	case runErr = <-consoleDone:
	case <-gctx.Done():
	}
	prompter.Close()

	// Lock on the way out; a closed console must not leave the vault open.
	if err := session.Lock(); err != nil {
		logger.Warn("final lock failed", "err", err)
	}

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return runErr
}

func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Journal, error) {
	path, ok, err := cfg.JournalPath()
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info("event journal disabled")
		return nil, nil
	}
	journal, err := storage.OpenJournal(path)
	if err != nil {
		return nil, err
	}
	if days := cfg.Storage.RetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		n, err := journal.Prune(ctx, cutoff)
		if err != nil {
			logger.Warn("journal prune failed", "err", err)
		} else if n > 0 {
			logger.Info("pruned journal", "removed", n, "before", cutoff.Format(time.DateOnly))
		}
	}
	return journal, nil
}

// =============================================================================
// ONE-SHOT COMMANDS
// =============================================================================

func runHashPIN(in *os.File, out io.Writer) error {
	pin, err := readSecret(in, out, "PIN: ")
	if err != nil {
		return err
	}
	hash, err := vault.HashPIN(pin)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

func readSecret(in *os.File, out io.Writer, prompt string) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read PIN: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read PIN: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runTOTPEnroll(account string, out io.Writer) error {
	secret, url, err := vault.GenerateTOTPSecret(account)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "secret: %s\n", secret)
	fmt.Fprintf(out, "url:    %s\n", url)
	fmt.Fprintln(out, "Set vault.totp_secret to the secret and add the URL to an authenticator app.")
	return nil
}

func runChecksum(out io.Writer) error {
	path, err := compliance.BinaryPath()
	if err != nil {
		return err
	}
	sum, err := compliance.FileChecksum(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, sum)
	return nil
}
