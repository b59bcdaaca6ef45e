// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vault owns the lock state of a vault session.
//
// A Session starts locked. Unlock verifies a PIN against its bcrypt hash and,
// when a TOTP secret is enrolled, a one-time code. Consecutive failures lead
// to a timed lockout and attempts are rate limited. Lock is idempotent and is
// the lock callback handed to the security coordinator.
//
// # Usage
//
//	hash, _ := vault.HashPIN("482916")
//	s := vault.NewSession(vault.WithPINHash(hash))
//	if err := s.Unlock("482916", ""); err != nil {
//	    // ErrBadCredential, ErrLockedOut, ErrRateLimited ...
//	}
//	coord, _ := security.NewCoordinator(cfg, security.Deps{Lock: s.Lock})
package vault

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS & ERRORS
// =============================================================================

const (
	// DefaultMaxAttempts is the number of consecutive failures before lockout.
	DefaultMaxAttempts = 5

	// DefaultLockoutDuration is how long a lockout lasts.
	DefaultLockoutDuration = 5 * time.Minute

	// MinPINLength is the shortest PIN HashPIN accepts.
	MinPINLength = 4

	// TOTPIssuer is the issuer shown in authenticator apps.
	TOTPIssuer = "vaultsec"

	pinCost = bcrypt.DefaultCost
)

var (
	// ErrNoCredential is returned by Unlock when no PIN is enrolled.
	ErrNoCredential = errors.New("no PIN configured")
	// ErrBadCredential is returned for a wrong PIN or one-time code.
	ErrBadCredential = errors.New("invalid credentials")
	// ErrLockedOut is returned while a failure lockout is in effect.
	ErrLockedOut = errors.New("too many failed attempts")
	// ErrRateLimited is returned when attempts arrive faster than allowed.
	ErrRateLimited = errors.New("unlock attempts rate limited")
	// ErrInvalidPIN is returned by HashPIN for malformed PINs.
	ErrInvalidPIN = errors.New("PIN must be at least 4 digits")
)

// =============================================================================
// SESSION
// =============================================================================

// Status is a snapshot of the session.
type Status struct {
	Locked         bool
	UnlockedAt     time.Time
	Failures       int
	LockedOutUntil time.Time
	SecondFactor   bool
}

// Session is the lock state of one vault. It is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	clock  clockwork.Clock
	logger *slog.Logger

	pinHash         string
	totpSecret      string
	maxAttempts     int
	lockoutDuration time.Duration
	limiter         *rate.Limiter

	locked      bool
	unlockedAt  time.Time
	failures    int
	lockedUntil time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithPINHash sets the bcrypt hash Unlock verifies against.
func WithPINHash(hash string) Option {
	return func(s *Session) { s.pinHash = hash }
}

// WithTOTPSecret enrolls a base32 TOTP secret as a second factor.
func WithTOTPSecret(secret string) Option {
	return func(s *Session) { s.totpSecret = secret }
}

// WithMaxAttempts sets the failures allowed before lockout.
func WithMaxAttempts(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLockoutDuration sets how long a lockout lasts.
func WithLockoutDuration(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.lockoutDuration = d
		}
	}
}

// WithClock sets the clock for lockouts, rate limiting and TOTP.
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession returns a locked session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		clock:           clockwork.NewRealClock(),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxAttempts:     DefaultMaxAttempts,
		lockoutDuration: DefaultLockoutDuration,
		// One attempt per second on average, three in a burst.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		locked:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock locks the vault. Locking a locked vault is a no-op.
func (s *Session) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		return nil
	}
	s.locked = true
	s.unlockedAt = time.Time{}
	s.logger.Info("vault locked")
	return nil
}

// Unlock verifies the PIN and, if enrolled, the one-time code.
func (s *Session) Unlock(pin, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.pinHash == "" {
		return ErrNoCredential
	}
	if now.Before(s.lockedUntil) {
		return fmt.Errorf("%w: retry in %s", ErrLockedOut, s.lockedUntil.Sub(now).Round(time.Second))
	}
	if !s.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.pinHash), []byte(pin)); err != nil {
		return s.failLocked(now, "pin")
	}
	if s.totpSecret != "" {
		ok, err := totp.ValidateCustom(code, s.totpSecret, now, totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil || !ok {
			return s.failLocked(now, "totp")
		}
	}

	s.failures = 0
	if s.locked {
		s.locked = false
		s.unlockedAt = now
		s.logger.Info("vault unlocked", "second_factor", s.totpSecret != "")
	}
	return nil
}

func (s *Session) failLocked(now time.Time, factor string) error {
	s.failures++
	s.logger.Warn("unlock failed", "factor", factor, "attempt", s.failures, "max", s.maxAttempts)
	if s.failures >= s.maxAttempts {
		s.failures = 0
		s.lockedUntil = now.Add(s.lockoutDuration)
		s.logger.Warn("unlock locked out", "until", s.lockedUntil)
	}
	return ErrBadCredential
}

// Locked reports whether the vault is locked.
func (s *Session) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Locked:       s.locked,
		UnlockedAt:   s.unlockedAt,
		Failures:     s.failures,
		SecondFactor: s.totpSecret != "",
	}
	if s.clock.Now().Before(s.lockedUntil) {
		st.LockedOutUntil = s.lockedUntil
	}
	return st
}

// =============================================================================
// ENROLLMENT
// =============================================================================

// HashPIN validates a PIN and returns its bcrypt hash.
func HashPIN(pin string) (string, error) {
	return hashPIN(pin, pinCost)
}

func hashPIN(pin string, cost int) (string, error) {
	if len(pin) < MinPINLength {
		return "", ErrInvalidPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return "", ErrInvalidPIN
		}
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", fmt.Errorf("hash PIN: %w", err)
	}
	return string(b), nil
}

// GenerateTOTPSecret creates a new TOTP secret for account and returns the
// base32 secret and its otpauth:// URL for authenticator apps.
func GenerateTOTPSecret(account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      TOTPIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}
