// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPIN = "482916"

func newTestSession(t *testing.T, opts ...Option) (*Session, *clockwork.FakeClock) {
	t.Helper()
	hash, err := hashPIN(testPIN, bcrypt.MinCost)
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	opts = append([]Option{WithPINHash(hash), WithClock(clock)}, opts...)
	return NewSession(opts...), clock
}

func TestSession_StartsLocked(t *testing.T) {
	s, _ := newTestSession(t)
	require.True(t, s.Locked())
}

func TestSession_UnlockAndLock(t *testing.T) {
	s, clock := newTestSession(t)

	require.NoError(t, s.Unlock(testPIN, ""))
	require.False(t, s.Locked())
	require.Equal(t, clock.Now(), s.Status().UnlockedAt)

	require.NoError(t, s.Lock())
	require.True(t, s.Locked())
	require.True(t, s.Status().UnlockedAt.IsZero())

	// Idempotent.
	require.NoError(t, s.Lock())
	require.True(t, s.Locked())
}

func TestSession_ConcurrentLockIsSafe(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Unlock(testPIN, ""))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Lock()
		}()
	}
	wg.Wait()
	require.True(t, s.Locked())
}

func TestSession_NoCredential(t *testing.T) {
	s := NewSession()
	require.ErrorIs(t, s.Unlock("1234", ""), ErrNoCredential)
}

func TestSession_LockoutAfterMaxAttempts(t *testing.T) {
	s, clock := newTestSession(t, WithMaxAttempts(3), WithLockoutDuration(time.Minute))

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, s.Unlock("0000", ""), ErrBadCredential)
		clock.Advance(time.Second)
	}

	// Even the right PIN is refused during lockout.
	err := s.Unlock(testPIN, "")
	require.ErrorIs(t, err, ErrLockedOut)
	require.False(t, s.Status().LockedOutUntil.IsZero())
	require.True(t, s.Locked())

	clock.Advance(time.Minute)
	require.NoError(t, s.Unlock(testPIN, ""))
	require.Zero(t, s.Status().Failures)
}

func TestSession_SuccessResetsFailures(t *testing.T) {
	s, clock := newTestSession(t, WithMaxAttempts(3))

	require.ErrorIs(t, s.Unlock("1111", ""), ErrBadCredential)
	clock.Advance(time.Second)
	require.ErrorIs(t, s.Unlock("2222", ""), ErrBadCredential)
	require.Equal(t, 2, s.Status().Failures)

	clock.Advance(time.Second)
	require.NoError(t, s.Unlock(testPIN, ""))
	require.Zero(t, s.Status().Failures)
}

func TestSession_RateLimited(t *testing.T) {
	s, clock := newTestSession(t, WithMaxAttempts(10))

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, s.Unlock("0000", ""), ErrBadCredential)
	}
	require.ErrorIs(t, s.Unlock(testPIN, ""), ErrRateLimited)

	clock.Advance(time.Second)
	require.NoError(t, s.Unlock(testPIN, ""))
}

func TestSession_TOTPSecondFactor(t *testing.T) {
	secret, url, err := GenerateTOTPSecret("alice")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "otpauth://totp/"))

	s, clock := newTestSession(t, WithTOTPSecret(secret))
	require.True(t, s.Status().SecondFactor)

	code, err := totp.GenerateCode(secret, clock.Now())
	require.NoError(t, err)

	wrong := []byte(code)
	wrong[5] = '0' + (wrong[5]-'0'+5)%10
	require.ErrorIs(t, s.Unlock(testPIN, string(wrong)), ErrBadCredential)
	require.ErrorIs(t, s.Unlock(testPIN, ""), ErrBadCredential)
	require.True(t, s.Locked())

	clock.Advance(time.Second)
	require.NoError(t, s.Unlock(testPIN, code))
	require.False(t, s.Locked())
}

func TestHashPIN(t *testing.T) {
	tests := []struct {
		pin     string
		wantErr bool
	}{
		{"1234", false},
		{"00000000", false},
		{"123", true},
		{"12a4", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.pin, func(t *testing.T) {
			hash, err := hashPIN(tt.pin, bcrypt.MinCost)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPIN)
				return
			}
			require.NoError(t, err)
			require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(tt.pin)))
		})
	}
}
