// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"
)

const (
	// LockoutThreshold is the number of consecutive failed logins that locks
	// an account.
	LockoutThreshold = 7
	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration = 15 * time.Minute
)

// Lockout is the brute-force policy applied to password logins.
type Lockout struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockout locks an account for LockoutDuration after
// LockoutThreshold failures.
var DefaultLockout = Lockout{Threshold: LockoutThreshold, Duration: LockoutDuration}

// Until returns the instant a lock placed at now expires, or nil while
// failures is below the threshold.
func (l Lockout) Until(failures int, now time.Time) *time.Time {
	if l.Threshold <= 0 || failures < l.Threshold {
		return nil
	}
	until := now.UTC().Add(l.Duration)
	return &until
}

// Remaining returns how much of a lock is left at now. Zero means unlocked.
func (Lockout) Remaining(lockedUntil *time.Time, now time.Time) time.Duration {
	if lockedUntil == nil || !lockedUntil.After(now) {
		return 0
	}
	return lockedUntil.Sub(now)
}
