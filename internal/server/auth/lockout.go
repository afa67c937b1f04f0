package auth

import (
	"time"

	"github.com/dmitrijs2005/gophgate/internal/server/models"
)

// LockoutPolicy decides when repeated login failures lock an account.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// DefaultLockoutPolicy locks an account for 30 minutes after 5 failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, LockDuration: 30 * time.Minute}
}

// Locked reports whether u is locked at now and until when.
func (p LockoutPolicy) Locked(u *models.User, now time.Time) (bool, time.Time) {
	if u.LockedUntil == nil || !u.LockedUntil.After(now) {
		return false, time.Time{}
	}
	return true, *u.LockedUntil
}

// RegisterFailure returns the failure count after one more failed attempt and
// the lock expiry, if the new count reaches MaxAttempts.
func (p LockoutPolicy) RegisterFailure(current int, now time.Time) (int, *time.Time) {
	attempts := current + 1
	if attempts >= p.MaxAttempts {
		until := now.Add(p.LockDuration)
		return attempts, &until
	}
	return attempts, nil
}

// Remaining is the number of failures left before the account locks.
func (p LockoutPolicy) Remaining(attempts int) int {
	return max(0, p.MaxAttempts-attempts)
}
