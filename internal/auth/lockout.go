package auth

import "time"

// LockoutPolicy governs account lockout after repeated failed logins.
// "Locked" is always re-derived from the lock expiry against the current
// time; no cached flag is authoritative.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy locks an account for one hour after five consecutive
// failures.
var DefaultLockoutPolicy = LockoutPolicy{Threshold: 5, Duration: time.Hour}

// Locked reports whether a lock expiry still holds at the given instant.
// An expiry in the past counts as cleared.
func (p LockoutPolicy) Locked(until *time.Time, now time.Time) bool {
	return until != nil && until.After(now)
}

// OnFailure returns the attempt counter and lock expiry after one more
// failed credential check. A stale lock resets the counter to one; otherwise
// the counter increments and reaching the threshold sets a fresh lock.
//
// The durable update must be applied as a single atomic statement mirroring
// this logic (see AccountStore.RecordLoginFailure); this function is the
// reference for that statement and for tests.
func (p LockoutPolicy) OnFailure(attempts int, until *time.Time, now time.Time) (int, *time.Time) {
	if until != nil && !until.After(now) {
		return 1, nil
	}
	attempts++
	if attempts >= p.Threshold {
		lockUntil := now.Add(p.Duration)
		return attempts, &lockUntil
	}
	return attempts, until
}

// OnSuccess returns the state after a successful credential check: counter
// cleared, lock cleared.
func (p LockoutPolicy) OnSuccess() (int, *time.Time) {
	return 0, nil
}
