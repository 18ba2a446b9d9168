package domain

import "time"

// Lockout policy constants.
const (
	// LockoutThreshold is the number of consecutive failures that locks an
	// account.
	LockoutThreshold = 5

	// LockoutDuration is how long a locked account rejects all attempts.
	LockoutDuration = 30 * time.Minute
)

// LockState models the failed-login counter and lock window as an explicit
// value object with transition functions, so the lock state machine is
// testable independent of storage.
type LockState struct {
	Attempts  int
	LockUntil *time.Time
}

// IsLocked reports whether the account rejects attempts at now.
func (s LockState) IsLocked(now time.Time) bool {
	return s.LockUntil != nil && now.Before(*s.LockUntil)
}

// RecordFailure returns the state after one more wrong password at now.
// A lapsed lock starts a fresh window: the counter restarts at 1 rather than
// continuing past the threshold, which prevents a stale counter from
// escalating into permanent lockout.
func (s LockState) RecordFailure(now time.Time) LockState {
	next := LockState{Attempts: s.Attempts + 1, LockUntil: s.LockUntil}

	if s.LockUntil != nil && !now.Before(*s.LockUntil) {
		next.Attempts = 1
		next.LockUntil = nil
	}

	if next.Attempts >= LockoutThreshold {
		until := now.Add(LockoutDuration)
		next.LockUntil = &until
	}

	return next
}

// RecordSuccess returns the cleared state after a correct password.
func (s LockState) RecordSuccess() LockState {
	return LockState{}
}
