package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// AttemptStore persists per-account failure counters. Implementations must
// make RecordFailure atomic with respect to concurrent calls for the same
// account; two racing failures must not observe the same pre-increment
// count. The pgx Repository implements this with a row lock.
type AttemptStore interface {
	// RecordFailure increments the account's failure counter and returns a
	// non-nil lockout deadline when the account is (or just became) locked.
	RecordFailure(ctx context.Context, accountID string, threshold int, lockFor time.Duration, now time.Time) (*time.Time, error)

	// ClearFailures resets the counter after a successful login.
	ClearFailures(ctx context.Context, accountID string) error
}

// LockoutTracker enforces the per-account lockout state machine. Expiry is
// lazy: a lock that has elapsed is simply ignored at the next attempt, and
// the counter restarts from zero on the next recorded failure.
type LockoutTracker struct {
	store     AttemptStore
	threshold int
	lockFor   time.Duration
	now       func() time.Time
}

func NewLockoutTracker(store AttemptStore, threshold int, lockFor time.Duration) *LockoutTracker {
	if threshold <= 0 {
		threshold = 5
	}
	if lockFor <= 0 {
		lockFor = 15 * time.Minute
	}

	return &LockoutTracker{
		store:     store,
		threshold: threshold,
		lockFor:   lockFor,
		now:       time.Now,
	}
}

// Check rejects the attempt while the account's lock is still in force.
func (t *LockoutTracker) Check(account Account) error {
	if account.LockedUntil != nil && t.now().UTC().Before(*account.LockedUntil) {
		return LockedError{Until: *account.LockedUntil}
	}
	return nil
}

// RecordFailure registers one failed attempt. When the failure crosses the
// threshold, or the account was already locked, the returned error is a
// LockedError; a store outage also fails closed as locked.
func (t *LockoutTracker) RecordFailure(ctx context.Context, accountID string) error {
	now := t.now().UTC()

	until, err := t.store.RecordFailure(ctx, accountID, t.threshold, t.lockFor, now)
	if err != nil {
		// A counter we cannot record is a lockout we cannot trust: degrade
		// availability, not security.
		sentry.CaptureException(fmt.Errorf("record login failure: %w", err))
		return LockedError{Until: now.Add(t.lockFor)}
	}
	if until != nil {
		return LockedError{Until: *until}
	}

	return ErrInvalidCredentials
}

func (t *LockoutTracker) Reset(ctx context.Context, accountID string) error {
	return t.store.ClearFailures(ctx, accountID)
}
