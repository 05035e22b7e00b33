package auth

import (
	"testing"
	"time"
)

func TestLockoutOnFailureIncrements(t *testing.T) {
	policy := DefaultLockoutPolicy
	now := time.Now().UTC()

	attempts, until := policy.OnFailure(0, nil, now)
	if attempts != 1 || until != nil {
		t.Fatalf("expected 1 attempt unlocked, got %d, %v", attempts, until)
	}

	attempts, until = policy.OnFailure(3, nil, now)
	if attempts != 4 || until != nil {
		t.Fatalf("expected 4 attempts unlocked, got %d, %v", attempts, until)
	}
}

func TestLockoutOnFailureLocksAtThreshold(t *testing.T) {
	policy := DefaultLockoutPolicy
	now := time.Now().UTC()

	attempts, until := policy.OnFailure(4, nil, now)
	if attempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", attempts)
	}
	if until == nil {
		t.Fatal("expected lock to be set at threshold")
	}
	if got, want := *until, now.Add(time.Hour); !got.Equal(want) {
		t.Fatalf("expected lock until %v, got %v", want, got)
	}
}

func TestLockoutStaleLockResetsToOne(t *testing.T) {
	policy := DefaultLockoutPolicy
	now := time.Now().UTC()
	stale := now.Add(-time.Minute)

	attempts, until := policy.OnFailure(5, &stale, now)
	if attempts != 1 || until != nil {
		t.Fatalf("expected reset to 1 unlocked, got %d, %v", attempts, until)
	}
}

func TestLockoutLockedDerivesFromExpiry(t *testing.T) {
	policy := DefaultLockoutPolicy
	now := time.Now().UTC()

	if policy.Locked(nil, now) {
		t.Fatal("nil expiry must not be locked")
	}
	past := now.Add(-time.Second)
	if policy.Locked(&past, now) {
		t.Fatal("expiry in the past must count as cleared")
	}
	future := now.Add(time.Minute)
	if !policy.Locked(&future, now) {
		t.Fatal("future expiry must be locked")
	}
}

func TestLockoutOnSuccessClears(t *testing.T) {
	attempts, until := DefaultLockoutPolicy.OnSuccess()
	if attempts != 0 || until != nil {
		t.Fatalf("expected cleared state, got %d, %v", attempts, until)
	}
}
