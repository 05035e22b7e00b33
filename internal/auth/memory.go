package auth

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore implements Store in memory. It backs tests and local development;
// the mutex gives it the same atomic single-record update semantics the
// Postgres store gets from single-statement updates.
type MemStore struct {
	mu           sync.Mutex
	accounts     map[string]*Account
	byEmail      map[string]string
	tokens       map[string]*RefreshToken
	employeeSeqs map[int]int
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts:     make(map[string]*Account),
		byEmail:      make(map[string]string),
		tokens:       make(map[string]*RefreshToken),
		employeeSeqs: make(map[int]int),
	}
}

func (s *MemStore) Accounts(context.Context) AccountStore      { return (*memAccounts)(s) }
func (s *MemStore) RefreshTokens(context.Context) RefreshTokenStore { return (*memTokens)(s) }

type memAccounts MemStore

func (s *memAccounts) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[a.Email]; ok {
		return ErrConflict
	}
	if a.EmployeeID != "" {
		for _, other := range s.accounts {
			if other.EmployeeID == a.EmployeeID {
				return ErrConflict
			}
		}
	}
	cp := *a
	s.accounts[a.ID] = &cp
	s.byEmail[a.Email] = a.ID
	return nil
}

func (s *memAccounts) Find(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *memAccounts) RecordLoginFailure(_ context.Context, id string, policy LockoutPolicy, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return false, ErrNotFound
	}
	a.FailedAttempts, a.LockedUntil = policy.OnFailure(a.FailedAttempts, a.LockedUntil, now)
	a.UpdatedAt = now
	return policy.Locked(a.LockedUntil, now), nil
}

func (s *memAccounts) RecordLoginSuccess(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	last := now
	a.LastLoginAt = &last
	a.UpdatedAt = now
	return nil
}

func (s *memAccounts) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	return nil
}

func (s *memAccounts) NextEmployeeSeq(_ context.Context, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employeeSeqs[year]++
	return s.employeeSeqs[year], nil
}

type memTokens MemStore

func (s *memTokens) Create(_ context.Context, t *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.Token]; ok {
		return ErrConflict
	}
	cp := *t
	s.tokens[t.Token] = &cp
	return nil
}

func (s *memTokens) Find(_ context.Context, token string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memTokens) Rotate(_ context.Context, oldToken string, successor *RefreshToken, ip string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tokens[oldToken]
	if !ok {
		return ErrNotFound
	}
	if old.RevokedAt != nil {
		return ErrTokenRevoked
	}
	revoked := now
	old.RevokedAt = &revoked
	old.RevokedByIP = ip
	old.ReplacedBy = successor.Token
	cp := *successor
	s.tokens[successor.Token] = &cp
	return nil
}

func (s *memTokens) Revoke(_ context.Context, token, ip string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || t.RevokedAt != nil {
		return nil
	}
	revoked := now
	t.RevokedAt = &revoked
	t.RevokedByIP = ip
	return nil
}

func (s *memTokens) RevokeAllForAccount(_ context.Context, accountID, ip string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.AccountID != accountID || t.RevokedAt != nil || !now.Before(t.ExpiresAt) {
			continue
		}
		revoked := now
		t.RevokedAt = &revoked
		t.RevokedByIP = ip
	}
	return nil
}

func (s *memTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}
