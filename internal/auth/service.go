package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"registra.org/internal/ids"
	"registra.org/internal/obs"
)

// chain walks are bounded; a rotation chain longer than this indicates
// corrupted data rather than legitimate history.
const maxChainHops = 64

// Service composes credential verification, lockout handling, token issuance
// and the refresh token ledger into the session flows the rest of the system
// calls into.
type Service struct {
	store  Store
	tokens *TokenIssuer
	now    func() time.Time

	refreshTTL         time.Duration
	lockout            LockoutPolicy
	revokeChainOnReuse bool
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
			s.tokens.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.tokens.ttl = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			s.tokens.issuer = issuer
		}
		return nil
	}
}

// WithAudience overrides the token audience claim.
func WithAudience(audience string) Option {
	return func(s *Service) error {
		audience = strings.TrimSpace(audience)
		if audience != "" {
			s.tokens.audience = audience
		}
		return nil
	}
}

// WithLockoutPolicy overrides the account lockout policy.
func WithLockoutPolicy(p LockoutPolicy) Option {
	return func(s *Service) error {
		if p.Threshold <= 0 || p.Duration <= 0 {
			return errors.New("auth: invalid lockout policy")
		}
		s.lockout = p
		return nil
	}
}

// WithChainRevocationOnReuse toggles whether presenting a revoked refresh
// token revokes its entire successor chain.
func WithChainRevocationOnReuse(enabled bool) Option {
	return func(s *Service) error {
		s.revokeChainOnReuse = enabled
		return nil
	}
}

// NewService constructs the session service.
func NewService(store Store, tokenSecret []byte, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	tokens, err := NewTokenIssuer(tokenSecret)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		store:              store,
		tokens:             tokens,
		now:                time.Now,
		refreshTTL:         DefaultRefreshTTL,
		lockout:            DefaultLockoutPolicy,
		revokeChainOnReuse: true,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Session is the result of a successful login or refresh.
type Session struct {
	Account          Profile
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Login verifies credentials and issues a fresh token pair. The refresh
// record carries the caller's origin address.
func (s *Service) Login(ctx context.Context, email, password, ip string) (Session, error) {
	acct, err := s.verifyCredentials(ctx, email, password)
	if err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	if err := s.store.Accounts(ctx).RecordLoginSuccess(ctx, acct.ID, now); err != nil {
		return Session{}, fmt.Errorf("record login success: %w", err)
	}
	acct.LastLoginAt = &now

	sess, err := s.mintSession(ctx, acct, ip)
	if err != nil {
		return Session{}, err
	}
	obs.Info("login succeeded", map[string]any{"account_id": acct.ID, "ip": ip})
	return sess, nil
}

// verifyCredentials implements the credential check ordering: lookup, lock
// state, active flag, then hash comparison. A missing account and a wrong
// password both surface as ErrInvalidCredentials.
func (s *Service) verifyCredentials(ctx context.Context, email, password string) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		obs.LoginFailure("invalid_input")
		return nil, ErrInvalidCredentials
	}
	accounts := s.store.Accounts(ctx)
	acct, err := accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LoginFailure("unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find account: %w", err)
	}

	now := s.now().UTC()
	// A locked account rejects every attempt before the hash comparison and
	// does not increment the counter further.
	if s.lockout.Locked(acct.LockedUntil, now) {
		obs.LoginFailure("locked")
		return nil, ErrAccountLocked
	}
	if !acct.Active {
		obs.LoginFailure("inactive")
		return nil, ErrAccountInactive
	}

	if err := VerifyPassword(acct.PasswordHash, password); err != nil {
		locked, ferr := accounts.RecordLoginFailure(ctx, acct.ID, s.lockout, now)
		if ferr != nil {
			return nil, fmt.Errorf("record login failure: %w", ferr)
		}
		obs.LoginFailure("bad_password")
		if locked {
			obs.Lockout()
			obs.Warn("account locked after repeated failures", map[string]any{"account_id": acct.ID})
		}
		return nil, ErrInvalidCredentials
	}
	return acct, nil
}

// Refresh rotates the presented refresh token and issues a new token pair.
// Presenting a revoked token is treated as possible theft: the successor
// chain is defensively revoked and the call fails with ErrTokenRevoked.
func (s *Service) Refresh(ctx context.Context, refreshToken, ip string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, ErrTokenMissing
	}
	ledger := s.store.RefreshTokens(ctx)
	rec, err := ledger.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrTokenMalformed
		}
		return Session{}, fmt.Errorf("find refresh token: %w", err)
	}

	now := s.now().UTC()
	if rec.RevokedAt != nil {
		s.handleTokenReuse(ctx, rec, ip, now)
		return Session{}, ErrTokenRevoked
	}
	if !now.Before(rec.ExpiresAt) {
		return Session{}, ErrTokenExpired
	}

	acct, err := s.store.Accounts(ctx).Find(ctx, rec.AccountID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		// Transient lookup failure. The token stays untouched so the caller
		// can retry once storage recovers.
		return Session{}, fmt.Errorf("find account: %w", err)
	}
	if err != nil || !acct.Active {
		// Owning account gone or deactivated: the token must not survive.
		if rerr := ledger.Revoke(ctx, rec.Token, ip, now); rerr != nil {
			obs.Error("revoke token for inactive account failed", map[string]any{"error": rerr.Error()})
		}
		return Session{}, ErrAccountInactive
	}

	newValue, err := NewRefreshTokenValue()
	if err != nil {
		return Session{}, err
	}
	successor := &RefreshToken{
		Token:       newValue,
		AccountID:   acct.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.refreshTTL),
		CreatedByIP: ip,
	}
	if err := ledger.Rotate(ctx, rec.Token, successor, ip, now); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			// Lost a concurrent rotation race. Only one caller may win;
			// the loser is rejected, never retried.
			obs.TokenReuse()
			return Session{}, ErrTokenRevoked
		}
		return Session{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	access, accessExp, err := s.tokens.IssueAccess(acct)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Account:          NewProfile(acct),
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newValue,
		RefreshExpiresAt: successor.ExpiresAt,
	}, nil
}

func (s *Service) handleTokenReuse(ctx context.Context, rec *RefreshToken, ip string, now time.Time) {
	obs.TokenReuse()
	obs.Warn("revoked refresh token presented", map[string]any{
		"account_id": rec.AccountID,
		"ip":         ip,
	})
	if !s.revokeChainOnReuse {
		return
	}
	// Walk the successor chain forward and revoke every live descendant.
	ledger := s.store.RefreshTokens(ctx)
	next := rec.ReplacedBy
	for hops := 0; next != "" && hops < maxChainHops; hops++ {
		succ, err := ledger.Find(ctx, next)
		if err != nil {
			return
		}
		if succ.RevokedAt == nil {
			if err := ledger.Revoke(ctx, succ.Token, ip, now); err != nil {
				obs.Error("chain revocation failed", map[string]any{"error": err.Error()})
				return
			}
		}
		next = succ.ReplacedBy
	}
}

// Logout revokes the supplied refresh token if it is still active. Revoking
// an already-inactive token is not an error; logout is idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken, ip string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.store.RefreshTokens(ctx).Revoke(ctx, refreshToken, ip, s.now().UTC())
}

// LogoutAll revokes every active refresh token owned by the account.
func (s *Service) LogoutAll(ctx context.Context, accountID, ip string) error {
	if accountID == "" {
		return ErrNotFound
	}
	return s.store.RefreshTokens(ctx).RevokeAllForAccount(ctx, accountID, ip, s.now().UTC())
}

// ChangePassword verifies the current secret, writes the new hash and
// unconditionally revokes every outstanding session. Already-issued access
// tokens remain valid until their own expiry; that tradeoff is accepted.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword, ip string) error {
	accounts := s.store.Accounts(ctx)
	acct, err := accounts.Find(ctx, accountID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(acct.PasswordHash, currentPassword); err != nil {
		obs.LoginFailure("bad_current_password")
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := accounts.UpdatePassword(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.store.RefreshTokens(ctx).RevokeAllForAccount(ctx, acct.ID, ip, s.now().UTC()); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	obs.Info("password changed", map[string]any{"account_id": acct.ID, "ip": ip})
	return nil
}

// Authenticate verifies an access token and returns the identity carried in
// its claims. Validity is determined purely by signature and claim checks;
// no store lookup happens here.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		return Identity{}, err
	}
	return claims.Identity(), nil
}

// CurrentAccount returns the sanitized projection of the account.
func (s *Service) CurrentAccount(ctx context.Context, accountID string) (Profile, error) {
	acct, err := s.store.Accounts(ctx).Find(ctx, accountID)
	if err != nil {
		return Profile{}, err
	}
	return NewProfile(acct), nil
}

// NewAccount is the input for account provisioning.
type NewAccount struct {
	FirstName   string
	LastName    string
	Email       string
	Password    string
	Role        Role
	Permissions PermissionSet
}

// CreateAccount provisions an account. Staff accounts receive a generated
// employee identifier; uniqueness violations on email or employee id surface
// as ErrConflict.
func (s *Service) CreateAccount(ctx context.Context, in NewAccount) (Profile, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Profile{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return Profile{}, fmt.Errorf("%w: unsupported role", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Profile{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	acct := &Account{
		ID:           ids.New(),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
		Permissions:  in.Permissions,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	accounts := s.store.Accounts(ctx)
	if in.Role == RoleStaff {
		seq, err := accounts.NextEmployeeSeq(ctx, now.Year())
		if err != nil {
			return Profile{}, fmt.Errorf("employee sequence: %w", err)
		}
		acct.EmployeeID = fmt.Sprintf("EMP-%d-%03d", now.Year(), seq)
	}
	if err := accounts.Create(ctx, acct); err != nil {
		return Profile{}, err
	}
	return NewProfile(acct), nil
}

// SweepExpiredTokens deletes refresh records past their expiry. Intended to
// run periodically from the server process.
func (s *Service) SweepExpiredTokens(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens(ctx).DeleteExpired(ctx, s.now().UTC())
}

func (s *Service) mintSession(ctx context.Context, acct *Account, ip string) (Session, error) {
	access, accessExp, err := s.tokens.IssueAccess(acct)
	if err != nil {
		return Session{}, err
	}
	value, err := NewRefreshTokenValue()
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	rec := &RefreshToken{
		Token:       value,
		AccountID:   acct.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.refreshTTL),
		CreatedByIP: ip,
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return Session{}, fmt.Errorf("persist refresh token: %w", err)
	}
	return Session{
		Account:          NewProfile(acct),
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     value,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// NormalizeEmail lower-cases and trims an email for case-insensitive lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
