package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// The store owns locking and transaction discipline; this package only
// requires atomic single-record update semantics.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// AccountStore manages account records.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	// FindByEmail expects a case-normalized (lower-cased) email.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// RecordLoginFailure applies LockoutPolicy.OnFailure as one atomic
	// statement so concurrent attempts cannot lose increments. It reports
	// whether the account is locked afterwards.
	RecordLoginFailure(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (bool, error)
	// RecordLoginSuccess clears the failure counter and lock and stamps the
	// last successful login.
	RecordLoginSuccess(ctx context.Context, id string, now time.Time) error

	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// NextEmployeeSeq returns the next per-year sequence number used for
	// staff employee identifiers.
	NextEmployeeSeq(ctx context.Context, year int) (int, error)
}

// RefreshTokenStore manages the refresh token ledger.
type RefreshTokenStore interface {
	Create(ctx context.Context, t *RefreshToken) error
	Find(ctx context.Context, token string) (*RefreshToken, error)

	// Rotate revokes the old record (setting successor and revocation
	// metadata) and persists the successor as one logical operation. If the
	// old record is already revoked because a concurrent rotation won, it
	// returns ErrTokenRevoked and persists nothing.
	Rotate(ctx context.Context, oldToken string, successor *RefreshToken, ip string, now time.Time) error

	// Revoke marks the token revoked if it is still active. Revoking an
	// already-inactive token is a no-op, not an error.
	Revoke(ctx context.Context, token, ip string, now time.Time) error

	// RevokeAllForAccount revokes every currently-active token owned by the
	// account, with no successor set.
	RevokeAllForAccount(ctx context.Context, accountID, ip string, now time.Time) error

	// DeleteExpired removes records past their expiry and reports how many
	// were swept.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
