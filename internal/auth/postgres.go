package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL via database/sql.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(context.Context) AccountStore {
	return &accountStore{db: s.db}
}

func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Account store ------------------------------------------------------------

type accountStore struct{ db *sql.DB }

const accountColumns = `id, employee_id, first_name, last_name, email, password_hash, role,
	permissions, active, failed_attempts, locked_until, last_login_at, created_at, updated_at`

func (s *accountStore) Create(ctx context.Context, a *Account) error {
	perms, err := json.Marshal(a.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into accounts(id, employee_id, first_name, last_name, email, password_hash, role, permissions, active)
		 values($1, nullif($2,''), $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.EmployeeID, a.FirstName, a.LastName, a.Email, a.PasswordHash, string(a.Role), perms, a.Active,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *accountStore) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id = $1`, id)
	return scanAccount(row)
}

func (s *accountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email = $1`, email)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		a          Account
		employeeID sql.NullString
		role       string
		perms      []byte
	)
	err := row.Scan(
		&a.ID, &employeeID, &a.FirstName, &a.LastName, &a.Email, &a.PasswordHash, &role,
		&perms, &a.Active, &a.FailedAttempts, &a.LockedUntil, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.EmployeeID = employeeID.String
	a.Role = Role(role)
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &a.Permissions); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// RecordLoginFailure mirrors LockoutPolicy.OnFailure in a single statement:
// a stale lock resets the counter to 1 and clears the lock, otherwise the
// counter increments and reaching the threshold sets a fresh lock. The CASE
// expressions keep concurrent attempts from losing increments.
func (s *accountStore) RecordLoginFailure(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (bool, error) {
	lockUntil := now.Add(policy.Duration)
	row := s.db.QueryRowContext(ctx,
		`update accounts set
			failed_attempts = case
				when locked_until is not null and locked_until <= $2 then 1
				else failed_attempts + 1 end,
			locked_until = case
				when locked_until is not null and locked_until <= $2 then null
				when failed_attempts + 1 >= $3 then $4
				else locked_until end,
			updated_at = $2
		 where id = $1
		 returning locked_until`,
		id, now, policy.Threshold, lockUntil,
	)
	var until *time.Time
	if err := row.Scan(&until); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return policy.Locked(until, now), nil
}

func (s *accountStore) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update accounts set failed_attempts = 0, locked_until = null, last_login_at = $2, updated_at = $2
		 where id = $1`,
		id, now,
	)
	return err
}

func (s *accountStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash = $2, updated_at = now() where id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *accountStore) NextEmployeeSeq(ctx context.Context, year int) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`insert into employee_sequences(year, seq) values($1, 1)
		 on conflict (year) do update set seq = employee_sequences.seq + 1
		 returning seq`,
		year,
	)
	var seq int
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

const refreshColumns = `token, account_id, created_at, expires_at, created_by_ip,
	revoked_at, revoked_by_ip, replaced_by`

func (s *refreshTokenStore) Create(ctx context.Context, t *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(token, account_id, created_at, expires_at, created_by_ip)
		 values($1, $2, $3, $4, $5)`,
		t.Token, t.AccountID, t.CreatedAt, t.ExpiresAt, t.CreatedByIP,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *refreshTokenStore) Find(ctx context.Context, token string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+refreshColumns+` from refresh_tokens where token = $1`, token)
	var (
		t           RefreshToken
		revokedByIP sql.NullString
		replacedBy  sql.NullString
	)
	err := row.Scan(&t.Token, &t.AccountID, &t.CreatedAt, &t.ExpiresAt, &t.CreatedByIP,
		&t.RevokedAt, &revokedByIP, &replacedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.RevokedByIP = revokedByIP.String
	t.ReplacedBy = replacedBy.String
	return &t, nil
}

// Rotate revokes the old record and inserts its successor in one
// transaction. The revoked_at guard makes concurrent rotations race safely:
// exactly one transaction updates the row, every other caller sees zero rows
// and gets ErrTokenRevoked with nothing persisted.
func (s *refreshTokenStore) Rotate(ctx context.Context, oldToken string, successor *RefreshToken, ip string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked_at = $2, revoked_by_ip = $3, replaced_by = $4
		 where token = $1 and revoked_at is null`,
		oldToken, now, ip, successor.Token,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenRevoked
	}
	if _, err := tx.ExecContext(ctx,
		`insert into refresh_tokens(token, account_id, created_at, expires_at, created_by_ip)
		 values($1, $2, $3, $4, $5)`,
		successor.Token, successor.AccountID, successor.CreatedAt, successor.ExpiresAt, successor.CreatedByIP,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *refreshTokenStore) Revoke(ctx context.Context, token, ip string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = $2, revoked_by_ip = $3
		 where token = $1 and revoked_at is null`,
		token, now, ip,
	)
	return err
}

func (s *refreshTokenStore) RevokeAllForAccount(ctx context.Context, accountID, ip string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = $2, revoked_by_ip = $3
		 where account_id = $1 and revoked_at is null and expires_at > $2`,
		accountID, now, ip,
	)
	return err
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
