package auth

import "time"

// Role determines how the permission evaluator treats a subject.
type Role string

const (
	// RoleSuperAdmin bypasses the stored permission set entirely.
	RoleSuperAdmin Role = "superAdmin"
	// RoleStaff is granted only what its permission set explicitly allows.
	RoleStaff Role = "staff"
)

// Valid reports whether the role is one of the known variants.
func (r Role) Valid() bool {
	return r == RoleSuperAdmin || r == RoleStaff
}

// AlwaysAllow reports whether the role passes every permission check
// regardless of the stored permission set.
func (r Role) AlwaysAllow() bool {
	return r == RoleSuperAdmin
}

// Actions is the set of grants for a single resource.
type Actions struct {
	Create bool `json:"create"`
	Read   bool `json:"read"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// PermissionSet maps a resource name to its granted actions. It is meaningful
// only for staff; super admins hold every permission implicitly.
type PermissionSet map[string]Actions

// Allows reports whether the set grants the given action on the resource.
// Absent resources and unknown actions are denied.
func (p PermissionSet) Allows(resource, action string) bool {
	grants, ok := p[resource]
	if !ok {
		return false
	}
	switch action {
	case ActionCreate:
		return grants.Create
	case ActionRead:
		return grants.Read
	case ActionUpdate:
		return grants.Update
	case ActionDelete:
		return grants.Delete
	default:
		return false
	}
}

// Canonical action names used in permission sets.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Account is the durable account record. PasswordHash and the lockout fields
// never leave this package; callers receive a Profile instead.
type Account struct {
	ID             string
	EmployeeID     string
	FirstName      string
	LastName       string
	Email          string
	PasswordHash   string
	Role           Role
	Permissions    PermissionSet
	Active         bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Profile is the sanitized projection of an account safe to return to callers.
type Profile struct {
	ID          string        `json:"id"`
	EmployeeID  string        `json:"employee_id,omitempty"`
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Email       string        `json:"email"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions,omitempty"`
	Active      bool          `json:"active"`
	LastLoginAt *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewProfile strips secret and lockout fields from an account.
func NewProfile(a *Account) Profile {
	return Profile{
		ID:          a.ID,
		EmployeeID:  a.EmployeeID,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Email:       a.Email,
		Role:        a.Role,
		Permissions: a.Permissions,
		Active:      a.Active,
		LastLoginAt: a.LastLoginAt,
		CreatedAt:   a.CreatedAt,
	}
}

// RefreshToken is a persisted opaque credential. Rotation links records into a
// singly linked chain via ReplacedBy; chains never branch because revocation
// sets at most one successor.
type RefreshToken struct {
	Token       string
	AccountID   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CreatedByIP string
	RevokedAt   *time.Time
	RevokedByIP string
	ReplacedBy  string
}

// Active reports whether the token is usable: not revoked and not expired.
// An expired-but-unrevoked record is never active.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
