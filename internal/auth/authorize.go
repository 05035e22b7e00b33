package auth

// Identity is the verified subject attached to each request. It is built
// entirely from access token claims so permission checks never touch the
// store on the hot path.
type Identity struct {
	AccountID   string
	Email       string
	Role        Role
	Permissions PermissionSet
}

// Authorize reports whether the identity may perform the action on the
// resource. Roles with AlwaysAllow behavior pass unconditionally; staff is
// checked against its permission set; anything else is denied.
func Authorize(id Identity, resource, action string) bool {
	if id.AccountID == "" {
		return false
	}
	if id.Role.AlwaysAllow() {
		return true
	}
	if id.Role == RoleStaff {
		return id.Permissions.Allows(resource, action)
	}
	return false
}
