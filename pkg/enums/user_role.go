package enums

// UserRole is the platform-wide role carried in access tokens.
type UserRole string

const (
	UserRoleMember      UserRole = "member"
	UserRoleModerator   UserRole = "moderator"
	UserRoleSubAdmin    UserRole = "sub-admin"
	UserRoleAdmin       UserRole = "admin"
	UserRoleMasterAdmin UserRole = "master-admin"
)

var userRoles = set[UserRole]{
	UserRoleMember,
	UserRoleModerator,
	UserRoleSubAdmin,
	UserRoleAdmin,
	UserRoleMasterAdmin,
}

// String implements fmt.Stringer.
func (r UserRole) String() string {
	return string(r)
}

func (r UserRole) IsValid() bool { return userRoles.has(r) }

// IsAdmin reports whether the role may run administrative operations.
func (r UserRole) IsAdmin() bool {
	return r == UserRoleAdmin || r == UserRoleMasterAdmin
}

// ParseUserRole accepts the exact lowercase role names.
func ParseUserRole(value string) (UserRole, error) {
	return userRoles.parse("user role", value)
}
