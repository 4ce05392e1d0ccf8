package auth

type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleOwner    Role = "owner"
	RoleOperator Role = "operator"
)

// Principal is the authenticated caller of a workflow operation.
type Principal struct {
	UserID string
	Role   Role
}

// IsOperator reports whether the caller acts for the platform.
func (p Principal) IsOperator() bool {
	return p.Role == RoleOperator
}

func isValidRole(role Role) bool {
	switch role {
	case RoleBuyer, RoleOwner, RoleOperator:
		return true
	default:
		return false
	}
}
