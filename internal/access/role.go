package access

import "strings"

// Role is the coarse privilege level attached to a profile. Fine-grained
// visibility for the two lower roles comes from access grants.
type Role string

const (
	RoleUser             Role = "user"
	RoleEquipmentManager Role = "equipment_manager"
	RoleCompanyAdmin     Role = "company_admin"
	RoleSuperAdmin       Role = "super_admin"
)

// ParseRole normalizes a role string, returning false for unknown values.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleUser:
		return RoleUser, true
	case RoleEquipmentManager:
		return RoleEquipmentManager, true
	case RoleCompanyAdmin:
		return RoleCompanyAdmin, true
	case RoleSuperAdmin:
		return RoleSuperAdmin, true
	default:
		return "", false
	}
}

func (r Role) rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleEquipmentManager:
		return 2
	case RoleCompanyAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	default:
		return 0
	}
}

// Valid reports whether the role is one of the four known levels.
func (r Role) Valid() bool { return r.rank() > 0 }

// AtLeast reports whether the role carries at least the privileges of other.
func (r Role) AtLeast(other Role) bool { return r.rank() >= other.rank() }

// CanAssignRole reports whether an actor may set a target profile's role.
// Role changes require a strictly higher-privileged actor, which also rules
// out changing one's own role.
func CanAssignRole(actor Role, current, next Role) bool {
	if !actor.Valid() || !next.Valid() {
		return false
	}
	return actor.rank() > current.rank() && actor.rank() > next.rank()
}
