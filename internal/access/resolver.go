package access

import "context"

// Principal is an authenticated profile with its resolved grants. CompanyID is
// empty only for super admins.
type Principal struct {
	ProfileID string
	CompanyID string
	Role      Role
	Grants    []Grant
}

// sameCompany applies the tenant boundary. Super admins cross it.
func (p Principal) sameCompany(c Coord) bool {
	return p.CompanyID != "" && p.CompanyID == c.CompanyID
}

// CanView reports whether the principal may see the resource at c.
// Admin roles have implicit access within their company scope; the two lower
// roles see the union of their grants expanded by inheritance.
func (p Principal) CanView(c Coord) bool {
	switch p.Role {
	case RoleSuperAdmin:
		return true
	case RoleCompanyAdmin:
		return p.sameCompany(c)
	case RoleEquipmentManager, RoleUser:
		if !p.sameCompany(c) {
			return false
		}
		for _, g := range p.Grants {
			if g.Covers(c) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// CanEdit reports whether the principal may mutate the resource at c.
// Plain users are read-only regardless of grants.
func (p Principal) CanEdit(c Coord) bool {
	if p.Role == RoleUser {
		return false
	}
	return p.CanView(c)
}

// IsAdmin reports company-admin or higher privileges.
func (p Principal) IsAdmin() bool { return p.Role.AtLeast(RoleCompanyAdmin) }

// VisibleEquipment returns the ids of equipment coordinates the principal may
// view. Coordinates are supplied by the caller so the check always runs
// against the current hierarchy.
func (p Principal) VisibleEquipment(coords []Coord) map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range coords {
		if c.EquipmentID == "" {
			continue
		}
		if p.CanView(c) {
			out[c.EquipmentID] = struct{}{}
		}
	}
	return out
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &p)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
