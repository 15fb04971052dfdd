package access

import "errors"

// Level identifies how narrow a grant is.
type Level int

const (
	SiteLevel Level = iota
	DepartmentLevel
	EquipmentLevel
)

func (l Level) String() string {
	switch l {
	case SiteLevel:
		return "site"
	case DepartmentLevel:
		return "department"
	case EquipmentLevel:
		return "equipment"
	default:
		return "unknown"
	}
}

// ErrInvalidGrant is returned for grant rows that do not form a valid chain.
var ErrInvalidGrant = errors.New("invalid access grant")

// ErrForbidden signals an authenticated caller acting outside its scope.
var ErrForbidden = errors.New("forbidden")

// Grant is one allow-rule: a site, optionally narrowed to a department,
// optionally narrowed further to a single equipment item. Grants are
// allow-only; there are no deny rules.
type Grant struct {
	SiteID       string `json:"site_id"`
	DepartmentID string `json:"department_id,omitempty"`
	EquipmentID  string `json:"equipment_id,omitempty"`
}

// Level reports the narrowest component named by the grant.
func (g Grant) Level() Level {
	if g.EquipmentID != "" {
		return EquipmentLevel
	}
	if g.DepartmentID != "" {
		return DepartmentLevel
	}
	return SiteLevel
}

// Validate checks the chain shape: a site is always required. The department
// is optional even for equipment-level grants, because equipment may hang
// directly off a site without a department.
func (g Grant) Validate() error {
	if g.SiteID == "" {
		return ErrInvalidGrant
	}
	return nil
}

// Coord locates a resource in the site → department → equipment hierarchy.
// DepartmentID and EquipmentID may be empty for resources higher up the tree.
type Coord struct {
	CompanyID    string
	SiteID       string
	DepartmentID string
	EquipmentID  string
}

// Covers reports whether the grant reaches the resource at c, applying
// inheritance: a site grant covers everything under the site, a department
// grant everything under the department, an equipment grant only that item.
// Coverage is evaluated against the current hierarchy, never a snapshot.
func (g Grant) Covers(c Coord) bool {
	switch g.Level() {
	case SiteLevel:
		return g.SiteID == c.SiteID
	case DepartmentLevel:
		return c.DepartmentID != "" && g.DepartmentID == c.DepartmentID
	case EquipmentLevel:
		return c.EquipmentID != "" && g.EquipmentID == c.EquipmentID
	default:
		return false
	}
}

// CoversGrant reports whether grant g makes grant other redundant: other is
// nested somewhere under g's scope. Used for display-time reduction only;
// redundant rows are harmless for evaluation.
func (g Grant) CoversGrant(other Grant) bool {
	switch g.Level() {
	case SiteLevel:
		return other.Level() != SiteLevel && g.SiteID == other.SiteID
	case DepartmentLevel:
		return other.Level() == EquipmentLevel && g.DepartmentID == other.DepartmentID
	default:
		return false
	}
}

// Reduce drops grants nested under a broader grant in the same set. The
// broader row always supersedes; narrower rows are not enumerable as
// exceptions.
func Reduce(grants []Grant) []Grant {
	var out []Grant
	seen := make(map[Grant]struct{}, len(grants))
	for i, g := range grants {
		if _, dup := seen[g]; dup {
			continue
		}
		covered := false
		for j, other := range grants {
			if i == j {
				continue
			}
			if other.CoversGrant(g) {
				covered = true
				break
			}
		}
		if !covered {
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}
