package access

import "testing"

func coordAt(site, dept, equip string) Coord {
	return Coord{CompanyID: "c1", SiteID: site, DepartmentID: dept, EquipmentID: equip}
}

func TestCanViewByRole(t *testing.T) {
	target := coordAt("s1", "d1", "e1")
	otherCompany := Coord{CompanyID: "c2", SiteID: "s9", DepartmentID: "d9", EquipmentID: "e9"}

	super := Principal{ProfileID: "p1", Role: RoleSuperAdmin}
	if !super.CanView(target) || !super.CanView(otherCompany) {
		t.Fatal("super admin must see every company")
	}

	companyAdmin := Principal{ProfileID: "p2", CompanyID: "c1", Role: RoleCompanyAdmin}
	if !companyAdmin.CanView(target) {
		t.Fatal("company admin must see own company")
	}
	if companyAdmin.CanView(otherCompany) {
		t.Fatal("company admin must not cross the tenant boundary")
	}

	manager := Principal{
		ProfileID: "p3", CompanyID: "c1", Role: RoleEquipmentManager,
		Grants: []Grant{{SiteID: "s1"}},
	}
	if !manager.CanView(target) {
		t.Fatal("site grant must cover nested equipment")
	}
	if manager.CanView(coordAt("s2", "d2", "e2")) {
		t.Fatal("manager must not see ungranted sites")
	}

	ungranted := Principal{ProfileID: "p4", CompanyID: "c1", Role: RoleUser}
	if ungranted.CanView(target) {
		t.Fatal("user without grants must see nothing")
	}
}

// Equipment added to a granted site after the grant was issued must be
// visible; coverage follows the current hierarchy, not a snapshot.
func TestSiteGrantCoversLaterEquipment(t *testing.T) {
	p := Principal{
		ProfileID: "p1", CompanyID: "c1", Role: RoleUser,
		Grants: []Grant{{SiteID: "s1"}},
	}
	later := coordAt("s1", "d-new", "e-new")
	if !p.CanView(later) {
		t.Fatal("grant must cover equipment added to the site afterwards")
	}
}

func TestCanEditExcludesUsers(t *testing.T) {
	target := coordAt("s1", "d1", "e1")
	user := Principal{
		ProfileID: "p1", CompanyID: "c1", Role: RoleUser,
		Grants: []Grant{{SiteID: "s1"}},
	}
	if !user.CanView(target) {
		t.Fatal("granted user must view")
	}
	if user.CanEdit(target) {
		t.Fatal("plain users are read-only")
	}
	manager := user
	manager.Role = RoleEquipmentManager
	if !manager.CanEdit(target) {
		t.Fatal("granted manager must edit")
	}
}

func TestVisibleEquipment(t *testing.T) {
	p := Principal{
		ProfileID: "p1", CompanyID: "c1", Role: RoleUser,
		Grants: []Grant{{SiteID: "s1", DepartmentID: "d1"}},
	}
	coords := []Coord{
		coordAt("s1", "d1", "e1"),
		coordAt("s1", "d2", "e2"),
		coordAt("s1", "d1", ""),
	}
	visible := p.VisibleEquipment(coords)
	if len(visible) != 1 {
		t.Fatalf("expected 1 visible equipment, got %d", len(visible))
	}
	if _, ok := visible["e1"]; !ok {
		t.Fatal("expected e1 to be visible")
	}
}

func TestCanAssignRole(t *testing.T) {
	cases := []struct {
		name                 string
		actor, current, next Role
		want                 bool
	}{
		{"admin promotes user to manager", RoleCompanyAdmin, RoleUser, RoleEquipmentManager, true},
		{"admin cannot mint admins", RoleCompanyAdmin, RoleUser, RoleCompanyAdmin, false},
		{"admin cannot touch peers", RoleCompanyAdmin, RoleCompanyAdmin, RoleUser, false},
		{"super demotes admin", RoleSuperAdmin, RoleCompanyAdmin, RoleUser, true},
		{"manager cannot assign", RoleEquipmentManager, RoleUser, RoleEquipmentManager, false},
		{"self change blocked", RoleCompanyAdmin, RoleCompanyAdmin, RoleSuperAdmin, false},
		{"unknown next role", RoleSuperAdmin, RoleUser, Role("owner"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanAssignRole(tc.actor, tc.current, tc.next); got != tc.want {
				t.Fatalf("CanAssignRole(%s, %s, %s) = %v, want %v",
					tc.actor, tc.current, tc.next, got, tc.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Company_Admin "); !ok || r != RoleCompanyAdmin {
		t.Fatalf("expected company_admin, got %q ok=%v", r, ok)
	}
	if _, ok := ParseRole("owner"); ok {
		t.Fatal("unknown role must not parse")
	}
}
