package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"equiptrack.org/internal/access"
	"equiptrack.org/internal/auth"
	"equiptrack.org/internal/directory"
	"equiptrack.org/internal/inventory"
	"equiptrack.org/internal/obs"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type testEnv struct {
	api *apiClient
	inv *inventory.InMemory
	dir *directory.InMemory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	t.Setenv("EQUIPTRACK_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	inv := inventory.NewInMemory()
	dir := directory.NewInMemory()
	api := New(ReadyProbe{}, "test", inv, dir)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		api: &apiClient{baseURL: srv.URL, client: srv.Client(), t: t},
		inv: inv,
		dir: dir,
	}
}

// seedUser creates a profile with the given role and grants and returns a
// bearer token for it.
func (e *testEnv) seedUser(t *testing.T, subject, companyID string, role access.Role, grants []access.Grant) (directory.Profile, string) {
	t.Helper()
	ctx := context.Background()
	email := subject + "@example.com"
	p, err := e.dir.UpsertProfile(ctx, subject, email)
	if err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	patch := directory.ProfilePatch{Role: &role}
	if companyID != "" {
		patch.CompanyID = &companyID
	}
	p, err = e.dir.UpdateProfile(ctx, p.ID, patch)
	if err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if grants != nil {
		if err := e.dir.ReplaceAccessGrants(ctx, p.ID, grants); err != nil {
			t.Fatalf("grants: %v", err)
		}
	}
	token, err := auth.GenerateToken(subject, email, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return p, token
}

func (e *testEnv) seedCompany(t *testing.T, name string) directory.Company {
	t.Helper()
	c, err := e.dir.CreateCompany(context.Background(), directory.NewCompany{
		Name:              name,
		SubscriptionLevel: 2,
	})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	return c
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	if resp.StatusCode != code {
		t.Fatalf("status = %d, want %d", resp.StatusCode, code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp := env.api.do(http.MethodGet, "/v1/equipment", "", nil)
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = env.api.do(http.MethodGet, "/v1/equipment", "not-a-token", nil)
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = env.api.do(http.MethodGet, "/healthz", "", nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestFirstLoginCreatesProfile(t *testing.T) {
	env := newTestEnv(t)

	token, err := auth.GenerateToken("auth0|newcomer", "new@example.com", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	// any authenticated call provisions the profile
	resp := env.api.do(http.MethodGet, "/v1/equipment", token, nil)
	// a fresh user has no company, so the scope resolution fails with 400
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	profiles, err := env.dir.ListProfiles(context.Background(), "")
	if err != nil {
		t.Fatalf("list profiles: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Email != "new@example.com" {
		t.Fatalf("profile not provisioned: %+v", profiles)
	}
	if profiles[0].Role != access.RoleUser {
		t.Fatalf("first login role = %s, want user", profiles[0].Role)
	}
}

func TestSignOutFlow(t *testing.T) {
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, token := env.seedUser(t, "auth0|admin", company.ID, access.RoleCompanyAdmin, nil)

	resp := env.api.do(http.MethodPost, "/v1/equipment-types", token, map[string]any{
		"name": "Multimeter",
	})
	wantStatus(t, resp, http.StatusCreated)
	typ := decode[map[string]any](t, resp)

	resp = env.api.do(http.MethodPost, "/v1/equipment", token, map[string]any{
		"site_id":       "site-1",
		"type_id":       typ["id"].(string),
		"make":          "Fluke",
		"model":         "87V",
		"serial_number": "SN-1",
	})
	wantStatus(t, resp, http.StatusCreated)
	eq := decode[map[string]any](t, resp)
	eqID := eq["id"].(string)

	resp = env.api.do(http.MethodPost, "/v1/sign-outs", token, map[string]any{
		"equipment_id": eqID,
		"purpose":      "field survey",
	})
	wantStatus(t, resp, http.StatusCreated)
	so := decode[map[string]any](t, resp)

	// second sign-out of the same item must conflict
	resp = env.api.do(http.MethodPost, "/v1/sign-outs", token, map[string]any{
		"equipment_id": eqID,
	})
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = env.api.do(http.MethodPost, "/v1/sign-outs/check-in", token, map[string]any{
		"sign_out_id": so["id"].(string),
	})
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// double check-in must conflict as well
	resp = env.api.do(http.MethodPost, "/v1/sign-outs/check-in", token, map[string]any{
		"sign_out_id": so["id"].(string),
	})
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = env.api.do(http.MethodGet, "/v1/sign-outs", token, nil)
	wantStatus(t, resp, http.StatusOK)
	list := decode[map[string]any](t, resp)
	if items := list["items"].([]any); len(items) != 0 {
		t.Fatalf("expected no open sign-outs, got %d", len(items))
	}
}

func TestLookupEndpoint(t *testing.T) {
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, token := env.seedUser(t, "auth0|admin", company.ID, access.RoleCompanyAdmin, nil)

	typ, err := env.inv.CreateEquipmentType(context.Background(), inventory.NewEquipmentType{
		CompanyID: company.ID,
		Name:      "Scanner",
	})
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	if _, err := env.inv.CreateEquipment(context.Background(), inventory.NewEquipment{
		CompanyID:    company.ID,
		SiteID:       "site-1",
		TypeID:       typ.ID,
		SerialNumber: "SN-42",
	}); err != nil {
		t.Fatalf("equipment: %v", err)
	}

	resp := env.api.do(http.MethodGet, "/v1/equipment/lookup?code=SN-42", token, nil)
	wantStatus(t, resp, http.StatusOK)
	hit := decode[map[string]any](t, resp)
	if hit["found"] != true {
		t.Fatalf("expected found=true, got %v", hit)
	}

	resp = env.api.do(http.MethodGet, "/v1/equipment/lookup?code=unknown", token, nil)
	wantStatus(t, resp, http.StatusOK)
	miss := decode[map[string]any](t, resp)
	if miss["found"] != false {
		t.Fatalf("expected found=false, got %v", miss)
	}
	if _, present := miss["equipment"]; present {
		t.Fatal("a miss must not leak equipment details")
	}
}

func TestCalibrationStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, token := env.seedUser(t, "auth0|admin", company.ID, access.RoleCompanyAdmin, nil)

	typ, err := env.inv.CreateEquipmentType(context.Background(), inventory.NewEquipmentType{
		CompanyID:           company.ID,
		Name:                "Gas Detector",
		RequiresCalibration: true,
		CalibrationMonths:   12,
	})
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	overdue := time.Now().UTC().AddDate(-2, 0, 0)
	if _, err := env.inv.CreateEquipment(context.Background(), inventory.NewEquipment{
		CompanyID:       company.ID,
		SiteID:          "site-1",
		TypeID:          typ.ID,
		SerialNumber:    "SN-1",
		LastCalibration: &overdue,
	}); err != nil {
		t.Fatalf("equipment: %v", err)
	}
	if _, err := env.inv.CreateEquipment(context.Background(), inventory.NewEquipment{
		CompanyID:    company.ID,
		SiteID:       "site-1",
		TypeID:       typ.ID,
		SerialNumber: "SN-2",
	}); err != nil {
		t.Fatalf("equipment: %v", err)
	}

	resp := env.api.do(http.MethodGet, "/v1/calibration-status", token, nil)
	wantStatus(t, resp, http.StatusOK)
	all := decode[map[string]any](t, resp)
	if items := all["items"].([]any); len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	resp = env.api.do(http.MethodGet, "/v1/calibration-status?status=due", token, nil)
	wantStatus(t, resp, http.StatusOK)
	due := decode[map[string]any](t, resp)
	items := due["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 overdue item, got %d", len(items))
	}
	item := items[0].(map[string]any)
	cal := item["calibration"].(map[string]any)
	if cal["status"] != "due" {
		t.Fatalf("status = %v, want due", cal["status"])
	}
}

func TestRequestReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, adminToken := env.seedUser(t, "auth0|admin", company.ID, access.RoleCompanyAdmin, nil)
	_, userToken := env.seedUser(t, "auth0|user", company.ID, access.RoleUser, []access.Grant{{SiteID: "site-1"}})

	typ, err := env.inv.CreateEquipmentType(context.Background(), inventory.NewEquipmentType{
		CompanyID: company.ID,
		Name:      "Theodolite",
	})
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	eq, err := env.inv.CreateEquipment(context.Background(), inventory.NewEquipment{
		CompanyID:    company.ID,
		SiteID:       "site-1",
		TypeID:       typ.ID,
		SerialNumber: "SN-1",
	})
	if err != nil {
		t.Fatalf("equipment: %v", err)
	}

	resp := env.api.do(http.MethodPost, "/v1/requests", userToken, map[string]any{
		"equipment_id":    eq.ID,
		"requester_name":  "Alice",
		"requester_email": "alice@example.com",
		"date_from":       "2026-09-10T00:00:00Z",
		"date_to":         "2026-09-12T00:00:00Z",
	})
	wantStatus(t, resp, http.StatusCreated)
	req := decode[map[string]any](t, resp)
	reqID := req["id"].(string)

	// plain users may not review
	resp = env.api.do(http.MethodPost, "/v1/requests/"+reqID+"/approve", userToken, map[string]any{
		"create_sign_out": true,
	})
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = env.api.do(http.MethodPost, "/v1/requests/"+reqID+"/approve", adminToken, map[string]any{
		"create_sign_out": true,
	})
	wantStatus(t, resp, http.StatusOK)
	approved := decode[map[string]any](t, resp)
	if approved["status"] != "approved" {
		t.Fatalf("status = %v, want approved", approved["status"])
	}

	// terminal requests cannot be re-reviewed
	resp = env.api.do(http.MethodPost, "/v1/requests/"+reqID+"/reject", adminToken, map[string]any{
		"comment": "changed my mind",
	})
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	open, err := env.inv.ListOpenSignOuts(context.Background(), company.ID)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].RequestID != reqID {
		t.Fatalf("expected one sign-out linked to the request, got %+v", open)
	}
}

func TestVisibilityScope(t *testing.T) {
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, managerToken := env.seedUser(t, "auth0|manager", company.ID, access.RoleEquipmentManager,
		[]access.Grant{{SiteID: "site-1"}})

	typ, err := env.inv.CreateEquipmentType(context.Background(), inventory.NewEquipmentType{
		CompanyID: company.ID,
		Name:      "Drill",
	})
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	granted, err := env.inv.CreateEquipment(context.Background(), inventory.NewEquipment{
		CompanyID:    company.ID,
		SiteID:       "site-1",
		TypeID:       typ.ID,
		SerialNumber: "SN-1",
	})
	if err != nil {
		t.Fatalf("equipment: %v", err)
	}
	hidden, err := env.inv.CreateEquipment(context.Background(), inventory.NewEquipment{
		CompanyID:    company.ID,
		SiteID:       "site-2",
		TypeID:       typ.ID,
		SerialNumber: "SN-2",
	})
	if err != nil {
		t.Fatalf("equipment: %v", err)
	}

	resp := env.api.do(http.MethodGet, "/v1/equipment", managerToken, nil)
	wantStatus(t, resp, http.StatusOK)
	list := decode[map[string]any](t, resp)
	items := list["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 visible item, got %d", len(items))
	}
	if items[0].(map[string]any)["id"] != granted.ID {
		t.Fatalf("wrong item visible: %v", items[0])
	}

	resp = env.api.do(http.MethodGet, "/v1/equipment/"+hidden.ID, managerToken, nil)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// ungranted equipment looks like a lookup miss
	resp = env.api.do(http.MethodGet, "/v1/equipment/lookup?code=SN-2", managerToken, nil)
	wantStatus(t, resp, http.StatusOK)
	miss := decode[map[string]any](t, resp)
	if miss["found"] != false {
		t.Fatalf("out-of-scope lookup must report found=false, got %v", miss)
	}
}

func TestProfileRoleGuard(t *testing.T) {
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, adminToken := env.seedUser(t, "auth0|admin", company.ID, access.RoleCompanyAdmin, nil)
	target, _ := env.seedUser(t, "auth0|user", company.ID, access.RoleUser, nil)

	// company admins cannot mint other admins
	resp := env.api.do(http.MethodPatch, "/v1/admin/profiles/"+target.ID, adminToken, map[string]any{
		"role": "company_admin",
	})
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = env.api.do(http.MethodPatch, "/v1/admin/profiles/"+target.ID, adminToken, map[string]any{
		"role": "equipment_manager",
	})
	wantStatus(t, resp, http.StatusOK)
	updated := decode[map[string]any](t, resp)
	if updated["role"] != "equipment_manager" {
		t.Fatalf("role = %v, want equipment_manager", updated["role"])
	}

	// company reassignment is reserved for super admins
	resp = env.api.do(http.MethodPatch, "/v1/admin/profiles/"+target.ID, adminToken, map[string]any{
		"company_id": company.ID,
	})
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestProfileAccessGrants(t *testing.T) {
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, adminToken := env.seedUser(t, "auth0|admin", company.ID, access.RoleCompanyAdmin, nil)
	target, _ := env.seedUser(t, "auth0|user", company.ID, access.RoleUser, nil)

	resp := env.api.do(http.MethodPut, "/v1/admin/profiles/"+target.ID+"/access", adminToken, map[string]any{
		"grants": []map[string]any{
			{"site_id": "s1"},
			{"site_id": "s1", "department_id": "d1"},
			{"site_id": "s2", "department_id": "d2"},
		},
	})
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// reads return the reduced set: the site grant subsumes its department row
	resp = env.api.do(http.MethodGet, "/v1/admin/profiles/"+target.ID+"/access", adminToken, nil)
	wantStatus(t, resp, http.StatusOK)
	payload := decode[map[string]any](t, resp)
	grants := payload["grants"].([]any)
	if len(grants) != 2 {
		t.Fatalf("expected 2 reduced grants, got %d: %v", len(grants), grants)
	}
}

func TestCompanyScopeIsolation(t *testing.T) {
	env := newTestEnv(t)
	acme := env.seedCompany(t, "acme")
	globex := env.seedCompany(t, "globex")
	_, acmeToken := env.seedUser(t, "auth0|acme-admin", acme.ID, access.RoleCompanyAdmin, nil)

	typ, err := env.inv.CreateEquipmentType(context.Background(), inventory.NewEquipmentType{
		CompanyID: globex.ID,
		Name:      "Crane",
	})
	if err != nil {
		t.Fatalf("type: %v", err)
	}

	resp := env.api.do(http.MethodGet, "/v1/equipment-types/"+typ.ID, acmeToken, nil)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = env.api.do(http.MethodGet, "/v1/admin/companies/"+globex.ID, acmeToken, nil)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestSignOutLedgerCompanyIsolation(t *testing.T) {
	env := newTestEnv(t)
	acme := env.seedCompany(t, "acme")
	globex := env.seedCompany(t, "globex")
	acmeUser, acmeToken := env.seedUser(t, "auth0|acme-admin", acme.ID, access.RoleCompanyAdmin, nil)
	_, globexToken := env.seedUser(t, "auth0|globex-user", globex.ID, access.RoleUser,
		[]access.Grant{{SiteID: "gx-site-1"}})

	typ, err := env.inv.CreateEquipmentType(context.Background(), inventory.NewEquipmentType{
		CompanyID: acme.ID,
		Name:      "Laser Level",
	})
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	eq, err := env.inv.CreateEquipment(context.Background(), inventory.NewEquipment{
		CompanyID:    acme.ID,
		SiteID:       "site-1",
		TypeID:       typ.ID,
		SerialNumber: "SN-1",
	})
	if err != nil {
		t.Fatalf("equipment: %v", err)
	}
	so, err := env.inv.SignOut(context.Background(), inventory.NewSignOut{
		EquipmentID: eq.ID,
		SignedOutBy: acmeUser.ID,
	})
	if err != nil {
		t.Fatalf("sign out: %v", err)
	}
	note, err := env.inv.AddUsage(context.Background(), so.ID, "day one")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}

	// another tenant's user must not be able to close the sign-out
	resp := env.api.do(http.MethodPost, "/v1/sign-outs/check-in", globexToken, map[string]any{
		"sign_out_id": so.ID,
	})
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	got, err := env.inv.GetSignOut(context.Background(), so.ID)
	if err != nil {
		t.Fatalf("get sign-out: %v", err)
	}
	if !got.Open() {
		t.Fatal("cross-tenant check-in must leave the sign-out open")
	}

	// nor read, add or remove its usage notes
	resp = env.api.do(http.MethodGet, "/v1/sign-outs/"+so.ID+"/usage", globexToken, nil)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = env.api.do(http.MethodPost, "/v1/sign-outs/"+so.ID+"/usage", globexToken, map[string]any{
		"note": "vandalism",
	})
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = env.api.do(http.MethodDelete, "/v1/sign-outs/"+so.ID+"/usage/"+note.ID, globexToken, nil)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// the note only resolves under its own sign-out, even for the owner
	other, err := env.inv.SignOut(context.Background(), inventory.NewSignOut{
		EquipmentID: eq.ID,
		SignedOutBy: acmeUser.ID,
		Purpose:     "second trip",
	})
	if err == nil {
		t.Fatalf("expected conflict for open equipment, got %+v", other)
	}
	resp = env.api.do(http.MethodDelete, "/v1/sign-outs/"+so.ID+"/usage/no-such-note", acmeToken, nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = env.api.do(http.MethodDelete, "/v1/sign-outs/"+so.ID+"/usage/"+note.ID, acmeToken, nil)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestReviewConflictLeavesSignOutMetricAlone(t *testing.T) {
	obs.Init()
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, adminToken := env.seedUser(t, "auth0|admin", company.ID, access.RoleCompanyAdmin, nil)

	typ, err := env.inv.CreateEquipmentType(context.Background(), inventory.NewEquipmentType{
		CompanyID: company.ID,
		Name:      "Total Station",
	})
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	eq, err := env.inv.CreateEquipment(context.Background(), inventory.NewEquipment{
		CompanyID:    company.ID,
		SiteID:       "site-1",
		TypeID:       typ.ID,
		SerialNumber: "SN-1",
	})
	if err != nil {
		t.Fatalf("equipment: %v", err)
	}
	req, err := env.inv.SubmitRequest(context.Background(), inventory.NewRequest{
		CompanyID:      company.ID,
		EquipmentID:    eq.ID,
		RequesterName:  "Alice",
		RequesterEmail: "alice@example.com",
		DateFrom:       time.Now().UTC(),
		DateTo:         time.Now().UTC().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	resp := env.api.do(http.MethodPost, "/v1/requests/"+req.ID+"/approve", adminToken, map[string]any{
		"create_sign_out": true,
	})
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	before := readSignOutConflicts(t, env)

	// re-reviewing a terminal request conflicts, but is not a sign-out conflict
	resp = env.api.do(http.MethodPost, "/v1/requests/"+req.ID+"/approve", adminToken, map[string]any{
		"create_sign_out": true,
	})
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
	if got := readSignOutConflicts(t, env); got != before {
		t.Fatalf("re-review moved the conflict counter: %v -> %v", before, got)
	}

	// a rejected duplicate sign-out still counts
	resp = env.api.do(http.MethodPost, "/v1/sign-outs", adminToken, map[string]any{
		"equipment_id": eq.ID,
	})
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
	if got := readSignOutConflicts(t, env); got != before+1 {
		t.Fatalf("duplicate sign-out must count once: %v -> %v", before, got)
	}
}

// readSignOutConflicts scrapes the public metrics endpoint for the conflict
// counter.
func readSignOutConflicts(t *testing.T, env *testEnv) float64 {
	t.Helper()
	resp := env.api.do(http.MethodGet, "/metrics", "", nil)
	wantStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "signout_conflicts_total") {
			continue
		}
		parts := strings.Fields(line)
		v, err := strconv.ParseFloat(parts[len(parts)-1], 64)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		return v
	}
	t.Fatal("signout_conflicts_total missing from scrape")
	return 0
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, token := env.seedUser(t, "auth0|admin", company.ID, access.RoleCompanyAdmin, nil)

	resp := env.api.do(http.MethodDelete, "/v1/sign-outs", token, nil)
	wantStatus(t, resp, http.StatusMethodNotAllowed)
	if allow := resp.Header.Get("Allow"); allow != "GET, POST" {
		t.Fatalf("Allow header = %q", allow)
	}
	resp.Body.Close()
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	env := newTestEnv(t)
	company := env.seedCompany(t, "acme")
	_, token := env.seedUser(t, "auth0|admin", company.ID, access.RoleCompanyAdmin, nil)

	resp := env.api.do(http.MethodPost, "/v1/sign-outs", token, map[string]any{
		"equipment_id": "e1",
		"surprise":     true,
	})
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}
