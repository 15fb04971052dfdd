package httpapi

import (
	"context"
	"net/http"
	"strings"

	"equiptrack.org/internal/access"
	"equiptrack.org/internal/audit"
	"equiptrack.org/internal/directory"
)

type createSiteRequest struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
}

type createDepartmentRequest struct {
	SiteID string `json:"site_id"`
	Name   string `json:"name"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type grantsRequest struct {
	Grants []access.Grant `json:"grants"`
}

func (a *API) handleCompaniesCollection(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if p.Role != access.RoleSuperAdmin {
		writeError(w, r, http.StatusForbidden, "super admin role required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := a.dir.ListCompanies(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var in directory.NewCompany
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		c, err := a.dir.CreateCompany(r.Context(), in)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.company.create", map[string]any{
			"company_id": c.ID,
			"name":       c.Name,
		})
		w.Header().Set("Location", "/v1/admin/companies/"+c.ID)
		writeJSON(w, http.StatusCreated, c)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCompanyResource(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, "/v1/admin/companies/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if p.Role != access.RoleSuperAdmin && !(p.Role == access.RoleCompanyAdmin && p.CompanyID == id) {
		writeError(w, r, http.StatusForbidden, "outside company scope")
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, err := a.dir.GetCompany(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodPatch:
		var patch directory.CompanyPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		// only super admins may touch subscription state
		if p.Role != access.RoleSuperAdmin && (patch.SubscriptionLevel != nil || patch.SubscriptionActive != nil) {
			writeError(w, r, http.StatusForbidden, "super admin role required for subscription changes")
			return
		}
		c, err := a.dir.UpdateCompany(r.Context(), id, patch)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.company.update", map[string]any{"company_id": id})
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if p.Role != access.RoleSuperAdmin {
			writeError(w, r, http.StatusForbidden, "super admin role required")
			return
		}
		// inventory first so nothing is left dangling if either half fails
		if err := a.inv.PurgeCompany(r.Context(), id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		if err := a.dir.CloseCompany(r.Context(), id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.company.close", map[string]any{"company_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

// siteCompany resolves the owning company of a site.
func (a *API) siteCompany(ctx context.Context, siteID string) (string, error) {
	site, err := a.dir.GetSite(ctx, siteID)
	if err != nil {
		return "", err
	}
	return site.CompanyID, nil
}

func (a *API) requireCompanyAdmin(w http.ResponseWriter, r *http.Request, p access.Principal, companyID string) bool {
	if p.Role == access.RoleSuperAdmin {
		return true
	}
	if p.Role == access.RoleCompanyAdmin && p.CompanyID == companyID {
		return true
	}
	writeError(w, r, http.StatusForbidden, "company admin role required")
	return false
}

func (a *API) handleSitesCollection(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		company, err := companyScope(p, r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		items, err := a.dir.ListSites(r.Context(), company)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req createSiteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.CompanyID == "" {
			req.CompanyID = p.CompanyID
		}
		if !a.requireCompanyAdmin(w, r, p, req.CompanyID) {
			return
		}
		site, err := a.dir.CreateSite(r.Context(), req.CompanyID, req.Name)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.site.create", map[string]any{
			"site_id": site.ID,
			"name":    site.Name,
		})
		w.Header().Set("Location", "/v1/admin/sites/"+site.ID)
		writeJSON(w, http.StatusCreated, site)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleSiteResource(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, "/v1/admin/sites/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	site, err := a.dir.GetSite(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if p.Role != access.RoleSuperAdmin && p.CompanyID != site.CompanyID {
			writeError(w, r, http.StatusForbidden, "outside company scope")
			return
		}
		writeJSON(w, http.StatusOK, site)
	case http.MethodPatch:
		if !a.requireCompanyAdmin(w, r, p, site.CompanyID) {
			return
		}
		var req renameRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		renamed, err := a.dir.RenameSite(r.Context(), id, req.Name)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.site.rename", map[string]any{"site_id": id})
		writeJSON(w, http.StatusOK, renamed)
	case http.MethodDelete:
		if !a.requireCompanyAdmin(w, r, p, site.CompanyID) {
			return
		}
		if err := a.dir.DeleteSite(r.Context(), id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.site.delete", map[string]any{"site_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleDepartmentsCollection(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		siteID := strings.TrimSpace(r.URL.Query().Get("site_id"))
		if siteID == "" {
			writeError(w, r, http.StatusBadRequest, "site_id query parameter is required")
			return
		}
		company, err := a.siteCompany(r.Context(), siteID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if p.Role != access.RoleSuperAdmin && p.CompanyID != company {
			writeError(w, r, http.StatusForbidden, "outside company scope")
			return
		}
		items, err := a.dir.ListDepartments(r.Context(), siteID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req createDepartmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.SiteID) == "" {
			writeError(w, r, http.StatusBadRequest, "site_id is required")
			return
		}
		company, err := a.siteCompany(r.Context(), req.SiteID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if !a.requireCompanyAdmin(w, r, p, company) {
			return
		}
		dep, err := a.dir.CreateDepartment(r.Context(), req.SiteID, req.Name)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.department.create", map[string]any{
			"department_id": dep.ID,
			"name":          dep.Name,
		})
		w.Header().Set("Location", "/v1/admin/departments/"+dep.ID)
		writeJSON(w, http.StatusCreated, dep)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDepartmentResource(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, "/v1/admin/departments/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	dep, err := a.dir.GetDepartment(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	company, err := a.siteCompany(r.Context(), dep.SiteID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if p.Role != access.RoleSuperAdmin && p.CompanyID != company {
			writeError(w, r, http.StatusForbidden, "outside company scope")
			return
		}
		writeJSON(w, http.StatusOK, dep)
	case http.MethodPatch:
		if !a.requireCompanyAdmin(w, r, p, company) {
			return
		}
		var req renameRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		renamed, err := a.dir.RenameDepartment(r.Context(), id, req.Name)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.department.rename", map[string]any{"department_id": id})
		writeJSON(w, http.StatusOK, renamed)
	case http.MethodDelete:
		if !a.requireCompanyAdmin(w, r, p, company) {
			return
		}
		if err := a.dir.DeleteDepartment(r.Context(), id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.department.delete", map[string]any{"department_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleProfilesCollection(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !p.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	company, err := companyScope(p, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.dir.ListProfiles(r.Context(), company)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleProfileResource(w http.ResponseWriter, r *http.Request) {
	path := pathSegment(r, "/v1/admin/profiles/")
	if id, found := strings.CutSuffix(path, "/access"); found {
		a.handleProfileAccess(w, r, id)
		return
	}
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	cur, err := a.dir.GetProfile(r.Context(), path)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if p.Role != access.RoleSuperAdmin && cur.CompanyID != p.CompanyID {
		writeError(w, r, http.StatusForbidden, "outside company scope")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, cur)
	case http.MethodPatch:
		var patch directory.ProfilePatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if patch.Role != nil && !access.CanAssignRole(p.Role, cur.Role, *patch.Role) {
			writeError(w, r, http.StatusForbidden, "insufficient privileges for role change")
			return
		}
		if (patch.CompanyID != nil || patch.ClearCompany) && p.Role != access.RoleSuperAdmin {
			writeError(w, r, http.StatusForbidden, "super admin role required for company reassignment")
			return
		}
		updated, err := a.dir.UpdateProfile(r.Context(), path, patch)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.profile.update", map[string]any{
			"profile_id": path,
			"role":       string(updated.Role),
		})
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := a.dir.DeleteProfile(r.Context(), path); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.profile.delete", map[string]any{"profile_id": path})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

// handleProfileAccess serves the grant set of one profile. PUT replaces the
// whole set; grants are never edited row by row.
func (a *API) handleProfileAccess(w http.ResponseWriter, r *http.Request, profileID string) {
	if profileID == "" || strings.Contains(profileID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	target, err := a.dir.GetProfile(r.Context(), profileID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if p.Role != access.RoleSuperAdmin && target.CompanyID != p.CompanyID {
		writeError(w, r, http.StatusForbidden, "outside company scope")
		return
	}
	switch r.Method {
	case http.MethodGet:
		grants, err := a.dir.ListAccessGrants(r.Context(), profileID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": access.Reduce(grants)})
	case http.MethodPut:
		var req grantsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.dir.ReplaceAccessGrants(r.Context(), profileID, req.Grants); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.profile.grants_replace", map[string]any{
			"profile_id": profileID,
			"count":      len(req.Grants),
		})
		grants, err := a.dir.ListAccessGrants(r.Context(), profileID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}
