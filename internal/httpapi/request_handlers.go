package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"equiptrack.org/internal/access"
	"equiptrack.org/internal/audit"
	"equiptrack.org/internal/inventory"
	"equiptrack.org/internal/obs"
)

type approveRequest struct {
	CreateSignOut bool `json:"create_sign_out"`
}

type rejectRequest struct {
	Comment string `json:"comment"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRequests(w, r)
	case http.MethodPost:
		a.submitRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	path := pathSegment(r, "/v1/requests/")
	if id, found := strings.CutSuffix(path, "/approve"); found {
		a.reviewRequest(w, r, id, true)
		return
	}
	if id, found := strings.CutSuffix(path, "/reject"); found {
		a.reviewRequest(w, r, id, false)
		return
	}
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.getRequest(w, r, path)
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.Role.AtLeast(access.RoleEquipmentManager) {
		writeError(w, r, http.StatusForbidden, "equipment manager role required")
		return
	}
	company, err := companyScope(p, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := inventory.RequestStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	items, err := a.inv.ListRequests(r.Context(), company, status)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// submitRequest accepts a usage request from any authenticated profile.
// Availability is not checked here; the request stays advisory until review.
func (a *API) submitRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in inventory.NewRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if p.Role != access.RoleSuperAdmin || in.CompanyID == "" {
		in.CompanyID = p.CompanyID
	}
	req, err := a.inv.SubmitRequest(r.Context(), in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.request.submit", map[string]any{
		"request_id":   req.ID,
		"equipment_id": req.EquipmentID,
	})
	w.Header().Set("Location", "/v1/requests/"+req.ID)
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.Role.AtLeast(access.RoleEquipmentManager) {
		writeError(w, r, http.StatusForbidden, "equipment manager role required")
		return
	}
	req, err := a.inv.GetRequest(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if p.Role != access.RoleSuperAdmin && req.CompanyID != p.CompanyID {
		writeError(w, r, http.StatusForbidden, "outside company scope")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) reviewRequest(w http.ResponseWriter, r *http.Request, id string, approve bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.Role.AtLeast(access.RoleEquipmentManager) {
		writeError(w, r, http.StatusForbidden, "equipment manager role required")
		return
	}
	cur, err := a.inv.GetRequest(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if p.Role != access.RoleSuperAdmin && cur.CompanyID != p.CompanyID {
		writeError(w, r, http.StatusForbidden, "outside company scope")
		return
	}

	var (
		req           inventory.EquipmentRequest
		event         string
		createSignOut bool
	)
	if approve {
		var body approveRequest
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		createSignOut = body.CreateSignOut
		req, err = a.inv.ApproveRequest(r.Context(), id, p.ProfileID, createSignOut)
		event = "inventory.request.approve"
	} else {
		var body rejectRequest
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req, err = a.inv.RejectRequest(r.Context(), id, p.ProfileID, body.Comment)
		event = "inventory.request.reject"
	}
	if err != nil {
		// A re-review of a terminal request also surfaces as a conflict;
		// only a rejected sign-out attempt counts toward the metric.
		if createSignOut && !cur.Status.Terminal() && errors.Is(err, inventory.ErrConflict) {
			obs.IncSignOutConflict()
		}
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"request_id":   req.ID,
		"equipment_id": req.EquipmentID,
	})
	writeJSON(w, http.StatusOK, req)
}
