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

type signOutRequest struct {
	EquipmentID string `json:"equipment_id"`
	Purpose     string `json:"purpose"`
}

type batchSignOutRequest struct {
	EquipmentIDs []string `json:"equipment_ids"`
	Purpose      string   `json:"purpose"`
}

type checkInRequest struct {
	SignOutID string `json:"sign_out_id"`
}

type usageRequest struct {
	Note string `json:"note"`
}

func (a *API) handleSignOutsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listOpenSignOuts(w, r)
	case http.MethodPost:
		a.createSignOut(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listOpenSignOuts(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	company, err := companyScope(p, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.inv.ListOpenSignOuts(r.Context(), company)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createSignOut(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req signOutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.EquipmentID) == "" {
		writeError(w, r, http.StatusBadRequest, "equipment_id is required")
		return
	}
	if _, ok := a.loadVisible(w, r, p, req.EquipmentID); !ok {
		return
	}
	so, err := a.inv.SignOut(r.Context(), inventory.NewSignOut{
		EquipmentID: req.EquipmentID,
		SignedOutBy: p.ProfileID,
		Purpose:     req.Purpose,
	})
	if err != nil {
		if errors.Is(err, inventory.ErrConflict) {
			obs.IncSignOutConflict()
		}
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.signout.create", map[string]any{
		"sign_out_id":  so.ID,
		"equipment_id": so.EquipmentID,
	})
	writeJSON(w, http.StatusCreated, so)
}

func (a *API) handleSignOutBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req batchSignOutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.EquipmentIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, "equipment_ids is required")
		return
	}
	for _, id := range req.EquipmentIDs {
		if _, ok := a.loadVisible(w, r, p, id); !ok {
			return
		}
	}
	items, err := a.inv.SignOutMany(r.Context(), req.EquipmentIDs, p.ProfileID, req.Purpose)
	if err != nil {
		if errors.Is(err, inventory.ErrConflict) {
			obs.IncSignOutConflict()
		}
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.signout.batch", map[string]any{
		"count": len(items),
	})
	writeJSON(w, http.StatusCreated, map[string]any{"items": items})
}

func (a *API) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req checkInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SignOutID) == "" {
		writeError(w, r, http.StatusBadRequest, "sign_out_id is required")
		return
	}
	if _, ok := a.visibleSignOut(w, r, p, req.SignOutID); !ok {
		return
	}
	so, err := a.inv.CheckIn(r.Context(), req.SignOutID, p.ProfileID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.signout.check_in", map[string]any{
		"sign_out_id":  so.ID,
		"equipment_id": so.EquipmentID,
	})
	writeJSON(w, http.StatusOK, so)
}

// handleSignOutResource serves /v1/sign-outs/{id}/usage and
// /v1/sign-outs/{id}/usage/{usageID}.
func (a *API) handleSignOutResource(w http.ResponseWriter, r *http.Request) {
	path := pathSegment(r, "/v1/sign-outs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "usage":
		a.handleUsageCollection(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "usage":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.removeUsage(w, r, parts[0], parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// visibleSignOut resolves a sign-out and applies the caller's equipment
// visibility to it, so ledger rows are only reachable through items the
// principal can see.
func (a *API) visibleSignOut(w http.ResponseWriter, r *http.Request, p access.Principal, signOutID string) (inventory.SignOut, bool) {
	so, err := a.inv.GetSignOut(r.Context(), signOutID)
	if err != nil {
		handleDomainError(w, r, err)
		return inventory.SignOut{}, false
	}
	if _, ok := a.loadVisible(w, r, p, so.EquipmentID); !ok {
		return inventory.SignOut{}, false
	}
	return so, true
}

func (a *API) handleUsageCollection(w http.ResponseWriter, r *http.Request, signOutID string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if _, ok := a.visibleSignOut(w, r, p, signOutID); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := a.inv.ListUsage(r.Context(), signOutID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req usageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		u, err := a.inv.AddUsage(r.Context(), signOutID, req.Note)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) removeUsage(w http.ResponseWriter, r *http.Request, signOutID, usageID string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if _, ok := a.visibleSignOut(w, r, p, signOutID); !ok {
		return
	}
	// The note must hang off the sign-out named in the path; ids from other
	// ledgers are not addressable here.
	notes, err := a.inv.ListUsage(r.Context(), signOutID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	owned := false
	for _, u := range notes {
		if u.ID == usageID {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.inv.RemoveUsage(r.Context(), usageID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
