package httpapi

import (
	"net/http"
	"strings"
	"time"

	"equiptrack.org/internal/access"
	"equiptrack.org/internal/audit"
	"equiptrack.org/internal/inventory"
)

func (a *API) handleTypesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTypes(w, r)
	case http.MethodPost:
		a.createType(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTypeResource(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, "/v1/equipment-types/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getType(w, r, id)
	case http.MethodPatch:
		a.updateType(w, r, id)
	case http.MethodDelete:
		a.deleteType(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) listTypes(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	company, err := companyScope(p, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	types, err := a.inv.ListEquipmentTypes(r.Context(), company)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": types})
}

func (a *API) createType(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.Role.AtLeast(access.RoleEquipmentManager) {
		writeError(w, r, http.StatusForbidden, "equipment manager role required")
		return
	}
	var in inventory.NewEquipmentType
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if p.Role != access.RoleSuperAdmin || in.CompanyID == "" {
		in.CompanyID = p.CompanyID
	}
	t, err := a.inv.CreateEquipmentType(r.Context(), in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.type.create", map[string]any{
		"type_id": t.ID,
		"name":    t.Name,
	})
	w.Header().Set("Location", "/v1/equipment-types/"+t.ID)
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) getType(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	t, err := a.inv.GetEquipmentType(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if p.Role != access.RoleSuperAdmin && t.CompanyID != p.CompanyID {
		writeError(w, r, http.StatusForbidden, "outside company scope")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) updateType(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.Role.AtLeast(access.RoleEquipmentManager) {
		writeError(w, r, http.StatusForbidden, "equipment manager role required")
		return
	}
	cur, err := a.inv.GetEquipmentType(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if p.Role != access.RoleSuperAdmin && cur.CompanyID != p.CompanyID {
		writeError(w, r, http.StatusForbidden, "outside company scope")
		return
	}
	var patch inventory.EquipmentTypePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	t, err := a.inv.UpdateEquipmentType(r.Context(), id, patch)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.type.update", map[string]any{"type_id": id})
	writeJSON(w, http.StatusOK, t)
}

func (a *API) deleteType(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.Role.AtLeast(access.RoleEquipmentManager) {
		writeError(w, r, http.StatusForbidden, "equipment manager role required")
		return
	}
	cur, err := a.inv.GetEquipmentType(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if p.Role != access.RoleSuperAdmin && cur.CompanyID != p.CompanyID {
		writeError(w, r, http.StatusForbidden, "outside company scope")
		return
	}
	if err := a.inv.DeleteEquipmentType(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.type.delete", map[string]any{"type_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEquipmentCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listEquipment(w, r)
	case http.MethodPost:
		a.createEquipment(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleEquipmentResource(w http.ResponseWriter, r *http.Request) {
	path := pathSegment(r, "/v1/equipment/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if rest, found := strings.CutSuffix(path, "/sign-outs"); found {
		id := strings.TrimSuffix(rest, "/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listEquipmentSignOuts(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getEquipment(w, r, path)
	case http.MethodPatch:
		a.updateEquipment(w, r, path)
	case http.MethodDelete:
		a.deleteEquipment(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) listEquipment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	company, err := companyScope(p, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.inv.ListEquipment(r.Context(), company)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	visible := make([]inventory.Equipment, 0, len(items))
	for _, eq := range items {
		if p.CanView(eq.Coord()) {
			visible = append(visible, eq)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": visible})
}

func (a *API) createEquipment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in inventory.NewEquipment
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if p.Role != access.RoleSuperAdmin || in.CompanyID == "" {
		in.CompanyID = p.CompanyID
	}
	coord := access.Coord{
		CompanyID:    in.CompanyID,
		SiteID:       in.SiteID,
		DepartmentID: in.DepartmentID,
	}
	if !p.CanEdit(coord) {
		writeError(w, r, http.StatusForbidden, "outside editable scope")
		return
	}
	eq, err := a.inv.CreateEquipment(r.Context(), in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.equipment.create", map[string]any{
		"equipment_id": eq.ID,
		"serial":       eq.SerialNumber,
	})
	w.Header().Set("Location", "/v1/equipment/"+eq.ID)
	writeJSON(w, http.StatusCreated, eq)
}

// loadVisible fetches equipment and applies the view check.
func (a *API) loadVisible(w http.ResponseWriter, r *http.Request, p access.Principal, id string) (inventory.Equipment, bool) {
	eq, err := a.inv.GetEquipment(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return inventory.Equipment{}, false
	}
	if !p.CanView(eq.Coord()) {
		writeError(w, r, http.StatusForbidden, "outside visible scope")
		return inventory.Equipment{}, false
	}
	return eq, true
}

func (a *API) getEquipment(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	eq, ok := a.loadVisible(w, r, p, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eq)
}

func (a *API) updateEquipment(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	eq, err := a.inv.GetEquipment(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !p.CanEdit(eq.Coord()) {
		writeError(w, r, http.StatusForbidden, "outside editable scope")
		return
	}
	var patch inventory.EquipmentPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.inv.UpdateEquipment(r.Context(), id, patch)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.equipment.update", map[string]any{"equipment_id": id})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteEquipment(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	eq, err := a.inv.GetEquipment(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !p.CanEdit(eq.Coord()) {
		writeError(w, r, http.StatusForbidden, "outside editable scope")
		return
	}
	if err := a.inv.DeleteEquipment(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.equipment.delete", map[string]any{"equipment_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	company, err := companyScope(p, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "code query parameter is required")
		return
	}
	eq, err := a.inv.LookupEquipment(r.Context(), company, code)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if eq == nil || !p.CanView(eq.Coord()) {
		// a miss and an out-of-scope hit look the same to the caller
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "equipment": eq})
}

type calibrationItem struct {
	Equipment   inventory.Equipment   `json:"equipment"`
	Calibration inventory.Calibration `json:"calibration"`
}

func (a *API) handleCalibrationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	company, err := companyScope(p, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.inv.ListEquipment(r.Context(), company)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	types, err := a.inv.ListEquipmentTypes(r.Context(), company)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	typeByID := make(map[string]inventory.EquipmentType, len(types))
	for _, t := range types {
		typeByID[t.ID] = t
	}
	filter := inventory.CalibrationStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	now := time.Now().UTC()
	out := make([]calibrationItem, 0, len(items))
	for _, eq := range items {
		if !p.CanView(eq.Coord()) {
			continue
		}
		cal := inventory.Classify(eq, typeByID[eq.TypeID], now)
		if filter != "" && cal.Status != filter {
			continue
		}
		out = append(out, calibrationItem{Equipment: eq, Calibration: cal})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "as_of": now})
}

func (a *API) handleCalRecordsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listCalRecords(w, r)
	case http.MethodPost:
		a.addCalRecord(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCalRecordResource(w http.ResponseWriter, r *http.Request) {
	id := pathSegment(r, "/v1/calibration-records/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
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
	rec, err := a.inv.DeleteCalibrationRecord(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.calibration_record.delete", map[string]any{
		"record_id":    rec.ID,
		"storage_path": rec.StoragePath,
	})
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) listCalRecords(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	equipmentID := strings.TrimSpace(r.URL.Query().Get("equipment_id"))
	if equipmentID == "" {
		writeError(w, r, http.StatusBadRequest, "equipment_id query parameter is required")
		return
	}
	if _, ok := a.loadVisible(w, r, p, equipmentID); !ok {
		return
	}
	records, err := a.inv.ListCalibrationRecords(r.Context(), equipmentID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (a *API) addCalRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.Role.AtLeast(access.RoleEquipmentManager) {
		writeError(w, r, http.StatusForbidden, "equipment manager role required")
		return
	}
	var in inventory.NewCalibrationRecord
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in.UploadedBy = p.ProfileID
	rec, err := a.inv.AddCalibrationRecord(r.Context(), in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.calibration_record.add", map[string]any{
		"record_id":    rec.ID,
		"equipment_id": rec.EquipmentID,
	})
	w.Header().Set("Location", "/v1/calibration-records/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) listEquipmentSignOuts(w http.ResponseWriter, r *http.Request, equipmentID string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if _, ok := a.loadVisible(w, r, p, equipmentID); !ok {
		return
	}
	items, err := a.inv.ListSignOuts(r.Context(), equipmentID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
