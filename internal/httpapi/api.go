package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"equiptrack.org/internal/access"
	"equiptrack.org/internal/directory"
	"equiptrack.org/internal/inventory"
	"equiptrack.org/internal/obs"
)

// ReadyProbe pings the backing database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the inventory service and directory store.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	inv        inventory.Service
	dir        directory.Store
}

func New(rp ReadyProbe, version string, inv inventory.Service, dir directory.Store) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		inv:        inv,
		dir:        dir,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/equipment-types", a.handleTypesCollection)
	a.mux.HandleFunc("/v1/equipment-types/", a.handleTypeResource)
	a.mux.HandleFunc("/v1/equipment", a.handleEquipmentCollection)
	a.mux.HandleFunc("/v1/equipment/lookup", a.handleLookup)
	a.mux.HandleFunc("/v1/equipment/", a.handleEquipmentResource)
	a.mux.HandleFunc("/v1/calibration-status", a.handleCalibrationStatus)
	a.mux.HandleFunc("/v1/calibration-records", a.handleCalRecordsCollection)
	a.mux.HandleFunc("/v1/calibration-records/", a.handleCalRecordResource)

	a.mux.HandleFunc("/v1/sign-outs", a.handleSignOutsCollection)
	a.mux.HandleFunc("/v1/sign-outs/batch", a.handleSignOutBatch)
	a.mux.HandleFunc("/v1/sign-outs/check-in", a.handleCheckIn)
	a.mux.HandleFunc("/v1/sign-outs/", a.handleSignOutResource)

	a.mux.HandleFunc("/v1/requests", a.handleRequestsCollection)
	a.mux.HandleFunc("/v1/requests/", a.handleRequestResource)

	a.mux.HandleFunc("/v1/admin/companies", a.handleCompaniesCollection)
	a.mux.HandleFunc("/v1/admin/companies/", a.handleCompanyResource)
	a.mux.HandleFunc("/v1/admin/sites", a.handleSitesCollection)
	a.mux.HandleFunc("/v1/admin/sites/", a.handleSiteResource)
	a.mux.HandleFunc("/v1/admin/departments", a.handleDepartmentsCollection)
	a.mux.HandleFunc("/v1/admin/departments/", a.handleDepartmentResource)
	a.mux.HandleFunc("/v1/admin/profiles", a.handleProfilesCollection)
	a.mux.HandleFunc("/v1/admin/profiles/", a.handleProfileResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware-wrapped handler.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "equiptrack-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "equiptrack-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps service sentinels onto HTTP status codes. Both the
// inventory and directory packages share the same sentinel shape.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrInvalidInput), errors.Is(err, directory.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, inventory.ErrNotFound), errors.Is(err, directory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, inventory.ErrConflict), errors.Is(err, directory.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// principal pulls the authenticated principal or fails the request with 401.
func principal(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	p, ok := access.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return p, ok
}

// companyScope resolves which company a request operates on. Super admins may
// address any company through the company_id query parameter; everyone else is
// pinned to their own.
func companyScope(p access.Principal, r *http.Request) (string, error) {
	if p.Role == access.RoleSuperAdmin {
		if id := strings.TrimSpace(r.URL.Query().Get("company_id")); id != "" {
			return id, nil
		}
		if p.CompanyID != "" {
			return p.CompanyID, nil
		}
		return "", errors.New("company_id query parameter is required")
	}
	if p.CompanyID == "" {
		return "", errors.New("profile is not assigned to a company")
	}
	return p.CompanyID, nil
}

func pathSegment(r *http.Request, prefix string) string {
	return strings.TrimPrefix(r.URL.Path, prefix)
}
