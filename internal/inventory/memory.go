package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"equiptrack.org/internal/ids"
)

// InMemory implements Service with in-process concurrency safety. Used by
// tests and when the service runs without a database DSN.
type InMemory struct {
	mu         sync.Mutex
	types      map[string]*EquipmentType
	equipment  map[string]*Equipment
	signOuts   map[string]*SignOut
	usage      map[string]*Usage
	calRecords map[string]*CalibrationRecord
	requests   map[string]*EquipmentRequest
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty inventory.
func NewInMemory() *InMemory {
	return &InMemory{
		types:      make(map[string]*EquipmentType),
		equipment:  make(map[string]*Equipment),
		signOuts:   make(map[string]*SignOut),
		usage:      make(map[string]*Usage),
		calRecords: make(map[string]*CalibrationRecord),
		requests:   make(map[string]*EquipmentRequest),
	}
}

func (s *InMemory) CreateEquipmentType(ctx context.Context, in NewEquipmentType) (EquipmentType, error) {
	if err := in.Validate(); err != nil {
		return EquipmentType{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	typ := &EquipmentType{
		ID:                  ids.New(),
		CompanyID:           in.CompanyID,
		Name:                in.Name,
		RequiresCalibration: in.RequiresCalibration,
		CalibrationMonths:   in.CalibrationMonths,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.types[typ.ID] = typ
	return *typ, nil
}

func (s *InMemory) ListEquipmentTypes(ctx context.Context, companyID string) ([]EquipmentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EquipmentType
	for _, typ := range s.types {
		if companyID != "" && typ.CompanyID != companyID {
			continue
		}
		out = append(out, *typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) GetEquipmentType(ctx context.Context, id string) (EquipmentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	typ, ok := s.types[id]
	if !ok {
		return EquipmentType{}, ErrNotFound
	}
	return *typ, nil
}

func (s *InMemory) UpdateEquipmentType(ctx context.Context, id string, patch EquipmentTypePatch) (EquipmentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	typ, ok := s.types[id]
	if !ok {
		return EquipmentType{}, ErrNotFound
	}
	next := *typ
	if err := patch.Apply(&next); err != nil {
		return EquipmentType{}, err
	}
	next.UpdatedAt = time.Now().UTC()
	*typ = next
	return next, nil
}

func (s *InMemory) DeleteEquipmentType(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.types[id]; !ok {
		return ErrNotFound
	}
	for _, eq := range s.equipment {
		if eq.TypeID == id {
			return fmt.Errorf("%w: equipment exists of this type", ErrConflict)
		}
	}
	delete(s.types, id)
	return nil
}

func (s *InMemory) CreateEquipment(ctx context.Context, in NewEquipment) (Equipment, error) {
	if err := in.Validate(); err != nil {
		return Equipment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	typ, ok := s.types[in.TypeID]
	if !ok {
		return Equipment{}, fmt.Errorf("%w: equipment type %s", ErrNotFound, in.TypeID)
	}
	for _, other := range s.equipment {
		if other.CompanyID == in.CompanyID && other.SerialNumber == in.SerialNumber {
			return Equipment{}, fmt.Errorf("%w: serial number already registered", ErrConflict)
		}
	}

	now := time.Now().UTC()
	eq := &Equipment{
		ID:              ids.New(),
		CompanyID:       in.CompanyID,
		SiteID:          in.SiteID,
		DepartmentID:    in.DepartmentID,
		TypeID:          in.TypeID,
		Make:            in.Make,
		Model:           in.Model,
		SerialNumber:    in.SerialNumber,
		EquipmentNumber: in.EquipmentNumber,
		Notes:           in.Notes,
		LastCalibration: in.LastCalibration,
		NextCalibration: in.NextCalibration,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	DeriveNextCalibration(eq, *typ)
	s.equipment[eq.ID] = eq
	return *eq, nil
}

func (s *InMemory) ListEquipment(ctx context.Context, companyID string) ([]Equipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Equipment
	for _, eq := range s.equipment {
		if companyID != "" && eq.CompanyID != companyID {
			continue
		}
		out = append(out, *eq)
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) GetEquipment(ctx context.Context, id string) (Equipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eq, ok := s.equipment[id]
	if !ok {
		return Equipment{}, ErrNotFound
	}
	return *eq, nil
}

func (s *InMemory) UpdateEquipment(ctx context.Context, id string, patch EquipmentPatch) (Equipment, error) {
	if err := patch.Validate(); err != nil {
		return Equipment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	eq, ok := s.equipment[id]
	if !ok {
		return Equipment{}, ErrNotFound
	}
	if patch.SiteID != nil {
		eq.SiteID = *patch.SiteID
	}
	if patch.ClearDepartment {
		eq.DepartmentID = ""
	} else if patch.DepartmentID != nil {
		eq.DepartmentID = *patch.DepartmentID
	}
	if patch.TypeID != nil {
		if _, ok := s.types[*patch.TypeID]; !ok {
			return Equipment{}, fmt.Errorf("%w: equipment type %s", ErrNotFound, *patch.TypeID)
		}
		eq.TypeID = *patch.TypeID
	}
	if patch.Make != nil {
		eq.Make = *patch.Make
	}
	if patch.Model != nil {
		eq.Model = *patch.Model
	}
	if patch.SerialNumber != nil {
		serial := strings.TrimSpace(*patch.SerialNumber)
		for _, other := range s.equipment {
			if other.ID != id && other.CompanyID == eq.CompanyID && other.SerialNumber == serial {
				return Equipment{}, fmt.Errorf("%w: serial number already registered", ErrConflict)
			}
		}
		eq.SerialNumber = serial
	}
	if patch.ClearEquipNum {
		eq.EquipmentNumber = ""
	} else if patch.EquipmentNumber != nil {
		eq.EquipmentNumber = strings.TrimSpace(*patch.EquipmentNumber)
	}
	if patch.Notes != nil {
		eq.Notes = *patch.Notes
	}
	if patch.ClearLastCal {
		eq.LastCalibration = nil
	} else if patch.LastCalibration != nil {
		t := *patch.LastCalibration
		eq.LastCalibration = &t
	}
	if patch.ClearNextCal {
		eq.NextCalibration = nil
	} else if patch.NextCalibration != nil {
		t := *patch.NextCalibration
		eq.NextCalibration = &t
	} else if patch.LastCalibration != nil {
		// A fresh calibration date re-derives the deadline unless one was
		// supplied explicitly.
		if typ, ok := s.types[eq.TypeID]; ok && typ.CalibrationMonths > 0 {
			next := NextDue(*patch.LastCalibration, typ.CalibrationMonths)
			eq.NextCalibration = &next
		}
	}
	eq.UpdatedAt = time.Now().UTC()
	return *eq, nil
}

func (s *InMemory) DeleteEquipment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.equipment[id]; !ok {
		return ErrNotFound
	}
	for _, so := range s.signOuts {
		if so.EquipmentID == id && so.Open() {
			return fmt.Errorf("%w: equipment has an open sign-out", ErrConflict)
		}
	}
	// Cascade: history and certificates go with the item.
	for soID, so := range s.signOuts {
		if so.EquipmentID != id {
			continue
		}
		for uID, u := range s.usage {
			if u.SignOutID == soID {
				delete(s.usage, uID)
			}
		}
		delete(s.signOuts, soID)
	}
	for recID, rec := range s.calRecords {
		if rec.EquipmentID == id {
			delete(s.calRecords, recID)
		}
	}
	for reqID, req := range s.requests {
		if req.EquipmentID == id {
			delete(s.requests, reqID)
		}
	}
	delete(s.equipment, id)
	return nil
}

func (s *InMemory) PurgeCompany(ctx context.Context, companyID string) error {
	if companyID == "" {
		return fmt.Errorf("%w: company_id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for eqID, eq := range s.equipment {
		if eq.CompanyID != companyID {
			continue
		}
		for soID, so := range s.signOuts {
			if so.EquipmentID != eqID {
				continue
			}
			for uID, u := range s.usage {
				if u.SignOutID == soID {
					delete(s.usage, uID)
				}
			}
			delete(s.signOuts, soID)
		}
		for recID, rec := range s.calRecords {
			if rec.EquipmentID == eqID {
				delete(s.calRecords, recID)
			}
		}
		delete(s.equipment, eqID)
	}
	for reqID, req := range s.requests {
		if req.CompanyID == companyID {
			delete(s.requests, reqID)
		}
	}
	for typID, typ := range s.types {
		if typ.CompanyID == companyID {
			delete(s.types, typID)
		}
	}
	return nil
}

func (s *InMemory) LookupEquipment(ctx context.Context, companyID, code string) (*Equipment, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, eq := range s.equipment {
		if companyID != "" && eq.CompanyID != companyID {
			continue
		}
		if eq.SerialNumber == code || (eq.EquipmentNumber != "" && eq.EquipmentNumber == code) {
			out := *eq
			return &out, nil
		}
	}
	return nil, nil
}

func (s *InMemory) SignOut(ctx context.Context, in NewSignOut) (SignOut, error) {
	if err := in.Validate(); err != nil {
		return SignOut{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	so, err := s.signOutLocked(in)
	if err != nil {
		return SignOut{}, err
	}
	return *so, nil
}

// signOutLocked enforces the single-open-sign-out invariant. Caller holds mu.
func (s *InMemory) signOutLocked(in NewSignOut) (*SignOut, error) {
	if _, ok := s.equipment[in.EquipmentID]; !ok {
		return nil, fmt.Errorf("%w: equipment %s", ErrNotFound, in.EquipmentID)
	}
	for _, other := range s.signOuts {
		if other.EquipmentID == in.EquipmentID && other.Open() {
			return nil, fmt.Errorf("%w: equipment already signed out", ErrConflict)
		}
	}
	so := &SignOut{
		ID:          ids.New(),
		EquipmentID: in.EquipmentID,
		SignedOutBy: in.SignedOutBy,
		SignedOutAt: time.Now().UTC(),
		Purpose:     in.Purpose,
		RequestID:   in.RequestID,
	}
	s.signOuts[so.ID] = so
	return so, nil
}

func (s *InMemory) SignOutMany(ctx context.Context, equipmentIDs []string, signedOutBy, purpose string) ([]SignOut, error) {
	signedOutBy = strings.TrimSpace(signedOutBy)
	if len(equipmentIDs) == 0 {
		return nil, fmt.Errorf("%w: equipment_ids are required", ErrInvalidInput)
	}
	if signedOutBy == "" {
		return nil, fmt.Errorf("%w: signed_out_by is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// All-or-nothing: verify the whole batch before touching anything.
	seen := make(map[string]struct{}, len(equipmentIDs))
	for _, id := range equipmentIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate equipment id in batch", ErrInvalidInput)
		}
		seen[id] = struct{}{}
		if _, ok := s.equipment[id]; !ok {
			return nil, fmt.Errorf("%w: equipment %s", ErrNotFound, id)
		}
		for _, other := range s.signOuts {
			if other.EquipmentID == id && other.Open() {
				return nil, fmt.Errorf("%w: equipment %s already signed out", ErrConflict, id)
			}
		}
	}

	now := time.Now().UTC()
	out := make([]SignOut, 0, len(equipmentIDs))
	for _, id := range equipmentIDs {
		so := &SignOut{
			ID:          ids.New(),
			EquipmentID: id,
			SignedOutBy: signedOutBy,
			SignedOutAt: now,
			Purpose:     purpose,
		}
		s.signOuts[so.ID] = so
		out = append(out, *so)
	}
	return out, nil
}

func (s *InMemory) GetSignOut(ctx context.Context, id string) (SignOut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.signOuts[id]
	if !ok {
		return SignOut{}, fmt.Errorf("%w: sign-out", ErrNotFound)
	}
	return *so, nil
}

func (s *InMemory) CheckIn(ctx context.Context, signOutID, signedInBy string) (SignOut, error) {
	signedInBy = strings.TrimSpace(signedInBy)
	if signedInBy == "" {
		return SignOut{}, fmt.Errorf("%w: signed_in_by is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.signOuts[signOutID]
	if !ok {
		return SignOut{}, ErrNotFound
	}
	if !so.Open() {
		return SignOut{}, fmt.Errorf("%w: sign-out already closed", ErrConflict)
	}
	now := time.Now().UTC()
	so.SignedInBy = signedInBy
	so.SignedInAt = &now
	return *so, nil
}

func (s *InMemory) ListSignOuts(ctx context.Context, equipmentID string) ([]SignOut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SignOut
	for _, so := range s.signOuts {
		if equipmentID != "" && so.EquipmentID != equipmentID {
			continue
		}
		out = append(out, *so)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) ListOpenSignOuts(ctx context.Context, companyID string) ([]SignOut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SignOut
	for _, so := range s.signOuts {
		if !so.Open() {
			continue
		}
		if companyID != "" {
			eq, ok := s.equipment[so.EquipmentID]
			if !ok || eq.CompanyID != companyID {
				continue
			}
		}
		out = append(out, *so)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) AddUsage(ctx context.Context, signOutID, note string) (Usage, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return Usage{}, fmt.Errorf("%w: note is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signOuts[signOutID]; !ok {
		return Usage{}, ErrNotFound
	}
	u := &Usage{
		ID:        ids.New(),
		SignOutID: signOutID,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	s.usage[u.ID] = u
	return *u, nil
}

func (s *InMemory) ListUsage(ctx context.Context, signOutID string) ([]Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Usage
	for _, u := range s.usage {
		if u.SignOutID == signOutID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) RemoveUsage(ctx context.Context, usageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usage[usageID]; !ok {
		return ErrNotFound
	}
	delete(s.usage, usageID)
	return nil
}

func (s *InMemory) AddCalibrationRecord(ctx context.Context, in NewCalibrationRecord) (CalibrationRecord, error) {
	if err := in.Validate(); err != nil {
		return CalibrationRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.equipment[in.EquipmentID]; !ok {
		return CalibrationRecord{}, fmt.Errorf("%w: equipment %s", ErrNotFound, in.EquipmentID)
	}
	rec := &CalibrationRecord{
		ID:          ids.New(),
		EquipmentID: in.EquipmentID,
		FileName:    in.FileName,
		StoragePath: in.StoragePath,
		UploadedBy:  in.UploadedBy,
		UploadedAt:  time.Now().UTC(),
	}
	s.calRecords[rec.ID] = rec
	return *rec, nil
}

func (s *InMemory) ListCalibrationRecords(ctx context.Context, equipmentID string) ([]CalibrationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CalibrationRecord
	for _, rec := range s.calRecords {
		if rec.EquipmentID == equipmentID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) DeleteCalibrationRecord(ctx context.Context, id string) (CalibrationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calRecords[id]
	if !ok {
		return CalibrationRecord{}, ErrNotFound
	}
	delete(s.calRecords, id)
	return *rec, nil
}

func (s *InMemory) SubmitRequest(ctx context.Context, in NewRequest) (EquipmentRequest, error) {
	if err := in.Validate(); err != nil {
		return EquipmentRequest{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.equipment[in.EquipmentID]; !ok {
		return EquipmentRequest{}, fmt.Errorf("%w: equipment %s", ErrNotFound, in.EquipmentID)
	}
	req := &EquipmentRequest{
		ID:              ids.New(),
		CompanyID:       in.CompanyID,
		EquipmentID:     in.EquipmentID,
		RequesterName:   in.RequesterName,
		RequesterEmail:  in.RequesterEmail,
		RequesterPhone:  in.RequesterPhone,
		Building:        in.Building,
		EquipmentNumber: in.EquipmentNumber,
		DateFrom:        in.DateFrom,
		DateTo:          in.DateTo,
		Status:          RequestPending,
		CreatedAt:       time.Now().UTC(),
	}
	s.requests[req.ID] = req
	return *req, nil
}

func (s *InMemory) ListRequests(ctx context.Context, companyID string, status RequestStatus) ([]EquipmentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EquipmentRequest
	for _, req := range s.requests {
		if companyID != "" && req.CompanyID != companyID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) GetRequest(ctx context.Context, id string) (EquipmentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return EquipmentRequest{}, ErrNotFound
	}
	return *req, nil
}

func (s *InMemory) ApproveRequest(ctx context.Context, id, reviewedBy string, createSignOut bool) (EquipmentRequest, error) {
	reviewedBy = strings.TrimSpace(reviewedBy)
	if reviewedBy == "" {
		return EquipmentRequest{}, fmt.Errorf("%w: reviewer is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return EquipmentRequest{}, ErrNotFound
	}
	if req.Status != RequestPending {
		return EquipmentRequest{}, fmt.Errorf("%w: request already %s", ErrConflict, req.Status)
	}
	if createSignOut {
		// The sign-out shares the transition's fate: a conflict leaves the
		// request pending.
		if _, err := s.signOutLocked(NewSignOut{
			EquipmentID: req.EquipmentID,
			SignedOutBy: req.RequesterName,
			Purpose:     requestPurpose(*req),
			RequestID:   req.ID,
		}); err != nil {
			return EquipmentRequest{}, err
		}
	}
	now := time.Now().UTC()
	req.Status = RequestApproved
	req.ReviewedBy = reviewedBy
	req.ReviewedAt = &now
	return *req, nil
}

func (s *InMemory) RejectRequest(ctx context.Context, id, reviewedBy, comment string) (EquipmentRequest, error) {
	reviewedBy = strings.TrimSpace(reviewedBy)
	if reviewedBy == "" {
		return EquipmentRequest{}, fmt.Errorf("%w: reviewer is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return EquipmentRequest{}, ErrNotFound
	}
	if req.Status != RequestPending {
		return EquipmentRequest{}, fmt.Errorf("%w: request already %s", ErrConflict, req.Status)
	}
	now := time.Now().UTC()
	req.Status = RequestRejected
	req.ReviewedBy = reviewedBy
	req.ReviewedAt = &now
	req.ReviewComment = strings.TrimSpace(comment)
	return *req, nil
}

func requestPurpose(req EquipmentRequest) string {
	purpose := "requested use"
	if req.Building != "" {
		purpose += " at " + req.Building
	}
	purpose += fmt.Sprintf(" (%s to %s)",
		req.DateFrom.Format("2006-01-02"), req.DateTo.Format("2006-01-02"))
	return purpose
}
