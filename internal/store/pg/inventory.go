package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"equiptrack.org/internal/ids"
	"equiptrack.org/internal/inventory"
)

var _ inventory.Service = (*Store)(nil)

const equipmentCols = `id, company_id, site_id, department_id, type_id, make, model,
	serial_number, equipment_number, notes, last_calibration, next_calibration_due,
	created_at, updated_at`

const signOutCols = `id, equipment_id, signed_out_by, signed_out_at, signed_in_by,
	signed_in_at, purpose, request_id`

func (s *Store) CreateEquipmentType(ctx context.Context, in inventory.NewEquipmentType) (inventory.EquipmentType, error) {
	if err := in.Validate(); err != nil {
		return inventory.EquipmentType{}, err
	}
	now := time.Now().UTC()
	t := inventory.EquipmentType{
		ID:                  ids.New(),
		CompanyID:           in.CompanyID,
		Name:                in.Name,
		RequiresCalibration: in.RequiresCalibration,
		CalibrationMonths:   in.CalibrationMonths,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	_, err := s.db.ExecContext(ctx, `insert into equipment_types
		(id, company_id, name, requires_calibration, calibration_months, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.CompanyID, t.Name, t.RequiresCalibration, t.CalibrationMonths, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return inventory.EquipmentType{}, mapInventoryErr(err)
	}
	return t, nil
}

func (s *Store) ListEquipmentTypes(ctx context.Context, companyID string) ([]inventory.EquipmentType, error) {
	rows, err := s.db.QueryContext(ctx, `select id, company_id, name, requires_calibration,
		calibration_months, created_at, updated_at
		from equipment_types where company_id = $1 order by name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.EquipmentType
	for rows.Next() {
		var t inventory.EquipmentType
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Name, &t.RequiresCalibration,
			&t.CalibrationMonths, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetEquipmentType(ctx context.Context, id string) (inventory.EquipmentType, error) {
	return scanEquipmentType(s.db.QueryRowContext(ctx, `select id, company_id, name,
		requires_calibration, calibration_months, created_at, updated_at
		from equipment_types where id = $1`, id))
}

func (s *Store) UpdateEquipmentType(ctx context.Context, id string, patch inventory.EquipmentTypePatch) (inventory.EquipmentType, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.EquipmentType{}, err
	}
	defer tx.Rollback()

	// Merge onto the locked row and validate the combined state before
	// writing anything back.
	t, err := scanEquipmentType(tx.QueryRowContext(ctx, `select id, company_id, name,
		requires_calibration, calibration_months, created_at, updated_at
		from equipment_types where id = $1 for update`, id))
	if err != nil {
		return inventory.EquipmentType{}, err
	}
	if err := patch.Apply(&t); err != nil {
		return inventory.EquipmentType{}, err
	}
	t.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `update equipment_types set name = $2,
		requires_calibration = $3, calibration_months = $4, updated_at = $5
		where id = $1`,
		t.ID, t.Name, t.RequiresCalibration, t.CalibrationMonths, t.UpdatedAt)
	if err != nil {
		return inventory.EquipmentType{}, mapInventoryErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.EquipmentType{}, err
	}
	return t, nil
}

func (s *Store) DeleteEquipmentType(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from equipment_types where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: equipment exists of this type", inventory.ErrConflict)
		}
		return err
	}
	return requireAffected(res, inventory.ErrNotFound)
}

func (s *Store) CreateEquipment(ctx context.Context, in inventory.NewEquipment) (inventory.Equipment, error) {
	if err := in.Validate(); err != nil {
		return inventory.Equipment{}, err
	}
	typ, err := s.GetEquipmentType(ctx, in.TypeID)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return inventory.Equipment{}, fmt.Errorf("%w: unknown type_id", inventory.ErrInvalidInput)
		}
		return inventory.Equipment{}, err
	}
	now := time.Now().UTC()
	eq := inventory.Equipment{
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
	inventory.DeriveNextCalibration(&eq, typ)
	_, err = s.db.ExecContext(ctx, `insert into equipment
		(id, company_id, site_id, department_id, type_id, make, model, serial_number,
		 equipment_number, notes, last_calibration, next_calibration_due, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		eq.ID, eq.CompanyID, eq.SiteID, nullIfEmpty(eq.DepartmentID), eq.TypeID,
		eq.Make, eq.Model, eq.SerialNumber, nullIfEmpty(eq.EquipmentNumber), eq.Notes,
		nullTime(eq.LastCalibration), nullTime(eq.NextCalibration), eq.CreatedAt, eq.UpdatedAt)
	if err != nil {
		return inventory.Equipment{}, mapInventoryErr(err)
	}
	return eq, nil
}

func (s *Store) ListEquipment(ctx context.Context, companyID string) ([]inventory.Equipment, error) {
	rows, err := s.db.QueryContext(ctx, `select `+equipmentCols+`
		from equipment where company_id = $1 order by serial_number`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEquipment(rows)
}

func (s *Store) GetEquipment(ctx context.Context, id string) (inventory.Equipment, error) {
	return scanEquipment(s.db.QueryRowContext(ctx,
		`select `+equipmentCols+` from equipment where id = $1`, id))
}

func (s *Store) UpdateEquipment(ctx context.Context, id string, patch inventory.EquipmentPatch) (inventory.Equipment, error) {
	if err := patch.Validate(); err != nil {
		return inventory.Equipment{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Equipment{}, err
	}
	defer tx.Rollback()

	cur, err := scanEquipment(tx.QueryRowContext(ctx,
		`select `+equipmentCols+` from equipment where id = $1 for update`, id))
	if err != nil {
		return inventory.Equipment{}, err
	}
	applyEquipmentPatch(&cur, patch)

	typ, err := scanEquipmentType(tx.QueryRowContext(ctx, `select id, company_id, name,
		requires_calibration, calibration_months, created_at, updated_at
		from equipment_types where id = $1`, cur.TypeID))
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return inventory.Equipment{}, fmt.Errorf("%w: unknown type_id", inventory.ErrInvalidInput)
		}
		return inventory.Equipment{}, err
	}
	// A fresh calibration date re-derives the deadline unless one was given
	if patch.LastCalibration != nil && patch.NextCalibration == nil && !patch.ClearNextCal {
		cur.NextCalibration = nil
		inventory.DeriveNextCalibration(&cur, typ)
	}
	cur.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `update equipment set site_id = $2, department_id = $3,
		type_id = $4, make = $5, model = $6, serial_number = $7, equipment_number = $8,
		notes = $9, last_calibration = $10, next_calibration_due = $11, updated_at = $12
		where id = $1`,
		cur.ID, cur.SiteID, nullIfEmpty(cur.DepartmentID), cur.TypeID, cur.Make, cur.Model,
		cur.SerialNumber, nullIfEmpty(cur.EquipmentNumber), cur.Notes,
		nullTime(cur.LastCalibration), nullTime(cur.NextCalibration), cur.UpdatedAt)
	if err != nil {
		return inventory.Equipment{}, mapInventoryErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.Equipment{}, err
	}
	return cur, nil
}

func (s *Store) DeleteEquipment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Lock the row first so a sign-out racing this delete serializes behind
	// it instead of slipping in between the check and the cascade.
	var eqID string
	err = tx.QueryRowContext(ctx, `select id from equipment where id = $1 for update`, id).Scan(&eqID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: equipment %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	var open int
	err = tx.QueryRowContext(ctx, `select count(*) from sign_outs
		where equipment_id = $1 and signed_in_at is null`, id).Scan(&open)
	if err != nil {
		return err
	}
	if open > 0 {
		return fmt.Errorf("%w: equipment is signed out", inventory.ErrConflict)
	}
	res, err := tx.ExecContext(ctx, `delete from equipment where id = $1`, id)
	if err != nil {
		return err
	}
	if err := requireAffected(res, inventory.ErrNotFound); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) PurgeCompany(ctx context.Context, companyID string) error {
	// equipment cascades to sign_outs, usage, calibration records via FKs
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`delete from equipment_requests where company_id = $1`,
		`delete from equipment where company_id = $1`,
		`delete from equipment_types where company_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, companyID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LookupEquipment(ctx context.Context, companyID, code string) (*inventory.Equipment, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", inventory.ErrInvalidInput)
	}
	eq, err := scanEquipment(s.db.QueryRowContext(ctx, `select `+equipmentCols+`
		from equipment where company_id = $1 and (serial_number = $2 or equipment_number = $2)
		limit 1`, companyID, code))
	if errors.Is(err, inventory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &eq, nil
}

func (s *Store) SignOut(ctx context.Context, in inventory.NewSignOut) (inventory.SignOut, error) {
	if err := in.Validate(); err != nil {
		return inventory.SignOut{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.SignOut{}, err
	}
	defer tx.Rollback()
	so, err := signOutTx(ctx, tx, in)
	if err != nil {
		return inventory.SignOut{}, err
	}
	if err := tx.Commit(); err != nil {
		return inventory.SignOut{}, err
	}
	return so, nil
}

// signOutTx locks the equipment row, verifies no open sign-out exists, and
// inserts the new record. The partial unique index on open sign-outs catches
// anything that slips past the lock.
func signOutTx(ctx context.Context, tx *sql.Tx, in inventory.NewSignOut) (inventory.SignOut, error) {
	var eqID string
	err := tx.QueryRowContext(ctx, `select id from equipment where id = $1 for update`,
		in.EquipmentID).Scan(&eqID)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.SignOut{}, fmt.Errorf("%w: equipment %s", inventory.ErrNotFound, in.EquipmentID)
	}
	if err != nil {
		return inventory.SignOut{}, err
	}
	var open int
	err = tx.QueryRowContext(ctx, `select count(*) from sign_outs
		where equipment_id = $1 and signed_in_at is null`, in.EquipmentID).Scan(&open)
	if err != nil {
		return inventory.SignOut{}, err
	}
	if open > 0 {
		return inventory.SignOut{}, fmt.Errorf("%w: equipment already signed out", inventory.ErrConflict)
	}
	so := inventory.SignOut{
		ID:          ids.New(),
		EquipmentID: in.EquipmentID,
		SignedOutBy: in.SignedOutBy,
		SignedOutAt: time.Now().UTC(),
		Purpose:     in.Purpose,
		RequestID:   in.RequestID,
	}
	_, err = tx.ExecContext(ctx, `insert into sign_outs
		(id, equipment_id, signed_out_by, signed_out_at, purpose, request_id)
		values ($1, $2, $3, $4, $5, $6)`,
		so.ID, so.EquipmentID, so.SignedOutBy, so.SignedOutAt, so.Purpose, nullIfEmpty(so.RequestID))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return inventory.SignOut{}, fmt.Errorf("%w: equipment already signed out", inventory.ErrConflict)
		}
		return inventory.SignOut{}, err
	}
	return so, nil
}

func (s *Store) SignOutMany(ctx context.Context, equipmentIDs []string, signedOutBy, purpose string) ([]inventory.SignOut, error) {
	if len(equipmentIDs) == 0 {
		return nil, fmt.Errorf("%w: equipment_ids is required", inventory.ErrInvalidInput)
	}
	if strings.TrimSpace(signedOutBy) == "" {
		return nil, fmt.Errorf("%w: signed_out_by is required", inventory.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(equipmentIDs))
	sorted := make([]string, 0, len(equipmentIDs))
	for _, id := range equipmentIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate equipment_id %s", inventory.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	// Locks are taken in sorted order so concurrent batches cannot deadlock
	sort.Strings(sorted)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	byID := make(map[string]inventory.SignOut, len(sorted))
	for _, id := range sorted {
		so, err := signOutTx(ctx, tx, inventory.NewSignOut{
			EquipmentID: id,
			SignedOutBy: signedOutBy,
			Purpose:     purpose,
		})
		if err != nil {
			return nil, err
		}
		byID[id] = so
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	out := make([]inventory.SignOut, 0, len(equipmentIDs))
	for _, id := range equipmentIDs {
		out = append(out, byID[id])
	}
	return out, nil
}

func (s *Store) GetSignOut(ctx context.Context, id string) (inventory.SignOut, error) {
	return scanSignOut(s.db.QueryRowContext(ctx,
		`select `+signOutCols+` from sign_outs where id = $1`, id))
}

func (s *Store) CheckIn(ctx context.Context, signOutID, signedInBy string) (inventory.SignOut, error) {
	if strings.TrimSpace(signedInBy) == "" {
		return inventory.SignOut{}, fmt.Errorf("%w: signed_in_by is required", inventory.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.SignOut{}, err
	}
	defer tx.Rollback()

	so, err := scanSignOut(tx.QueryRowContext(ctx,
		`select `+signOutCols+` from sign_outs where id = $1 for update`, signOutID))
	if err != nil {
		return inventory.SignOut{}, err
	}
	if !so.Open() {
		return inventory.SignOut{}, fmt.Errorf("%w: already signed in", inventory.ErrConflict)
	}
	now := time.Now().UTC()
	so.SignedInBy = signedInBy
	so.SignedInAt = &now
	_, err = tx.ExecContext(ctx, `update sign_outs set signed_in_by = $2, signed_in_at = $3
		where id = $1`, so.ID, so.SignedInBy, now)
	if err != nil {
		return inventory.SignOut{}, err
	}
	if err := tx.Commit(); err != nil {
		return inventory.SignOut{}, err
	}
	return so, nil
}

func (s *Store) ListSignOuts(ctx context.Context, equipmentID string) ([]inventory.SignOut, error) {
	rows, err := s.db.QueryContext(ctx, `select `+signOutCols+`
		from sign_outs where equipment_id = $1 order by signed_out_at desc`, equipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSignOuts(rows)
}

func (s *Store) ListOpenSignOuts(ctx context.Context, companyID string) ([]inventory.SignOut, error) {
	rows, err := s.db.QueryContext(ctx, `select s.id, s.equipment_id, s.signed_out_by,
		s.signed_out_at, s.signed_in_by, s.signed_in_at, s.purpose, s.request_id
		from sign_outs s join equipment e on e.id = s.equipment_id
		where e.company_id = $1 and s.signed_in_at is null
		order by s.signed_out_at desc`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSignOuts(rows)
}

func (s *Store) AddUsage(ctx context.Context, signOutID, note string) (inventory.Usage, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return inventory.Usage{}, fmt.Errorf("%w: note is required", inventory.ErrInvalidInput)
	}
	u := inventory.Usage{
		ID:        ids.New(),
		SignOutID: signOutID,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `insert into usage_notes (id, sign_out_id, note, created_at)
		values ($1, $2, $3, $4)`, u.ID, u.SignOutID, u.Note, u.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return inventory.Usage{}, fmt.Errorf("%w: sign-out %s", inventory.ErrNotFound, signOutID)
		}
		return inventory.Usage{}, err
	}
	return u, nil
}

func (s *Store) ListUsage(ctx context.Context, signOutID string) ([]inventory.Usage, error) {
	rows, err := s.db.QueryContext(ctx, `select id, sign_out_id, note, created_at
		from usage_notes where sign_out_id = $1 order by created_at`, signOutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Usage
	for rows.Next() {
		var u inventory.Usage
		if err := rows.Scan(&u.ID, &u.SignOutID, &u.Note, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) RemoveUsage(ctx context.Context, usageID string) error {
	res, err := s.db.ExecContext(ctx, `delete from usage_notes where id = $1`, usageID)
	if err != nil {
		return err
	}
	return requireAffected(res, inventory.ErrNotFound)
}

func (s *Store) AddCalibrationRecord(ctx context.Context, in inventory.NewCalibrationRecord) (inventory.CalibrationRecord, error) {
	if err := in.Validate(); err != nil {
		return inventory.CalibrationRecord{}, err
	}
	r := inventory.CalibrationRecord{
		ID:          ids.New(),
		EquipmentID: in.EquipmentID,
		FileName:    in.FileName,
		StoragePath: in.StoragePath,
		UploadedBy:  in.UploadedBy,
		UploadedAt:  time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `insert into calibration_records
		(id, equipment_id, file_name, storage_path, uploaded_by, uploaded_at)
		values ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.EquipmentID, r.FileName, r.StoragePath, r.UploadedBy, r.UploadedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return inventory.CalibrationRecord{}, fmt.Errorf("%w: equipment %s", inventory.ErrNotFound, in.EquipmentID)
		}
		return inventory.CalibrationRecord{}, err
	}
	return r, nil
}

func (s *Store) ListCalibrationRecords(ctx context.Context, equipmentID string) ([]inventory.CalibrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `select id, equipment_id, file_name, storage_path,
		uploaded_by, uploaded_at from calibration_records
		where equipment_id = $1 order by uploaded_at desc`, equipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.CalibrationRecord
	for rows.Next() {
		var r inventory.CalibrationRecord
		if err := rows.Scan(&r.ID, &r.EquipmentID, &r.FileName, &r.StoragePath,
			&r.UploadedBy, &r.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCalibrationRecord(ctx context.Context, id string) (inventory.CalibrationRecord, error) {
	var r inventory.CalibrationRecord
	err := s.db.QueryRowContext(ctx, `delete from calibration_records where id = $1
		returning id, equipment_id, file_name, storage_path, uploaded_by, uploaded_at`, id).
		Scan(&r.ID, &r.EquipmentID, &r.FileName, &r.StoragePath, &r.UploadedBy, &r.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.CalibrationRecord{}, fmt.Errorf("%w: calibration record %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.CalibrationRecord{}, err
	}
	return r, nil
}

func (s *Store) SubmitRequest(ctx context.Context, in inventory.NewRequest) (inventory.EquipmentRequest, error) {
	if err := in.Validate(); err != nil {
		return inventory.EquipmentRequest{}, err
	}
	req := inventory.EquipmentRequest{
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
		Status:          inventory.RequestPending,
		CreatedAt:       time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `insert into equipment_requests
		(id, company_id, equipment_id, requester_name, requester_email, requester_phone,
		 building, equipment_number, date_from, date_to, status, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		req.ID, req.CompanyID, req.EquipmentID, req.RequesterName, req.RequesterEmail,
		req.RequesterPhone, req.Building, req.EquipmentNumber, req.DateFrom, req.DateTo,
		req.Status, req.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return inventory.EquipmentRequest{}, fmt.Errorf("%w: equipment %s", inventory.ErrNotFound, in.EquipmentID)
		}
		return inventory.EquipmentRequest{}, err
	}
	return req, nil
}

const requestCols = `id, company_id, equipment_id, requester_name, requester_email,
	requester_phone, building, equipment_number, date_from, date_to, status,
	reviewed_by, reviewed_at, review_comment, created_at`

func (s *Store) ListRequests(ctx context.Context, companyID string, status inventory.RequestStatus) ([]inventory.EquipmentRequest, error) {
	q := `select ` + requestCols + ` from equipment_requests where company_id = $1`
	args := []any{companyID}
	if status != "" {
		q += ` and status = $2`
		args = append(args, status)
	}
	q += ` order by created_at desc`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.EquipmentRequest
	for rows.Next() {
		req, err := scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) GetRequest(ctx context.Context, id string) (inventory.EquipmentRequest, error) {
	return scanRequest(s.db.QueryRowContext(ctx,
		`select `+requestCols+` from equipment_requests where id = $1`, id))
}

func (s *Store) ApproveRequest(ctx context.Context, id, reviewedBy string, createSignOut bool) (inventory.EquipmentRequest, error) {
	return s.reviewRequest(ctx, id, reviewedBy, "", inventory.RequestApproved, createSignOut)
}

func (s *Store) RejectRequest(ctx context.Context, id, reviewedBy, comment string) (inventory.EquipmentRequest, error) {
	return s.reviewRequest(ctx, id, reviewedBy, comment, inventory.RequestRejected, false)
}

// reviewRequest moves a pending request to a terminal state. When approval
// should also sign the equipment out, both writes share the transaction so a
// sign-out conflict leaves the request pending.
func (s *Store) reviewRequest(ctx context.Context, id, reviewedBy, comment string, next inventory.RequestStatus, createSignOut bool) (inventory.EquipmentRequest, error) {
	if strings.TrimSpace(reviewedBy) == "" {
		return inventory.EquipmentRequest{}, fmt.Errorf("%w: reviewed_by is required", inventory.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.EquipmentRequest{}, err
	}
	defer tx.Rollback()

	req, err := scanRequest(tx.QueryRowContext(ctx,
		`select `+requestCols+` from equipment_requests where id = $1 for update`, id))
	if err != nil {
		return inventory.EquipmentRequest{}, err
	}
	if req.Status.Terminal() {
		return inventory.EquipmentRequest{}, fmt.Errorf("%w: request already %s", inventory.ErrConflict, req.Status)
	}
	if createSignOut {
		purpose := fmt.Sprintf("request by %s (%s - %s)", req.RequesterName,
			req.DateFrom.Format("2006-01-02"), req.DateTo.Format("2006-01-02"))
		if _, err := signOutTx(ctx, tx, inventory.NewSignOut{
			EquipmentID: req.EquipmentID,
			SignedOutBy: req.RequesterName,
			Purpose:     purpose,
			RequestID:   req.ID,
		}); err != nil {
			return inventory.EquipmentRequest{}, err
		}
	}
	now := time.Now().UTC()
	req.Status = next
	req.ReviewedBy = reviewedBy
	req.ReviewedAt = &now
	req.ReviewComment = comment
	_, err = tx.ExecContext(ctx, `update equipment_requests
		set status = $2, reviewed_by = $3, reviewed_at = $4, review_comment = $5
		where id = $1`, req.ID, req.Status, req.ReviewedBy, now, req.ReviewComment)
	if err != nil {
		return inventory.EquipmentRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return inventory.EquipmentRequest{}, err
	}
	return req, nil
}

// --- scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEquipmentType(row rowScanner) (inventory.EquipmentType, error) {
	var t inventory.EquipmentType
	err := row.Scan(&t.ID, &t.CompanyID, &t.Name, &t.RequiresCalibration,
		&t.CalibrationMonths, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.EquipmentType{}, fmt.Errorf("%w: equipment type", inventory.ErrNotFound)
	}
	if err != nil {
		return inventory.EquipmentType{}, err
	}
	return t, nil
}

func scanEquipment(row rowScanner) (inventory.Equipment, error) {
	var (
		eq      inventory.Equipment
		dept    sql.NullString
		eqNum   sql.NullString
		lastCal sql.NullTime
		nextCal sql.NullTime
	)
	err := row.Scan(&eq.ID, &eq.CompanyID, &eq.SiteID, &dept, &eq.TypeID, &eq.Make,
		&eq.Model, &eq.SerialNumber, &eqNum, &eq.Notes, &lastCal, &nextCal,
		&eq.CreatedAt, &eq.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Equipment{}, fmt.Errorf("%w: equipment", inventory.ErrNotFound)
	}
	if err != nil {
		return inventory.Equipment{}, err
	}
	eq.DepartmentID = dept.String
	eq.EquipmentNumber = eqNum.String
	eq.LastCalibration = timePtr(lastCal)
	eq.NextCalibration = timePtr(nextCal)
	return eq, nil
}

func collectEquipment(rows *sql.Rows) ([]inventory.Equipment, error) {
	var out []inventory.Equipment
	for rows.Next() {
		eq, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, eq)
	}
	return out, rows.Err()
}

func scanSignOut(row rowScanner) (inventory.SignOut, error) {
	var (
		so    inventory.SignOut
		inBy  sql.NullString
		inAt  sql.NullTime
		reqID sql.NullString
	)
	err := row.Scan(&so.ID, &so.EquipmentID, &so.SignedOutBy, &so.SignedOutAt,
		&inBy, &inAt, &so.Purpose, &reqID)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.SignOut{}, fmt.Errorf("%w: sign-out", inventory.ErrNotFound)
	}
	if err != nil {
		return inventory.SignOut{}, err
	}
	so.SignedInBy = inBy.String
	so.SignedInAt = timePtr(inAt)
	so.RequestID = reqID.String
	return so, nil
}

func collectSignOuts(rows *sql.Rows) ([]inventory.SignOut, error) {
	var out []inventory.SignOut
	for rows.Next() {
		so, err := scanSignOut(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, so)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (inventory.EquipmentRequest, error) {
	req, err := scanRequestRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.EquipmentRequest{}, fmt.Errorf("%w: request", inventory.ErrNotFound)
	}
	return req, err
}

func scanRequestRow(row rowScanner) (inventory.EquipmentRequest, error) {
	var (
		req        inventory.EquipmentRequest
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
		comment    sql.NullString
	)
	err := row.Scan(&req.ID, &req.CompanyID, &req.EquipmentID, &req.RequesterName,
		&req.RequesterEmail, &req.RequesterPhone, &req.Building, &req.EquipmentNumber,
		&req.DateFrom, &req.DateTo, &req.Status, &reviewedBy, &reviewedAt, &comment,
		&req.CreatedAt)
	if err != nil {
		return inventory.EquipmentRequest{}, err
	}
	req.ReviewedBy = reviewedBy.String
	req.ReviewedAt = timePtr(reviewedAt)
	req.ReviewComment = comment.String
	return req, nil
}

func applyEquipmentPatch(eq *inventory.Equipment, p inventory.EquipmentPatch) {
	if p.SiteID != nil {
		eq.SiteID = *p.SiteID
	}
	if p.DepartmentID != nil {
		eq.DepartmentID = *p.DepartmentID
	}
	if p.ClearDepartment {
		eq.DepartmentID = ""
	}
	if p.TypeID != nil {
		eq.TypeID = *p.TypeID
	}
	if p.Make != nil {
		eq.Make = *p.Make
	}
	if p.Model != nil {
		eq.Model = *p.Model
	}
	if p.SerialNumber != nil {
		eq.SerialNumber = strings.TrimSpace(*p.SerialNumber)
	}
	if p.EquipmentNumber != nil {
		eq.EquipmentNumber = strings.TrimSpace(*p.EquipmentNumber)
	}
	if p.ClearEquipNum {
		eq.EquipmentNumber = ""
	}
	if p.Notes != nil {
		eq.Notes = *p.Notes
	}
	if p.LastCalibration != nil {
		eq.LastCalibration = p.LastCalibration
	}
	if p.ClearLastCal {
		eq.LastCalibration = nil
	}
	if p.NextCalibration != nil {
		eq.NextCalibration = p.NextCalibration
	}
	if p.ClearNextCal {
		eq.NextCalibration = nil
	}
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
