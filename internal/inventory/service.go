package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Service defines inventory operations. Implementations must enforce the
// single-open-sign-out and terminal-request-state invariants atomically.
type Service interface {
	CreateEquipmentType(ctx context.Context, in NewEquipmentType) (EquipmentType, error)
	ListEquipmentTypes(ctx context.Context, companyID string) ([]EquipmentType, error)
	GetEquipmentType(ctx context.Context, id string) (EquipmentType, error)
	UpdateEquipmentType(ctx context.Context, id string, patch EquipmentTypePatch) (EquipmentType, error)
	DeleteEquipmentType(ctx context.Context, id string) error

	CreateEquipment(ctx context.Context, in NewEquipment) (Equipment, error)
	ListEquipment(ctx context.Context, companyID string) ([]Equipment, error)
	GetEquipment(ctx context.Context, id string) (Equipment, error)
	UpdateEquipment(ctx context.Context, id string, patch EquipmentPatch) (Equipment, error)
	DeleteEquipment(ctx context.Context, id string) error
	// PurgeCompany removes every inventory row belonging to a company,
	// including open sign-outs. Only used while closing the tenant.
	PurgeCompany(ctx context.Context, companyID string) error
	// LookupEquipment resolves a barcode against serial_number or
	// equipment_number. A miss is a valid nil result, not an error.
	LookupEquipment(ctx context.Context, companyID, code string) (*Equipment, error)

	SignOut(ctx context.Context, in NewSignOut) (SignOut, error)
	SignOutMany(ctx context.Context, equipmentIDs []string, signedOutBy, purpose string) ([]SignOut, error)
	GetSignOut(ctx context.Context, id string) (SignOut, error)
	CheckIn(ctx context.Context, signOutID, signedInBy string) (SignOut, error)
	ListSignOuts(ctx context.Context, equipmentID string) ([]SignOut, error)
	ListOpenSignOuts(ctx context.Context, companyID string) ([]SignOut, error)
	AddUsage(ctx context.Context, signOutID, note string) (Usage, error)
	ListUsage(ctx context.Context, signOutID string) ([]Usage, error)
	RemoveUsage(ctx context.Context, usageID string) error

	AddCalibrationRecord(ctx context.Context, in NewCalibrationRecord) (CalibrationRecord, error)
	ListCalibrationRecords(ctx context.Context, equipmentID string) ([]CalibrationRecord, error)
	// DeleteCalibrationRecord returns the removed record so the caller can
	// drop the backing file from blob storage.
	DeleteCalibrationRecord(ctx context.Context, id string) (CalibrationRecord, error)

	SubmitRequest(ctx context.Context, in NewRequest) (EquipmentRequest, error)
	ListRequests(ctx context.Context, companyID string, status RequestStatus) ([]EquipmentRequest, error)
	GetRequest(ctx context.Context, id string) (EquipmentRequest, error)
	ApproveRequest(ctx context.Context, id, reviewedBy string, createSignOut bool) (EquipmentRequest, error)
	RejectRequest(ctx context.Context, id, reviewedBy, comment string) (EquipmentRequest, error)
}

// NewEquipmentType is the input for CreateEquipmentType.
type NewEquipmentType struct {
	CompanyID           string `json:"company_id"`
	Name                string `json:"name"`
	RequiresCalibration bool   `json:"requires_calibration"`
	CalibrationMonths   int    `json:"calibration_months"`
}

func (in *NewEquipmentType) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.CompanyID == "" {
		return fmt.Errorf("%w: company_id is required", ErrInvalidInput)
	}
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.CalibrationMonths < 0 {
		return fmt.Errorf("%w: calibration_months must be >= 0", ErrInvalidInput)
	}
	if in.RequiresCalibration && in.CalibrationMonths == 0 {
		return fmt.Errorf("%w: calibration_months is required for calibrated types", ErrInvalidInput)
	}
	return nil
}

// EquipmentTypePatch applies a partial update. nil fields are left unchanged.
type EquipmentTypePatch struct {
	Name                *string `json:"name"`
	RequiresCalibration *bool   `json:"requires_calibration"`
	CalibrationMonths   *int    `json:"calibration_months"`
}

func (p EquipmentTypePatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if p.CalibrationMonths != nil && *p.CalibrationMonths < 0 {
		return fmt.Errorf("%w: calibration_months must be >= 0", ErrInvalidInput)
	}
	return nil
}

// Apply merges the patch onto t and validates the combined state. The
// calibrated-needs-interval rule spans two fields, so it can only be checked
// against the merged row, before anything is persisted.
func (p EquipmentTypePatch) Apply(t *EquipmentType) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.RequiresCalibration != nil {
		t.RequiresCalibration = *p.RequiresCalibration
	}
	if p.CalibrationMonths != nil {
		t.CalibrationMonths = *p.CalibrationMonths
	}
	if t.RequiresCalibration && t.CalibrationMonths == 0 {
		return fmt.Errorf("%w: calibration_months is required for calibrated types", ErrInvalidInput)
	}
	return nil
}

// NewEquipment is the input for CreateEquipment. NextCalibration is derived
// from LastCalibration and the type interval when not supplied explicitly.
type NewEquipment struct {
	CompanyID       string     `json:"company_id"`
	SiteID          string     `json:"site_id"`
	DepartmentID    string     `json:"department_id"`
	TypeID          string     `json:"type_id"`
	Make            string     `json:"make"`
	Model           string     `json:"model"`
	SerialNumber    string     `json:"serial_number"`
	EquipmentNumber string     `json:"equipment_number"`
	Notes           string     `json:"notes"`
	LastCalibration *time.Time `json:"last_calibration"`
	NextCalibration *time.Time `json:"next_calibration_due"`
}

func (in *NewEquipment) Validate() error {
	in.SerialNumber = strings.TrimSpace(in.SerialNumber)
	in.EquipmentNumber = strings.TrimSpace(in.EquipmentNumber)
	if in.CompanyID == "" || in.SiteID == "" {
		return fmt.Errorf("%w: company_id and site_id are required", ErrInvalidInput)
	}
	if in.TypeID == "" {
		return fmt.Errorf("%w: type_id is required", ErrInvalidInput)
	}
	if in.SerialNumber == "" {
		return fmt.Errorf("%w: serial_number is required", ErrInvalidInput)
	}
	return nil
}

// EquipmentPatch applies a partial update. nil pointer fields are left
// unchanged; the Clear* flags express an explicit null for clearable fields,
// so "not provided" and "cleared" can never be confused.
type EquipmentPatch struct {
	SiteID          *string `json:"site_id"`
	DepartmentID    *string `json:"department_id"`
	ClearDepartment bool    `json:"clear_department"`
	TypeID          *string `json:"type_id"`
	Make            *string `json:"make"`
	Model           *string `json:"model"`
	SerialNumber    *string `json:"serial_number"`
	EquipmentNumber *string `json:"equipment_number"`
	ClearEquipNum   bool    `json:"clear_equipment_number"`
	Notes           *string `json:"notes"`
	LastCalibration *time.Time `json:"last_calibration"`
	ClearLastCal    bool       `json:"clear_last_calibration"`
	NextCalibration *time.Time `json:"next_calibration_due"`
	ClearNextCal    bool       `json:"clear_next_calibration"`
}

func (p EquipmentPatch) Validate() error {
	if p.SerialNumber != nil && strings.TrimSpace(*p.SerialNumber) == "" {
		return fmt.Errorf("%w: serial_number must not be empty", ErrInvalidInput)
	}
	if p.SiteID != nil && *p.SiteID == "" {
		return fmt.Errorf("%w: site_id must not be empty", ErrInvalidInput)
	}
	if p.TypeID != nil && *p.TypeID == "" {
		return fmt.Errorf("%w: type_id must not be empty", ErrInvalidInput)
	}
	if p.DepartmentID != nil && p.ClearDepartment {
		return fmt.Errorf("%w: department_id and clear_department are mutually exclusive", ErrInvalidInput)
	}
	if p.NextCalibration != nil && p.ClearNextCal {
		return fmt.Errorf("%w: next_calibration_due and clear_next_calibration are mutually exclusive", ErrInvalidInput)
	}
	return nil
}

// NewSignOut is the input for SignOut.
type NewSignOut struct {
	EquipmentID string `json:"equipment_id"`
	SignedOutBy string `json:"signed_out_by"`
	Purpose     string `json:"purpose"`
	RequestID   string `json:"request_id"`
}

func (in *NewSignOut) Validate() error {
	in.SignedOutBy = strings.TrimSpace(in.SignedOutBy)
	if in.EquipmentID == "" {
		return fmt.Errorf("%w: equipment_id is required", ErrInvalidInput)
	}
	if in.SignedOutBy == "" {
		return fmt.Errorf("%w: signed_out_by is required", ErrInvalidInput)
	}
	return nil
}

// NewCalibrationRecord is the input for AddCalibrationRecord.
type NewCalibrationRecord struct {
	EquipmentID string `json:"equipment_id"`
	FileName    string `json:"file_name"`
	StoragePath string `json:"storage_path"`
	UploadedBy  string `json:"uploaded_by"`
}

func (in *NewCalibrationRecord) Validate() error {
	in.FileName = strings.TrimSpace(in.FileName)
	in.StoragePath = strings.TrimSpace(in.StoragePath)
	if in.EquipmentID == "" {
		return fmt.Errorf("%w: equipment_id is required", ErrInvalidInput)
	}
	if in.FileName == "" || in.StoragePath == "" {
		return fmt.Errorf("%w: file_name and storage_path are required", ErrInvalidInput)
	}
	return nil
}

// NewRequest is the input for SubmitRequest. Equipment availability is not
// checked at submission; it is advisory until approval.
type NewRequest struct {
	CompanyID       string    `json:"company_id"`
	EquipmentID     string    `json:"equipment_id"`
	RequesterName   string    `json:"requester_name"`
	RequesterEmail  string    `json:"requester_email"`
	RequesterPhone  string    `json:"requester_phone"`
	Building        string    `json:"building"`
	EquipmentNumber string    `json:"equipment_number"`
	DateFrom        time.Time `json:"date_from"`
	DateTo          time.Time `json:"date_to"`
}

func (in *NewRequest) Validate() error {
	in.RequesterName = strings.TrimSpace(in.RequesterName)
	in.RequesterEmail = strings.TrimSpace(strings.ToLower(in.RequesterEmail))
	if in.CompanyID == "" || in.EquipmentID == "" {
		return fmt.Errorf("%w: company_id and equipment_id are required", ErrInvalidInput)
	}
	if in.RequesterName == "" {
		return fmt.Errorf("%w: requester_name is required", ErrInvalidInput)
	}
	if in.RequesterEmail == "" || !strings.Contains(in.RequesterEmail, "@") {
		return fmt.Errorf("%w: valid requester_email is required", ErrInvalidInput)
	}
	if in.DateFrom.IsZero() || in.DateTo.IsZero() {
		return fmt.Errorf("%w: date_from and date_to are required", ErrInvalidInput)
	}
	if in.DateTo.Before(in.DateFrom) {
		return fmt.Errorf("%w: date_to precedes date_from", ErrInvalidInput)
	}
	return nil
}
