package inventory

import (
	"errors"
	"time"

	"equiptrack.org/internal/access"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// EquipmentType is a category definition. Types that require calibration carry
// the recalibration interval in months.
type EquipmentType struct {
	ID                  string    `json:"id"`
	CompanyID           string    `json:"company_id"`
	Name                string    `json:"name"`
	RequiresCalibration bool      `json:"requires_calibration"`
	CalibrationMonths   int       `json:"calibration_months,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Equipment is one trackable physical item. SerialNumber is the primary
// barcode key; EquipmentNumber is an optional alternate key.
type Equipment struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id"`
	SiteID          string     `json:"site_id"`
	DepartmentID    string     `json:"department_id,omitempty"`
	TypeID          string     `json:"type_id"`
	Make            string     `json:"make"`
	Model           string     `json:"model"`
	SerialNumber    string     `json:"serial_number"`
	EquipmentNumber string     `json:"equipment_number,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	LastCalibration *time.Time `json:"last_calibration,omitempty"`
	NextCalibration *time.Time `json:"next_calibration_due,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Coord places the equipment in the access hierarchy.
func (e Equipment) Coord() access.Coord {
	return access.Coord{
		CompanyID:    e.CompanyID,
		SiteID:       e.SiteID,
		DepartmentID: e.DepartmentID,
		EquipmentID:  e.ID,
	}
}

// SignOut is one checkout event. A record with nil SignedInAt is open; at most
// one open record may exist per equipment item.
type SignOut struct {
	ID          string     `json:"id"`
	EquipmentID string     `json:"equipment_id"`
	SignedOutBy string     `json:"signed_out_by"`
	SignedOutAt time.Time  `json:"signed_out_at"`
	SignedInBy  string     `json:"signed_in_by,omitempty"`
	SignedInAt  *time.Time `json:"signed_in_at,omitempty"`
	Purpose     string     `json:"purpose,omitempty"`
	RequestID   string     `json:"request_id,omitempty"`
}

// Open reports whether the equipment is still out.
func (s SignOut) Open() bool { return s.SignedInAt == nil }

// Usage is a free-text annotation attached to a sign-out.
type Usage struct {
	ID        string    `json:"id"`
	SignOutID string    `json:"sign_out_id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// CalibrationRecord points at an uploaded certificate. The file itself lives
// in external blob storage; only the pointer and original name are kept here.
type CalibrationRecord struct {
	ID          string    `json:"id"`
	EquipmentID string    `json:"equipment_id"`
	FileName    string    `json:"file_name"`
	StoragePath string    `json:"storage_path"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// RequestStatus is the workflow state of an equipment-usage request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// EquipmentRequest asks for future use of specific equipment over a date
// range. pending is the only non-terminal state.
type EquipmentRequest struct {
	ID              string        `json:"id"`
	CompanyID       string        `json:"company_id"`
	EquipmentID     string        `json:"equipment_id"`
	RequesterName   string        `json:"requester_name"`
	RequesterEmail  string        `json:"requester_email"`
	RequesterPhone  string        `json:"requester_phone,omitempty"`
	Building        string        `json:"building,omitempty"`
	EquipmentNumber string        `json:"equipment_number,omitempty"`
	DateFrom        time.Time     `json:"date_from"`
	DateTo          time.Time     `json:"date_to"`
	Status          RequestStatus `json:"status"`
	ReviewedBy      string        `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time    `json:"reviewed_at,omitempty"`
	ReviewComment   string        `json:"review_comment,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}
