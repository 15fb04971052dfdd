package inventory

import (
	"math"
	"time"
)

// CalibrationStatus classifies how close an item is to its calibration
// deadline.
type CalibrationStatus string

const (
	CalibrationNA      CalibrationStatus = "n/a"
	CalibrationDue     CalibrationStatus = "due"
	CalibrationDueSoon CalibrationStatus = "due_soon"
	CalibrationOK      CalibrationStatus = "ok"
)

// Items within this many days of the deadline are flagged due_soon.
const dueSoonWindowDays = 30

// Calibration is the derived status of one equipment item.
type Calibration struct {
	Status       CalibrationStatus `json:"status"`
	DaysUntilDue *int              `json:"days_until_due,omitempty"`
}

// Classify computes the calibration status of eq as of the given instant.
// Pure derived view; never mutates anything.
func Classify(eq Equipment, typ EquipmentType, asOf time.Time) Calibration {
	if !typ.RequiresCalibration || eq.NextCalibration == nil {
		return Calibration{Status: CalibrationNA}
	}
	days := daysUntil(*eq.NextCalibration, asOf)
	status := CalibrationOK
	switch {
	case days < 0:
		status = CalibrationDue
	case days <= dueSoonWindowDays:
		status = CalibrationDueSoon
	}
	return Calibration{Status: status, DaysUntilDue: &days}
}

// daysUntil rounds up, so a deadline later today still counts as zero days
// remaining rather than overdue.
func daysUntil(due, asOf time.Time) int {
	diff := due.Sub(asOf)
	return int(math.Ceil(diff.Hours() / 24))
}

// NextDue derives the next calibration deadline from the last calibration
// date and the type's interval.
func NextDue(last time.Time, months int) time.Time {
	return last.AddDate(0, months, 0)
}

// DeriveNextCalibration fills in NextCalibration when a last calibration date
// is known and the type has an interval. An explicitly supplied deadline is
// never overwritten.
func DeriveNextCalibration(eq *Equipment, typ EquipmentType) {
	if eq.NextCalibration != nil {
		return
	}
	if eq.LastCalibration == nil || typ.CalibrationMonths <= 0 {
		return
	}
	next := NextDue(*eq.LastCalibration, typ.CalibrationMonths)
	eq.NextCalibration = &next
}
