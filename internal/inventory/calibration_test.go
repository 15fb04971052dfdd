package inventory

import (
	"testing"
	"time"
)

func calibratedType() EquipmentType {
	return EquipmentType{ID: "t1", RequiresCalibration: true, CalibrationMonths: 12}
}

func equipmentDueAt(next time.Time) Equipment {
	return Equipment{ID: "e1", TypeID: "t1", NextCalibration: &next}
}

func TestClassifyBoundaries(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		due  time.Time
		want CalibrationStatus
		days int
	}{
		{"overdue yesterday", asOf.AddDate(0, 0, -1), CalibrationDue, -1},
		{"due this instant", asOf, CalibrationDueSoon, 0},
		{"due in 30 days", asOf.AddDate(0, 0, 30), CalibrationDueSoon, 30},
		{"due in 31 days", asOf.AddDate(0, 0, 31), CalibrationOK, 31},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cal := Classify(equipmentDueAt(tc.due), calibratedType(), asOf)
			if cal.Status != tc.want {
				t.Fatalf("status = %s, want %s", cal.Status, tc.want)
			}
			if cal.DaysUntilDue == nil || *cal.DaysUntilDue != tc.days {
				t.Fatalf("days = %v, want %d", cal.DaysUntilDue, tc.days)
			}
		})
	}
}

func TestClassifyPartialDayRoundsUp(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	due := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	cal := Classify(equipmentDueAt(due), calibratedType(), asOf)
	if cal.DaysUntilDue == nil || *cal.DaysUntilDue != 1 {
		t.Fatalf("two hours ahead must round up to 1 day, got %v", cal.DaysUntilDue)
	}
	if cal.Status != CalibrationDueSoon {
		t.Fatalf("status = %s, want due_soon", cal.Status)
	}
}

func TestClassifyNotApplicable(t *testing.T) {
	asOf := time.Now().UTC()
	next := asOf.AddDate(0, 6, 0)

	uncalibrated := EquipmentType{ID: "t2", RequiresCalibration: false}
	cal := Classify(equipmentDueAt(next), uncalibrated, asOf)
	if cal.Status != CalibrationNA {
		t.Fatalf("type without calibration must be n/a, got %s", cal.Status)
	}
	if cal.DaysUntilDue != nil {
		t.Fatal("n/a must not carry days_until_due")
	}

	noDeadline := Equipment{ID: "e2", TypeID: "t1"}
	if cal := Classify(noDeadline, calibratedType(), asOf); cal.Status != CalibrationNA {
		t.Fatalf("missing deadline must be n/a, got %s", cal.Status)
	}
}

func TestNextDueMonthArithmetic(t *testing.T) {
	last := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	got := NextDue(last, 6)
	want := time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextDue = %s, want %s", got, want)
	}
}

func TestDeriveNextCalibration(t *testing.T) {
	last := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	eq := Equipment{LastCalibration: &last}
	DeriveNextCalibration(&eq, calibratedType())
	if eq.NextCalibration == nil || !eq.NextCalibration.Equal(last.AddDate(0, 12, 0)) {
		t.Fatalf("derived deadline = %v", eq.NextCalibration)
	}

	explicit := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	eq2 := Equipment{LastCalibration: &last, NextCalibration: &explicit}
	DeriveNextCalibration(&eq2, calibratedType())
	if !eq2.NextCalibration.Equal(explicit) {
		t.Fatal("explicit deadline must never be overwritten")
	}

	eq3 := Equipment{LastCalibration: &last}
	DeriveNextCalibration(&eq3, EquipmentType{RequiresCalibration: false, CalibrationMonths: 0})
	if eq3.NextCalibration != nil {
		t.Fatal("no interval means no derived deadline")
	}
}
