package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seedEquipment(t *testing.T, s *InMemory, company, serial string) Equipment {
	t.Helper()
	ctx := context.Background()
	typ, err := s.CreateEquipmentType(ctx, NewEquipmentType{
		CompanyID: company,
		Name:      "Multimeter " + serial,
	})
	if err != nil {
		t.Fatalf("create type: %v", err)
	}
	eq, err := s.CreateEquipment(ctx, NewEquipment{
		CompanyID:    company,
		SiteID:       "site-1",
		DepartmentID: "dept-1",
		TypeID:       typ.ID,
		Make:         "Fluke",
		Model:        "87V",
		SerialNumber: serial,
	})
	if err != nil {
		t.Fatalf("create equipment: %v", err)
	}
	return eq
}

func TestSignOutSingleOpenInvariant(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-1")

	first, err := s.SignOut(ctx, NewSignOut{EquipmentID: eq.ID, SignedOutBy: "alice"})
	if err != nil {
		t.Fatalf("first sign-out: %v", err)
	}
	_, err = s.SignOut(ctx, NewSignOut{EquipmentID: eq.ID, SignedOutBy: "bob"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second sign-out: expected ErrConflict, got %v", err)
	}

	if _, err := s.CheckIn(ctx, first.ID, "alice"); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if _, err := s.SignOut(ctx, NewSignOut{EquipmentID: eq.ID, SignedOutBy: "bob"}); err != nil {
		t.Fatalf("sign-out after check-in: %v", err)
	}
}

func TestSignOutConcurrentRace(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-2")

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.SignOut(ctx, NewSignOut{EquipmentID: eq.ID, SignedOutBy: "racer"})
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestCheckInTwiceConflicts(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-3")

	so, err := s.SignOut(ctx, NewSignOut{EquipmentID: eq.ID, SignedOutBy: "alice"})
	if err != nil {
		t.Fatalf("sign-out: %v", err)
	}
	if _, err := s.CheckIn(ctx, so.ID, "alice"); err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	if _, err := s.CheckIn(ctx, so.ID, "bob"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second check-in: expected ErrConflict, got %v", err)
	}
	if _, err := s.CheckIn(ctx, "missing", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}
}

func TestSignOutManyAllOrNothing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := seedEquipment(t, s, "c1", "SN-4")
	b := seedEquipment(t, s, "c1", "SN-5")
	c := seedEquipment(t, s, "c1", "SN-6")

	if _, err := s.SignOut(ctx, NewSignOut{EquipmentID: b.ID, SignedOutBy: "bob"}); err != nil {
		t.Fatalf("block item b: %v", err)
	}

	_, err := s.SignOutMany(ctx, []string{a.ID, b.ID, c.ID}, "alice", "survey")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("batch with blocked item: expected ErrConflict, got %v", err)
	}
	// a and c must remain untouched
	for _, id := range []string{a.ID, c.ID} {
		open, err := s.ListSignOuts(ctx, id)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(open) != 0 {
			t.Fatalf("equipment %s was signed out despite batch failure", id)
		}
	}

	items, err := s.SignOutMany(ctx, []string{a.ID, c.ID}, "alice", "survey")
	if err != nil {
		t.Fatalf("clean batch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 sign-outs, got %d", len(items))
	}

	_, err = s.SignOutMany(ctx, []string{a.ID, a.ID}, "alice", "dup")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate ids: expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteEquipmentBlockedByOpenSignOut(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-7")

	so, err := s.SignOut(ctx, NewSignOut{EquipmentID: eq.ID, SignedOutBy: "alice"})
	if err != nil {
		t.Fatalf("sign-out: %v", err)
	}
	if err := s.DeleteEquipment(ctx, eq.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete while out: expected ErrConflict, got %v", err)
	}

	if _, err := s.CheckIn(ctx, so.ID, "alice"); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if err := s.DeleteEquipment(ctx, eq.ID); err != nil {
		t.Fatalf("delete after check-in: %v", err)
	}
	// history goes with the item
	if items, _ := s.ListSignOuts(ctx, eq.ID); len(items) != 0 {
		t.Fatalf("expected sign-out history removed, got %d records", len(items))
	}
}

func TestDeleteEquipmentTypeBlockedByEquipment(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-8")

	if err := s.DeleteEquipmentType(ctx, eq.TypeID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict while referenced, got %v", err)
	}
	if err := s.DeleteEquipment(ctx, eq.ID); err != nil {
		t.Fatalf("delete equipment: %v", err)
	}
	if err := s.DeleteEquipmentType(ctx, eq.TypeID); err != nil {
		t.Fatalf("delete type after equipment removed: %v", err)
	}
}

func TestSerialUniquePerCompany(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-9")

	_, err := s.CreateEquipment(ctx, NewEquipment{
		CompanyID:    "c1",
		SiteID:       "site-2",
		TypeID:       eq.TypeID,
		SerialNumber: "SN-9",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate serial in company: expected ErrConflict, got %v", err)
	}

	// same serial in another company is fine
	seedEquipment(t, s, "c2", "SN-9")
}

func TestUpdateEquipmentTypeCalibrationRule(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	typ, err := s.CreateEquipmentType(ctx, NewEquipmentType{
		CompanyID: "c1",
		Name:      "Caliper",
	})
	if err != nil {
		t.Fatalf("create type: %v", err)
	}

	// flipping requires_calibration on without an interval must fail
	requires := true
	_, err = s.UpdateEquipmentType(ctx, typ.ID, EquipmentTypePatch{
		RequiresCalibration: &requires,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	got, err := s.GetEquipmentType(ctx, typ.ID)
	if err != nil {
		t.Fatalf("get type: %v", err)
	}
	if got.RequiresCalibration {
		t.Fatal("rejected patch must leave the stored type unchanged")
	}

	// the same flip with an interval in the same patch is fine
	months := 6
	updated, err := s.UpdateEquipmentType(ctx, typ.ID, EquipmentTypePatch{
		RequiresCalibration: &requires,
		CalibrationMonths:   &months,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.RequiresCalibration || updated.CalibrationMonths != 6 {
		t.Fatalf("unexpected merged state: %+v", updated)
	}

	// clearing the interval while calibration stays required must fail too
	zero := 0
	if _, err := s.UpdateEquipmentType(ctx, typ.ID, EquipmentTypePatch{
		CalibrationMonths: &zero,
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRequestLifecycle(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-10")

	newReq := func() NewRequest {
		return NewRequest{
			CompanyID:      "c1",
			EquipmentID:    eq.ID,
			RequesterName:  "Alice",
			RequesterEmail: "alice@example.com",
			DateFrom:       time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
			DateTo:         time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC),
		}
	}

	req, err := s.SubmitRequest(ctx, newReq())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != RequestPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}

	approved, err := s.ApproveRequest(ctx, req.ID, "manager-1", true)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != RequestApproved || approved.ReviewedBy != "manager-1" || approved.ReviewedAt == nil {
		t.Fatalf("approve did not record review: %+v", approved)
	}
	open, err := s.ListOpenSignOuts(ctx, "c1")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].RequestID != req.ID {
		t.Fatalf("expected one open sign-out linked to the request, got %+v", open)
	}

	// terminal states are immutable
	if _, err := s.ApproveRequest(ctx, req.ID, "manager-2", false); !errors.Is(err, ErrConflict) {
		t.Fatalf("re-approve: expected ErrConflict, got %v", err)
	}
	if _, err := s.RejectRequest(ctx, req.ID, "manager-2", "late"); !errors.Is(err, ErrConflict) {
		t.Fatalf("reject after approve: expected ErrConflict, got %v", err)
	}

	rejected, err := s.SubmitRequest(ctx, newReq())
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}
	got, err := s.RejectRequest(ctx, rejected.ID, "manager-1", "equipment reserved")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != RequestRejected || got.ReviewComment != "equipment reserved" {
		t.Fatalf("reject did not record comment: %+v", got)
	}
}

func TestApproveWithSignOutConflictLeavesPending(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-11")

	req, err := s.SubmitRequest(ctx, NewRequest{
		CompanyID:      "c1",
		EquipmentID:    eq.ID,
		RequesterName:  "Alice",
		RequesterEmail: "alice@example.com",
		DateFrom:       time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		DateTo:         time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.SignOut(ctx, NewSignOut{EquipmentID: eq.ID, SignedOutBy: "bob"}); err != nil {
		t.Fatalf("competing sign-out: %v", err)
	}

	if _, err := s.ApproveRequest(ctx, req.ID, "manager-1", true); !errors.Is(err, ErrConflict) {
		t.Fatalf("approve with busy equipment: expected ErrConflict, got %v", err)
	}
	cur, err := s.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cur.Status != RequestPending {
		t.Fatalf("request status = %s, want pending after failed approval", cur.Status)
	}
}

func TestSubmitIgnoresAvailability(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-12")

	if _, err := s.SignOut(ctx, NewSignOut{EquipmentID: eq.ID, SignedOutBy: "bob"}); err != nil {
		t.Fatalf("sign-out: %v", err)
	}
	_, err := s.SubmitRequest(ctx, NewRequest{
		CompanyID:      "c1",
		EquipmentID:    eq.ID,
		RequesterName:  "Alice",
		RequesterEmail: "alice@example.com",
		DateFrom:       time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		DateTo:         time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("submission must not check availability: %v", err)
	}
}

func TestLookupEquipment(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	typ, err := s.CreateEquipmentType(ctx, NewEquipmentType{CompanyID: "c1", Name: "Scanner"})
	if err != nil {
		t.Fatalf("create type: %v", err)
	}
	eq, err := s.CreateEquipment(ctx, NewEquipment{
		CompanyID:       "c1",
		SiteID:          "site-1",
		TypeID:          typ.ID,
		SerialNumber:    "SN-100",
		EquipmentNumber: "EQ-7",
	})
	if err != nil {
		t.Fatalf("create equipment: %v", err)
	}

	bySerial, err := s.LookupEquipment(ctx, "c1", "SN-100")
	if err != nil || bySerial == nil || bySerial.ID != eq.ID {
		t.Fatalf("lookup by serial = %v, %v", bySerial, err)
	}
	byNumber, err := s.LookupEquipment(ctx, "c1", "EQ-7")
	if err != nil || byNumber == nil || byNumber.ID != eq.ID {
		t.Fatalf("lookup by number = %v, %v", byNumber, err)
	}
	miss, err := s.LookupEquipment(ctx, "c1", "nope")
	if err != nil {
		t.Fatalf("miss must not error: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected nil on miss, got %+v", miss)
	}
	crossTenant, err := s.LookupEquipment(ctx, "c2", "SN-100")
	if err != nil || crossTenant != nil {
		t.Fatalf("lookup must not cross companies: %v, %v", crossTenant, err)
	}
}

func TestCreateEquipmentDerivesDeadline(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	typ, err := s.CreateEquipmentType(ctx, NewEquipmentType{
		CompanyID:           "c1",
		Name:                "Gas Detector",
		RequiresCalibration: true,
		CalibrationMonths:   6,
	})
	if err != nil {
		t.Fatalf("create type: %v", err)
	}
	last := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	eq, err := s.CreateEquipment(ctx, NewEquipment{
		CompanyID:       "c1",
		SiteID:          "site-1",
		TypeID:          typ.ID,
		SerialNumber:    "SN-200",
		LastCalibration: &last,
	})
	if err != nil {
		t.Fatalf("create equipment: %v", err)
	}
	want := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	if eq.NextCalibration == nil || !eq.NextCalibration.Equal(want) {
		t.Fatalf("derived deadline = %v, want %s", eq.NextCalibration, want)
	}

	// updating the calibration date re-derives the deadline
	fresh := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	updated, err := s.UpdateEquipment(ctx, eq.ID, EquipmentPatch{LastCalibration: &fresh})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if updated.NextCalibration == nil || !updated.NextCalibration.Equal(want) {
		t.Fatalf("re-derived deadline = %v, want %s", updated.NextCalibration, want)
	}
}

func TestUsageNotes(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	eq := seedEquipment(t, s, "c1", "SN-300")

	so, err := s.SignOut(ctx, NewSignOut{EquipmentID: eq.ID, SignedOutBy: "alice"})
	if err != nil {
		t.Fatalf("sign-out: %v", err)
	}
	u, err := s.AddUsage(ctx, so.ID, "used on line 3")
	if err != nil {
		t.Fatalf("add usage: %v", err)
	}
	items, err := s.ListUsage(ctx, so.ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("list usage = %v, %v", items, err)
	}
	if err := s.RemoveUsage(ctx, u.ID); err != nil {
		t.Fatalf("remove usage: %v", err)
	}
	if err := s.RemoveUsage(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove: expected ErrNotFound, got %v", err)
	}
}

func TestPurgeCompany(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	mine := seedEquipment(t, s, "c1", "SN-400")
	other := seedEquipment(t, s, "c2", "SN-401")

	if _, err := s.SignOut(ctx, NewSignOut{EquipmentID: mine.ID, SignedOutBy: "alice"}); err != nil {
		t.Fatalf("sign-out: %v", err)
	}
	if err := s.PurgeCompany(ctx, "c1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := s.GetEquipment(ctx, mine.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected purged equipment gone, got %v", err)
	}
	if _, err := s.GetEquipment(ctx, other.ID); err != nil {
		t.Fatalf("other tenant must survive the purge: %v", err)
	}
}
