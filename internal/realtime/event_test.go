package realtime

import (
	"testing"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
)

func scopeOf(t *testing.T) scope.DataScope {
	t.Helper()
	return scope.Compute(
		[]scope.RoleAssignment{{CompanyID: "C1", Role: scope.RoleAdmin, Status: scope.StatusApproved}},
		[]scope.WarehouseAccess{
			{WarehouseID: "W1", CompanyID: "C1", Level: scope.AccessManage},
			{WarehouseID: "W2", CompanyID: "C1", Level: scope.AccessView},
		},
		1,
	)
}

func ptr(s string) *string { return &s }

func TestAdmitCompanyCheckIsAbsolute(t *testing.T) {
	pred := Predicate{UserID: "user-1", Scope: scopeOf(t), Warehouse: nil}

	out := Event{Op: OpInsert, Table: "clients", After: Row{CompanyID: "C9", ActorID: "user-1"}}
	if pred.Admit(out) {
		t.Fatalf("company outside scope must always be discarded")
	}

	in := Event{Op: OpInsert, Table: "clients", After: Row{CompanyID: "C1"}}
	if !pred.Admit(in) {
		t.Fatalf("company in scope under aggregate view must be admitted")
	}
}

func TestAdmitWarehouseSelection(t *testing.T) {
	pred := Predicate{UserID: "user-1", Scope: scopeOf(t), Warehouse: ptr("W1")}

	cases := []struct {
		name string
		evt  Event
		want bool
	}{
		{"matching warehouse", Event{Op: OpUpdate, After: Row{CompanyID: "C1", WarehouseID: "W1"}}, true},
		{"other warehouse", Event{Op: OpUpdate, After: Row{CompanyID: "C1", WarehouseID: "W2"}}, false},
		{"company-level row", Event{Op: OpUpdate, After: Row{CompanyID: "C1"}}, true},
		{"own insert elsewhere", Event{Op: OpInsert, After: Row{CompanyID: "C1", WarehouseID: "W2", ActorID: "user-1"}}, true},
		{"foreign insert elsewhere", Event{Op: OpInsert, After: Row{CompanyID: "C1", WarehouseID: "W2", ActorID: "user-9"}}, false},
		{"own update elsewhere", Event{Op: OpUpdate, After: Row{CompanyID: "C1", WarehouseID: "W2", ActorID: "user-1"}}, false},
	}
	for _, tc := range cases {
		if got := pred.Admit(tc.evt); got != tc.want {
			t.Fatalf("%s: Admit=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAdmitEmptySelection(t *testing.T) {
	pred := Predicate{UserID: "user-1", Scope: scopeOf(t), Warehouse: ptr("")}
	evt := Event{Op: OpInsert, After: Row{CompanyID: "C1", WarehouseID: "W1", ActorID: "user-1"}}
	if pred.Admit(evt) {
		t.Fatalf("no selection means no refetches")
	}
}

func TestAdmitUserKeyedTables(t *testing.T) {
	pred := Predicate{UserID: "user-1", Scope: scopeOf(t), Warehouse: nil}

	own := Event{Op: OpUpdate, Table: "employee_profiles", After: Row{UserID: "user-1"}}
	if !pred.Admit(own) {
		t.Fatalf("own profile update must be admitted")
	}
	other := Event{Op: OpUpdate, Table: "employee_profiles", After: Row{UserID: "user-2"}}
	if pred.Admit(other) {
		t.Fatalf("another user's row must be discarded")
	}
}

func TestEventRowImages(t *testing.T) {
	del := Event{Op: OpDelete, Before: Row{CompanyID: "C1"}, After: Row{}}
	if del.Row().CompanyID != "C1" {
		t.Fatalf("delete must use the before image")
	}
	ins := Event{Op: OpInsert, After: Row{CompanyID: "C2"}}
	if ins.Row().CompanyID != "C2" {
		t.Fatalf("insert must use the after image")
	}
}
