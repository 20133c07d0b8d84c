package core

import (
	"errors"
	"testing"
	"time"
)

func TestMonthKeyValidate(t *testing.T) {
	cases := []struct {
		key MonthKey
		ok  bool
	}{
		{MonthKey{EmployeeID: "E1", Year: 2024, Month: 1}, true},
		{MonthKey{EmployeeID: "E1", Year: 2024, Month: 12}, true},
		{MonthKey{EmployeeID: "", Year: 2024, Month: 3}, false},
		{MonthKey{EmployeeID: "  ", Year: 2024, Month: 3}, false},
		{MonthKey{EmployeeID: "E1", Year: 2024, Month: 0}, false},
		{MonthKey{EmployeeID: "E1", Year: 2024, Month: 13}, false},
		{MonthKey{EmployeeID: "E1", Year: 0, Month: 3}, false},
	}
	for i, tc := range cases {
		err := tc.key.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("case %d expected ErrInvalidKey, got %v", i, err)
		}
	}
}

func TestDocumentID(t *testing.T) {
	rec := ParticipationRecord{EmployeeID: "E1", ProjectID: "P1", RoleCode: RoleSettlement, Year: 2024, Month: 3}
	if got, want := rec.DocumentID(), "E1_P1_40_2024_3"; got != want {
		t.Fatalf("DocumentID() = %q, want %q", got, want)
	}
}

func TestValidateRate(t *testing.T) {
	for _, rate := range []int{0, 1, 50, 100} {
		if err := ValidateRate(rate); err != nil {
			t.Fatalf("rate %d expected ok, got %v", rate, err)
		}
	}
	for _, rate := range []int{-1, 101, 1000} {
		if err := ValidateRate(rate); !errors.Is(err, ErrInvalidRate) {
			t.Fatalf("rate %d expected ErrInvalidRate, got %v", rate, err)
		}
	}
}

func TestBuildRecordsDropsZeroRates(t *testing.T) {
	key := MonthKey{EmployeeID: "E1", Year: 2024, Month: 3}
	rows := []AllocationRow{
		{ProjectID: "P1", ProjectName: "Alpha", RoleCode: RoleBusinessDevelopment, RoleName: "사업개발", Rate: 60},
		{ProjectID: "P2", ProjectName: "Beta", RoleCode: RoleProposal, RoleName: "제안", Rate: 0},
		{ProjectID: "P3", ProjectName: "Gamma", RoleCode: RoleSettlement, RoleName: "정산", Rate: 40},
	}
	now := time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC)

	records := BuildRecords(key, rows, now)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ProjectID != "P1" || records[1].ProjectID != "P3" {
		t.Fatalf("unexpected order: %+v", records)
	}
	for _, r := range records {
		if r.UpdatedAt.Location() != Seoul() {
			t.Fatalf("UpdatedAt not in Asia/Seoul: %v", r.UpdatedAt.Location())
		}
		if !r.UpdatedAt.Equal(now) {
			t.Fatalf("UpdatedAt changed instant: %v", r.UpdatedAt)
		}
		if r.Key() != key {
			t.Fatalf("record key = %v, want %v", r.Key(), key)
		}
	}
	if SumRates(records) != 100 {
		t.Fatalf("expected sum 100, got %d", SumRates(records))
	}
}

func TestBuildRecordsLastDuplicateWins(t *testing.T) {
	key := MonthKey{EmployeeID: "E1", Year: 2024, Month: 3}
	rows := []AllocationRow{
		{ProjectID: "P1", RoleCode: RoleBusinessDevelopment, Rate: 30},
		{ProjectID: "P2", RoleCode: RoleBusinessDevelopment, Rate: 30},
		{ProjectID: "P1", RoleCode: RoleBusinessDevelopment, Rate: 70},
	}
	records := BuildRecords(key, rows, time.Now())
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ProjectID != "P1" || records[0].Rate != 70 {
		t.Fatalf("expected P1 at 70 first, got %+v", records[0])
	}
}

func TestRoles(t *testing.T) {
	all := Roles()
	if len(all) != 8 {
		t.Fatalf("expected 8 roles, got %d", len(all))
	}
	if all[0].Code != RoleBusinessDevelopment || all[7].Code != RoleSettlement {
		t.Fatalf("unexpected role order: %v", all)
	}
	all[0].Name = "mutated"
	if RoleBusinessDevelopment.Name() != "사업개발" {
		t.Fatalf("Roles() leaked internal slice")
	}
	if _, ok := LookupRole("99"); ok {
		t.Fatalf("expected unknown role code to be rejected")
	}
	if r, ok := LookupRole(RoleSettlement); !ok || r.Name != "정산" {
		t.Fatalf("unexpected settlement role: %+v", r)
	}
}

func TestReferenceDataOnlyOn(t *testing.T) {
	d := ReferenceData{
		Employees: []Employee{{EmployeeID: "E1", Status: StatusOn}, {EmployeeID: "E2", Status: StatusOff}},
		Projects:  []Project{{ProjectID: "P1", Status: StatusOff}, {ProjectID: "P2", Status: StatusOn}},
	}
	on := d.OnlyOn()
	if len(on.Employees) != 1 || on.Employees[0].EmployeeID != "E1" {
		t.Fatalf("unexpected employees: %+v", on.Employees)
	}
	if len(on.Projects) != 1 || on.Projects[0].ProjectID != "P2" {
		t.Fatalf("unexpected projects: %+v", on.Projects)
	}
	if _, ok := on.Project("P1"); ok {
		t.Fatalf("OFF project should not be found")
	}
	if _, ok := on.Employee("E1"); !ok {
		t.Fatalf("ON employee should be found")
	}
}

func TestIdentityDistinguishesUnderscoreIDs(t *testing.T) {
	a := ParticipationRecord{EmployeeID: "A_B", ProjectID: "C", RoleCode: RoleBusinessDevelopment, Year: 2024, Month: 3}
	b := ParticipationRecord{EmployeeID: "A", ProjectID: "B_C", RoleCode: RoleBusinessDevelopment, Year: 2024, Month: 3}

	if a.DocumentID() != b.DocumentID() {
		t.Fatalf("expected the joined ids to coincide, got %q and %q", a.DocumentID(), b.DocumentID())
	}
	if a.Identity() == b.Identity() {
		t.Fatalf("identities must differ: %+v", a.Identity())
	}
}
