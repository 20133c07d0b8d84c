package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"participation/internal/core"
)

func newStore() *Store {
	return New(
		[]core.Employee{{EmployeeID: "E1", Status: core.StatusOn}, {EmployeeID: "E2", Status: core.StatusOff}, {EmployeeID: "E1", Status: core.StatusOn}},
		[]core.Project{{ProjectID: "P1", ProjectName: "Alpha", Status: core.StatusOn}, {ProjectID: "P2", ProjectName: "Beta", Status: core.StatusOn}},
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }),
	)
}

func TestMemoryStoreListsOnlyOn(t *testing.T) {
	s := newStore()
	emps, err := s.ListEmployees(context.Background())
	if err != nil || len(emps) != 1 || emps[0].EmployeeID != "E1" {
		t.Fatalf("unexpected employees: %v err=%v", emps, err)
	}

	s.SetProjectStatus("P2", core.StatusOff)
	projs, err := s.ListProjects(context.Background())
	if err != nil || len(projs) != 1 || projs[0].ProjectID != "P1" {
		t.Fatalf("unexpected projects: %v err=%v", projs, err)
	}
}

func TestMemoryStoreSaveReplacesMonth(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	key := core.MonthKey{EmployeeID: "E1", Year: 2024, Month: 3}
	other := core.MonthKey{EmployeeID: "E1", Year: 2024, Month: 4}

	first := []core.AllocationRow{
		{ProjectID: "P1", ProjectName: "Alpha", RoleCode: core.RoleBusinessDevelopment, RoleName: "사업개발", Rate: 60},
		{ProjectID: "P2", ProjectName: "Beta", RoleCode: core.RoleSettlement, RoleName: "정산", Rate: 40},
	}
	if err := s.SaveMonth(ctx, key, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveMonth(ctx, other, first[:1]); err != nil {
		t.Fatalf("save other: %v", err)
	}

	got, err := s.LoadMonth(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || core.SumRates(got) != 100 {
		t.Fatalf("unexpected records: %+v", got)
	}

	second := []core.AllocationRow{
		{ProjectID: "P2", ProjectName: "Beta", RoleCode: core.RoleSettlement, RoleName: "정산", Rate: 100},
		{ProjectID: "P1", ProjectName: "Alpha", RoleCode: core.RoleBusinessDevelopment, RoleName: "사업개발", Rate: 0},
	}
	if err := s.SaveMonth(ctx, key, second); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, _ = s.LoadMonth(ctx, key)
	if len(got) != 1 || got[0].ProjectID != "P2" || got[0].Rate != 100 {
		t.Fatalf("expected only P2 at 100, got %+v", got)
	}
	if got[0].UpdatedAt.Location() != core.Seoul() {
		t.Fatalf("expected Asia/Seoul stamp, got %v", got[0].UpdatedAt.Location())
	}

	untouched, _ := s.LoadMonth(ctx, other)
	if len(untouched) != 1 {
		t.Fatalf("other month should be untouched, got %+v", untouched)
	}
}

func TestMemoryStoreLoadEmptyMonth(t *testing.T) {
	got, err := newStore().LoadMonth(context.Background(), core.MonthKey{EmployeeID: "E9", Year: 2024, Month: 1})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v err=%v", got, err)
	}
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newStore()
	key := core.MonthKey{EmployeeID: "E1", Year: 2024, Month: 3}
	if err := s.SaveMonth(ctx, key, nil); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if _, err := s.LoadMonth(ctx, key); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestNewFromFilesSeedsAndDedupe(t *testing.T) {
	dir := t.TempDir()
	// No files -> defaults
	s := NewFromFiles(dir)
	emps, _ := s.ListEmployees(context.Background())
	projs, _ := s.ListProjects(context.Background())
	if len(emps) == 0 || len(projs) == 0 {
		t.Fatalf("expected defaults when files missing")
	}

	mustWrite := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	mustWrite("employees.txt", "# header\nE1\nE2, off\nE1\n\n")
	mustWrite("projects.txt", "# id,name,status\nP1,Alpha\nP2,Beta,OFF\nP3\nP1,Again\n")

	s = NewFromFiles(dir)
	emps, _ = s.ListEmployees(context.Background())
	if len(emps) != 1 || emps[0].EmployeeID != "E1" {
		t.Fatalf("unexpected employees: %v", emps)
	}
	projs, _ = s.ListProjects(context.Background())
	if len(projs) != 1 || projs[0].ProjectID != "P1" || projs[0].ProjectName != "Alpha" {
		t.Fatalf("unexpected projects: %v", projs)
	}
}

func TestMemoryStoreSaveKeepsOtherEmployeeWithCollidingDocumentID(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	first := core.MonthKey{EmployeeID: "A_B", Year: 2024, Month: 3}
	second := core.MonthKey{EmployeeID: "A", Year: 2024, Month: 3}

	if err := s.SaveMonth(ctx, first, []core.AllocationRow{
		{ProjectID: "C", ProjectName: "Gamma", RoleCode: core.RoleBusinessDevelopment, RoleName: "사업개발", Rate: 100},
	}); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := s.SaveMonth(ctx, second, []core.AllocationRow{
		{ProjectID: "B_C", ProjectName: "Delta", RoleCode: core.RoleBusinessDevelopment, RoleName: "사업개발", Rate: 100},
	}); err != nil {
		t.Fatalf("save second: %v", err)
	}

	for _, key := range []core.MonthKey{first, second} {
		got, err := s.LoadMonth(ctx, key)
		if err != nil {
			t.Fatalf("load %s: %v", key, err)
		}
		if len(got) != 1 || core.SumRates(got) != 100 || got[0].EmployeeID != key.EmployeeID {
			t.Fatalf("month %s lost or mixed up: %+v", key, got)
		}
	}
}

func TestNewFromFilesKeepsQuotedCommas(t *testing.T) {
	dir := t.TempDir()
	content := "# id,name,status\nP1,\"Seoul, Busan Pilot\",ON\nP2, \"Fund, Phase 2\", off\nP3,Plain\n"
	if err := os.WriteFile(filepath.Join(dir, "projects.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("write projects.txt: %v", err)
	}

	s := NewFromFiles(dir)
	projs, _ := s.ListProjects(context.Background())
	if len(projs) != 2 {
		t.Fatalf("expected P1 and P3, got %v", projs)
	}
	if projs[0].ProjectID != "P1" || projs[0].ProjectName != "Seoul, Busan Pilot" {
		t.Fatalf("quoted name truncated: %+v", projs[0])
	}
	if projs[1].ProjectID != "P3" || projs[1].ProjectName != "Plain" {
		t.Fatalf("unexpected project: %+v", projs[1])
	}
}
