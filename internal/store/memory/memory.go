package memory

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"participation/internal/core"
	"participation/internal/store"
)

// Ensure interface conformance
var (
	_ store.ReferenceReader      = (*Store)(nil)
	_ store.AllocationRepository = (*Store)(nil)
)

// Store is an in-process document store keyed by record identity.
type Store struct {
	mu        sync.Mutex
	employees []core.Employee
	projects  []core.Project
	records   map[core.RecordIdentity]core.ParticipationRecord
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp saved records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(employees []core.Employee, projects []core.Project, opts ...Option) *Store {
	s := &Store{
		employees: dedupeEmployees(employees),
		projects:  dedupeProjects(projects),
		records:   make(map[core.RecordIdentity]core.ParticipationRecord),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromFiles seeds reference data from employees.txt and projects.txt in
// base. Lines are CSV, so names containing commas must be quoted:
//
//	employees.txt: employeeId[,status]
//	projects.txt:  projectId,projectName[,status]
//
// Status defaults to ON. Missing files fall back to a small demo set.
func NewFromFiles(base string, opts ...Option) *Store {
	var employees []core.Employee
	for _, fields := range readRecords(filepath.Join(base, "employees.txt")) {
		employees = append(employees, core.Employee{
			EmployeeID: fields[0],
			Status:     statusField(fields, 1),
		})
	}
	var projects []core.Project
	for _, fields := range readRecords(filepath.Join(base, "projects.txt")) {
		if len(fields) < 2 {
			continue
		}
		projects = append(projects, core.Project{
			ProjectID:   fields[0],
			ProjectName: fields[1],
			Status:      statusField(fields, 2),
		})
	}
	if len(employees) == 0 {
		employees = []core.Employee{
			{EmployeeID: "demo.kim", Status: core.StatusOn},
			{EmployeeID: "demo.lee", Status: core.StatusOn},
		}
	}
	if len(projects) == 0 {
		projects = []core.Project{
			{ProjectID: "P001", ProjectName: "Impact Accelerator", Status: core.StatusOn},
			{ProjectID: "P002", ProjectName: "Regional Fund", Status: core.StatusOn},
		}
	}
	return New(employees, projects, opts...)
}

// ListEmployees returns ON employees in seed order.
func (s *Store) ListEmployees(_ context.Context) ([]core.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		if e.Status.IsOn() {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListProjects returns ON projects in seed order.
func (s *Store) ListProjects(_ context.Context) ([]core.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if p.Status.IsOn() {
			out = append(out, p)
		}
	}
	return out, nil
}

// LoadMonth returns the records of key ordered by project and role.
func (s *Store) LoadMonth(ctx context.Context, key core.MonthKey) ([]core.ParticipationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.idsFor(key)
	out := make([]core.ParticipationRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id])
	}
	return out, nil
}

// SaveMonth swaps the records of key under one lock acquisition.
func (s *Store) SaveMonth(ctx context.Context, key core.MonthKey, rows []core.AllocationRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := core.BuildRecords(key, rows, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.idsFor(key) {
		delete(s.records, id)
	}
	for _, r := range records {
		s.records[r.Identity()] = r
	}
	return nil
}

// SetProjectStatus flips a project's status, mimicking an external archive.
func (s *Store) SetProjectStatus(projectID string, status core.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.projects {
		if s.projects[i].ProjectID == projectID {
			s.projects[i].Status = status
		}
	}
}

func (s *Store) idsFor(key core.MonthKey) []core.RecordIdentity {
	var ids []core.RecordIdentity
	for id, r := range s.records {
		if r.Key() == key {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].ProjectID != ids[j].ProjectID {
			return ids[i].ProjectID < ids[j].ProjectID
		}
		return ids[i].RoleCode < ids[j].RoleCode
	})
	return ids
}

func statusField(fields []string, i int) core.Status {
	if i < len(fields) && strings.EqualFold(fields[i], string(core.StatusOff)) {
		return core.StatusOff
	}
	return core.StatusOn
}

func readRecords(path string) [][]string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	var out [][]string
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Warn("Skipping malformed seed line", "path", path, "error", err)
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if fields[0] == "" {
			continue
		}
		out = append(out, fields)
	}
	return out
}

func dedupeEmployees(in []core.Employee) []core.Employee {
	seen := map[string]struct{}{}
	out := make([]core.Employee, 0, len(in))
	for _, e := range in {
		if _, ok := seen[e.EmployeeID]; ok {
			continue
		}
		seen[e.EmployeeID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func dedupeProjects(in []core.Project) []core.Project {
	seen := map[string]struct{}{}
	out := make([]core.Project, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p.ProjectID]; ok {
			continue
		}
		seen[p.ProjectID] = struct{}{}
		out = append(out, p)
	}
	return out
}
