package core

import (
	"fmt"
	"strings"
)

// EditorSession is the working set of allocation rows for one employee-month.
// It is not safe for concurrent use; callers serialize access per session.
type EditorSession struct {
	key      MonthKey
	projects map[string]Project
	rows     []AllocationRow
}

// NewEditorSession starts an empty session. projects is the reference
// snapshot rows are resolved against for the lifetime of the session.
func NewEditorSession(key MonthKey, projects []Project) (*EditorSession, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	byID := make(map[string]Project, len(projects))
	for _, p := range projects {
		byID[p.ProjectID] = p
	}
	return &EditorSession{key: key, projects: byID}, nil
}

func (s *EditorSession) Key() MonthKey {
	return s.key
}

// Rows returns a copy of the rows in insertion order.
func (s *EditorSession) Rows() []AllocationRow {
	return append([]AllocationRow(nil), s.rows...)
}

func (s *EditorSession) Len() int {
	return len(s.rows)
}

// AddRow appends a row for a project of the snapshot and a known role.
func (s *EditorSession) AddRow(projectID string, code RoleCode, rate int) (AllocationRow, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" || code == "" {
		return AllocationRow{}, ErrInvalidSelection
	}
	project, ok := s.projects[projectID]
	if !ok {
		return AllocationRow{}, fmt.Errorf("%w: unknown project %q", ErrInvalidSelection, projectID)
	}
	role, ok := LookupRole(code)
	if !ok {
		return AllocationRow{}, fmt.Errorf("%w: unknown role %q", ErrInvalidSelection, code)
	}
	if err := ValidateRate(rate); err != nil {
		return AllocationRow{}, err
	}
	row := AllocationRow{
		ProjectID:   project.ProjectID,
		ProjectName: project.ProjectName,
		RoleCode:    role.Code,
		RoleName:    role.Name,
		Rate:        rate,
	}
	if err := s.appendUnique(row); err != nil {
		return AllocationRow{}, err
	}
	return row, nil
}

// Restore appends a row rebuilt from a persisted record. Unlike AddRow the
// project does not have to be part of the snapshot.
func (s *EditorSession) Restore(row AllocationRow) error {
	if err := ValidateRate(row.Rate); err != nil {
		return err
	}
	return s.appendUnique(row)
}

func (s *EditorSession) appendUnique(row AllocationRow) error {
	for _, existing := range s.rows {
		if existing.ProjectID == row.ProjectID && existing.RoleCode == row.RoleCode {
			return fmt.Errorf("%w: %s / %s", ErrDuplicateEntry, row.ProjectName, row.RoleName)
		}
	}
	s.rows = append(s.rows, row)
	return nil
}

// SetRate replaces the rate of the row at index.
func (s *EditorSession) SetRate(index, rate int) error {
	if index < 0 || index >= len(s.rows) {
		return fmt.Errorf("%w: index %d", ErrRowNotFound, index)
	}
	if err := ValidateRate(rate); err != nil {
		return err
	}
	s.rows[index].Rate = rate
	return nil
}

// RemoveRow deletes the row at index keeping the order of the others.
func (s *EditorSession) RemoveRow(index int) (AllocationRow, error) {
	if index < 0 || index >= len(s.rows) {
		return AllocationRow{}, fmt.Errorf("%w: index %d", ErrRowNotFound, index)
	}
	removed := s.rows[index]
	s.rows = append(s.rows[:index], s.rows[index+1:]...)
	return removed, nil
}

func (s *EditorSession) TotalRate() int {
	total := 0
	for _, r := range s.rows {
		total += r.Rate
	}
	return total
}

// ValidateForSave reports whether the rows can be saved as they are.
func (s *EditorSession) ValidateForSave() SaveCheck {
	return CheckRows(s.rows)
}
