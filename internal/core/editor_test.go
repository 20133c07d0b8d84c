package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProjects() []Project {
	return []Project{
		{ProjectID: "P1", ProjectName: "Alpha", Status: StatusOn},
		{ProjectID: "P2", ProjectName: "Beta", Status: StatusOn},
		{ProjectID: "P3", ProjectName: "Gamma", Status: StatusOn},
	}
}

func newTestSession(t *testing.T) *EditorSession {
	t.Helper()
	s, err := NewEditorSession(MonthKey{EmployeeID: "E1", Year: 2024, Month: 3}, testProjects())
	require.NoError(t, err)
	return s
}

func TestNewEditorSessionRejectsInvalidKey(t *testing.T) {
	_, err := NewEditorSession(MonthKey{EmployeeID: "E1", Year: 2024, Month: 13}, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAddRowResolvesNames(t *testing.T) {
	s := newTestSession(t)

	row, err := s.AddRow("P1", RoleSettlement, 40)
	require.NoError(t, err)
	assert.Equal(t, AllocationRow{ProjectID: "P1", ProjectName: "Alpha", RoleCode: RoleSettlement, RoleName: "정산", Rate: 40}, row)
	assert.Equal(t, []AllocationRow{row}, s.Rows())
}

func TestAddRowRejectsDuplicatePair(t *testing.T) {
	s := newTestSession(t)

	_, err := s.AddRow("P1", RoleBusinessDevelopment, 100)
	require.NoError(t, err)
	_, err = s.AddRow("P1", RoleBusinessDevelopment, 0)
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	require.Equal(t, 1, s.Len())
	assert.Equal(t, 100, s.Rows()[0].Rate)

	// Same project with another role is a different pair.
	_, err = s.AddRow("P1", RoleProposal, 0)
	assert.NoError(t, err)
}

func TestAddRowRejectsInvalidSelection(t *testing.T) {
	tests := []struct {
		name    string
		project string
		role    RoleCode
	}{
		{"no project", "", RoleProposal},
		{"blank project", "   ", RoleProposal},
		{"no role", "P1", ""},
		{"unknown project", "P9", RoleProposal},
		{"unknown role", "P1", "99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			_, err := s.AddRow(tt.project, tt.role, 10)
			assert.ErrorIs(t, err, ErrInvalidSelection)
			assert.Zero(t, s.Len())
		})
	}
}

func TestAddRowRejectsRateOutOfRange(t *testing.T) {
	s := newTestSession(t)
	_, err := s.AddRow("P1", RoleProposal, 101)
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = s.AddRow("P1", RoleProposal, -5)
	assert.ErrorIs(t, err, ErrInvalidRate)
	assert.Zero(t, s.Len())
}

func TestSetRate(t *testing.T) {
	s := newTestSession(t)
	_, err := s.AddRow("P1", RoleProposal, 10)
	require.NoError(t, err)

	require.NoError(t, s.SetRate(0, 0))
	assert.Equal(t, 0, s.Rows()[0].Rate)

	assert.ErrorIs(t, s.SetRate(0, 101), ErrInvalidRate)
	assert.Equal(t, 0, s.Rows()[0].Rate)
	assert.ErrorIs(t, s.SetRate(1, 50), ErrRowNotFound)
	assert.ErrorIs(t, s.SetRate(-1, 50), ErrRowNotFound)
}

func TestRemoveRowPreservesOrder(t *testing.T) {
	s := newTestSession(t)
	for _, p := range []string{"P1", "P2", "P3"} {
		_, err := s.AddRow(p, RoleOperations, 10)
		require.NoError(t, err)
	}

	removed, err := s.RemoveRow(1)
	require.NoError(t, err)
	assert.Equal(t, "P2", removed.ProjectID)

	rows := s.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "P1", rows[0].ProjectID)
	assert.Equal(t, "P3", rows[1].ProjectID)

	_, err = s.RemoveRow(2)
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestRowsReturnsCopy(t *testing.T) {
	s := newTestSession(t)
	_, err := s.AddRow("P1", RoleOperations, 10)
	require.NoError(t, err)

	rows := s.Rows()
	rows[0].Rate = 99
	assert.Equal(t, 10, s.Rows()[0].Rate)
}

func TestRestoreAllowsProjectsOutsideSnapshot(t *testing.T) {
	s := newTestSession(t)
	row := AllocationRow{ProjectID: "OLD", ProjectName: "Archived", RoleCode: RoleConsulting, RoleName: "컨설팅", Rate: 20, Stale: true}
	require.NoError(t, s.Restore(row))
	assert.ErrorIs(t, s.Restore(row), ErrDuplicateEntry)
	assert.Equal(t, []AllocationRow{row}, s.Rows())
}

func TestValidateForSave(t *testing.T) {
	s := newTestSession(t)
	check := s.ValidateForSave()
	assert.Equal(t, SaveEmpty, check.Status)
	assert.ErrorIs(t, check.Err(), ErrValidation)

	_, err := s.AddRow("P1", RoleBusinessDevelopment, 60)
	require.NoError(t, err)
	check = s.ValidateForSave()
	assert.Equal(t, SaveCheck{Status: SaveUnder, Total: 60, Delta: 40}, check)
	assert.Equal(t, "total is under 100% by 40", check.Message())
	assert.ErrorIs(t, check.Err(), ErrValidation)

	_, err = s.AddRow("P2", RoleSettlement, 40)
	require.NoError(t, err)
	assert.Equal(t, 100, s.TotalRate())
	check = s.ValidateForSave()
	assert.True(t, check.Ready())
	assert.NoError(t, check.Err())

	require.NoError(t, s.SetRate(1, 55))
	check = s.ValidateForSave()
	assert.Equal(t, SaveCheck{Status: SaveOver, Total: 115, Delta: 15}, check)
	assert.Equal(t, "over", check.Status.String())
}

func TestZeroRateRowsCountTowardsRowSet(t *testing.T) {
	s := newTestSession(t)
	_, err := s.AddRow("P1", RoleBusinessDevelopment, 100)
	require.NoError(t, err)
	_, err = s.AddRow("P2", RoleBusinessDevelopment, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.ValidateForSave().Ready())
}
