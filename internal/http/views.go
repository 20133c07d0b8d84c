package http

import (
	"time"

	"participation/internal/core"
	"participation/internal/services"
)

type (
	// indexView feeds index.html.
	indexView struct {
		Years         []int
		Months        []int
		SelectedYear  int
		SelectedMonth int
		Employees     []core.Employee
		// ReferenceError is shown instead of the employee list when the
		// reference store could not be read.
		ReferenceError string
		Editor         *editorView
	}

	rowView struct {
		Index       int
		ProjectID   string
		ProjectName string
		RoleCode    core.RoleCode
		RoleName    string
		Rate        int
		Stale       bool
	}

	// editorView feeds the "editor" partial.
	editorView struct {
		Key      core.MonthKey
		Rows     []rowView
		Total    int
		Status   string
		Message  string
		CanSave  bool
		Projects []core.Project
		Roles    []core.Role
		Warnings []services.Warning
	}
)

func newIndexView(now time.Time, ref core.ReferenceData) indexView {
	now = now.In(core.Seoul())
	months := make([]int, 12)
	for i := range months {
		months[i] = i + 1
	}
	return indexView{
		Years:         yearOptions(now),
		Months:        months,
		SelectedYear:  now.Year(),
		SelectedMonth: int(now.Month()),
		Employees:     ref.Employees,
	}
}

func newEditorView(session *core.EditorSession, warnings []services.Warning, projects []core.Project) *editorView {
	rows := session.Rows()
	check := session.ValidateForSave()

	view := &editorView{
		Key:      session.Key(),
		Rows:     make([]rowView, len(rows)),
		Total:    session.TotalRate(),
		Status:   check.Status.String(),
		Message:  check.Message(),
		CanSave:  len(rows) > 0,
		Projects: projects,
		Roles:    core.Roles(),
		Warnings: warnings,
	}
	for i, r := range rows {
		view.Rows[i] = rowView{
			Index:       i,
			ProjectID:   r.ProjectID,
			ProjectName: r.ProjectName,
			RoleCode:    r.RoleCode,
			RoleName:    r.RoleName,
			Rate:        r.Rate,
			Stale:       r.Stale,
		}
	}
	return view
}
