package core

// ReferenceData is the snapshot of selectable employees and projects.
type ReferenceData struct {
	Employees []Employee
	Projects  []Project
}

// OnlyOn filters out employees and projects whose status is not ON.
func (d ReferenceData) OnlyOn() ReferenceData {
	out := ReferenceData{
		Employees: make([]Employee, 0, len(d.Employees)),
		Projects:  make([]Project, 0, len(d.Projects)),
	}
	for _, e := range d.Employees {
		if e.Status.IsOn() {
			out.Employees = append(out.Employees, e)
		}
	}
	for _, p := range d.Projects {
		if p.Status.IsOn() {
			out.Projects = append(out.Projects, p)
		}
	}
	return out
}

func (d ReferenceData) Employee(id string) (Employee, bool) {
	for _, e := range d.Employees {
		if e.EmployeeID == id {
			return e, true
		}
	}
	return Employee{}, false
}

func (d ReferenceData) Project(id string) (Project, bool) {
	for _, p := range d.Projects {
		if p.ProjectID == id {
			return p, true
		}
	}
	return Project{}, false
}
