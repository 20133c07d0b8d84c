package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Seoul must resolve on hosts without a zoneinfo database
)

const (
	StatusOn  Status = "ON"
	StatusOff Status = "OFF"
)

const (
	// MinRate and MaxRate bound a single allocation row.
	MinRate = 0
	MaxRate = 100

	// FullAllocation is the only total a month can be saved with.
	FullAllocation = 100
)

type (
	Status string

	Employee struct {
		EmployeeID string
		Status     Status
	}

	Project struct {
		ProjectID   string
		ProjectName string
		Status      Status
	}

	// MonthKey identifies the records of one employee in one month.
	MonthKey struct {
		EmployeeID string
		Year       int
		Month      int // 1-12
	}

	// ParticipationRecord is the persisted form of an allocation row.
	ParticipationRecord struct {
		EmployeeID  string
		ProjectID   string
		ProjectName string // snapshot at write time
		RoleCode    RoleCode
		RoleName    string // snapshot at write time
		Rate        int
		Year        int
		Month       int
		UpdatedAt   time.Time
	}

	// AllocationRow is an editable, not yet persisted allocation.
	AllocationRow struct {
		ProjectID   string
		ProjectName string
		RoleCode    RoleCode
		RoleName    string
		Rate        int
		// Stale marks a row loaded from history whose project is no longer ON.
		Stale bool
	}
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrStoreWrite       = errors.New("store write failed")
	ErrDuplicateEntry   = errors.New("project and role already added")
	ErrInvalidSelection = errors.New("project and role must be selected")
	ErrValidation       = errors.New("allocation total must be exactly 100%")
	ErrInvalidRate      = errors.New("rate must be between 0 and 100")
	ErrRowNotFound      = errors.New("row not found")
	ErrInvalidKey       = errors.New("invalid employee-month key")
)

var seoul = mustLoadLocation("Asia/Seoul")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("load location %s: %v", name, err))
	}
	return loc
}

// Seoul returns the time zone every UpdatedAt is expressed in.
func Seoul() *time.Location {
	return seoul
}

// IsOn reports whether the entity is selectable.
func (s Status) IsOn() bool {
	return s == StatusOn
}

func (k MonthKey) Validate() error {
	if strings.TrimSpace(k.EmployeeID) == "" {
		return fmt.Errorf("%w: empty employee id", ErrInvalidKey)
	}
	if k.Month < 1 || k.Month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidKey, k.Month)
	}
	if k.Year < 1 {
		return fmt.Errorf("%w: year %d", ErrInvalidKey, k.Year)
	}
	return nil
}

// String renders the key as used in cache keys and log lines.
func (k MonthKey) String() string {
	return fmt.Sprintf("%s/%04d-%02d", k.EmployeeID, k.Year, k.Month)
}

// DocumentID is the deterministic identity of a record:
// {employeeId}_{projectId}_{roleCode}_{year}_{month}.
func (r ParticipationRecord) DocumentID() string {
	return fmt.Sprintf("%s_%s_%s_%d_%d", r.EmployeeID, r.ProjectID, r.RoleCode, r.Year, r.Month)
}

// RecordIdentity is the composite identity behind DocumentID. Unlike the
// joined string it stays unambiguous when ids contain underscores.
type RecordIdentity struct {
	EmployeeID string
	ProjectID  string
	RoleCode   RoleCode
	Year       int
	Month      int
}

func (r ParticipationRecord) Identity() RecordIdentity {
	return RecordIdentity{
		EmployeeID: r.EmployeeID,
		ProjectID:  r.ProjectID,
		RoleCode:   r.RoleCode,
		Year:       r.Year,
		Month:      r.Month,
	}
}

// Key returns the employee-month the record belongs to.
func (r ParticipationRecord) Key() MonthKey {
	return MonthKey{EmployeeID: r.EmployeeID, Year: r.Year, Month: r.Month}
}

func ValidateRate(rate int) error {
	if rate < MinRate || rate > MaxRate {
		return fmt.Errorf("%w: got %d", ErrInvalidRate, rate)
	}
	return nil
}

// BuildRecords derives the records a save writes for key. Rows with a zero
// rate are dropped and, if a (project, role) pair repeats, the last row wins
// while keeping the position of the first.
func BuildRecords(key MonthKey, rows []AllocationRow, updatedAt time.Time) []ParticipationRecord {
	stamp := updatedAt.In(seoul)
	records := make([]ParticipationRecord, 0, len(rows))
	index := make(map[RecordIdentity]int, len(rows))
	for _, row := range rows {
		if row.Rate <= 0 {
			continue
		}
		rec := ParticipationRecord{
			EmployeeID:  key.EmployeeID,
			ProjectID:   row.ProjectID,
			ProjectName: row.ProjectName,
			RoleCode:    row.RoleCode,
			RoleName:    row.RoleName,
			Rate:        row.Rate,
			Year:        key.Year,
			Month:       key.Month,
			UpdatedAt:   stamp,
		}
		id := rec.Identity()
		if i, ok := index[id]; ok {
			records[i] = rec
			continue
		}
		index[id] = len(records)
		records = append(records, rec)
	}
	return records
}

// SumRates adds up the rates of persisted records.
func SumRates(records []ParticipationRecord) int {
	total := 0
	for _, r := range records {
		total += r.Rate
	}
	return total
}
