package store

import (
	"context"

	"participation/internal/core"
)

// Ports for outbound adapters.
type (
	// ReferenceReader lists the selectable reference data. Implementations
	// return ON-status entries only.
	ReferenceReader interface {
		ListEmployees(ctx context.Context) ([]core.Employee, error)
		ListProjects(ctx context.Context) ([]core.Project, error)
	}

	// AllocationReader returns the persisted records of one employee-month.
	AllocationReader interface {
		// LoadMonth returns every record of key, or an empty slice. Failures
		// wrap core.ErrStoreUnavailable.
		LoadMonth(ctx context.Context, key core.MonthKey) ([]core.ParticipationRecord, error)
	}

	// AllocationWriter replaces the persisted records of one employee-month.
	AllocationWriter interface {
		// SaveMonth replaces every record of key with the records derived from
		// rows in a single all-or-nothing write. Failures wrap
		// core.ErrStoreWrite, or core.ErrStoreUnavailable when the store
		// could not be reached at all.
		SaveMonth(ctx context.Context, key core.MonthKey, rows []core.AllocationRow) error
	}

	AllocationRepository interface {
		AllocationReader
		AllocationWriter
	}
)
