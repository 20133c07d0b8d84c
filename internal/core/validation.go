package core

import "fmt"

const (
	SaveReady SaveStatus = iota
	SaveEmpty
	SaveOver
	SaveUnder
)

type (
	SaveStatus int

	// SaveCheck is the outcome of validating a row set before saving.
	SaveCheck struct {
		Status SaveStatus
		Total  int
		// Delta is the distance of Total from 100 when over or under.
		Delta int
	}
)

func (s SaveStatus) String() string {
	switch s {
	case SaveReady:
		return "ready"
	case SaveEmpty:
		return "empty"
	case SaveOver:
		return "over"
	case SaveUnder:
		return "under"
	default:
		return "unknown"
	}
}

// CheckRows validates a row set: it must be non-empty and sum to 100.
func CheckRows(rows []AllocationRow) SaveCheck {
	if len(rows) == 0 {
		return SaveCheck{Status: SaveEmpty}
	}
	total := 0
	for _, r := range rows {
		total += r.Rate
	}
	switch {
	case total > FullAllocation:
		return SaveCheck{Status: SaveOver, Total: total, Delta: total - FullAllocation}
	case total < FullAllocation:
		return SaveCheck{Status: SaveUnder, Total: total, Delta: FullAllocation - total}
	default:
		return SaveCheck{Status: SaveReady, Total: total}
	}
}

func (c SaveCheck) Ready() bool {
	return c.Status == SaveReady
}

// Message is the diagnostic shown next to the running total.
func (c SaveCheck) Message() string {
	switch c.Status {
	case SaveReady:
		return "total is exactly 100%"
	case SaveEmpty:
		return "no rows to save"
	case SaveOver:
		return fmt.Sprintf("total is over 100%% by %d", c.Delta)
	case SaveUnder:
		return fmt.Sprintf("total is under 100%% by %d", c.Delta)
	default:
		return "unknown state"
	}
}

// Err returns nil when ready, otherwise an error wrapping ErrValidation.
func (c SaveCheck) Err() error {
	if c.Ready() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, c.Message())
}
