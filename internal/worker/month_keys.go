package worker

import (
	"fmt"
	"strconv"
	"strings"

	"participation/internal/core"
)

// ParseMonthKey parses the "EMPLOYEE/YYYY-MM" form produced by
// core.MonthKey.String.
func ParseMonthKey(s string) (core.MonthKey, error) {
	s = strings.TrimSpace(s)
	slash := strings.LastIndex(s, "/")
	if slash <= 0 {
		return core.MonthKey{}, fmt.Errorf("%w: %q is not EMPLOYEE/YYYY-MM", core.ErrInvalidKey, s)
	}
	yearStr, monthStr, ok := strings.Cut(s[slash+1:], "-")
	if !ok {
		return core.MonthKey{}, fmt.Errorf("%w: %q is not EMPLOYEE/YYYY-MM", core.ErrInvalidKey, s)
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return core.MonthKey{}, fmt.Errorf("%w: year in %q", core.ErrInvalidKey, s)
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil {
		return core.MonthKey{}, fmt.Errorf("%w: month in %q", core.ErrInvalidKey, s)
	}

	key := core.MonthKey{EmployeeID: s[:slash], Year: year, Month: month}
	if err := key.Validate(); err != nil {
		return core.MonthKey{}, err
	}
	return key, nil
}

// ParseMonthKeys parses every non-blank entry, stopping at the first bad one.
func ParseMonthKeys(values []string) ([]core.MonthKey, error) {
	keys := make([]core.MonthKey, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		key, err := ParseMonthKey(v)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
