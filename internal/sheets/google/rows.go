package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"participation/internal/core"
)

// header is the first row of the mirror sheet.
var header = []string{
	"employeeId", "year", "month", "projectId", "projectName",
	"roleCode", "roleName", "rate", "updatedAt",
}

const lastColumn = "I"

// mergeMonth returns the grid that replaces values: the header, every row of
// other employee-months in their original order, then the rows of records.
// The grid is padded with blank rows up to the original height.
func mergeMonth(values [][]interface{}, key core.MonthKey, records []core.ParticipationRecord) [][]interface{} {
	out := make([][]interface{}, 0, len(values)+len(records)+1)
	out = append(out, toRow(header))

	for i, raw := range values {
		row := toStrings(raw)
		if i == 0 && isHeader(row) {
			continue
		}
		if isBlank(row) || belongsTo(row, key) {
			continue
		}
		out = append(out, raw)
	}
	for _, rec := range records {
		out = append(out, recordRow(rec))
	}

	for len(out) < len(values) {
		out = append(out, blankRow())
	}
	return out
}

func recordRow(rec core.ParticipationRecord) []interface{} {
	return []interface{}{
		rec.EmployeeID,
		rec.Year,
		rec.Month,
		rec.ProjectID,
		rec.ProjectName,
		string(rec.RoleCode),
		rec.RoleName,
		rec.Rate,
		rec.UpdatedAt.In(core.Seoul()).Format(time.RFC3339),
	}
}

// belongsTo reports whether a sheet row is a record of key. Numeric cells may
// come back formatted ("3" or "3.0"), so year and month are compared as ints.
func belongsTo(row []string, key core.MonthKey) bool {
	if strings.TrimSpace(safeGet(row, 0)) != key.EmployeeID {
		return false
	}
	year, ok := parseInt(safeGet(row, 1))
	if !ok || year != key.Year {
		return false
	}
	month, ok := parseInt(safeGet(row, 2))
	return ok && month == key.Month
}

func isHeader(row []string) bool {
	return strings.EqualFold(strings.TrimSpace(safeGet(row, 0)), header[0])
}

func isBlank(row []string) bool {
	for _, s := range row {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

func blankRow() []interface{} {
	row := make([]interface{}, len(header))
	for i := range row {
		row[i] = ""
	}
	return row
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return int(f), true
	}
	return 0, false
}

func toRow(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func safeGet(row []string, idx int) string {
	if idx >= 0 && idx < len(row) {
		return row[idx]
	}
	return ""
}
