package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"participation/internal/core"
	"participation/internal/store"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"
)

// Ensure interface conformance
var (
	_ store.ReferenceReader      = (*Repository)(nil)
	_ store.AllocationRepository = (*Repository)(nil)
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// Repository persists reference data and participation records in SQL.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies migrations.
func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return open(DialectSQLite, dbPath)
}

// NewPostgresRepository connects to dsn and applies migrations.
func NewPostgresRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	return open(DialectPostgres, dsn)
}

func open(d Dialect, dsn string) (*Repository, error) {
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}
	if d == DialectSQLite {
		// One writer at a time keeps SQLite from returning SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(d, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, dialect: d, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the connection; used by readiness probes.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// rebind rewrites ? placeholders into $n for Postgres.
func (r *Repository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// ListEmployees implements store.ReferenceReader
func (r *Repository) ListEmployees(ctx context.Context) ([]core.Employee, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(
		`SELECT employee_id, status FROM employees WHERE status = ? ORDER BY employee_id`), string(core.StatusOn))
	if err != nil {
		return nil, fmt.Errorf("list employees: %w: %v", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []core.Employee
	for rows.Next() {
		var e core.Employee
		var status string
		if err := rows.Scan(&e.EmployeeID, &status); err != nil {
			return nil, fmt.Errorf("scan employee: %w: %v", core.ErrStoreUnavailable, err)
		}
		e.Status = core.Status(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list employees: %w: %v", core.ErrStoreUnavailable, err)
	}
	return out, nil
}

// ListProjects implements store.ReferenceReader
func (r *Repository) ListProjects(ctx context.Context) ([]core.Project, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(
		`SELECT project_id, project_name, status FROM projects WHERE status = ? ORDER BY project_id`), string(core.StatusOn))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w: %v", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		var p core.Project
		var status string
		if err := rows.Scan(&p.ProjectID, &p.ProjectName, &status); err != nil {
			return nil, fmt.Errorf("scan project: %w: %v", core.ErrStoreUnavailable, err)
		}
		p.Status = core.Status(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w: %v", core.ErrStoreUnavailable, err)
	}
	return out, nil
}

// UpsertEmployee inserts or updates an employee row.
func (r *Repository) UpsertEmployee(ctx context.Context, e core.Employee) error {
	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO employees (employee_id, status) VALUES (?, ?)
		 ON CONFLICT (employee_id) DO UPDATE SET status = excluded.status`),
		e.EmployeeID, string(e.Status))
	if err != nil {
		return fmt.Errorf("upsert employee %s: %w: %v", e.EmployeeID, core.ErrStoreWrite, err)
	}
	return nil
}

// UpsertProject inserts or updates a project row.
func (r *Repository) UpsertProject(ctx context.Context, p core.Project) error {
	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO projects (project_id, project_name, status) VALUES (?, ?, ?)
		 ON CONFLICT (project_id) DO UPDATE SET project_name = excluded.project_name, status = excluded.status`),
		p.ProjectID, p.ProjectName, string(p.Status))
	if err != nil {
		return fmt.Errorf("upsert project %s: %w: %v", p.ProjectID, core.ErrStoreWrite, err)
	}
	return nil
}

// LoadMonth implements store.AllocationReader
func (r *Repository) LoadMonth(ctx context.Context, key core.MonthKey) ([]core.ParticipationRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(
		`SELECT project_id, project_name, role_code, role_name, rate, updated_at
		 FROM participations
		 WHERE employee_id = ? AND year = ? AND month = ?
		 ORDER BY project_id, role_code`), key.EmployeeID, key.Year, key.Month)
	if err != nil {
		return nil, fmt.Errorf("load month %s: %w: %v", key, core.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := []core.ParticipationRecord{}
	for rows.Next() {
		rec := core.ParticipationRecord{EmployeeID: key.EmployeeID, Year: key.Year, Month: key.Month}
		var roleCode string
		var updated any
		if err := rows.Scan(&rec.ProjectID, &rec.ProjectName, &roleCode, &rec.RoleName, &rec.Rate, &updated); err != nil {
			return nil, fmt.Errorf("scan participation: %w: %v", core.ErrStoreUnavailable, err)
		}
		rec.RoleCode = core.RoleCode(roleCode)
		ts, err := parseTime(updated)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w: %v", core.ErrStoreUnavailable, err)
		}
		rec.UpdatedAt = ts.In(core.Seoul())
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load month %s: %w: %v", key, core.ErrStoreUnavailable, err)
	}
	return out, nil
}

// SaveMonth implements store.AllocationWriter
func (r *Repository) SaveMonth(ctx context.Context, key core.MonthKey, rows []core.AllocationRow) error {
	records := core.BuildRecords(key, rows, r.now())
	if err := r.replaceMonth(ctx, key, records); err != nil {
		return fmt.Errorf("save month %s: %w: %v", key, core.ErrStoreWrite, err)
	}

	slog.InfoContext(ctx, "Participations saved to SQL store",
		"dialect", r.dialect,
		"employee_id", key.EmployeeID,
		"year", key.Year,
		"month", key.Month,
		"records", len(records))
	return nil
}

func (r *Repository) replaceMonth(ctx context.Context, key core.MonthKey, records []core.ParticipationRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(
		`DELETE FROM participations WHERE employee_id = ? AND year = ? AND month = ?`),
		key.EmployeeID, key.Year, key.Month); err != nil {
		return fmt.Errorf("delete existing: %w", err)
	}

	insert := r.rebind(`INSERT INTO participations
		(id, employee_id, project_id, project_name, role_code, role_name, rate, year, month, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, insert,
			rec.DocumentID(), rec.EmployeeID, rec.ProjectID, rec.ProjectName,
			string(rec.RoleCode), rec.RoleName, rec.Rate, rec.Year, rec.Month, rec.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert %s: %w", rec.DocumentID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func parseTime(v any) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
	// time.Time.String appends a monotonic reading that no layout accepts.
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
