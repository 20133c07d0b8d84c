// Package firestore stores reference data and participation records in Cloud
// Firestore using the collections employees, projects and participations.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"participation/internal/core"
	"participation/internal/store"
)

// Ensure interface conformance
var (
	_ store.ReferenceReader      = (*Repository)(nil)
	_ store.AllocationRepository = (*Repository)(nil)
)

const (
	employeesCollection      = "employees"
	projectsCollection       = "projects"
	participationsCollection = "participations"
)

type (
	employeeDoc struct {
		EmployeeID string `firestore:"employeeId"`
		Status     string `firestore:"status"`
	}

	projectDoc struct {
		ProjectID   string `firestore:"projectId"`
		ProjectName string `firestore:"projectName"`
		Status      string `firestore:"status"`
	}

	participationDoc struct {
		EmployeeID  string    `firestore:"employeeId"`
		ProjectID   string    `firestore:"projectId"`
		ProjectName string    `firestore:"projectName"`
		RoleCode    string    `firestore:"roleCode"`
		RoleName    string    `firestore:"roleName"`
		Rate        int       `firestore:"rate"`
		Year        int       `firestore:"year"`
		Month       int       `firestore:"month"`
		UpdatedAt   time.Time `firestore:"updatedAt"`
	}
)

// Config holds the connection settings. CredentialsJSON wins over
// CredentialsFile; with neither set the client uses application default
// credentials (or FIRESTORE_EMULATOR_HOST).
type Config struct {
	ProjectID       string
	CredentialsJSON []byte
	CredentialsFile string
}

type Repository struct {
	client *firestore.Client
	now    func() time.Time
}

func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore: project id is required")
	}
	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *firestore.Client) *Repository {
	return &Repository{client: client, now: time.Now}
}

func (r *Repository) Close() error {
	return r.client.Close()
}

// Ping reads at most one employee document; used by readiness probes.
func (r *Repository) Ping(ctx context.Context) error {
	_, err := r.client.Collection(employeesCollection).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// ListEmployees returns employees whose status is ON.
func (r *Repository) ListEmployees(ctx context.Context) ([]core.Employee, error) {
	docs, err := r.client.Collection(employeesCollection).
		Where("status", "==", string(core.StatusOn)).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list employees: %w: %v", core.ErrStoreUnavailable, err)
	}
	out := make([]core.Employee, 0, len(docs))
	for _, d := range docs {
		var e employeeDoc
		if err := d.DataTo(&e); err != nil {
			slog.WarnContext(ctx, "Skipping malformed employee document", "id", d.Ref.ID, "error", err)
			continue
		}
		if e.EmployeeID == "" {
			e.EmployeeID = d.Ref.ID
		}
		out = append(out, core.Employee{EmployeeID: e.EmployeeID, Status: core.Status(e.Status)})
	}
	return out, nil
}

// ListProjects returns projects whose status is ON.
func (r *Repository) ListProjects(ctx context.Context) ([]core.Project, error) {
	docs, err := r.client.Collection(projectsCollection).
		Where("status", "==", string(core.StatusOn)).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w: %v", core.ErrStoreUnavailable, err)
	}
	out := make([]core.Project, 0, len(docs))
	for _, d := range docs {
		var p projectDoc
		if err := d.DataTo(&p); err != nil {
			slog.WarnContext(ctx, "Skipping malformed project document", "id", d.Ref.ID, "error", err)
			continue
		}
		if p.ProjectID == "" {
			p.ProjectID = d.Ref.ID
		}
		out = append(out, core.Project{ProjectID: p.ProjectID, ProjectName: p.ProjectName, Status: core.Status(p.Status)})
	}
	return out, nil
}

func (r *Repository) monthQuery(key core.MonthKey) firestore.Query {
	return r.client.Collection(participationsCollection).
		Where("employeeId", "==", key.EmployeeID).
		Where("year", "==", key.Year).
		Where("month", "==", key.Month)
}

// LoadMonth returns every participation document of key.
func (r *Repository) LoadMonth(ctx context.Context, key core.MonthKey) ([]core.ParticipationRecord, error) {
	docs, err := r.monthQuery(key).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("load month %s: %w: %v", key, core.ErrStoreUnavailable, err)
	}
	out := make([]core.ParticipationRecord, 0, len(docs))
	for _, d := range docs {
		var p participationDoc
		if err := d.DataTo(&p); err != nil {
			return nil, fmt.Errorf("decode %s: %w: %v", d.Ref.ID, core.ErrStoreUnavailable, err)
		}
		out = append(out, fromDoc(p))
	}
	return out, nil
}

// errDocumentConflict reports a target document id already held by a record
// of another identity, which happens when ids contain underscores.
var errDocumentConflict = errors.New("document id belongs to another record")

// SaveMonth replaces the documents of key inside one transaction. Documents
// whose id is rewritten are overwritten by Set, the rest are deleted. A
// target id held by another employee-month aborts the save.
func (r *Repository) SaveMonth(ctx context.Context, key core.MonthKey, rows []core.AllocationRow) error {
	records := core.BuildRecords(key, rows, r.now())
	coll := r.client.Collection(participationsCollection)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(r.monthQuery(key)).GetAll()
		if err != nil {
			return fmt.Errorf("query existing: %w", err)
		}

		refs := make([]*firestore.DocumentRef, len(records))
		keep := make(map[string]struct{}, len(records))
		for i, rec := range records {
			refs[i] = coll.Doc(rec.DocumentID())
			keep[rec.DocumentID()] = struct{}{}
		}
		var targets []*firestore.DocumentSnapshot
		if len(refs) > 0 {
			if targets, err = tx.GetAll(refs); err != nil {
				return fmt.Errorf("read targets: %w", err)
			}
		}
		for i, snap := range targets {
			if !snap.Exists() {
				continue
			}
			var current participationDoc
			if err := snap.DataTo(&current); err != nil {
				return fmt.Errorf("decode %s: %w", snap.Ref.ID, err)
			}
			if !sameRecord(current, records[i]) {
				return fmt.Errorf("%s: %w", snap.Ref.ID, errDocumentConflict)
			}
		}

		for _, d := range existing {
			if _, ok := keep[d.Ref.ID]; ok {
				continue
			}
			if err := tx.Delete(d.Ref); err != nil {
				return fmt.Errorf("delete %s: %w", d.Ref.ID, err)
			}
		}
		for i, rec := range records {
			if err := tx.Set(refs[i], toDoc(rec)); err != nil {
				return fmt.Errorf("set %s: %w", rec.DocumentID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save month %s: %w: %v", key, saveFailure(err), err)
	}

	slog.InfoContext(ctx, "Participations saved to Firestore",
		"employee_id", key.EmployeeID,
		"year", key.Year,
		"month", key.Month,
		"records", len(records))
	return nil
}

func toDoc(r core.ParticipationRecord) participationDoc {
	return participationDoc{
		EmployeeID:  r.EmployeeID,
		ProjectID:   r.ProjectID,
		ProjectName: r.ProjectName,
		RoleCode:    string(r.RoleCode),
		RoleName:    r.RoleName,
		Rate:        r.Rate,
		Year:        r.Year,
		Month:       r.Month,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromDoc(d participationDoc) core.ParticipationRecord {
	return core.ParticipationRecord{
		EmployeeID:  d.EmployeeID,
		ProjectID:   d.ProjectID,
		ProjectName: d.ProjectName,
		RoleCode:    core.RoleCode(d.RoleCode),
		RoleName:    d.RoleName,
		Rate:        d.Rate,
		Year:        d.Year,
		Month:       d.Month,
		UpdatedAt:   d.UpdatedAt.In(core.Seoul()),
	}
}

func sameRecord(doc participationDoc, rec core.ParticipationRecord) bool {
	return fromDoc(doc).Identity() == rec.Identity()
}

// saveFailure classifies a failed transaction. An unreachable backend is
// reported as unavailable; anything the server rejected is a write failure.
func saveFailure(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.PermissionDenied:
		return core.ErrStoreUnavailable
	default:
		return core.ErrStoreWrite
	}
}
