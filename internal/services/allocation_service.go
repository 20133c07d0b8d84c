package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"participation/internal/cache"
	"participation/internal/core"
	"participation/internal/log"
	"participation/internal/metrics"
	"participation/internal/store"
)

const (
	DefaultStoreTimeout = 10 * time.Second

	referenceKey = "reference"
)

// Store operation labels used for metrics.
const (
	opListEmployees = "list_employees"
	opListProjects  = "list_projects"
	opLoadMonth     = "load_month"
	opSaveMonth     = "save_month"
)

// Publisher announces committed months to other processes.
type Publisher interface {
	PublishMonthSaved(ctx context.Context, key core.MonthKey, recordCount, totalRate int) error
}

// Warning describes a persisted row that could not be restored as an
// ordinary editable row.
type Warning struct {
	ProjectID   string
	ProjectName string
	RoleCode    core.RoleCode
	Message     string
}

// Dependencies wires an AllocationService. References and Allocations are
// required; everything else is optional.
type Dependencies struct {
	References     store.ReferenceReader
	Allocations    store.AllocationRepository
	Publisher      Publisher
	Metrics        *metrics.Metrics
	Logger         *log.Logger
	ReferenceCache cache.Cache[core.ReferenceData]
	StoreTimeout   time.Duration
}

// AllocationService orchestrates editor sessions over the reference store,
// the allocation repository and the MonthSaved publisher.
type AllocationService struct {
	refs      store.ReferenceReader
	repo      store.AllocationRepository
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *log.Logger
	events    *log.StructuredLogger
	refCache  cache.Cache[core.ReferenceData]
	timeout   time.Duration

	flight singleflight.Group
	locks  *keyedMutex
}

func NewAllocationService(deps Dependencies) *AllocationService {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	timeout := deps.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &AllocationService{
		refs:      deps.References,
		repo:      deps.Allocations,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logger.WithComponent(log.ComponentService),
		events:    log.NewStructuredLogger(logger),
		refCache:  deps.ReferenceCache,
		timeout:   timeout,
		locks:     newKeyedMutex(),
	}
}

// Reference returns the ON employees and projects. Concurrent callers share
// one load, and the result is cached when a reference cache is configured.
func (s *AllocationService) Reference(ctx context.Context) (core.ReferenceData, error) {
	if s.refCache != nil {
		if data, ok := s.refCache.Get(referenceKey); ok {
			return data, nil
		}
	}

	// The shared load must not fail because the first caller went away.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do(referenceKey, func() (interface{}, error) {
		data, err := s.loadReference(loadCtx)
		if err == nil && s.refCache != nil {
			s.refCache.Set(referenceKey, data)
		}
		return data, err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load reference data",
			log.FieldOperation, log.OpReference,
			log.FieldError, err)
		return core.ReferenceData{}, err
	}

	return v.(core.ReferenceData), nil
}

// InvalidateReference drops the cached reference snapshot.
func (s *AllocationService) InvalidateReference() {
	if s.refCache != nil {
		s.refCache.Delete(referenceKey)
	}
}

func (s *AllocationService) loadReference(ctx context.Context) (core.ReferenceData, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var data core.ReferenceData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		emps, err := s.refs.ListEmployees(gctx)
		s.metrics.ObserveStore(opListEmployees, time.Since(start), err)
		if err != nil {
			return unavailable("list employees", err)
		}
		data.Employees = emps
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		projs, err := s.refs.ListProjects(gctx)
		s.metrics.ObserveStore(opListProjects, time.Since(start), err)
		if err != nil {
			return unavailable("list projects", err)
		}
		data.Projects = projs
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.ReferenceData{}, err
	}

	data = data.OnlyOn()
	s.logger.DebugContext(ctx, "Reference data loaded",
		"employees", len(data.Employees),
		"projects", len(data.Projects))
	return data, nil
}

// Open starts an editor session for key populated from the persisted
// records. Rows whose project is no longer ON are kept, flagged Stale and
// reported as warnings. Role names are refreshed from the role table.
func (s *AllocationService) Open(ctx context.Context, key core.MonthKey) (*core.EditorSession, []Warning, error) {
	if err := key.Validate(); err != nil {
		return nil, nil, err
	}

	ref, err := s.Reference(ctx)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.Month(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	session, err := core.NewEditorSession(key, ref.Projects)
	if err != nil {
		return nil, nil, err
	}

	var warnings []Warning
	for _, rec := range records {
		row := core.AllocationRow{
			ProjectID:   rec.ProjectID,
			ProjectName: rec.ProjectName,
			RoleCode:    rec.RoleCode,
			RoleName:    rec.RoleName,
			Rate:        rec.Rate,
		}
		if name := rec.RoleCode.Name(); name != "" {
			row.RoleName = name
		}
		if p, ok := ref.Project(rec.ProjectID); ok {
			row.ProjectName = p.ProjectName
		} else {
			row.Stale = true
			warnings = append(warnings, Warning{
				ProjectID:   rec.ProjectID,
				ProjectName: rec.ProjectName,
				RoleCode:    rec.RoleCode,
				Message:     fmt.Sprintf("project %s (%s) is no longer active", rec.ProjectName, rec.ProjectID),
			})
		}

		if err := session.Restore(row); err != nil {
			warnings = append(warnings, Warning{
				ProjectID:   rec.ProjectID,
				ProjectName: rec.ProjectName,
				RoleCode:    rec.RoleCode,
				Message:     fmt.Sprintf("record %s skipped: %v", rec.DocumentID(), err),
			})
		}
	}

	for _, w := range warnings {
		s.logger.WarnContext(ctx, "Persisted row needs attention",
			log.FieldOperation, log.OpOpen,
			log.FieldEmployeeID, key.EmployeeID,
			log.FieldYear, key.Year,
			log.FieldMonth, key.Month,
			log.FieldProjectID, w.ProjectID,
			log.FieldRoleCode, string(w.RoleCode),
			log.FieldReason, w.Message)
	}

	s.logger.InfoContext(ctx, "Editor session opened",
		log.FieldEmployeeID, key.EmployeeID,
		log.FieldYear, key.Year,
		log.FieldMonth, key.Month,
		log.FieldRecords, session.Len(),
		log.FieldTotalRate, session.TotalRate())
	return session, warnings, nil
}

// AddRow adds a row to session, counting and logging rejections.
func (s *AllocationService) AddRow(ctx context.Context, session *core.EditorSession, projectID string, code core.RoleCode, rate int) (core.AllocationRow, error) {
	row, err := session.AddRow(projectID, code, rate)
	if err != nil {
		s.reject(ctx, log.OpAddRow, err)
		return core.AllocationRow{}, err
	}
	return row, nil
}

// SetRate changes the rate of one row of session.
func (s *AllocationService) SetRate(ctx context.Context, session *core.EditorSession, index, rate int) error {
	if err := session.SetRate(index, rate); err != nil {
		s.reject(ctx, log.OpSetRate, err)
		return err
	}
	return nil
}

// RemoveRow removes one row of session.
func (s *AllocationService) RemoveRow(ctx context.Context, session *core.EditorSession, index int) (core.AllocationRow, error) {
	row, err := session.RemoveRow(index)
	if err != nil {
		s.reject(ctx, log.OpRemoveRow, err)
		return core.AllocationRow{}, err
	}
	return row, nil
}

// Save replaces the persisted month of session with its rows. Sessions that
// do not total exactly 100 are rejected without touching the store. Saves of
// the same key are serialized, and once started a save runs to completion
// or STORE_TIMEOUT regardless of the caller's cancellation. The session is
// never modified, so a failed save can be retried as is.
func (s *AllocationService) Save(ctx context.Context, session *core.EditorSession) error {
	check := session.ValidateForSave()
	if err := check.Err(); err != nil {
		s.reject(ctx, log.OpSave, err)
		return err
	}

	key := session.Key()
	rows := session.Rows()

	unlock := s.locks.Lock(key.String())
	defer unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	err := s.repo.SaveMonth(saveCtx, key, rows)
	s.metrics.ObserveStore(opSaveMonth, time.Since(start), err)
	if err != nil {
		if !errors.Is(err, core.ErrStoreWrite) && !errors.Is(err, core.ErrStoreUnavailable) {
			err = fmt.Errorf("save month %s: %w: %v", key, core.ErrStoreWrite, err)
		}
		s.events.LogError(ctx, "Failed to save month", err, log.ComponentService, log.OpSave,
			log.NewFields().WithMonth(key.EmployeeID, key.Year, key.Month))
		return err
	}

	records := 0
	for _, r := range rows {
		if r.Rate > 0 {
			records++
		}
	}
	s.events.LogMonthSaved(ctx, key.EmployeeID, key.Year, key.Month, records, check.Total)

	s.publish(saveCtx, key, records, check.Total)
	return nil
}

func (s *AllocationService) publish(ctx context.Context, key core.MonthKey, records, total int) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No publisher configured, skipping month saved event",
			log.FieldEmployeeID, key.EmployeeID)
		return
	}
	if err := s.publisher.PublishMonthSaved(ctx, key, records, total); err != nil {
		// The month is committed; the mirror catches up on the next save.
		s.logger.WarnContext(ctx, "Failed to publish month saved event",
			log.FieldOperation, log.OpPublish,
			log.FieldEmployeeID, key.EmployeeID,
			log.FieldYear, key.Year,
			log.FieldMonth, key.Month,
			log.FieldError, err)
	}
}

// Month returns the persisted records of key.
func (s *AllocationService) Month(ctx context.Context, key core.MonthKey) ([]core.ParticipationRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	records, err := s.repo.LoadMonth(ctx, key)
	s.metrics.ObserveStore(opLoadMonth, time.Since(start), err)
	if err != nil {
		err = unavailable("load month "+key.String(), err)
		s.events.LogError(ctx, "Failed to load month", err, log.ComponentService, log.OpLoad,
			log.NewFields().WithMonth(key.EmployeeID, key.Year, key.Month))
		return nil, err
	}
	return records, nil
}

func (s *AllocationService) reject(ctx context.Context, op string, err error) {
	reason := metrics.RejectionReason(err)
	s.metrics.Rejection(reason)
	s.events.LogRejection(ctx, op, reason, err)
}

// Close closes the publisher when it holds a connection.
func (s *AllocationService) Close() error {
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, core.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, core.ErrStoreUnavailable, err)
}
