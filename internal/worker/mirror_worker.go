package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"participation/internal/amqp"
	"participation/internal/core"
	"participation/internal/log"
	"participation/internal/store"
)

// Mirror replaces the records of one employee-month in a secondary copy.
type Mirror interface {
	ReplaceMonth(ctx context.Context, key core.MonthKey, records []core.ParticipationRecord) error
}

// Consumer delivers MonthSaved events until ctx is done.
type Consumer interface {
	ConsumeMonthSaved(ctx context.Context, handler func(context.Context, *amqp.MonthSavedMessage) error) error
}

// MirrorWorker copies saved months from the store into the mirror. Messages
// only carry the key, so the worker always mirrors the current state of the
// store and replaying a message is harmless.
type MirrorWorker struct {
	repo    store.AllocationReader
	mirror  Mirror
	timeout time.Duration
	logger  *log.Logger
}

func NewMirrorWorker(repo store.AllocationReader, mirror Mirror, timeout time.Duration, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &MirrorWorker{
		repo:    repo,
		mirror:  mirror,
		timeout: timeout,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// HandleMonthSaved processes a single MonthSaved message from AMQP.
func (w *MirrorWorker) HandleMonthSaved(ctx context.Context, msg *amqp.MonthSavedMessage) error {
	w.logger.InfoContext(ctx, "Processing month saved message",
		log.FieldEmployeeID, msg.EmployeeID,
		log.FieldYear, msg.Year,
		log.FieldMonth, msg.Month,
		log.FieldRecords, msg.RecordCount)

	return w.MirrorMonth(ctx, msg.Key())
}

// MirrorMonth reloads key from the store and replaces it in the mirror.
func (w *MirrorWorker) MirrorMonth(ctx context.Context, key core.MonthKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	records, err := w.repo.LoadMonth(ctx, key)
	if err != nil {
		return fmt.Errorf("load month %s: %w", key, err)
	}

	if err := w.mirror.ReplaceMonth(ctx, key, records); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mirror month",
			log.FieldEmployeeID, key.EmployeeID,
			log.FieldYear, key.Year,
			log.FieldMonth, key.Month,
			log.FieldError, err)
		return fmt.Errorf("mirror month %s: %w", key, err)
	}

	w.logger.InfoContext(ctx, "Successfully mirrored month",
		log.FieldEmployeeID, key.EmployeeID,
		log.FieldYear, key.Year,
		log.FieldMonth, key.Month,
		log.FieldRecords, len(records),
		log.FieldTotalRate, core.SumRates(records))
	return nil
}

// Resync mirrors each key once, typically at startup to recover from missed
// messages. It keeps going after a failure and reports every error.
func (w *MirrorWorker) Resync(ctx context.Context, keys []core.MonthKey) error {
	if len(keys) == 0 {
		return nil
	}

	w.logger.InfoContext(ctx, "Resyncing months", "count", len(keys))

	var errs []error
	synced := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := w.MirrorMonth(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		synced++
	}

	w.logger.InfoContext(ctx, "Resync completed",
		"total", len(keys),
		"synced", synced,
		"errors", len(errs))
	return errors.Join(errs...)
}

// Run consumes MonthSaved events until ctx is cancelled.
func (w *MirrorWorker) Run(ctx context.Context, consumer Consumer) error {
	w.logger.InfoContext(ctx, "Mirror worker started")
	err := consumer.ConsumeMonthSaved(ctx, w.HandleMonthSaved)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
