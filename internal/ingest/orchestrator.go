// Package ingest drives one uploaded batch from raw bytes to a terminal
// status: parse, validate each row, claim its dedup key, create the record,
// then write counters and the error report together.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/dedup"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/metrics"
	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/tabular"
	"github.com/dharsanguruparan/LeadVault/internal/validation"
)

type BatchStore interface {
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	FinishBatch(ctx context.Context, id string, out model.BatchOutcome) (*model.Batch, error)
}

type Blobs interface {
	DownloadRaw(ctx context.Context, objectKey string) ([]byte, error)
	UploadReport(ctx context.Context, objectKey string, data []byte) error
}

type RowValidator interface {
	Row(ctx context.Context, kind model.RecordKind, row tabular.Row, segmentID string) (validation.Result, error)
}

// Creator is the lifecycle constructor for each record kind.
type Creator interface {
	CreateOrganization(ctx context.Context, d *model.OrganizationDraft, actor string, batchID *string) (*model.Organization, error)
	CreatePerson(ctx context.Context, d *model.PersonDraft, actor string, batchID *string) (*model.Person, error)
}

type Options struct {
	MaxFileSize int64
	RowTimeout  time.Duration
	// RetryBackoff is the base delay before the single retry of a row whose
	// write failed for infrastructural reasons.
	RetryBackoff time.Duration
	// InfraFailureThreshold is the number of rows that may exhaust their retry
	// before the batch is aborted as failed.
	InfraFailureThreshold int
}

type Orchestrator struct {
	store     BatchStore
	blobs     Blobs
	validator RowValidator
	creator   Creator
	audit     audit.Emitter
	log       *logger.Logger
	opts      Options
	retry     *retryPolicy
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 10 << 20
	}
	if o.RowTimeout <= 0 {
		o.RowTimeout = 10 * time.Second
	}
	if o.InfraFailureThreshold <= 0 {
		o.InfraFailureThreshold = 5
	}
	return o
}

func NewOrchestrator(store BatchStore, blobs Blobs, validator RowValidator, creator Creator, emitter audit.Emitter, log *logger.Logger, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		store:     store,
		blobs:     blobs,
		validator: validator,
		creator:   creator,
		audit:     emitter,
		log:       log.With("component", "ingest"),
		opts:      opts,
		retry:     newRetryPolicy(opts.RetryBackoff),
	}
}

// run is the mutable state of one Process call.
type run struct {
	batch    *model.Batch
	table    *tabular.Table
	resolver *dedup.Resolver
	valid    int
	invalid  int
	infra    int
	failures []failedRow
	// processed counts rows that reached an outcome, in file order.
	processed int
}

// abandon records every row the batch never reached as invalid so the
// counters still add up and the report lists what to resubmit.
func (r *run) abandon(reason string) {
	for _, row := range r.table.Rows[r.processed:] {
		r.invalid++
		r.failures = append(r.failures, failedRow{
			row:  row,
			errs: []model.RowError{{Row: row.Number, Message: "not processed: " + reason}},
		})
	}
	r.processed = len(r.table.Rows)
}

type failedRow struct {
	row  tabular.Row
	errs []model.RowError
}

// ReportKey is where the error report of a batch is stored.
func ReportKey(batchID string) string {
	return fmt.Sprintf("reports/%s.csv", batchID)
}

// Process runs a batch to completed or failed. Row problems never escape as
// errors; the returned error means the terminal write itself did not land.
// Processing an already terminal batch is a no-op.
func (o *Orchestrator) Process(ctx context.Context, batchID string) (*model.Batch, error) {
	started := time.Now()
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if batch.Status.Terminal() {
		return batch, nil
	}
	log := o.log.With("batch_id", batch.ID, "kind", batch.Kind)
	log.Info("batch started", "file", batch.FileName)

	data, err := o.blobs.DownloadRaw(ctx, batch.ObjectKey)
	if err != nil {
		return o.fail(ctx, log, batch, nil, fmt.Sprintf("download upload: %v", err), started)
	}
	table, err := tabular.Parse(bytes.NewReader(data), batch.Kind, o.opts.MaxFileSize)
	if err != nil {
		return o.fail(ctx, log, batch, nil, err.Error(), started)
	}

	r := &run{batch: batch, table: table, resolver: dedup.NewResolver(batch.Kind)}
	for _, row := range table.Rows {
		if ctx.Err() != nil {
			return o.fail(ctx, log, batch, r, "processing interrupted", started)
		}
		o.processRow(ctx, log, r, row)
		if r.infra >= o.opts.InfraFailureThreshold {
			reason := fmt.Sprintf("%d rows failed on infrastructure errors", r.infra)
			return o.fail(ctx, log, batch, r, reason, started)
		}
	}

	out := model.BatchOutcome{
		Status:      model.BatchCompleted,
		TotalRows:   len(table.Rows),
		ValidRows:   r.valid,
		InvalidRows: r.invalid,
	}
	if r.invalid > 0 {
		key, err := o.storeReport(ctx, r)
		if err != nil {
			reason := fmt.Sprintf("store error report: %v", err)
			out.Status = model.BatchFailed
			out.FailureReason = &reason
			log.Warn("batch failed", "reason", reason)
			return o.finish(ctx, log, batch, out, started)
		}
		out.ErrorReportKey = &key
	}
	return o.finish(ctx, log, batch, out, started)
}

func (o *Orchestrator) processRow(ctx context.Context, log *logger.Logger, r *run, row tabular.Row) {
	rowErrs, err := o.attempt(ctx, r, row)
	if err != nil {
		metrics.RowRetries.WithLabelValues(string(r.batch.Kind)).Inc()
		log.Warn("row write failed, retrying", "row", row.Number, "error", err)
		if sleepErr := o.retry.wait(ctx, 1); sleepErr == nil {
			rowErrs, err = o.attempt(ctx, r, row)
		}
	}
	r.processed++
	if err != nil {
		r.infra++
		log.Error("row write failed after retry", "row", row.Number, "error", err)
		rowErrs = []model.RowError{{Row: row.Number, Message: "could not be saved: " + err.Error()}}
	}
	if len(rowErrs) == 0 {
		r.valid++
		metrics.RowsProcessed.WithLabelValues(string(r.batch.Kind), "valid").Inc()
		return
	}
	r.invalid++
	r.failures = append(r.failures, failedRow{row: row, errs: rowErrs})
	metrics.RowsProcessed.WithLabelValues(string(r.batch.Kind), "invalid").Inc()
}

// attempt validates and writes one row under the per-row timeout. Row errors
// are data; the error return is reserved for infrastructural failures.
func (o *Orchestrator) attempt(ctx context.Context, r *run, row tabular.Row) ([]model.RowError, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RowTimeout)
	defer cancel()

	segmentID := ""
	if r.batch.SegmentID != nil {
		segmentID = *r.batch.SegmentID
	}
	res, err := o.validator.Row(ctx, r.batch.Kind, row, segmentID)
	if err != nil {
		return nil, err
	}
	if !res.Valid() {
		return res.Errors, nil
	}

	actor, batchID := r.batch.CreatedBy, &r.batch.ID
	var (
		key   dedup.Key
		write func(context.Context) error
	)
	switch r.batch.Kind {
	case model.KindOrganization:
		key = dedup.OrganizationKey(res.Organization)
		write = func(ctx context.Context) error {
			_, err := o.creator.CreateOrganization(ctx, res.Organization, actor, batchID)
			return err
		}
	default:
		key = dedup.PersonKey(res.Person)
		write = func(ctx context.Context) error {
			_, err := o.creator.CreatePerson(ctx, res.Person, actor, batchID)
			return err
		}
	}

	err = r.resolver.Claim(ctx, key, row.Number, write)
	var (
		dup  *model.DuplicateKeyError
		gate *model.ParentNotApprovedError
	)
	switch {
	case err == nil:
		return nil, nil
	case errors.As(err, &dup):
		return []model.RowError{{Row: row.Number, Message: dup.Error()}}, nil
	case errors.As(err, &gate):
		return []model.RowError{{Row: row.Number, Column: tabular.ColOrganizationID, Message: gate.Error()}}, nil
	default:
		return nil, err
	}
}

func (o *Orchestrator) storeReport(ctx context.Context, r *run) (string, error) {
	data, err := buildReport(r.table.Schema, r.failures)
	if err != nil {
		return "", err
	}
	key := ReportKey(r.batch.ID)
	err = o.blobs.UploadReport(ctx, key, data)
	if err != nil {
		if waitErr := o.retry.wait(ctx, 1); waitErr != nil {
			return "", err
		}
		err = o.blobs.UploadReport(ctx, key, data)
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *logger.Logger, batch *model.Batch, r *run, reason string, started time.Time) (*model.Batch, error) {
	out := model.BatchOutcome{Status: model.BatchFailed, FailureReason: &reason}
	if r != nil {
		r.abandon(reason)
		out.TotalRows = len(r.table.Rows)
		out.ValidRows = r.valid
		out.InvalidRows = r.invalid
		if r.invalid > 0 {
			key, err := o.storeReport(context.WithoutCancel(ctx), r)
			if err != nil {
				log.Warn("store error report for failed batch", "error", err)
			} else {
				out.ErrorReportKey = &key
			}
		}
	}
	log.Warn("batch failed", "reason", reason)
	return o.finish(ctx, log, batch, out, started)
}

// finish writes the terminal outcome. It runs detached from ctx so a batch
// is not left processing when the caller is shutting down.
func (o *Orchestrator) finish(ctx context.Context, log *logger.Logger, batch *model.Batch, out model.BatchOutcome, started time.Time) (*model.Batch, error) {
	ctx = context.WithoutCancel(ctx)
	done, err := o.store.FinishBatch(ctx, batch.ID, out)
	if err != nil {
		return nil, fmt.Errorf("finish batch %s: %w", batch.ID, err)
	}
	metrics.BatchesFinished.WithLabelValues(string(done.Kind), string(done.Status)).Inc()
	metrics.BatchDuration.WithLabelValues(string(done.Kind)).Observe(time.Since(started).Seconds())
	log.Info("batch finished",
		"status", done.Status, "total", done.TotalRows, "valid", done.ValidRows, "invalid", done.InvalidRows)

	attrs := map[string]string{
		"status":  string(done.Status),
		"total":   fmt.Sprint(done.TotalRows),
		"valid":   fmt.Sprint(done.ValidRows),
		"invalid": fmt.Sprint(done.InvalidRows),
	}
	if err := o.audit.Emit(ctx, audit.Event{Type: audit.BatchFinished, SubjectID: done.ID, Actor: done.CreatedBy, Attributes: attrs}); err != nil {
		log.Warn("audit emit failed", "error", err)
	}
	return done, nil
}
