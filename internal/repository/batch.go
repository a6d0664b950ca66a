package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

const batchColumns = `id, kind, segment_id, file_name, file_size, object_key, status, total_rows, valid_rows,
	invalid_rows, error_report_key, failure_reason, created_by, created_at, updated_at, completed_at`

// CreateBatch inserts a batch in the processing state.
func (s *Store) CreateBatch(ctx context.Context, b *model.Batch) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := s.now()
	b.Status = model.BatchProcessing
	b.CreatedAt = now
	b.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO upload_batches (id, kind, segment_id, file_name, file_size, object_key, status, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, b.ID, string(b.Kind), b.SegmentID, b.FileName, b.FileSize, b.ObjectKey, string(b.Status), b.CreatedBy, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return writeError("insert batch", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM upload_batches WHERE id=$1`, id)
	b, err := scanBatch(row)
	if err != nil {
		return nil, readError("select batch", err)
	}
	return b, nil
}

// FinishBatch writes counters, report key and terminal status in one
// statement, and only while the batch is still processing.
func (s *Store) FinishBatch(ctx context.Context, id string, out model.BatchOutcome) (*model.Batch, error) {
	now := s.now()
	row := s.pool.QueryRow(ctx, `
		UPDATE upload_batches
		SET status=$1,
			total_rows=$2,
			valid_rows=$3,
			invalid_rows=$4,
			error_report_key=$5,
			failure_reason=$6,
			updated_at=$7,
			completed_at=$7
		WHERE id=$8 AND status=$9
		RETURNING `+batchColumns,
		string(out.Status), out.TotalRows, out.ValidRows, out.InvalidRows, out.ErrorReportKey, out.FailureReason,
		now, id, string(model.BatchProcessing))
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.conflict(ctx, "upload_batches", id, model.ErrBatchTerminal)
	}
	if err != nil {
		return nil, fmt.Errorf("finish batch: %w", err)
	}
	return b, nil
}

func scanBatch(row scanner) (*model.Batch, error) {
	var (
		b      model.Batch
		kind   string
		status string
	)
	err := row.Scan(&b.ID, &kind, &b.SegmentID, &b.FileName, &b.FileSize, &b.ObjectKey, &status,
		&b.TotalRows, &b.ValidRows, &b.InvalidRows, &b.ErrorReportKey, &b.FailureReason,
		&b.CreatedBy, &b.CreatedAt, &b.UpdatedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	b.Kind = model.RecordKind(kind)
	b.Status = model.BatchStatus(status)
	return &b, nil
}
