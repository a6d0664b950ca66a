package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/model"
)

var (
	ErrSegmentRequired = errors.New("organization uploads require a segment")
	ErrUnknownSegment  = errors.New("segment does not exist")
)

type IntakeStore interface {
	GetSegment(ctx context.Context, id string) (*model.Segment, error)
	CreateBatch(ctx context.Context, b *model.Batch) error
	FinishBatch(ctx context.Context, id string, out model.BatchOutcome) (*model.Batch, error)
}

type RawUploader interface {
	UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	DeleteRaw(ctx context.Context, objectKey string) error
}

// Dispatcher hands a created batch to whatever processes it in the
// background.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID string) error
}

// Upload is one accepted file.
type Upload struct {
	Kind        model.RecordKind
	SegmentID   string
	FileName    string
	Size        int64
	ContentType string
	Body        io.Reader
	Actor       string
}

// Intake records uploads as batches and dispatches them. The caller gets the
// batch back in processing before any row has been read.
type Intake struct {
	store      IntakeStore
	blobs      RawUploader
	dispatcher Dispatcher
	log        *logger.Logger
}

func NewIntake(store IntakeStore, blobs RawUploader, dispatcher Dispatcher, log *logger.Logger) *Intake {
	return &Intake{store: store, blobs: blobs, dispatcher: dispatcher, log: log.With("component", "intake")}
}

// Submit stores the raw file, records the batch in processing and
// dispatches it.
func (in *Intake) Submit(ctx context.Context, up Upload) (*model.Batch, error) {
	batch, err := in.newBatch(ctx, up)
	if err != nil {
		return nil, err
	}
	batch.ObjectKey = fmt.Sprintf("uploads/%s/%s", batch.ID, batch.FileName)
	if err := in.blobs.UploadRaw(ctx, batch.ObjectKey, up.Body, up.Size, up.ContentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := in.store.CreateBatch(ctx, batch); err != nil {
		if delErr := in.blobs.DeleteRaw(context.WithoutCancel(ctx), batch.ObjectKey); delErr != nil {
			in.log.Warn("orphaned upload", "object_key", batch.ObjectKey, "error", delErr)
		}
		return nil, fmt.Errorf("create batch: %w", err)
	}

	if err := in.dispatcher.Dispatch(ctx, batch.ID); err != nil {
		in.log.Error("dispatch failed", "batch_id", batch.ID, "error", err)
		failed, finishErr := in.fail(ctx, batch.ID, "could not schedule processing")
		if finishErr != nil {
			return nil, fmt.Errorf("dispatch batch: %w", err)
		}
		return failed, nil
	}
	in.log.Info("batch accepted", "batch_id", batch.ID, "kind", batch.Kind, "file", batch.FileName, "size", up.Size)
	return batch, nil
}

// Reject records an upload that cannot be processed as a batch that failed
// straight away, so polling reports the reason. Nothing is stored.
func (in *Intake) Reject(ctx context.Context, up Upload, reason string) (*model.Batch, error) {
	batch, err := in.newBatch(ctx, up)
	if err != nil {
		return nil, err
	}
	if err := in.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	in.log.Info("batch rejected", "batch_id", batch.ID, "kind", batch.Kind, "reason", reason)
	failed, err := in.fail(ctx, batch.ID, reason)
	if err != nil {
		return nil, fmt.Errorf("fail batch: %w", err)
	}
	return failed, nil
}

func (in *Intake) newBatch(ctx context.Context, up Upload) (*model.Batch, error) {
	var segmentID *string
	if up.Kind == model.KindOrganization {
		seg := strings.TrimSpace(up.SegmentID)
		if seg == "" {
			return nil, ErrSegmentRequired
		}
		if _, err := in.store.GetSegment(ctx, seg); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownSegment, seg)
			}
			return nil, fmt.Errorf("load segment: %w", err)
		}
		segmentID = &seg
	}
	name := filepath.Base(up.FileName)
	if name == "." || name == "/" || name == "" {
		name = "upload.csv"
	}
	return &model.Batch{
		ID:        uuid.NewString(),
		Kind:      up.Kind,
		SegmentID: segmentID,
		FileName:  name,
		FileSize:  up.Size,
		CreatedBy: up.Actor,
	}, nil
}

func (in *Intake) fail(ctx context.Context, batchID, reason string) (*model.Batch, error) {
	return in.store.FinishBatch(context.WithoutCancel(ctx), batchID, model.BatchOutcome{
		Status:        model.BatchFailed,
		FailureReason: &reason,
	})
}
