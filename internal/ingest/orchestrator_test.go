package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/lifecycle"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/storage"
	"github.com/dharsanguruparan/LeadVault/internal/validation"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, batchID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, batchID)
	return d.err
}

// flakyCreator fails the first n writes with an infrastructural error.
type flakyCreator struct {
	Creator
	mu    sync.Mutex
	fails int
	calls int
	// failAfter, when set, lets that many calls through before failing for good.
	failAfter int
}

func (f *flakyCreator) CreateOrganization(ctx context.Context, d *model.OrganizationDraft, actor string, batchID *string) (*model.Organization, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fails != 0
	if f.fails > 0 {
		f.fails--
	}
	if f.failAfter > 0 {
		fail = f.calls > f.failAfter
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return f.Creator.CreateOrganization(ctx, d, actor, batchID)
}

type harness struct {
	store     *storage.MemoryStore
	blobs     *storage.MemoryBlobs
	lifecycle *lifecycle.Service
	intake    *Intake
	dispatch  *recordingDispatcher
	recorder  *audit.Recorder
	segment   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := storage.NewMemoryStore()
	blobs := storage.NewMemoryBlobs()
	rec := &audit.Recorder{}
	dispatch := &recordingDispatcher{}
	seg := &model.Segment{Name: "North America"}
	require.NoError(t, store.CreateSegment(context.Background(), seg))
	return &harness{
		store:     store,
		blobs:     blobs,
		lifecycle: lifecycle.New(store, rec, logger.NewNop()),
		intake:    NewIntake(store, blobs, dispatch, logger.NewNop()),
		dispatch:  dispatch,
		recorder:  rec,
		segment:   seg.ID,
	}
}

func (h *harness) orchestrator(creator Creator, opts Options) *Orchestrator {
	if creator == nil {
		creator = h.lifecycle
	}
	return NewOrchestrator(h.store, h.blobs, validation.New(h.store), creator, h.recorder, logger.NewNop(), opts)
}

func (h *harness) submit(t *testing.T, kind model.RecordKind, content string) *model.Batch {
	t.Helper()
	b, err := h.intake.Submit(context.Background(), Upload{
		Kind:      kind,
		SegmentID: h.segment,
		FileName:  "upload.csv",
		Size:      int64(len(content)),
		Body:      strings.NewReader(content),
		Actor:     "uploader",
	})
	require.NoError(t, err)
	require.Equal(t, model.BatchProcessing, b.Status)
	return b
}

func (h *harness) report(t *testing.T, b *model.Batch) [][]string {
	t.Helper()
	require.NotNil(t, b.ErrorReportKey)
	data, err := h.blobs.DownloadReport(context.Background(), *b.ErrorReportKey)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestThreeRowBatchWithOneInvalid(t *testing.T) {
	h := newHarness(t)
	b := h.submit(t, model.KindOrganization, "name,website,city\nAcme,acme.com,Austin\n,globex.com,Boston\nInitech,initech.com,Dallas\n")

	done, err := h.orchestrator(nil, Options{}).Process(context.Background(), b.ID)
	require.NoError(t, err)

	assert.Equal(t, model.BatchCompleted, done.Status)
	assert.Equal(t, 3, done.TotalRows)
	assert.Equal(t, 2, done.ValidRows)
	assert.Equal(t, 1, done.InvalidRows)
	assert.Equal(t, done.TotalRows, done.ValidRows+done.InvalidRows)
	assert.NotNil(t, done.CompletedAt)

	records := h.report(t, done)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"row", "error_columns", "error_message", "name", "website", "industry", "phone", "city", "country", "description", "founded_year", "employee_count"}, records[0])
	assert.Equal(t, "2", records[1][0])
	assert.Equal(t, "name", records[1][1])
	assert.Contains(t, records[1][2], "is required")
	assert.Equal(t, "globex.com", records[1][4])

	orgs, err := h.store.ListOrganizationsForSweep(context.Background())
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	for _, o := range orgs {
		assert.Equal(t, model.OrganizationPending, o.Status)
		assert.Equal(t, b.ID, *o.BatchID)
		assert.Equal(t, h.segment, o.SegmentID)
	}
	assert.Equal(t, 1, h.recorder.Count(audit.BatchFinished))
}

func TestDuplicatePairInOneFile(t *testing.T) {
	rows := []string{"Acme Corp,https://www.acme.com/", "  ACME   corp ,acme.com"}
	for _, order := range [][]string{{rows[0], rows[1]}, {rows[1], rows[0]}} {
		t.Run(order[0], func(t *testing.T) {
			h := newHarness(t)
			b := h.submit(t, model.KindOrganization, "name,website\n"+order[0]+"\n"+order[1]+"\n")

			done, err := h.orchestrator(nil, Options{}).Process(context.Background(), b.ID)
			require.NoError(t, err)
			assert.Equal(t, model.BatchCompleted, done.Status)
			assert.Equal(t, 1, done.ValidRows)
			assert.Equal(t, 1, done.InvalidRows)

			records := h.report(t, done)
			require.Len(t, records, 2)
			assert.Equal(t, "2", records[1][0])
			assert.Contains(t, records[1][2], "same key as row 1")
		})
	}
}

func TestDuplicateAgainstCommittedRecord(t *testing.T) {
	h := newHarness(t)
	first := h.submit(t, model.KindOrganization, "name,website\nAcme,acme.com\n")
	second := h.submit(t, model.KindOrganization, "name,website\nACME,http://acme.com\nGlobex,globex.com\n")
	o := h.orchestrator(nil, Options{})

	_, err := o.Process(context.Background(), first.ID)
	require.NoError(t, err)
	done, err := o.Process(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.ValidRows)
	assert.Equal(t, 1, done.InvalidRows)
	records := h.report(t, done)
	assert.Contains(t, records[1][2], "already exists")
}

func TestConcurrentBatchesSameSegment(t *testing.T) {
	h := newHarness(t)
	content := "name,website\nAcme,acme.com\nGlobex,globex.com\nInitech,initech.com\n"
	const batches = 6
	ids := make([]string, batches)
	for i := range ids {
		ids[i] = h.submit(t, model.KindOrganization, content).ID
	}
	o := h.orchestrator(nil, Options{})

	var wg sync.WaitGroup
	results := make([]*model.Batch, batches)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			b, err := o.Process(context.Background(), id)
			assert.NoError(t, err)
			results[i] = b
		}(i, id)
	}
	wg.Wait()

	valid, invalid := 0, 0
	for _, b := range results {
		require.NotNil(t, b)
		assert.Equal(t, model.BatchCompleted, b.Status)
		assert.Equal(t, 3, b.TotalRows)
		valid += b.ValidRows
		invalid += b.InvalidRows
	}
	assert.Equal(t, 3, valid)
	assert.Equal(t, 3*batches-3, invalid)

	orgs, err := h.store.ListOrganizationsForSweep(context.Background())
	require.NoError(t, err)
	assert.Len(t, orgs, 3)
}

func TestMalformedFileFailsBatch(t *testing.T) {
	h := newHarness(t)
	b := h.submit(t, model.KindOrganization, "city,country\nParis,France\n")

	done, err := h.orchestrator(nil, Options{}).Process(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, done.Status)
	require.NotNil(t, done.FailureReason)
	assert.Contains(t, *done.FailureReason, "missing required header columns")
	assert.Zero(t, done.TotalRows)
	assert.Nil(t, done.ErrorReportKey)
}

func TestInfrastructureFailures(t *testing.T) {
	t.Run("one retry recovers the row", func(t *testing.T) {
		h := newHarness(t)
		b := h.submit(t, model.KindOrganization, "name,website\nAcme,acme.com\nGlobex,globex.com\n")
		creator := &flakyCreator{Creator: h.lifecycle, fails: 1}

		done, err := h.orchestrator(creator, Options{RetryBackoff: time.Millisecond}).Process(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchCompleted, done.Status)
		assert.Equal(t, 2, done.ValidRows)
		assert.Equal(t, 3, creator.calls)
	})

	t.Run("exhausted retry counts the row invalid", func(t *testing.T) {
		h := newHarness(t)
		b := h.submit(t, model.KindOrganization, "name,website\nAcme,acme.com\nGlobex,globex.com\n")
		creator := &flakyCreator{Creator: h.lifecycle, fails: 2}

		done, err := h.orchestrator(creator, Options{InfraFailureThreshold: 3}).Process(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchCompleted, done.Status)
		assert.Equal(t, 1, done.ValidRows)
		assert.Equal(t, 1, done.InvalidRows)
		records := h.report(t, done)
		assert.Equal(t, "1", records[1][0])
		assert.Contains(t, records[1][2], "could not be saved")
	})

	t.Run("threshold aborts the batch", func(t *testing.T) {
		h := newHarness(t)
		b := h.submit(t, model.KindOrganization, "name,website\nA,a.com\nB,b.com\nC,c.com\nD,d.com\nE,e.com\n")
		creator := &flakyCreator{Creator: h.lifecycle, fails: -1}

		done, err := h.orchestrator(creator, Options{InfraFailureThreshold: 2}).Process(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchFailed, done.Status)
		require.NotNil(t, done.FailureReason)
		assert.Contains(t, *done.FailureReason, "2 rows failed")
		assert.Equal(t, 4, creator.calls)
		assert.Equal(t, 5, done.TotalRows)
		assert.Equal(t, 0, done.ValidRows)
		assert.Equal(t, 5, done.InvalidRows)
		assert.Equal(t, done.TotalRows, done.ValidRows+done.InvalidRows)

		records := h.report(t, done)
		require.Len(t, records, 6)
		assert.Contains(t, records[1][2], "could not be saved")
		assert.Contains(t, records[2][2], "could not be saved")
		for i, rec := range records[3:] {
			assert.Equal(t, strconv.Itoa(i+3), rec[0])
			assert.Contains(t, rec[2], "not processed")
		}
	})

	t.Run("abort after valid rows keeps their count", func(t *testing.T) {
		h := newHarness(t)
		b := h.submit(t, model.KindOrganization, "name,website\nA,a.com\nB,b.com\nC,c.com\nD,d.com\n")
		creator := &flakyCreator{Creator: h.lifecycle, failAfter: 1}

		done, err := h.orchestrator(creator, Options{InfraFailureThreshold: 1}).Process(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchFailed, done.Status)
		assert.Equal(t, 4, done.TotalRows)
		assert.Equal(t, 1, done.ValidRows)
		assert.Equal(t, 3, done.InvalidRows)
		assert.Len(t, h.report(t, done), 4)
	})
}

func TestPersonBatchParentGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	approved, err := h.lifecycle.CreateOrganization(ctx, &model.OrganizationDraft{SegmentID: h.segment, Name: "Acme", NameKey: "acme", WebsiteKey: "acme.com"}, "u", nil)
	require.NoError(t, err)
	_, err = h.lifecycle.ApproveOrganization(ctx, approved.ID, "reviewer")
	require.NoError(t, err)
	pending, err := h.lifecycle.CreateOrganization(ctx, &model.OrganizationDraft{SegmentID: h.segment, Name: "Globex", NameKey: "globex", WebsiteKey: "globex.com"}, "u", nil)
	require.NoError(t, err)

	content := "organization_id,first_name,last_name,email\n" +
		approved.ID + ",Jane,Doe,jane@acme.com\n" +
		pending.ID + ",John,Roe,john@globex.com\n" +
		approved.ID + ",Janet,Doe,JANE@acme.com\n"
	b := h.submit(t, model.KindPerson, content)
	assert.Nil(t, b.SegmentID)

	done, err := h.orchestrator(nil, Options{}).Process(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.ValidRows)
	assert.Equal(t, 2, done.InvalidRows)

	records := h.report(t, done)
	require.Len(t, records, 3)
	assert.Equal(t, "2", records[1][0])
	assert.Equal(t, "organization_id", records[1][1])
	assert.Equal(t, "3", records[2][0])
	assert.Contains(t, records[2][2], "same key as row 1")

	persons, err := h.store.ListPersonsForSweep(ctx)
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, h.segment, persons[0].SegmentID)
	assert.Equal(t, model.PersonUploaded, persons[0].Status)
}

func TestProcessTerminalBatchIsNoop(t *testing.T) {
	h := newHarness(t)
	b := h.submit(t, model.KindOrganization, "name,website\nAcme,acme.com\n")
	o := h.orchestrator(nil, Options{})

	first, err := o.Process(context.Background(), b.ID)
	require.NoError(t, err)
	again, err := o.Process(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ValidRows, again.ValidRows)
	assert.Equal(t, 1, h.recorder.Count(audit.BatchFinished))
}

func TestIntake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.intake.Submit(ctx, Upload{Kind: model.KindOrganization, Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrSegmentRequired)

	_, err = h.intake.Submit(ctx, Upload{Kind: model.KindOrganization, SegmentID: "nope", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrUnknownSegment)

	b := h.submit(t, model.KindOrganization, "name,website\nAcme,acme.com\n")
	assert.Contains(t, h.dispatch.ids, b.ID)
	raw, err := h.blobs.DownloadRaw(ctx, b.ObjectKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Acme")

	h.dispatch.err = errors.New("queue unavailable")
	failed, err := h.intake.Submit(ctx, Upload{Kind: model.KindOrganization, SegmentID: h.segment, FileName: "x.csv", Body: strings.NewReader("name,website\n")})
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, failed.Status)
}

// brokenBatchStore refuses to insert batches.
type brokenBatchStore struct {
	*storage.MemoryStore
}

func (brokenBatchStore) CreateBatch(context.Context, *model.Batch) error {
	return errors.New("connection refused")
}

// keyRecordingBlobs remembers the last raw object key written.
type keyRecordingBlobs struct {
	*storage.MemoryBlobs
	lastKey string
}

func (b *keyRecordingBlobs) UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	b.lastKey = objectKey
	return b.MemoryBlobs.UploadRaw(ctx, objectKey, reader, size, contentType)
}

func TestIntakeRemovesUploadWhenBatchInsertFails(t *testing.T) {
	h := newHarness(t)
	blobs := &keyRecordingBlobs{MemoryBlobs: h.blobs}
	intake := NewIntake(brokenBatchStore{MemoryStore: h.store}, blobs, h.dispatch, logger.NewNop())

	_, err := intake.Submit(context.Background(), Upload{
		Kind:      model.KindOrganization,
		SegmentID: h.segment,
		FileName:  "leads.csv",
		Body:      strings.NewReader("name,website\nAcme,acme.com\n"),
	})
	require.Error(t, err)
	require.NotEmpty(t, blobs.lastKey)

	_, err = h.blobs.DownloadRaw(context.Background(), blobs.lastKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.Empty(t, h.dispatch.ids)
}

func TestIntakeReject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.intake.Reject(ctx, Upload{Kind: model.KindOrganization}, "file exceeds 64 bytes")
	assert.ErrorIs(t, err, ErrSegmentRequired)

	b, err := h.intake.Reject(ctx, Upload{Kind: model.KindOrganization, SegmentID: h.segment, FileName: "big.csv", Size: 900, Actor: "uploader"}, "file exceeds 64 bytes")
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, b.Status)
	require.NotNil(t, b.FailureReason)
	assert.Equal(t, "file exceeds 64 bytes", *b.FailureReason)
	assert.Equal(t, int64(900), b.FileSize)
	assert.Zero(t, b.TotalRows)
	assert.Empty(t, h.dispatch.ids)

	got, err := h.store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, got.Status)
}

func TestEmptyUploadFailsBatch(t *testing.T) {
	h := newHarness(t)
	b := h.submit(t, model.KindOrganization, "")

	done, err := h.orchestrator(nil, Options{}).Process(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, done.Status)
	require.NotNil(t, done.FailureReason)
	assert.Contains(t, *done.FailureReason, "empty")
}
