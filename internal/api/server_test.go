package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LeadVault/internal/assignment"
	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/authz"
	"github.com/dharsanguruparan/LeadVault/internal/config"
	"github.com/dharsanguruparan/LeadVault/internal/ingest"
	"github.com/dharsanguruparan/LeadVault/internal/lifecycle"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/signing"
	"github.com/dharsanguruparan/LeadVault/internal/storage"
	"github.com/dharsanguruparan/LeadVault/internal/validation"
)

// inlineDispatcher processes a batch before the upload call returns so
// tests can read the terminal state right away.
type inlineDispatcher struct {
	orchestrator *ingest.Orchestrator
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, batchID string) error {
	_, err := d.orchestrator.Process(ctx, batchID)
	return err
}

type fakeSweeps struct {
	err   error
	calls int
}

func (f *fakeSweeps) TriggerSweep(context.Context) error {
	f.calls++
	return f.err
}

type testEnv struct {
	handler http.Handler
	store   *storage.MemoryStore
	sweeps  *fakeSweeps
	segment string
}

func newTestEnv(t *testing.T, maxFileSize int64) *testEnv {
	t.Helper()
	cfg := &config.Config{MaxFileSize: maxFileSize, SignedURLTTL: time.Minute}
	log := logger.NewNop()
	store := storage.NewMemoryStore()
	blobs := storage.NewMemoryBlobs()
	rec := &audit.Recorder{}
	svc := lifecycle.New(store, rec, log)
	validator := validation.New(store)
	orch := ingest.NewOrchestrator(store, blobs, validator, svc, rec, log, ingest.Options{MaxFileSize: maxFileSize})
	policy, err := authz.NewPolicy("test", authz.DefaultMatrix)
	require.NoError(t, err)
	sweeps := &fakeSweeps{}

	seg := &model.Segment{Name: "EMEA"}
	require.NoError(t, store.CreateSegment(context.Background(), seg))

	srv := New(cfg, Deps{
		Store:       store,
		Intake:      ingest.NewIntake(store, blobs, &inlineDispatcher{orchestrator: orch}, log),
		Validator:   validator,
		Lifecycle:   svc,
		Assignments: assignment.NewEngine(store, assignment.StoreCheckers(store), rec, log),
		Sweeps:      sweeps,
		Reports:     blobs,
		Signer:      signing.NewSigner([]byte("secret"), time.Minute),
		Authz:       policy,
	}, log)
	return &testEnv{handler: srv.Handler(), store: store, sweeps: sweeps, segment: seg.ID}
}

func (e *testEnv) do(t *testing.T, role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(headerActorID, "user-"+role)
		req.Header.Set(headerActorRole, role)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) upload(t *testing.T, role string, fields map[string]string, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", "leads.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/batches", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(headerActorID, "user-"+role)
	req.Header.Set(headerActorRole, role)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e *testEnv) createOrganization(t *testing.T, name, website string, approve bool) model.Organization {
	t.Helper()
	rr := e.do(t, "manager", http.MethodPost, "/organizations", map[string]interface{}{
		"segmentId": e.segment, "name": name, "website": website,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	org := decodeBody[model.Organization](t, rr)
	if approve {
		rr = e.do(t, "manager", http.MethodPost, "/organizations/"+org.ID+"/approve", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		org = decodeBody[model.Organization](t, rr)
	}
	return org
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	assert.Equal(t, http.StatusOK, env.do(t, "", http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, "", http.MethodGet, "/metrics", nil).Code)
}

func TestActorAndPermissions(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	rr := env.do(t, "", http.MethodPost, "/segments", map[string]string{"name": "APAC"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, "rep", http.MethodPost, "/segments", map[string]string{"name": "APAC"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, "manager", http.MethodPost, "/segments", map[string]string{"name": "APAC"})
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = env.upload(t, "rep", map[string]string{"kind": "organization", "segment_id": env.segment}, "name,website\nAcme,acme.com\n")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestUploadAndReport(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	content := "name,website\nAcme,acme.com\n,globex.com\nInitech,initech.com\n"

	rr := env.upload(t, "manager", map[string]string{"kind": "organization", "segment_id": env.segment}, content)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	accepted := decodeBody[batchResponse](t, rr)
	assert.Equal(t, model.BatchProcessing, accepted.Status)

	rr = env.do(t, "viewer", http.MethodGet, "/batches/"+accepted.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody[batchResponse](t, rr)
	assert.Equal(t, model.BatchCompleted, got.Status)
	assert.Equal(t, 3, got.TotalRows)
	assert.Equal(t, 2, got.ValidRows)
	assert.Equal(t, 1, got.InvalidRows)
	require.NotEmpty(t, got.ReportURL)

	link, err := url.Parse(got.ReportURL)
	require.NoError(t, err)
	rr = env.do(t, "", http.MethodGet, link.RequestURI(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "2,name,"))

	t.Run("tampered link", func(t *testing.T) {
		q := link.Query()
		q.Set("signature", "00")
		rr := env.do(t, "", http.MethodGet, link.Path+"?"+q.Encode(), nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t, 64)

	rr := env.upload(t, "manager", map[string]string{"kind": "organization"}, "name,website\nAcme,acme.com\n")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = env.upload(t, "manager", map[string]string{"kind": "invoice"}, "name,website\n")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	t.Run("oversize file fails its batch", func(t *testing.T) {
		rr := env.upload(t, "manager", map[string]string{"kind": "organization", "segment_id": env.segment}, strings.Repeat("x", 200))
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
		got := decodeBody[batchResponse](t, rr)
		assert.Equal(t, model.BatchFailed, got.Status)
		require.NotNil(t, got.FailureReason)
		assert.Equal(t, "file exceeds 64 bytes", *got.FailureReason)
		assert.Equal(t, int64(200), got.FileSize)

		rr = env.do(t, "viewer", http.MethodGet, "/batches/"+got.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, model.BatchFailed, decodeBody[batchResponse](t, rr).Status)
	})

	t.Run("empty file fails its batch", func(t *testing.T) {
		rr := env.upload(t, "manager", map[string]string{"kind": "organization", "segment_id": env.segment}, "")
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
		id := decodeBody[batchResponse](t, rr).ID

		rr = env.do(t, "viewer", http.MethodGet, "/batches/"+id, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		got := decodeBody[batchResponse](t, rr)
		assert.Equal(t, model.BatchFailed, got.Status)
		require.NotNil(t, got.FailureReason)
		assert.Contains(t, *got.FailureReason, "empty")
	})

	t.Run("unreadable request body", func(t *testing.T) {
		rr := env.upload(t, "manager", map[string]string{"kind": "organization", "segment_id": env.segment}, strings.Repeat("x", 2<<20))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})
}

// countingReader reports how much of a request body the server consumed.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// fileFirstUpload builds a form whose file part precedes the kind field.
func (e *testEnv) fileFirstUpload(t *testing.T, role, kind string, size int) (*httptest.ResponseRecorder, int) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "leads.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(strings.Repeat("x", size)))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("kind", kind))
	require.NoError(t, mw.WriteField("segment_id", e.segment))
	require.NoError(t, mw.Close())

	body := &countingReader{r: &buf}
	req := httptest.NewRequest(http.MethodPost, "/batches", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(headerActorID, "user-"+role)
	req.Header.Set(headerActorRole, role)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr, body.n
}

func TestUploadCapabilityCheckedBeforeFileIsRead(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	const size = 512 << 10

	rr, consumed := env.fileFirstUpload(t, "viewer", "organization", size)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Less(t, consumed, 64<<10)

	// a rep may upload persons, so the file is read before the kind rules it out
	rr, _ = env.fileFirstUpload(t, "rep", "organization", 16)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.upload(t, "viewer", map[string]string{"kind": "person"}, "organization_id,first_name\n")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestOrganizationLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	org := env.createOrganization(t, "Acme", "acme.com", true)
	assert.Equal(t, model.OrganizationApproved, org.Status)

	rr := env.do(t, "manager", http.MethodPost, "/organizations/"+org.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, "manager", http.MethodPost, "/organizations", map[string]string{
		"segmentId": env.segment, "name": " ACME ", "website": "https://www.acme.com",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	pending := env.createOrganization(t, "Globex", "globex.com", false)
	rr = env.do(t, "manager", http.MethodPost, "/organizations/"+pending.ID+"/reject", map[string]string{"reason": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = env.do(t, "manager", http.MethodPost, "/organizations/"+pending.ID+"/reject", map[string]string{"reason": "shell company"})
	require.Equal(t, http.StatusOK, rr.Code)
	rejected := decodeBody[model.Organization](t, rr)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "shell company", *rejected.RejectionReason)

	rr = env.do(t, "manager", http.MethodPost, "/organizations", map[string]string{"segmentId": env.segment})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decodeBody[errorBody](t, rr)
	assert.NotEmpty(t, body.Details)

	rr = env.do(t, "viewer", http.MethodGet, "/organizations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPersonLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	pending := env.createOrganization(t, "Globex", "globex.com", false)

	rr := env.do(t, "rep", http.MethodPost, "/persons", map[string]string{
		"organizationId": pending.ID, "firstName": "Jane", "lastName": "Doe", "email": "jane@globex.com",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	org := env.createOrganization(t, "Acme", "acme.com", true)
	rr = env.do(t, "rep", http.MethodPost, "/persons", map[string]string{
		"organizationId": org.ID, "firstName": "Jane", "lastName": "Doe", "email": "jane@acme.com",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	person := decodeBody[model.Person](t, rr)
	assert.Equal(t, model.PersonUploaded, person.Status)
	assert.Equal(t, env.segment, person.SegmentID)

	rr = env.do(t, "manager", http.MethodPost, "/persons/"+person.ID+"/assign", map[string]string{"ownerId": "u1"})
	assert.Equal(t, http.StatusConflict, rr.Code, "cannot skip approval")

	rr = env.do(t, "manager", http.MethodPost, "/persons/approve", map[string][]string{"ids": {person.ID, "missing"}})
	require.Equal(t, http.StatusOK, rr.Code)
	bulk := decodeBody[bulkPersonsResponse](t, rr)
	assert.Equal(t, 1, bulk.Succeeded)
	assert.Equal(t, 1, bulk.Failed)

	rr = env.do(t, "manager", http.MethodPost, "/persons/"+person.ID+"/assign", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = env.do(t, "manager", http.MethodPost, "/persons/"+person.ID+"/assign", map[string]string{"ownerId": "u1"})
	require.Equal(t, http.StatusOK, rr.Code)

	at := time.Date(2030, 1, 2, 15, 0, 0, 0, time.UTC)
	rr = env.do(t, "rep", http.MethodPost, "/persons/"+person.ID+"/schedule", map[string]time.Time{"meetingAt": at})
	require.Equal(t, http.StatusOK, rr.Code)
	scheduled := decodeBody[model.Person](t, rr)
	assert.Equal(t, model.PersonScheduled, scheduled.Status)
	require.NotNil(t, scheduled.MeetingScheduledAt)
	assert.True(t, at.Equal(*scheduled.MeetingScheduledAt))
}

func TestAssignmentEndpoints(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	org := env.createOrganization(t, "Acme", "acme.com", true)

	var ids []string
	for _, email := range []string{"a@acme.com", "b@acme.com", "c@acme.com", "d@acme.com", "e@acme.com"} {
		rr := env.do(t, "rep", http.MethodPost, "/persons", map[string]string{
			"organizationId": org.ID, "firstName": "P", "lastName": "Q", "email": email,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		ids = append(ids, decodeBody[model.Person](t, rr).ID)
	}
	for _, id := range ids[:2] {
		rr := env.do(t, "manager", http.MethodPost, "/assignments", map[string]string{
			"subjectKind": "person", "subjectId": id, "ownerId": "owner-1",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	rr := env.do(t, "manager", http.MethodPost, "/assignments", map[string]string{
		"subjectKind": "person", "subjectId": ids[0], "ownerId": "owner-1",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, "manager", http.MethodPost, "/assignments", map[string]string{
		"subjectKind": "organization", "subjectId": "nope", "ownerId": "owner-1",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, "manager", http.MethodPost, "/assignments/bulk", map[string]interface{}{
		"subjectKind": "person", "subjectIds": ids, "ownerId": "owner-1",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	res := decodeBody[assignment.BulkResult](t, rr)
	assert.Equal(t, 3, res.Created)
	assert.Len(t, res.Skipped, 2)
	assert.Empty(t, res.Failures)

	rr = env.do(t, "viewer", http.MethodGet, "/assignments?subjectKind=person&subjectId="+ids[0], nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.Assignment](t, rr), 1)
}

func TestTriggerSweep(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	rr := env.do(t, "manager", http.MethodPost, "/sweeps", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, "admin", http.MethodPost, "/sweeps", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	env.sweeps.err = model.ErrSweepInProgress
	rr = env.do(t, "admin", http.MethodPost, "/sweeps", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, env.sweeps.calls)
}
