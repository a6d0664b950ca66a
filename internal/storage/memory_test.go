package storage

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

func TestOrganizationUniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	first := &model.Organization{SegmentID: "s1", NameKey: "acme", WebsiteKey: "acme.com", Status: model.OrganizationPending}
	require.NoError(t, m.CreateOrganization(ctx, first))
	assert.NotEmpty(t, first.ID)

	err := m.CreateOrganization(ctx, &model.Organization{SegmentID: "s1", NameKey: "acme", WebsiteKey: "acme.com", Status: model.OrganizationPending})
	assert.ErrorIs(t, err, model.ErrUniqueViolation)

	require.NoError(t, m.CreateOrganization(ctx, &model.Organization{SegmentID: "s2", NameKey: "acme", WebsiteKey: "acme.com", Status: model.OrganizationPending}))

	_, err = m.TransitionOrganization(ctx, first.ID, model.OrganizationPending, model.OrganizationRejected, model.OrganizationChange{Actor: "u", Reason: "spam", At: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, m.CreateOrganization(ctx, &model.Organization{SegmentID: "s1", NameKey: "acme", WebsiteKey: "acme.com", Status: model.OrganizationPending}),
		"a rejected record no longer holds its key")
}

func TestConcurrentInsertsOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	var wg sync.WaitGroup
	results := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.CreatePerson(ctx, &model.Person{OrganizationID: "o1", EmailKey: "jane@example.com", Status: model.PersonUploaded})
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, model.ErrUniqueViolation)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestTransitionCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	p := &model.Person{OrganizationID: "o1", EmailKey: "a@b.c", Status: model.PersonApproved}
	require.NoError(t, m.CreatePerson(ctx, p))

	got, err := m.TransitionPerson(ctx, p.ID, model.PersonApproved, model.PersonOwned, model.PersonChange{OwnerID: "owner-1", At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, model.PersonOwned, got.Status)
	assert.Equal(t, "owner-1", *got.OwnerID)

	_, err = m.TransitionPerson(ctx, p.ID, model.PersonApproved, model.PersonOwned, model.PersonChange{OwnerID: "owner-2", At: time.Now()})
	assert.ErrorIs(t, err, model.ErrStaleState)

	_, err = m.TransitionPerson(ctx, "missing", model.PersonApproved, model.PersonOwned, model.PersonChange{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFinishBatchOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	b := &model.Batch{Kind: model.KindOrganization, FileName: "orgs.csv"}
	require.NoError(t, m.CreateBatch(ctx, b))
	assert.Equal(t, model.BatchProcessing, b.Status)

	done, err := m.FinishBatch(ctx, b.ID, model.BatchOutcome{Status: model.BatchCompleted, TotalRows: 3, ValidRows: 2, InvalidRows: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, done.TotalRows)
	assert.NotNil(t, done.CompletedAt)

	_, err = m.FinishBatch(ctx, b.ID, model.BatchOutcome{Status: model.BatchFailed})
	assert.ErrorIs(t, err, model.ErrBatchTerminal)
}

func TestMemoryBlobs(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBlobs()
	require.NoError(t, b.UploadReport(ctx, "reports/x.csv", []byte("row\n")))
	data, err := b.DownloadReport(ctx, "reports/x.csv")
	require.NoError(t, err)
	assert.Equal(t, "row\n", string(data))

	_, err = b.DownloadRaw(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, b.UploadRaw(ctx, "uploads/1/a.csv", strings.NewReader("name\n"), 5, "text/csv"))
	require.NoError(t, b.DeleteRaw(ctx, "uploads/1/a.csv"))
	_, err = b.DownloadRaw(ctx, "uploads/1/a.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
