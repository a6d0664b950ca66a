package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/storage"
)

// steppingClock advances one minute per call so creation order is explicit.
func steppingClock() func() time.Time {
	t := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func seed(t *testing.T) (*storage.MemoryStore, map[string]string) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.SetClock(steppingClock())

	ids := map[string]string{}
	orgs := []struct {
		label, segment, name, website string
	}{
		{"acme", "seg-1", "Acme Inc", "acme.com"},
		{"acme-variant", "seg-1", "ACME, Inc.", "https://www.acme.com/"},
		{"acme-other-segment", "seg-2", "Acme Inc", "acme.com"},
		{"globex", "seg-1", "Globex", "globex.com"},
	}
	for _, o := range orgs {
		rec := &model.Organization{
			SegmentID:  o.segment,
			Name:       o.name,
			Website:    o.website,
			NameKey:    o.name,
			WebsiteKey: o.website,
			Status:     model.OrganizationPending,
		}
		require.NoError(t, store.CreateOrganization(ctx, rec))
		ids[o.label] = rec.ID
	}

	persons := []struct {
		label, email string
	}{
		{"jane", "jane@acme.com"},
		{"jane-upper", "Jane@ACME.com"},
		{"john", "john@acme.com"},
	}
	for _, p := range persons {
		rec := &model.Person{
			OrganizationID: ids["acme"],
			SegmentID:      "seg-1",
			FirstName:      p.label,
			LastName:       "Doe",
			Email:          p.email,
			EmailKey:       p.email,
			Status:         model.PersonUploaded,
		}
		require.NoError(t, store.CreatePerson(ctx, rec))
		ids[p.label] = rec.ID
	}
	return store, ids
}

func duplicates(t *testing.T, store *storage.MemoryStore) map[string]bool {
	t.Helper()
	ctx := context.Background()
	out := map[string]bool{}
	orgs, err := store.ListOrganizationsForSweep(ctx)
	require.NoError(t, err)
	for _, o := range orgs {
		out[o.ID] = o.Duplicate
	}
	persons, err := store.ListPersonsForSweep(ctx)
	require.NoError(t, err)
	for _, p := range persons {
		out[p.ID] = p.Duplicate
	}
	return out
}

func TestSweepFlagsLaterMembers(t *testing.T) {
	store, ids := seed(t)
	rec := &audit.Recorder{}
	s := New(store, nil, rec, logger.NewNop())

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 4, report.Organizations.Scanned)
	assert.Equal(t, 3, report.Organizations.Groups)
	assert.Equal(t, 1, report.Organizations.Flagged)
	assert.Equal(t, 1, report.Persons.Flagged)

	flags := duplicates(t, store)
	assert.False(t, flags[ids["acme"]])
	assert.True(t, flags[ids["acme-variant"]])
	assert.False(t, flags[ids["acme-other-segment"]])
	assert.False(t, flags[ids["globex"]])
	assert.False(t, flags[ids["jane"]])
	assert.True(t, flags[ids["jane-upper"]])
	assert.False(t, flags[ids["john"]])
	assert.Equal(t, 1, rec.Count(audit.SweepFinished))
}

func TestSweepIsIdempotent(t *testing.T) {
	store, _ := seed(t)
	s := New(store, nil, &audit.Recorder{}, logger.NewNop())

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	before := duplicates(t, store)

	again, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Organizations.Flagged+again.Organizations.Cleared)
	assert.Zero(t, again.Persons.Flagged+again.Persons.Cleared)
	assert.Equal(t, before, duplicates(t, store))
}

func TestSweepClearsFlagWhenOriginalRejected(t *testing.T) {
	store, ids := seed(t)
	ctx := context.Background()
	s := New(store, nil, &audit.Recorder{}, logger.NewNop())

	_, err := s.Run(ctx)
	require.NoError(t, err)
	_, err = store.TransitionOrganization(ctx, ids["acme"], model.OrganizationPending, model.OrganizationRejected,
		model.OrganizationChange{Actor: "reviewer", Reason: "test data", At: time.Now()})
	require.NoError(t, err)

	report, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Organizations.Cleared)
	assert.False(t, duplicates(t, store)[ids["acme-variant"]])
}

// blockingStore parks every listing until released and signals entered on
// the first one.
type blockingStore struct {
	Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	listed  atomic.Int32
}

func (b *blockingStore) ListOrganizationsForSweep(ctx context.Context) ([]model.Organization, error) {
	b.listed.Add(1)
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Store.ListOrganizationsForSweep(ctx)
}

func TestSweepIsNotReentrant(t *testing.T) {
	store, _ := seed(t)
	blocking := &blockingStore{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	s := New(blocking, nil, &audit.Recorder{}, logger.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()
	<-blocking.entered

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, model.ErrSweepInProgress)

	close(blocking.release)
	require.NoError(t, <-done)

	// the guard is released once the first run returns
	_, err = s.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int32(2), blocking.listed.Load())
}

type stubLease struct {
	err      error
	released int
}

func (l *stubLease) Acquire(context.Context) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func TestSweepLease(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		store, ids := seed(t)
		s := New(store, &stubLease{err: model.ErrSweepInProgress}, &audit.Recorder{}, logger.NewNop())
		_, err := s.Run(context.Background())
		assert.ErrorIs(t, err, model.ErrSweepInProgress)
		assert.False(t, duplicates(t, store)[ids["acme-variant"]])
	})

	t.Run("lease backend down", func(t *testing.T) {
		store, _ := seed(t)
		boom := errors.New("dial tcp: connection refused")
		s := New(store, &stubLease{err: boom}, &audit.Recorder{}, logger.NewNop())
		_, err := s.Run(context.Background())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("released after run", func(t *testing.T) {
		store, _ := seed(t)
		lease := &stubLease{}
		s := New(store, lease, &audit.Recorder{}, logger.NewNop())
		_, err := s.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, lease.released)
	})
}

func TestReconcile(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	groups := map[string][]member{
		"a": {
			{id: "late", createdAt: t0.Add(time.Hour)},
			{id: "early", createdAt: t0, duplicate: true},
		},
		"b": {{id: "alone", createdAt: t0, duplicate: true}},
		"c": {
			{id: "c1", createdAt: t0},
			{id: "c2", createdAt: t0.Add(time.Minute), duplicate: true},
		},
	}
	flag, unflag := reconcile(groups)
	assert.Equal(t, []string{"late"}, flag)
	assert.Equal(t, []string{"alone", "early"}, unflag)
}
