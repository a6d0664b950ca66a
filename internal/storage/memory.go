// Package storage contains the in-memory persistence layer used by the
// all-in-one server and by tests. It honours the same contracts as the
// Postgres repository: uniqueness is checked and the row inserted under one
// lock, and status updates are compare-and-set on the current status.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

// MemoryStore keeps every record kind in maps guarded by one RWMutex.
type MemoryStore struct {
	mu            sync.RWMutex
	segments      map[string]*model.Segment
	batches       map[string]*model.Batch
	organizations map[string]*model.Organization
	persons       map[string]*model.Person
	assignments   map[string]*model.Assignment
	now           func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		segments:      make(map[string]*model.Segment),
		batches:       make(map[string]*model.Batch),
		organizations: make(map[string]*model.Organization),
		persons:       make(map[string]*model.Person),
		assignments:   make(map[string]*model.Assignment),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source; tests use it to control creation order.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) CreateSegment(_ context.Context, seg *model.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if _, ok := m.segments[seg.ID]; ok {
		return model.ErrUniqueViolation
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = m.now()
	}
	cp := *seg
	m.segments[seg.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSegment(_ context.Context, id string) (*model.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, ok := m.segments[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *seg
	return &cp, nil
}

func (m *MemoryStore) CreateBatch(_ context.Context, b *model.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := m.now()
	b.Status = model.BatchProcessing
	b.CreatedAt = now
	b.UpdatedAt = now
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBatch(_ context.Context, id string) (*model.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// FinishBatch writes the terminal outcome. Counters and status land together,
// so a reader never sees completed with stale counts.
func (m *MemoryStore) FinishBatch(_ context.Context, id string, out model.BatchOutcome) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if b.Status.Terminal() {
		return nil, model.ErrBatchTerminal
	}
	now := m.now()
	b.Status = out.Status
	b.TotalRows = out.TotalRows
	b.ValidRows = out.ValidRows
	b.InvalidRows = out.InvalidRows
	b.ErrorReportKey = out.ErrorReportKey
	b.FailureReason = out.FailureReason
	b.UpdatedAt = now
	b.CompletedAt = &now
	cp := *b
	return &cp, nil
}

// CreateOrganization inserts a pending organization unless another
// non-rejected organization holds the same (segment, name key, website key).
func (m *MemoryStore) CreateOrganization(_ context.Context, o *model.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.organizations {
		if existing.Status != model.OrganizationRejected &&
			existing.SegmentID == o.SegmentID &&
			existing.NameKey == o.NameKey &&
			existing.WebsiteKey == o.WebsiteKey {
			return model.ErrUniqueViolation
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := m.now()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := *o
	m.organizations[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrganization(_ context.Context, id string) (*model.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.organizations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// TransitionOrganization moves id from one status to another only if it is
// still in from.
func (m *MemoryStore) TransitionOrganization(_ context.Context, id string, from, to model.OrganizationStatus, change model.OrganizationChange) (*model.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.organizations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if o.Status != from {
		return nil, model.ErrStaleState
	}
	actor, at := change.Actor, change.At
	switch to {
	case model.OrganizationApproved:
		o.ApprovedBy = &actor
		o.ApprovedAt = &at
	case model.OrganizationRejected:
		reason := change.Reason
		o.RejectionReason = &reason
		o.RejectedBy = &actor
		o.RejectedAt = &at
	}
	o.Status = to
	o.UpdatedAt = at
	cp := *o
	return &cp, nil
}

// ListOrganizationsForSweep returns non-rejected organizations ordered by
// segment, creation time and id.
func (m *MemoryStore) ListOrganizationsForSweep(_ context.Context) ([]model.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Organization, 0, len(m.organizations))
	for _, o := range m.organizations {
		if o.Status != model.OrganizationRejected {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SegmentID != out[j].SegmentID {
			return out[i].SegmentID < out[j].SegmentID
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SetOrganizationsDuplicate(_ context.Context, ids []string, duplicate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, id := range ids {
		if o, ok := m.organizations[id]; ok {
			o.Duplicate = duplicate
			o.UpdatedAt = now
		}
	}
	return nil
}

// CreatePerson inserts a person unless the parent already has one with the
// same email key.
func (m *MemoryStore) CreatePerson(_ context.Context, p *model.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.persons {
		if existing.OrganizationID == p.OrganizationID && existing.EmailKey == p.EmailKey {
			return model.ErrUniqueViolation
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := m.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	m.persons[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPerson(_ context.Context, id string) (*model.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// TransitionPerson is the compare-and-set counterpart for persons. The owner
// is written in the same step that enters owned.
func (m *MemoryStore) TransitionPerson(_ context.Context, id string, from, to model.PersonStatus, change model.PersonChange) (*model.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if p.Status != from {
		return nil, model.ErrStaleState
	}
	actor, at := change.Actor, change.At
	switch to {
	case model.PersonApproved:
		p.ApprovedBy = &actor
		p.ApprovedAt = &at
	case model.PersonOwned:
		owner := change.OwnerID
		p.OwnerID = &owner
	case model.PersonScheduled:
		meeting := change.MeetingAt
		p.MeetingScheduledAt = &meeting
	}
	p.Status = to
	p.UpdatedAt = at
	cp := *p
	return &cp, nil
}

// ListPersonsForSweep returns every person ordered by parent, creation time
// and id.
func (m *MemoryStore) ListPersonsForSweep(_ context.Context) ([]model.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Person, 0, len(m.persons))
	for _, p := range m.persons {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrganizationID != out[j].OrganizationID {
			return out[i].OrganizationID < out[j].OrganizationID
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SetPersonsDuplicate(_ context.Context, ids []string, duplicate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, id := range ids {
		if p, ok := m.persons[id]; ok {
			p.Duplicate = duplicate
			p.UpdatedAt = now
		}
	}
	return nil
}

// CreateAssignment inserts an edge unless (kind, subject, owner) exists.
func (m *MemoryStore) CreateAssignment(_ context.Context, a *model.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.assignments {
		if existing.SubjectKind == a.SubjectKind && existing.SubjectID == a.SubjectID && existing.OwnerID == a.OwnerID {
			return model.ErrUniqueViolation
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = m.now()
	cp := *a
	m.assignments[a.ID] = &cp
	return nil
}

func (m *MemoryStore) ListAssignments(_ context.Context, kind model.SubjectKind, subjectID string) ([]model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Assignment
	for _, a := range m.assignments {
		if a.SubjectKind == kind && a.SubjectID == subjectID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
