// Package sweep flags near-duplicate records that slipped past the exact
// dedup keys. It only ever sets or clears the advisory duplicate flag.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/metrics"
	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/normalize"
)

type Store interface {
	ListOrganizationsForSweep(ctx context.Context) ([]model.Organization, error)
	SetOrganizationsDuplicate(ctx context.Context, ids []string, duplicate bool) error
	ListPersonsForSweep(ctx context.Context) ([]model.Person, error)
	SetPersonsDuplicate(ctx context.Context, ids []string, duplicate bool) error
}

// Counts summarizes one record kind of a run.
type Counts struct {
	Scanned int `json:"scanned"`
	Groups  int `json:"groups"`
	Flagged int `json:"flagged"`
	Cleared int `json:"cleared"`
}

type Report struct {
	RunID         string        `json:"runId"`
	Organizations Counts        `json:"organizations"`
	Persons       Counts        `json:"persons"`
	Duration      time.Duration `json:"duration"`
}

// Sweeper runs at most one sweep at a time per process, and per deployment
// when a lease is configured.
type Sweeper struct {
	store   Store
	lease   Lease
	audit   audit.Emitter
	log     *logger.Logger
	running atomic.Bool
}

// New builds a Sweeper. lease may be nil for single-process deployments.
func New(store Store, lease Lease, emitter audit.Emitter, log *logger.Logger) *Sweeper {
	return &Sweeper{store: store, lease: lease, audit: emitter, log: log.With("component", "sweep")}
}

// Run performs one sweep. A trigger while another sweep holds the guard
// returns model.ErrSweepInProgress and changes nothing.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	if !s.acquire() {
		return nil, model.ErrSweepInProgress
	}
	defer s.running.Store(false)
	return s.run(ctx)
}

// TriggerSweep starts a sweep in the background and returns at once. It reports
// model.ErrSweepInProgress when one is already running here.
func (s *Sweeper) TriggerSweep(ctx context.Context) error {
	if !s.acquire() {
		return model.ErrSweepInProgress
	}
	go func() {
		defer s.running.Store(false)
		if _, err := s.run(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, model.ErrSweepInProgress) {
			s.log.Error("triggered sweep failed", "error", err)
		}
	}()
	return nil
}

func (s *Sweeper) acquire() bool {
	if s.running.CompareAndSwap(false, true) {
		return true
	}
	metrics.SweepRuns.WithLabelValues("skipped").Inc()
	return false
}

func (s *Sweeper) run(ctx context.Context) (*Report, error) {
	if s.lease != nil {
		release, err := s.lease.Acquire(ctx)
		if err != nil {
			if errors.Is(err, model.ErrSweepInProgress) {
				metrics.SweepRuns.WithLabelValues("skipped").Inc()
			} else {
				metrics.SweepRuns.WithLabelValues("failed").Inc()
			}
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("sweep lease release failed", "error", err)
			}
		}()
	}

	started := time.Now()
	report := &Report{RunID: uuid.NewString()}
	log := s.log.With("run_id", report.RunID)
	log.Info("sweep started")

	var err error
	if report.Organizations, err = s.organizations(ctx); err != nil {
		metrics.SweepRuns.WithLabelValues("failed").Inc()
		log.Error("sweep failed", "kind", model.KindOrganization, "error", err)
		return nil, err
	}
	if report.Persons, err = s.persons(ctx); err != nil {
		metrics.SweepRuns.WithLabelValues("failed").Inc()
		log.Error("sweep failed", "kind", model.KindPerson, "error", err)
		return nil, err
	}
	report.Duration = time.Since(started)
	metrics.SweepRuns.WithLabelValues("ran").Inc()

	log.Info("sweep finished",
		"organizations_flagged", report.Organizations.Flagged,
		"organizations_cleared", report.Organizations.Cleared,
		"persons_flagged", report.Persons.Flagged,
		"persons_cleared", report.Persons.Cleared,
		"duration", report.Duration)
	if err := s.audit.Emit(ctx, audit.Event{
		Type:      audit.SweepFinished,
		SubjectID: report.RunID,
		Actor:     "system",
		Attributes: map[string]string{
			"organizations_flagged": fmt.Sprint(report.Organizations.Flagged),
			"organizations_cleared": fmt.Sprint(report.Organizations.Cleared),
			"persons_flagged":       fmt.Sprint(report.Persons.Flagged),
			"persons_cleared":       fmt.Sprint(report.Persons.Cleared),
		},
	}); err != nil {
		log.Warn("audit emit failed", "error", err)
	}
	return report, nil
}

// Schedule runs a sweep every interval until ctx is done. Overlapping ticks
// are skipped by Run's guard.
func (s *Sweeper) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, model.ErrSweepInProgress) {
				s.log.Error("scheduled sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) organizations(ctx context.Context) (Counts, error) {
	orgs, err := s.store.ListOrganizationsForSweep(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("list organizations: %w", err)
	}
	groups := make(map[string][]member)
	for _, o := range orgs {
		key := o.SegmentID + "\x1f" + normalize.Compact(o.Name) + "|" + normalize.Domain(o.Website)
		groups[key] = append(groups[key], member{id: o.ID, createdAt: o.CreatedAt, duplicate: o.Duplicate})
	}
	return s.apply(ctx, model.KindOrganization, len(orgs), groups, s.store.SetOrganizationsDuplicate)
}

func (s *Sweeper) persons(ctx context.Context) (Counts, error) {
	persons, err := s.store.ListPersonsForSweep(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("list persons: %w", err)
	}
	groups := make(map[string][]member)
	for _, p := range persons {
		key := p.OrganizationID + "\x1f" + normalize.Email(p.Email)
		groups[key] = append(groups[key], member{id: p.ID, createdAt: p.CreatedAt, duplicate: p.Duplicate})
	}
	return s.apply(ctx, model.KindPerson, len(persons), groups, s.store.SetPersonsDuplicate)
}

func (s *Sweeper) apply(ctx context.Context, kind model.RecordKind, scanned int, groups map[string][]member, set func(context.Context, []string, bool) error) (Counts, error) {
	flag, unflag := reconcile(groups)
	c := Counts{Scanned: scanned, Groups: len(groups), Flagged: len(flag), Cleared: len(unflag)}
	if len(flag) > 0 {
		if err := set(ctx, flag, true); err != nil {
			return Counts{}, fmt.Errorf("flag %s duplicates: %w", kind, err)
		}
		metrics.SweepFlagChanges.WithLabelValues(string(kind), "set").Add(float64(len(flag)))
	}
	if len(unflag) > 0 {
		if err := set(ctx, unflag, false); err != nil {
			return Counts{}, fmt.Errorf("unflag %s duplicates: %w", kind, err)
		}
		metrics.SweepFlagChanges.WithLabelValues(string(kind), "cleared").Add(float64(len(unflag)))
	}
	return c, nil
}

type member struct {
	id        string
	createdAt time.Time
	duplicate bool
}

// reconcile returns the ids whose flag must change: within a group the
// earliest member is the original and every later one is a duplicate.
// Members already carrying the right flag are left out.
func reconcile(groups map[string][]member) (flag, unflag []string) {
	for _, members := range groups {
		sort.SliceStable(members, func(i, j int) bool {
			if !members[i].createdAt.Equal(members[j].createdAt) {
				return members[i].createdAt.Before(members[j].createdAt)
			}
			return members[i].id < members[j].id
		})
		for i, m := range members {
			want := i > 0
			switch {
			case want && !m.duplicate:
				flag = append(flag, m.id)
			case !want && m.duplicate:
				unflag = append(unflag, m.id)
			}
		}
	}
	sort.Strings(flag)
	sort.Strings(unflag)
	return flag, unflag
}
