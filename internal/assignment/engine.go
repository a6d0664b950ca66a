// Package assignment creates ownership edges between owners and records of
// any subject kind. Storage cannot enforce that the subject exists, so every
// insert is preceded by a per-kind existence check.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/metrics"
	"github.com/dharsanguruparan/LeadVault/internal/model"
)

type Store interface {
	CreateAssignment(ctx context.Context, a *model.Assignment) error
	ListAssignments(ctx context.Context, kind model.SubjectKind, subjectID string) ([]model.Assignment, error)
}

// Checker reports whether a record of one subject kind exists.
type Checker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, id string) (bool, error)

func (f CheckerFunc) Exists(ctx context.Context, id string) (bool, error) {
	return f(ctx, id)
}

// Lookup builds a Checker from a getter that returns model.ErrNotFound for
// missing records.
func Lookup[T any](get func(ctx context.Context, id string) (T, error)) Checker {
	return CheckerFunc(func(ctx context.Context, id string) (bool, error) {
		_, err := get(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
}

// RecordGetter is satisfied by both store implementations.
type RecordGetter interface {
	GetSegment(ctx context.Context, id string) (*model.Segment, error)
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	GetPerson(ctx context.Context, id string) (*model.Person, error)
}

// StoreCheckers wires one Checker per subject kind to the store's getters.
func StoreCheckers(store RecordGetter) map[model.SubjectKind]Checker {
	return map[model.SubjectKind]Checker{
		model.SubjectSegment:      Lookup(store.GetSegment),
		model.SubjectOrganization: Lookup(store.GetOrganization),
		model.SubjectPerson:       Lookup(store.GetPerson),
	}
}

type Engine struct {
	store    Store
	checkers map[model.SubjectKind]Checker
	audit    audit.Emitter
	log      *logger.Logger
}

func NewEngine(store Store, checkers map[model.SubjectKind]Checker, emitter audit.Emitter, log *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		checkers: checkers,
		audit:    emitter,
		log:      log.With("component", "assignment"),
	}
}

// CreateAssignment verifies the subject exists, then inserts the edge.
func (e *Engine) CreateAssignment(ctx context.Context, subject model.Subject, ownerID, grantorID string) (*model.Assignment, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, model.ErrOwnerRequired
	}
	a, err := e.create(ctx, subject, ownerID, grantorID)
	metrics.Assignments.WithLabelValues(string(subject.Kind()), outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	if err := e.audit.Emit(ctx, audit.Event{
		Type:       audit.AssignmentCreated,
		SubjectID:  a.SubjectID,
		Actor:      grantorID,
		Attributes: map[string]string{"subject_kind": string(a.SubjectKind), "owner_id": a.OwnerID},
		Timestamp:  a.CreatedAt,
	}); err != nil {
		e.log.Warn("audit emit failed", "assignment_id", a.ID, "error", err)
	}
	return a, nil
}

func (e *Engine) create(ctx context.Context, subject model.Subject, ownerID, grantorID string) (*model.Assignment, error) {
	checker, ok := e.checkers[subject.Kind()]
	if !ok {
		return nil, fmt.Errorf("no existence check registered for %s", subject.Kind())
	}
	exists, err := checker.Exists(ctx, subject.SubjectID())
	if err != nil {
		return nil, fmt.Errorf("check %s %s: %w", subject.Kind(), subject.SubjectID(), err)
	}
	if !exists {
		return nil, &model.UnknownSubjectError{Kind: subject.Kind(), ID: subject.SubjectID()}
	}
	a := &model.Assignment{
		SubjectKind: subject.Kind(),
		SubjectID:   subject.SubjectID(),
		OwnerID:     ownerID,
		GrantorID:   grantorID,
	}
	if err := e.store.CreateAssignment(ctx, a); err != nil {
		if errors.Is(err, model.ErrUniqueViolation) {
			return nil, &model.DuplicateAssignmentError{Kind: a.SubjectKind, ID: a.SubjectID, OwnerID: ownerID}
		}
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	return a, nil
}

// Failure is a subject the bulk call could not assign.
type Failure struct {
	SubjectID string `json:"subjectId"`
	Reason    string `json:"reason"`
	Err       error  `json:"-"`
}

// BulkResult reports a bulk assignment. Already-assigned subjects are
// skipped, not failed.
type BulkResult struct {
	Created     int                `json:"createdCount"`
	Assignments []model.Assignment `json:"assignments"`
	Skipped     []string           `json:"skipped"`
	Failures    []Failure          `json:"failures"`
}

// BulkAssign runs CreateAssignment per id. It is not transactional; partial
// success is the normal outcome. Only a missing owner fails the whole call.
func (e *Engine) BulkAssign(ctx context.Context, kind model.SubjectKind, subjectIDs []string, ownerID, grantorID string) (*BulkResult, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, model.ErrOwnerRequired
	}
	res := &BulkResult{Assignments: []model.Assignment{}, Skipped: []string{}, Failures: []Failure{}}
	for _, id := range subjectIDs {
		subject, err := model.NewSubject(kind, id)
		if err != nil {
			return nil, err
		}
		a, err := e.CreateAssignment(ctx, subject, ownerID, grantorID)
		var dup *model.DuplicateAssignmentError
		switch {
		case err == nil:
			res.Created++
			res.Assignments = append(res.Assignments, *a)
		case errors.As(err, &dup):
			res.Skipped = append(res.Skipped, id)
		default:
			res.Failures = append(res.Failures, Failure{SubjectID: id, Reason: err.Error(), Err: err})
		}
	}
	e.log.Info("bulk assignment finished",
		"subject_kind", kind, "owner_id", ownerID,
		"created", res.Created, "skipped", len(res.Skipped), "failed", len(res.Failures))
	return res, nil
}

// List returns the edges on one subject.
func (e *Engine) List(ctx context.Context, subject model.Subject) ([]model.Assignment, error) {
	return e.store.ListAssignments(ctx, subject.Kind(), subject.SubjectID())
}

func outcome(err error) string {
	var (
		dup     *model.DuplicateAssignmentError
		unknown *model.UnknownSubjectError
	)
	switch {
	case err == nil:
		return "created"
	case errors.As(err, &dup):
		return "duplicate"
	case errors.As(err, &unknown):
		return "unknown_subject"
	default:
		return "error"
	}
}
