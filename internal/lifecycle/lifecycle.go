// Package lifecycle owns the status machines for organizations and persons.
// Every transition is a single compare-and-set against the store; losing a
// race surfaces as *model.InvalidTransitionError with nothing written.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/metrics"
	"github.com/dharsanguruparan/LeadVault/internal/model"
)

type OrganizationStore interface {
	CreateOrganization(ctx context.Context, o *model.Organization) error
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	TransitionOrganization(ctx context.Context, id string, from, to model.OrganizationStatus, change model.OrganizationChange) (*model.Organization, error)
}

type PersonStore interface {
	CreatePerson(ctx context.Context, p *model.Person) error
	GetPerson(ctx context.Context, id string) (*model.Person, error)
	TransitionPerson(ctx context.Context, id string, from, to model.PersonStatus, change model.PersonChange) (*model.Person, error)
}

type Store interface {
	OrganizationStore
	PersonStore
}

// Service runs transitions and emits an audit event for each one that
// commits.
type Service struct {
	store Store
	audit audit.Emitter
	log   *logger.Logger
	now   func() time.Time
}

func New(store Store, emitter audit.Emitter, log *logger.Logger) *Service {
	return &Service{
		store: store,
		audit: emitter,
		log:   log.With("component", "lifecycle"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// emit publishes after the state change has committed. A publish failure is
// logged and does not undo the transition.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if err := s.audit.Emit(ctx, event); err != nil {
		s.log.Warn("audit emit failed", "type", event.Type, "subject_id", event.SubjectID, "error", err)
	}
}

func record(kind model.RecordKind, action string, err error) {
	result := "ok"
	var invalid *model.InvalidTransitionError
	switch {
	case err == nil:
	case errors.As(err, &invalid):
		result = "invalid"
	default:
		result = "error"
	}
	metrics.Transitions.WithLabelValues(string(kind), action, result).Inc()
}
