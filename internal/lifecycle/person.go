package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/model"
)

// CreatePerson writes a person in the uploaded state. The parent must be
// approved when this runs; the parent's segment is copied once and never
// kept in sync afterwards.
func (s *Service) CreatePerson(ctx context.Context, d *model.PersonDraft, actor string, batchID *string) (*model.Person, error) {
	parent, err := s.store.GetOrganization(ctx, d.OrganizationID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, &model.ParentNotApprovedError{OrganizationID: d.OrganizationID}
	}
	if err != nil {
		return nil, fmt.Errorf("load parent organization: %w", err)
	}
	if parent.Status != model.OrganizationApproved {
		return nil, &model.ParentNotApprovedError{OrganizationID: parent.ID, Status: parent.Status}
	}
	p := &model.Person{
		OrganizationID: parent.ID,
		SegmentID:      parent.SegmentID,
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		Email:          d.Email,
		EmailKey:       d.EmailKey,
		Phone:          d.Phone,
		Title:          d.Title,
		LinkedIn:       d.LinkedIn,
		Status:         model.PersonUploaded,
		BatchID:        batchID,
		CreatedBy:      actor,
	}
	if err := s.store.CreatePerson(ctx, p); err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	return p, nil
}

// PersonResult is one member's outcome in a bulk call.
type PersonResult struct {
	ID     string        `json:"id"`
	Person *model.Person `json:"person,omitempty"`
	Err    error         `json:"-"`
}

func (s *Service) ApprovePerson(ctx context.Context, id, actor string) (*model.Person, error) {
	p, err := s.advancePerson(ctx, id, "approve", model.PersonUploaded, model.PersonApproved,
		model.PersonChange{Actor: actor, At: s.now()})
	record(model.KindPerson, "approve", err)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, audit.Event{Type: audit.PersonApproved, SubjectID: p.ID, Actor: actor})
	return p, nil
}

// ApprovePersons approves each id independently; one failure never blocks
// the others.
func (s *Service) ApprovePersons(ctx context.Context, ids []string, actor string) []PersonResult {
	return s.each(ids, func(id string) (*model.Person, error) {
		return s.ApprovePerson(ctx, id, actor)
	})
}

// AssignPerson sets the owner and enters owned in one step.
func (s *Service) AssignPerson(ctx context.Context, id, ownerID, actor string) (*model.Person, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		record(model.KindPerson, "assign", model.ErrOwnerRequired)
		return nil, model.ErrOwnerRequired
	}
	p, err := s.advancePerson(ctx, id, "assign", model.PersonApproved, model.PersonOwned,
		model.PersonChange{Actor: actor, OwnerID: ownerID, At: s.now()})
	record(model.KindPerson, "assign", err)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, audit.Event{
		Type:       audit.PersonAssigned,
		SubjectID:  p.ID,
		Actor:      actor,
		Attributes: map[string]string{"owner_id": ownerID},
	})
	return p, nil
}

func (s *Service) AssignPersons(ctx context.Context, ids []string, ownerID, actor string) []PersonResult {
	return s.each(ids, func(id string) (*model.Person, error) {
		return s.AssignPerson(ctx, id, ownerID, actor)
	})
}

// ScheduleMeeting moves an owned person to scheduled. A nil meeting time
// means now.
func (s *Service) ScheduleMeeting(ctx context.Context, id, actor string, at *time.Time) (*model.Person, error) {
	now := s.now()
	meeting := now
	if at != nil {
		meeting = at.UTC()
	}
	p, err := s.advancePerson(ctx, id, "schedule", model.PersonOwned, model.PersonScheduled,
		model.PersonChange{Actor: actor, MeetingAt: meeting, At: now})
	record(model.KindPerson, "schedule", err)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, audit.Event{
		Type:       audit.PersonScheduled,
		SubjectID:  p.ID,
		Actor:      actor,
		Attributes: map[string]string{"meeting_at": meeting.Format(time.RFC3339)},
	})
	return p, nil
}

func (s *Service) advancePerson(ctx context.Context, id, action string, from, to model.PersonStatus, change model.PersonChange) (*model.Person, error) {
	p, err := s.store.TransitionPerson(ctx, id, from, to, change)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, model.ErrStaleState) {
		return nil, fmt.Errorf("%s person: %w", action, err)
	}
	current, getErr := s.store.GetPerson(ctx, id)
	if getErr != nil {
		return nil, fmt.Errorf("%s person: %w", action, getErr)
	}
	return nil, &model.InvalidTransitionError{Kind: model.KindPerson, ID: id, From: string(current.Status), Action: action}
}

func (s *Service) each(ids []string, fn func(id string) (*model.Person, error)) []PersonResult {
	results := make([]PersonResult, 0, len(ids))
	for _, id := range ids {
		p, err := fn(id)
		results = append(results, PersonResult{ID: id, Person: p, Err: err})
	}
	return results
}
