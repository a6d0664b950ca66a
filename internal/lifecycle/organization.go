package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/model"
)

// CreateOrganization writes a validated draft in the pending state. batchID
// is nil for manual creation. A dedup-key collision is returned as
// model.ErrUniqueViolation.
func (s *Service) CreateOrganization(ctx context.Context, d *model.OrganizationDraft, actor string, batchID *string) (*model.Organization, error) {
	o := &model.Organization{
		SegmentID:     d.SegmentID,
		Name:          d.Name,
		Website:       d.Website,
		Industry:      d.Industry,
		Phone:         d.Phone,
		City:          d.City,
		Country:       d.Country,
		Description:   d.Description,
		FoundedYear:   d.FoundedYear,
		EmployeeCount: d.EmployeeCount,
		NameKey:       d.NameKey,
		WebsiteKey:    d.WebsiteKey,
		Status:        model.OrganizationPending,
		BatchID:       batchID,
		CreatedBy:     actor,
	}
	if err := s.store.CreateOrganization(ctx, o); err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}
	return o, nil
}

// ApproveOrganization moves a pending organization to approved.
func (s *Service) ApproveOrganization(ctx context.Context, id, actor string) (*model.Organization, error) {
	o, err := s.transitionOrganization(ctx, id, "approve", model.OrganizationApproved,
		model.OrganizationChange{Actor: actor, At: s.now()})
	record(model.KindOrganization, "approve", err)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, audit.Event{Type: audit.OrganizationApproved, SubjectID: o.ID, Actor: actor, Timestamp: *o.ApprovedAt})
	return o, nil
}

// RejectOrganization moves a pending organization to rejected with a
// permanent, non-empty reason.
func (s *Service) RejectOrganization(ctx context.Context, id, actor, reason string) (*model.Organization, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		record(model.KindOrganization, "reject", model.ErrRejectionReasonRequired)
		return nil, model.ErrRejectionReasonRequired
	}
	o, err := s.transitionOrganization(ctx, id, "reject", model.OrganizationRejected,
		model.OrganizationChange{Actor: actor, Reason: reason, At: s.now()})
	record(model.KindOrganization, "reject", err)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, audit.Event{
		Type:       audit.OrganizationRejected,
		SubjectID:  o.ID,
		Actor:      actor,
		Attributes: map[string]string{"reason": reason},
		Timestamp:  *o.RejectedAt,
	})
	return o, nil
}

// Both organization transitions leave pending; nothing else does.
func (s *Service) transitionOrganization(ctx context.Context, id, action string, to model.OrganizationStatus, change model.OrganizationChange) (*model.Organization, error) {
	o, err := s.store.TransitionOrganization(ctx, id, model.OrganizationPending, to, change)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, model.ErrStaleState) {
		return nil, fmt.Errorf("%s organization: %w", action, err)
	}
	current, getErr := s.store.GetOrganization(ctx, id)
	if getErr != nil {
		return nil, fmt.Errorf("%s organization: %w", action, getErr)
	}
	return nil, &model.InvalidTransitionError{Kind: model.KindOrganization, ID: id, From: string(current.Status), Action: action}
}
