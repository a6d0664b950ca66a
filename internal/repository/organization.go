package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

var organizationColumns = []string{
	"id", "segment_id", "name", "website", "industry", "phone", "city", "country", "description",
	"founded_year", "employee_count", "name_key", "website_key", "status", "rejection_reason",
	"approved_by", "approved_at", "rejected_by", "rejected_at", "duplicate", "batch_id",
	"created_by", "created_at", "updated_at",
}

// CreateOrganization inserts an organization. A live organization with the
// same (segment, name key, website key) trips uq_organizations_dedup_key.
func (s *Store) CreateOrganization(ctx context.Context, o *model.Organization) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := s.now()
	o.CreatedAt = now
	o.UpdatedAt = now

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("organizations")
	ib.Cols("id", "segment_id", "name", "website", "industry", "phone", "city", "country", "description",
		"founded_year", "employee_count", "name_key", "website_key", "status", "duplicate", "batch_id",
		"created_by", "created_at", "updated_at")
	ib.Values(o.ID, o.SegmentID, o.Name, o.Website, o.Industry, o.Phone, o.City, o.Country, o.Description,
		o.FoundedYear, o.EmployeeCount, o.NameKey, o.WebsiteKey, string(o.Status), o.Duplicate, o.BatchID,
		o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	query, args := ib.Build()
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return writeError("insert organization", err)
	}
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(organizationColumns...)
	sb.From("organizations")
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	o, err := scanOrganization(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, readError("select organization", err)
	}
	return o, nil
}

// TransitionOrganization sets the new status and its companion fields only
// while the row is still in from.
func (s *Store) TransitionOrganization(ctx context.Context, id string, from, to model.OrganizationStatus, change model.OrganizationChange) (*model.Organization, error) {
	var approvedBy, rejectedBy, reason *string
	switch to {
	case model.OrganizationApproved:
		approvedBy = &change.Actor
	case model.OrganizationRejected:
		rejectedBy = &change.Actor
		reason = &change.Reason
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE organizations
		SET status=$1,
			approved_by = COALESCE($2, approved_by),
			approved_at = CASE WHEN $2::text IS NULL THEN approved_at ELSE $5 END,
			rejected_by = COALESCE($3, rejected_by),
			rejected_at = CASE WHEN $3::text IS NULL THEN rejected_at ELSE $5 END,
			rejection_reason = COALESCE($4, rejection_reason),
			updated_at=$5
		WHERE id=$6 AND status=$7
		RETURNING `+joinColumns(organizationColumns),
		string(to), approvedBy, rejectedBy, reason, change.At, id, string(from))
	o, err := scanOrganization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.conflict(ctx, "organizations", id, model.ErrStaleState)
	}
	if err != nil {
		return nil, fmt.Errorf("transition organization: %w", err)
	}
	return o, nil
}

// ListOrganizationsForSweep returns non-rejected organizations ordered by
// segment, creation time and id.
func (s *Store) ListOrganizationsForSweep(ctx context.Context) ([]model.Organization, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(organizationColumns...)
	sb.From("organizations")
	sb.Where(sb.NotEqual("status", string(model.OrganizationRejected)))
	sb.OrderBy("segment_id", "created_at", "id")
	query, args := sb.Build()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	var out []model.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) SetOrganizationsDuplicate(ctx context.Context, ids []string, duplicate bool) error {
	return s.setDuplicate(ctx, "organizations", ids, duplicate)
}

func (s *Store) setDuplicate(ctx context.Context, table string, ids []string, duplicate bool) error {
	if len(ids) == 0 {
		return nil
	}
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(ub.Assign("duplicate", duplicate), ub.Assign("updated_at", s.now()))
	ub.Where(ub.In("id", sqlbuilder.Flatten(ids)...))
	query, args := ub.Build()
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s duplicate flags: %w", table, err)
	}
	return nil
}

func scanOrganization(row scanner) (*model.Organization, error) {
	var (
		o      model.Organization
		status string
	)
	err := row.Scan(&o.ID, &o.SegmentID, &o.Name, &o.Website, &o.Industry, &o.Phone, &o.City, &o.Country,
		&o.Description, &o.FoundedYear, &o.EmployeeCount, &o.NameKey, &o.WebsiteKey, &status,
		&o.RejectionReason, &o.ApprovedBy, &o.ApprovedAt, &o.RejectedBy, &o.RejectedAt, &o.Duplicate,
		&o.BatchID, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrganizationStatus(status)
	return &o, nil
}
