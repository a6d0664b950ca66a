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

var personColumns = []string{
	"id", "organization_id", "segment_id", "first_name", "last_name", "email", "email_key", "phone",
	"title", "linkedin", "status", "owner_id", "approved_by", "approved_at", "meeting_scheduled_at",
	"duplicate", "batch_id", "created_by", "created_at", "updated_at",
}

func (s *Store) CreatePerson(ctx context.Context, p *model.Person) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("persons")
	ib.Cols("id", "organization_id", "segment_id", "first_name", "last_name", "email", "email_key", "phone",
		"title", "linkedin", "status", "duplicate", "batch_id", "created_by", "created_at", "updated_at")
	ib.Values(p.ID, p.OrganizationID, p.SegmentID, p.FirstName, p.LastName, p.Email, p.EmailKey, p.Phone,
		p.Title, p.LinkedIn, string(p.Status), p.Duplicate, p.BatchID, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	query, args := ib.Build()
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return writeError("insert person", err)
	}
	return nil
}

func (s *Store) GetPerson(ctx context.Context, id string) (*model.Person, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(personColumns...)
	sb.From("persons")
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	p, err := scanPerson(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, readError("select person", err)
	}
	return p, nil
}

// TransitionPerson advances a person only while it is still in from. The
// owner is written by the same statement that enters owned.
func (s *Store) TransitionPerson(ctx context.Context, id string, from, to model.PersonStatus, change model.PersonChange) (*model.Person, error) {
	var approvedBy, owner *string
	var meeting any
	switch to {
	case model.PersonApproved:
		approvedBy = &change.Actor
	case model.PersonOwned:
		owner = &change.OwnerID
	case model.PersonScheduled:
		meeting = change.MeetingAt
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE persons
		SET status=$1,
			approved_by = COALESCE($2, approved_by),
			approved_at = CASE WHEN $2::text IS NULL THEN approved_at ELSE $5 END,
			owner_id = COALESCE($3, owner_id),
			meeting_scheduled_at = COALESCE($4::timestamptz, meeting_scheduled_at),
			updated_at=$5
		WHERE id=$6 AND status=$7
		RETURNING `+joinColumns(personColumns),
		string(to), approvedBy, owner, meeting, change.At, id, string(from))
	p, err := scanPerson(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.conflict(ctx, "persons", id, model.ErrStaleState)
	}
	if err != nil {
		return nil, fmt.Errorf("transition person: %w", err)
	}
	return p, nil
}

// ListPersonsForSweep returns every person ordered by parent, creation time
// and id.
func (s *Store) ListPersonsForSweep(ctx context.Context) ([]model.Person, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(personColumns...)
	sb.From("persons")
	sb.OrderBy("organization_id", "created_at", "id")
	query, args := sb.Build()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()
	var out []model.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) SetPersonsDuplicate(ctx context.Context, ids []string, duplicate bool) error {
	return s.setDuplicate(ctx, "persons", ids, duplicate)
}

func scanPerson(row scanner) (*model.Person, error) {
	var (
		p      model.Person
		status string
	)
	err := row.Scan(&p.ID, &p.OrganizationID, &p.SegmentID, &p.FirstName, &p.LastName, &p.Email, &p.EmailKey,
		&p.Phone, &p.Title, &p.LinkedIn, &status, &p.OwnerID, &p.ApprovedBy, &p.ApprovedAt,
		&p.MeetingScheduledAt, &p.Duplicate, &p.BatchID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.PersonStatus(status)
	return &p, nil
}
