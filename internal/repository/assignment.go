package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

// CreateAssignment inserts an ownership edge; uq_assignments_edge rejects a
// second edge for the same (kind, subject, owner).
func (s *Store) CreateAssignment(ctx context.Context, a *model.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assignments (id, subject_kind, subject_id, owner_id, grantor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, a.ID, string(a.SubjectKind), a.SubjectID, a.OwnerID, a.GrantorID, a.CreatedAt)
	if err != nil {
		return writeError("insert assignment", err)
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, kind model.SubjectKind, subjectID string) ([]model.Assignment, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "subject_kind", "subject_id", "owner_id", "grantor_id", "created_at")
	sb.From("assignments")
	sb.Where(sb.Equal("subject_kind", string(kind)), sb.Equal("subject_id", subjectID))
	sb.OrderBy("created_at")
	query, args := sb.Build()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	var out []model.Assignment
	for rows.Next() {
		var (
			a    model.Assignment
			kind string
		)
		if err := rows.Scan(&a.ID, &kind, &a.SubjectID, &a.OwnerID, &a.GrantorID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.SubjectKind = model.SubjectKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}
