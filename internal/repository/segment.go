package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

func (s *Store) CreateSegment(ctx context.Context, seg *model.Segment) error {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO segments (id, name, created_at) VALUES ($1,$2,$3)`,
		seg.ID, seg.Name, seg.CreatedAt)
	if err != nil {
		return writeError("insert segment", err)
	}
	return nil
}

func (s *Store) GetSegment(ctx context.Context, id string) (*model.Segment, error) {
	var seg model.Segment
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM segments WHERE id=$1`, id).
		Scan(&seg.ID, &seg.Name, &seg.CreatedAt)
	if err != nil {
		return nil, readError("select segment", err)
	}
	return &seg, nil
}
