// Package repository is the Postgres implementation of the record stores. It
// honours the same contracts as storage.MemoryStore: uniqueness is enforced by
// unique indexes and surfaced as model.ErrUniqueViolation, and status updates
// are conditional on the current status.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

const uniqueViolation = "23505"

// Store wraps all SQL used by the api, worker and CLI.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore constructs a repository.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

type scanner interface {
	Scan(dest ...any) error
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

func writeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, model.ErrUniqueViolation)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func readError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// conflict explains why a conditional update touched no row: the record is
// either missing or no longer in the expected state.
func (s *Store) conflict(ctx context.Context, table, id string, stale error) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id=$1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if !exists {
		return model.ErrNotFound
	}
	return stale
}

// Ping is used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
