package dedup

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

func TestKeys(t *testing.T) {
	a := OrganizationKey(&model.OrganizationDraft{SegmentID: "s1", NameKey: "acme", WebsiteKey: "acme.com"})
	b := OrganizationKey(&model.OrganizationDraft{SegmentID: "s2", NameKey: "acme", WebsiteKey: "acme.com"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, "organization|s1|acme|acme.com", a.String())

	p := PersonKey(&model.PersonDraft{OrganizationID: "o1", EmailKey: "jane@example.com"})
	assert.Equal(t, "person|o1|jane@example.com", p.String())
}

func TestResolverInBatchCollision(t *testing.T) {
	r := NewResolver(model.KindOrganization)
	key := Key("k")

	require.NoError(t, r.Reserve(key, 1))
	err := r.Reserve(key, 2)

	var dup *model.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 1, dup.FirstRow)
}

func TestResolverClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("store uniqueness violation becomes duplicate key", func(t *testing.T) {
		r := NewResolver(model.KindPerson)
		err := r.Claim(ctx, "k", 1, func(context.Context) error {
			return fmt.Errorf("insert person: %w", model.ErrUniqueViolation)
		})
		var dup *model.DuplicateKeyError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, model.KindPerson, dup.Kind)
		assert.Zero(t, dup.FirstRow)
	})

	t.Run("infrastructure failure releases the key", func(t *testing.T) {
		r := NewResolver(model.KindPerson)
		boom := errors.New("connection refused")
		err := r.Claim(ctx, "k", 1, func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)

		calls := 0
		err = r.Claim(ctx, "k", 2, func(context.Context) error { calls++; return nil })
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("second claim in batch never reaches the store", func(t *testing.T) {
		r := NewResolver(model.KindOrganization)
		calls := 0
		write := func(context.Context) error { calls++; return nil }
		require.NoError(t, r.Claim(ctx, "k", 1, write))
		err := r.Claim(ctx, "k", 2, write)
		var dup *model.DuplicateKeyError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, 1, calls)
	})
}
