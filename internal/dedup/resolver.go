// Package dedup enforces exact dedup keys at write time. Keys are reserved
// in-process for the rows of one batch and committed through the store's
// uniqueness constraint, which is what settles races between batches.
package dedup

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

// Key is a canonical dedup key. Its parts are already normalized.
type Key string

const sep = "\x1f"

// OrganizationKey is (segment, folded name, normalized website).
func OrganizationKey(d *model.OrganizationDraft) Key {
	return Key(strings.Join([]string{string(model.KindOrganization), d.SegmentID, d.NameKey, d.WebsiteKey}, sep))
}

// PersonKey is (parent organization, folded email).
func PersonKey(d *model.PersonDraft) Key {
	return Key(strings.Join([]string{string(model.KindPerson), d.OrganizationID, d.EmailKey}, sep))
}

func (k Key) String() string {
	return strings.ReplaceAll(string(k), sep, "|")
}

// Resolver tracks the keys claimed by one batch.
type Resolver struct {
	kind     model.RecordKind
	mu       sync.Mutex
	reserved map[Key]int
}

func NewResolver(kind model.RecordKind) *Resolver {
	return &Resolver{kind: kind, reserved: make(map[Key]int)}
}

// Reserve claims key for row. A key already held by an earlier row of the
// batch is a *model.DuplicateKeyError naming that row.
func (r *Resolver) Reserve(key Key, row int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if first, ok := r.reserved[key]; ok {
		return &model.DuplicateKeyError{Kind: r.kind, Key: key.String(), FirstRow: first}
	}
	r.reserved[key] = row
	return nil
}

// Release drops a reservation whose write never committed.
func (r *Resolver) Release(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, key)
}

// Claim reserves key and runs write. A uniqueness violation from the store
// becomes a *model.DuplicateKeyError and the reservation is kept. Any other
// write error releases the key so a later row may still claim it.
func (r *Resolver) Claim(ctx context.Context, key Key, row int, write func(context.Context) error) error {
	if err := r.Reserve(key, row); err != nil {
		return err
	}
	err := write(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrUniqueViolation) {
		return &model.DuplicateKeyError{Kind: r.kind, Key: key.String()}
	}
	r.Release(key)
	return err
}
