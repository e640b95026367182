// Package trust implements the Trust Cache: a thin facade over the Request
// Store's trust table. It holds no data of its own.
//
// Maps to: spec.md §4.4 "Trust Cache".
//
// The three-scope enum below mirrors the ordered-constant style of the
// teacher's execpolicy.Decision (internal/execpolicy/decision.go), without
// adopting its Starlark rule-engine machinery — the Trust Cache's actual
// shape is a keyed lookup with lazy expiry, not a command-pattern ruleset.
package trust

import (
	"context"
	"time"

	"github.com/mfateev/skillbroker/internal/request"
)

// Store is the subset of the Request Store the Trust Cache depends on.
type Store interface {
	LookupTrust(ctx context.Context, source, fingerprint string, now time.Time) (*request.Trust, error)
	AddTrust(ctx context.Context, source, fingerprint string, scope request.TrustScope, now time.Time) error
}

// Cache is the Trust Cache facade.
type Cache struct {
	store Store
}

// New constructs a Trust Cache over the given Request Store.
func New(store Store) *Cache {
	return &Cache{store: store}
}

// Lookup returns the trust record for (source, fingerprint), or nil if
// absent or expired. The only read path per spec §4.4.
func (c *Cache) Lookup(ctx context.Context, source, fingerprint string, now time.Time) (*request.Trust, error) {
	return c.store.LookupTrust(ctx, source, fingerprint, now)
}

// IsTrusted is a convenience boolean wrapper around Lookup, used by the
// Approval Coordinator to decide prompt shape (spec §4.3).
func (c *Cache) IsTrusted(ctx context.Context, source, fingerprint string, now time.Time) (bool, error) {
	t, err := c.Lookup(ctx, source, fingerprint, now)
	if err != nil {
		return false, err
	}
	return t != nil, nil
}

// Grant records a 24h or forever trust grant. `once` is a runtime-only
// decision (spec §9) and is rejected by the underlying store, never
// reaching persistence.
func (c *Cache) Grant(ctx context.Context, source, fingerprint string, scope request.TrustScope, now time.Time) error {
	return c.store.AddTrust(ctx, source, fingerprint, scope, now)
}
