// Package cache provides the read-through store used to materialize
// resolved role and permission snapshots.
package cache

import (
	"context"
	"time"
)

// DefaultTTL bounds cache entries when no explicit TTL is configured.
const DefaultTTL = 60 * time.Minute

// Store is a read-through key/value cache with tag-scoped invalidation.
// Compute always re-derives truth from the assignment store; the cache
// never originates data.
type Store interface {
	// Fetch loads the entry under key into dest, computing and storing it
	// on a miss. The entry is grouped under tag for bulk invalidation.
	Fetch(ctx context.Context, key, tag string, dest any, compute func(context.Context) (any, error)) error

	// Invalidate drops every entry grouped under tag. Backends without
	// tag support treat this as a no-op.
	Invalidate(ctx context.Context, tag string) error
}
