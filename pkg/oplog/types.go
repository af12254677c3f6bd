// Package oplog implements the operation log: a per-entity canonical
// state with a monotonic version counter and a bounded ring of recent
// patches, answering "catch me up from version V" queries (spec.md §4.2).
//
// It is deliberately not a database or queryable store (spec.md §1
// Non-goals) — Storage is a narrow, pluggable contract with one
// in-memory implementation (MemoryStorage, the default) and one
// optional durable backing (PostgresStorage, for deployments that want
// catch-up state to survive a process restart).
package oplog

import (
	"errors"
	"time"

	"github.com/lensrpc/lens/pkg/patch"
)

// ErrNotFound is returned by storage-backed lookups that require the
// entity to already exist (GetPatchesSince with sinceVersion > 0 on an
// unknown entity).
var ErrNotFound = errors.New("oplog: entity not found")

// ErrTruncated is returned by GetPatchesSince when the requested range
// has fallen out of the retained window and a dense sequence can no
// longer be produced — callers must fall back to a full snapshot.
var ErrTruncated = errors.New("oplog: requested patch range has been truncated")

// Key identifies a canonical entity instance.
type Key struct {
	Entity string
	ID     string
}

// PatchRecord is one retained patch: the ops that moved the entity from
// Version-1 to Version, plus the wall-clock time it was recorded.
type PatchRecord struct {
	Version    int
	Operations []patch.Op
	Timestamp  time.Time
}

// EmitResult is the outcome of a single Emit call.
type EmitResult struct {
	Version int
	Patch   []patch.Op // nil when Changed is false
	Changed bool
}

// Bounds configures the retained-patch window. Whichever of MaxPatches
// or MaxAge the most recent patch would otherwise violate is applied —
// the log is bounded by count AND age, whichever is tighter.
type Bounds struct {
	MaxPatches int
	MaxAge     time.Duration
}

// DefaultBounds matches spec.md §3's stated default: 1000 patches or 5
// minutes, whichever is tighter.
func DefaultBounds() Bounds {
	return Bounds{MaxPatches: 1000, MaxAge: 5 * time.Minute}
}
