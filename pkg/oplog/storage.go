package oplog

import "context"

// Storage is the operation log's storage contract. Every method is
// async (accepts a context) so implementations can be backed by
// external storage (spec.md §4.2) — an in-memory map, a KV store, or,
// as shipped here, Postgres. Implementations must provide atomicity per
// (entity, id): concurrent Emit calls for the same key must not
// interleave version assignments (spec.md's Shared Resources note,
// §5) — an external backing is responsible for compare-and-swap on
// Version.
type Storage interface {
	// Emit atomically compares newData against the prior state (by
	// canonical JSON equality) and, if different, stores it at
	// version+1, derives and appends a patch, and evicts per Bounds.
	// If no prior state exists, newData is stored as v1 with a nil
	// patch. Unchanged emits leave the version untouched and record no
	// patch.
	Emit(ctx context.Context, key Key, newData map[string]any) (EmitResult, error)

	// GetState returns the current canonical state, or nil if the
	// entity has never been emitted (or has been deleted).
	GetState(ctx context.Context, key Key) (map[string]any, error)

	// GetVersion returns the current version, or 0 if the entity is
	// absent.
	GetVersion(ctx context.Context, key Key) (int, error)

	// GetLatestPatch returns the most recently recorded patch, or nil
	// if none is retained (including when the entity is absent or was
	// created by the most recent Emit with no prior state).
	GetLatestPatch(ctx context.Context, key Key) (*PatchRecord, error)

	// GetPatchesSince returns the dense sequence
	// patches(sinceVersion+1..current). Returns ([], nil) when
	// sinceVersion == current. Returns (nil, ErrTruncated) when the
	// window needed to produce a dense sequence is no longer retained.
	// Returns (nil, ErrNotFound) when the entity is unknown and
	// sinceVersion > 0.
	GetPatchesSince(ctx context.Context, key Key, sinceVersion int) ([]PatchRecord, error)

	// Delete explicitly removes an entity from the log (spec.md §3
	// Lifecycle: entities are removed explicitly, never by eviction).
	Delete(ctx context.Context, key Key) error
}
