package oplog

import (
	"context"
	"sync"
	"time"

	"github.com/lensrpc/lens/pkg/patch"
)

// entityState is the mutable record for one (entity, id) pair. All
// access goes through its own mutex so a hot entity never contends with
// unrelated keys — the same per-key-lock shape as the teacher's
// ConnectionManager (top-level map mutex for membership, separate
// locking for per-connection state).
type entityState struct {
	mu        sync.Mutex
	data      map[string]any
	version   int
	updatedAt time.Time
	patches   []PatchRecord
}

// MemoryStorage is the default, in-memory Storage implementation.
type MemoryStorage struct {
	bounds Bounds

	mu      sync.RWMutex
	entries map[Key]*entityState
}

// NewMemoryStorage creates an in-memory operation log with the given
// retention bounds. Passing a zero Bounds falls back to DefaultBounds.
func NewMemoryStorage(bounds Bounds) *MemoryStorage {
	if bounds.MaxPatches == 0 && bounds.MaxAge == 0 {
		bounds = DefaultBounds()
	}
	return &MemoryStorage{
		bounds:  bounds,
		entries: make(map[Key]*entityState),
	}
}

func (m *MemoryStorage) entryFor(key Key, create bool) *entityState {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		return e
	}
	if !create {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e
	}
	e = &entityState{}
	m.entries[key] = e
	return e
}

// Emit implements Storage.
func (m *MemoryStorage) Emit(_ context.Context, key Key, newData map[string]any) (EmitResult, error) {
	e := m.entryFor(key, true)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()

	if e.data == nil && e.version == 0 {
		e.data = cloneData(newData)
		e.version = 1
		e.updatedAt = now
		return EmitResult{Version: 1, Changed: true}, nil
	}

	equal, err := patch.CanonicalEqual(e.data, newData)
	if err != nil {
		return EmitResult{}, err
	}
	if equal {
		return EmitResult{Version: e.version, Changed: false}, nil
	}

	ops, err := patch.Diff(e.data, newData)
	if err != nil {
		return EmitResult{}, err
	}

	e.version++
	e.data = cloneData(newData)
	e.updatedAt = now
	e.patches = append(e.patches, PatchRecord{
		Version:    e.version,
		Operations: ops,
		Timestamp:  now,
	})
	m.evict(e, now)

	return EmitResult{Version: e.version, Patch: ops, Changed: true}, nil
}

// evict trims the retained patch ring to Bounds, applied under e.mu.
func (m *MemoryStorage) evict(e *entityState, now time.Time) {
	if m.bounds.MaxAge > 0 {
		cutoff := now.Add(-m.bounds.MaxAge)
		i := 0
		for i < len(e.patches) && e.patches[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			e.patches = e.patches[i:]
		}
	}
	if m.bounds.MaxPatches > 0 && len(e.patches) > m.bounds.MaxPatches {
		e.patches = e.patches[len(e.patches)-m.bounds.MaxPatches:]
	}
}

// GetState implements Storage.
func (m *MemoryStorage) GetState(_ context.Context, key Key) (map[string]any, error) {
	e := m.entryFor(key, false)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneData(e.data), nil
}

// GetVersion implements Storage.
func (m *MemoryStorage) GetVersion(_ context.Context, key Key) (int, error) {
	e := m.entryFor(key, false)
	if e == nil {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version, nil
}

// GetLatestPatch implements Storage.
func (m *MemoryStorage) GetLatestPatch(_ context.Context, key Key) (*PatchRecord, error) {
	e := m.entryFor(key, false)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.patches) == 0 {
		return nil, nil
	}
	last := e.patches[len(e.patches)-1]
	return &last, nil
}

// GetPatchesSince implements Storage.
func (m *MemoryStorage) GetPatchesSince(_ context.Context, key Key, sinceVersion int) ([]PatchRecord, error) {
	e := m.entryFor(key, false)
	if e == nil {
		if sinceVersion > 0 {
			return nil, ErrNotFound
		}
		return []PatchRecord{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if sinceVersion == e.version {
		return []PatchRecord{}, nil
	}
	if sinceVersion > e.version {
		return nil, ErrTruncated
	}
	if len(e.patches) == 0 {
		// Entity exists (e.g. created once, never changed again) but
		// no patches retained — only a dense answer if the caller is
		// already current, which was handled above.
		return nil, ErrTruncated
	}

	oldest := e.patches[0].Version
	if sinceVersion+1 < oldest {
		return nil, ErrTruncated
	}

	startIdx := sinceVersion + 1 - oldest
	if startIdx < 0 || startIdx > len(e.patches) {
		return nil, ErrTruncated
	}

	out := make([]PatchRecord, len(e.patches)-startIdx)
	copy(out, e.patches[startIdx:])
	return out, nil
}

// Delete implements Storage.
func (m *MemoryStorage) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func cloneData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
