package oplog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_FirstEmitIsV1NoPatch(t *testing.T) {
	s := NewMemoryStorage(DefaultBounds())
	ctx := context.Background()
	key := Key{Entity: "User", ID: "u1"}

	res, err := s.Emit(ctx, key, map[string]any{"id": "u1", "name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.True(t, res.Changed)
	assert.Nil(t, res.Patch)
}

func TestMemoryStorage_UnchangedEmitDoesNotBumpVersion(t *testing.T) {
	s := NewMemoryStorage(DefaultBounds())
	ctx := context.Background()
	key := Key{Entity: "User", ID: "u1"}

	_, err := s.Emit(ctx, key, map[string]any{"id": "u1", "name": "Alice"})
	require.NoError(t, err)

	res, err := s.Emit(ctx, key, map[string]any{"id": "u1", "name": "Alice"})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 1, res.Version)
	assert.Nil(t, res.Patch)

	v, err := s.GetVersion(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMemoryStorage_ChangedEmitDerivesPatchAndBumpsVersion(t *testing.T) {
	s := NewMemoryStorage(DefaultBounds())
	ctx := context.Background()
	key := Key{Entity: "User", ID: "u1"}

	_, err := s.Emit(ctx, key, map[string]any{"id": "u1", "name": "Alice"})
	require.NoError(t, err)

	res, err := s.Emit(ctx, key, map[string]any{"id": "u1", "name": "Alice Updated"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.Version)
	require.Len(t, res.Patch, 1)
	assert.Equal(t, "replace", res.Patch[0].Op)
	assert.Equal(t, "/name", res.Patch[0].Path)
}

func TestMemoryStorage_GetPatchesSinceDenseSequence(t *testing.T) {
	s := NewMemoryStorage(DefaultBounds())
	ctx := context.Background()
	key := Key{Entity: "User", ID: "u1"}

	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v1"})
	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v2"})
	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v3"})
	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v4"})
	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v5"})

	patches, err := s.GetPatchesSince(ctx, key, 3)
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, 4, patches[0].Version)
	assert.Equal(t, 5, patches[1].Version)
}

func TestMemoryStorage_GetPatchesSinceUnchangedReturnsEmpty(t *testing.T) {
	s := NewMemoryStorage(DefaultBounds())
	ctx := context.Background()
	key := Key{Entity: "User", ID: "u1"}

	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v1"})

	patches, err := s.GetPatchesSince(ctx, key, 1)
	require.NoError(t, err)
	assert.Empty(t, patches)
}

func TestMemoryStorage_GetPatchesSinceTruncatedWhenEvicted(t *testing.T) {
	s := NewMemoryStorage(Bounds{MaxPatches: 2})
	ctx := context.Background()
	key := Key{Entity: "User", ID: "u1"}

	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v1"})
	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v2"})
	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v3"})
	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v4"})

	_, err := s.GetPatchesSince(ctx, key, 1)
	assert.ErrorIs(t, err, ErrTruncated)

	patches, err := s.GetPatchesSince(ctx, key, 2)
	require.NoError(t, err)
	require.Len(t, patches, 2)
}

func TestMemoryStorage_GetPatchesSinceUnknownEntity(t *testing.T) {
	s := NewMemoryStorage(DefaultBounds())
	ctx := context.Background()
	key := Key{Entity: "User", ID: "ghost"}

	patches, err := s.GetPatchesSince(ctx, key, 0)
	require.NoError(t, err)
	assert.Empty(t, patches)

	_, err = s.GetPatchesSince(ctx, key, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_AgeBoundEvicts(t *testing.T) {
	s := NewMemoryStorage(Bounds{MaxAge: 10 * time.Millisecond, MaxPatches: 1000})
	ctx := context.Background()
	key := Key{Entity: "User", ID: "u1"}

	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v1"})
	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v2"})
	time.Sleep(20 * time.Millisecond)
	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v3"})

	_, err := s.GetPatchesSince(ctx, key, 1)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestMemoryStorage_Delete(t *testing.T) {
	s := NewMemoryStorage(DefaultBounds())
	ctx := context.Background()
	key := Key{Entity: "User", ID: "u1"}

	_, _ = s.Emit(ctx, key, map[string]any{"id": "u1", "name": "v1"})
	require.NoError(t, s.Delete(ctx, key))

	state, err := s.GetState(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, state)

	v, err := s.GetVersion(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}
