package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_AddReplaceRemove(t *testing.T) {
	old := map[string]any{"name": "Alice", "age": float64(30)}
	next := map[string]any{"name": "Alice Updated", "email": "a@x"}

	ops, err := Diff(old, next)
	require.NoError(t, err)

	byPath := map[string]Op{}
	for _, op := range ops {
		byPath[op.Path] = op
	}

	require.Contains(t, byPath, "/name")
	assert.Equal(t, "replace", byPath["/name"].Op)
	assert.Equal(t, "Alice Updated", byPath["/name"].Value)

	require.Contains(t, byPath, "/age")
	assert.Equal(t, "remove", byPath["/age"].Op)

	require.Contains(t, byPath, "/email")
	assert.Equal(t, "add", byPath["/email"].Op)
}

func TestDiff_NoChangeProducesNoOps(t *testing.T) {
	state := map[string]any{"name": "Alice", "tags": []any{"a", "b"}}
	ops, err := Diff(state, map[string]any{"name": "Alice", "tags": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDiff_FromNilIsAllAdds(t *testing.T) {
	ops, err := Diff(nil, map[string]any{"id": "u1"})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "add", ops[0].Op)
}

func TestApply_RoundTripsDiff(t *testing.T) {
	old := map[string]any{"id": "u1", "name": "Alice", "email": "a@x"}
	next := map[string]any{"id": "u1", "name": "Alice Updated"}

	ops, err := Diff(old, next)
	require.NoError(t, err)

	applied, err := Apply(old, ops)
	require.NoError(t, err)

	equal, err := CanonicalEqual(applied, next)
	require.NoError(t, err)
	assert.True(t, equal)
}

func TestApply_SequentialPatchesAreDense(t *testing.T) {
	v1 := map[string]any{"id": "u1", "name": "Alice"}
	v2 := map[string]any{"id": "u1", "name": "Alice 2"}
	v3 := map[string]any{"id": "u1", "name": "Alice 3"}

	p1, err := Diff(v1, v2)
	require.NoError(t, err)
	p2, err := Diff(v2, v3)
	require.NoError(t, err)

	afterP1, err := Apply(v1, p1)
	require.NoError(t, err)
	eq, err := CanonicalEqual(afterP1, v2)
	require.NoError(t, err)
	assert.True(t, eq)

	afterP2, err := Apply(afterP1, p2)
	require.NoError(t, err)
	eq, err = CanonicalEqual(afterP2, v3)
	require.NoError(t, err)
	assert.True(t, eq)
}
