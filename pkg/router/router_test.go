package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/lensrpc/lens/pkg/schema"
)

func noopResolve(_ schema.ReactiveContext, _ any) (any, error) { return nil, nil }

func TestRouter_FlattenJoinsPaths(t *testing.T) {
	r := New()
	r.Query("health", Operation{Resolve: noopResolve})
	users := r.Sub("users")
	users.Query("get", Operation{Resolve: noopResolve, ReturnEntity: "User"})
	users.Mutation("create", Operation{Resolve: noopResolve, ReturnEntity: "User"})
	users.Sub("posts").Query("list", Operation{Resolve: noopResolve, ReturnEntity: "Post"})

	table, err := r.Flatten()
	require.NoError(t, err)

	op, ok := table.Lookup("health")
	require.True(t, ok)
	assert.Equal(t, Query, op.Kind)

	op, ok = table.Lookup("users.get")
	require.True(t, ok)
	assert.Equal(t, "User", op.ReturnEntity)

	op, ok = table.Lookup("users.create")
	require.True(t, ok)
	assert.Equal(t, Mutation, op.Kind)

	_, ok = table.Lookup("users.posts.list")
	assert.True(t, ok)

	_, ok = table.Lookup("nope")
	assert.False(t, ok)
}

func TestRouter_Metadata(t *testing.T) {
	r := New()
	r.Query("ping", Operation{Resolve: noopResolve})
	r.Mutation("doThing", Operation{Resolve: noopResolve, ReturnEntity: "Thing", Optimistic: true})

	table, err := r.Flatten()
	require.NoError(t, err)

	meta := table.Metadata(3)
	assert.Equal(t, 3, meta.Version)
	assert.Equal(t, "query", meta.Operations["ping"].Type)
	assert.Equal(t, "mutation", meta.Operations["doThing"].Type)
	assert.True(t, meta.Operations["doThing"].Optimistic)
	assert.Equal(t, "Thing", meta.Operations["doThing"].ReturnType)
}

func TestRouter_DuplicatePathIsFatal(t *testing.T) {
	r := New()
	r.Query("a.b", Operation{Resolve: noopResolve})
	r.Sub("a").Query("b", Operation{Resolve: noopResolve})

	_, err := r.Flatten()
	assert.Error(t, err)
}
