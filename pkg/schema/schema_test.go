package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntity_FieldLookup(t *testing.T) {
	e := NewEntity("User",
		Scalar("id"),
		Scalar("name"),
		ScalarWith("createdAt", SerializeTime),
		Relation("posts", "Post", true),
		Resolved("displayName"),
	)

	f, ok := e.Field("createdAt")
	require.True(t, ok)
	assert.Equal(t, FieldScalar, f.Kind)
	assert.NotNil(t, f.Serialize)

	f, ok = e.Field("posts")
	require.True(t, ok)
	assert.Equal(t, FieldRelation, f.Kind)
	assert.Equal(t, "Post", f.Target)
	assert.True(t, f.Many)

	f, ok = e.Field("displayName")
	require.True(t, ok)
	assert.Equal(t, FieldResolver, f.Kind)

	_, ok = e.Field("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"id", "name", "createdAt", "posts", "displayName"}, e.FieldNames())
}

func TestEntity_DuplicateFieldPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewEntity("User", Scalar("id"), Scalar("id"))
	})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	user := NewEntity("User", Scalar("id"))

	require.NoError(t, r.Register(user))
	got, ok := r.Lookup("User")
	require.True(t, ok)
	assert.Same(t, user, got)

	err := r.Register(NewEntity("User", Scalar("id")))
	assert.Error(t, err)

	assert.Contains(t, r.Names(), "User")
}

func TestResolverRegistry_MergesAcrossCalls(t *testing.T) {
	r := NewResolverRegistry()
	r.Register("User", EntityResolvers{
		"displayName": {Resolve: func(_ context.Context, parent map[string]any, _ any) (any, error) {
			return parent["name"], nil
		}},
	})
	r.Register("User", EntityResolvers{
		"age": {Expose: true},
	})

	fr, ok := r.FieldFor("User", "displayName")
	require.True(t, ok)
	require.NotNil(t, fr.Resolve)
	val, err := fr.Resolve(context.Background(), map[string]any{"name": "Alice"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Alice", val)

	_, ok = r.FieldFor("User", "age")
	assert.True(t, ok)

	assert.False(t, r.HasStreamingField("User", []string{"displayName", "age"}))
}

func TestSerializeTime(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	out, err := SerializeTime(ts)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", out)

	out, err = SerializeTime(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSerializeBytes(t *testing.T) {
	out, err := SerializeBytes([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "aGk=", out)
}
