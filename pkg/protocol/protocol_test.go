package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsSelector_RoundTripsStarAndList(t *testing.T) {
	all := AllFields()
	data, err := json.Marshal(all)
	require.NoError(t, err)
	assert.Equal(t, `"*"`, string(data))

	var decodedAll FieldsSelector
	require.NoError(t, json.Unmarshal(data, &decodedAll))
	assert.True(t, decodedAll.All)

	some := SomeFields("id", "name")
	data, err = json.Marshal(some)
	require.NoError(t, err)

	var decodedSome FieldsSelector
	require.NoError(t, json.Unmarshal(data, &decodedSome))
	assert.False(t, decodedSome.All)
	assert.Equal(t, []string{"id", "name"}, decodedSome.Fields)
}

func TestEnvelope_DiscriminatesType(t *testing.T) {
	raw := []byte(`{"type":"subscribe","id":"s1","operation":"user.get"}`)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, FrameSubscribe, env.Type)

	var call CallFrame
	require.NoError(t, json.Unmarshal(raw, &call))
	assert.Equal(t, "s1", call.ID)
	assert.Equal(t, "user.get", call.Operation)
}

func TestSanitize_PassesThroughSafeMessages(t *testing.T) {
	assert.Equal(t, "entity not found", Sanitize(CodeNotFound, "entity not found"))
}

func TestSanitize_CollapsesMultilineAndPathLike(t *testing.T) {
	assert.Equal(t, "internal error", Sanitize(CodeInternalError, "boom\nat /app/internal/x.go:42"))
	assert.Equal(t, "internal error", Sanitize(CodeInternalError, "failed opening /var/lib/lens/data/state.db"))
}

func TestSanitize_CollapsesOverlong(t *testing.T) {
	long := strings.Repeat("x", 200)
	assert.Equal(t, "internal error", Sanitize(CodeInternalError, long))
}

func TestError_DetailIsSanitized(t *testing.T) {
	err := NewError(CodeExecutionError, "panic: nil pointer\nat /a/b/c.go:10")
	detail := err.Detail()
	assert.Equal(t, CodeExecutionError, detail.Code)
	assert.Equal(t, "execution failed", detail.Message)
	assert.Contains(t, err.Error(), "panic: nil pointer")
}
