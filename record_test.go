package scribelog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitArgsTrailingMapping(t *testing.T) {
	splat, meta := splitArgs([]any{1, "two", Fields{"k": "v"}})
	assert.Equal(t, []any{1, "two"}, splat)
	assert.Equal(t, Fields{"k": "v"}, meta)

	splat, meta = splitArgs([]any{map[string]any{"k": 1}})
	assert.Nil(t, splat)
	assert.Equal(t, Fields{"k": 1}, meta)
}

func TestSplitArgsNonMappingStaysPositional(t *testing.T) {
	// Errors, slices and times are never metadata, even in last position.
	boom := errors.New("boom")
	splat, meta := splitArgs([]any{"x", boom})
	assert.Equal(t, []any{"x", boom}, splat)
	assert.Nil(t, meta)

	splat, meta = splitArgs([]any{[]int{1, 2}})
	assert.Equal(t, []any{[]int{1, 2}}, splat)
	assert.Nil(t, meta)

	now := time.Now()
	splat, meta = splitArgs([]any{now})
	assert.Equal(t, []any{now}, splat)
	assert.Nil(t, meta)
}

func TestSplitArgsEmpty(t *testing.T) {
	splat, meta := splitArgs(nil)
	assert.Nil(t, splat)
	assert.Nil(t, meta)
}

func TestMessageOfError(t *testing.T) {
	boom := errors.New("boom")
	text, err := messageOf(boom)
	assert.Equal(t, "boom", text)
	assert.Same(t, boom, err)

	text, err = messageOf("plain")
	assert.Equal(t, "plain", text)
	assert.NoError(t, err)

	text, err = messageOf(42)
	assert.Equal(t, "42", text)
	assert.NoError(t, err)
}

func TestFieldsMerge(t *testing.T) {
	base := Fields{"a": 1, "b": 1}
	out := base.Merge(Fields{"b": 2, "c": 2})

	assert.Equal(t, Fields{"a": 1, "b": 2, "c": 2}, out)
	assert.Equal(t, Fields{"a": 1, "b": 1}, base, "merge never mutates the receiver")
}

func TestFieldsFillOnlyAbsent(t *testing.T) {
	f := Fields{"a": 1}
	f = f.fill(Fields{"a": 99, "b": 2})

	assert.Equal(t, Fields{"a": 1, "b": 2}, f)

	var empty Fields
	filled := empty.fill(Fields{"x": 1})
	require.NotNil(t, filled)
	assert.Equal(t, Fields{"x": 1}, filled)
}

func TestRecordCloneIndependentFields(t *testing.T) {
	r := &Record{Level: LevelInfo, Message: "m", Fields: Fields{"a": 1}}
	c := r.Clone()
	c.Fields["a"] = 2

	assert.Equal(t, 1, r.Fields["a"])
}
